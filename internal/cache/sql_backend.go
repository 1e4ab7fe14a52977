package cache

import (
	"database/sql"
	"encoding/json"
	"time"
)

// SQLBackend persists cache entries in a row store (value/metadata
// JSON-encoded), so cache state survives a process restart. It is
// driver-agnostic: callers register whichever database/sql driver they
// need and hand over an open *sql.DB; no driver is imported here.
type SQLBackend struct {
	db        *sql.DB
	tableName string
}

// NewSQLBackend wraps an already-open *sql.DB. The caller is responsible
// for creating the backing table with columns
// (key TEXT PRIMARY KEY, value TEXT, metadata TEXT, expiry_unix INTEGER).
func NewSQLBackend(db *sql.DB, tableName string) *SQLBackend {
	if tableName == "" {
		tableName = "connector_cache"
	}
	return &SQLBackend{db: db, tableName: tableName}
}

func (b *SQLBackend) Get(key string) (Entry, bool, error) {
	row := b.db.QueryRow(`SELECT value, metadata, expiry_unix FROM `+b.tableName+` WHERE key = ?`, key)
	var valueJSON, metaJSON string
	var expiryUnix int64
	if err := row.Scan(&valueJSON, &metaJSON, &expiryUnix); err != nil {
		if err == sql.ErrNoRows {
			return Entry{}, false, nil
		}
		return Entry{}, false, err
	}
	entry, err := decodeRow(key, valueJSON, metaJSON, expiryUnix)
	return entry, true, err
}

func (b *SQLBackend) Set(entry Entry) error {
	valueJSON, metaJSON, expiryUnix, err := encodeRow(entry)
	if err != nil {
		return err
	}
	_, err = b.db.Exec(
		`INSERT INTO `+b.tableName+` (key, value, metadata, expiry_unix) VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, metadata = excluded.metadata, expiry_unix = excluded.expiry_unix`,
		entry.Key, valueJSON, metaJSON, expiryUnix,
	)
	return err
}

func (b *SQLBackend) Delete(key string) error {
	_, err := b.db.Exec(`DELETE FROM `+b.tableName+` WHERE key = ?`, key)
	return err
}

func (b *SQLBackend) DueEntries(now time.Time) ([]Entry, error) {
	rows, err := b.db.Query(
		`SELECT key, value, metadata, expiry_unix FROM `+b.tableName+` WHERE expiry_unix > 0 AND expiry_unix <= ?`,
		now.Unix(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var due []Entry
	var keys []string
	for rows.Next() {
		var key, valueJSON, metaJSON string
		var expiryUnix int64
		if err := rows.Scan(&key, &valueJSON, &metaJSON, &expiryUnix); err != nil {
			return nil, err
		}
		entry, err := decodeRow(key, valueJSON, metaJSON, expiryUnix)
		if err != nil {
			return nil, err
		}
		due = append(due, entry)
		keys = append(keys, key)
	}
	for _, k := range keys {
		if _, err := b.db.Exec(`DELETE FROM `+b.tableName+` WHERE key = ?`, k); err != nil {
			return nil, err
		}
	}
	return due, nil
}

func (b *SQLBackend) NextExpiry() (time.Time, bool, error) {
	row := b.db.QueryRow(`SELECT MIN(expiry_unix) FROM ` + b.tableName + ` WHERE expiry_unix > 0`)
	var unix sql.NullInt64
	if err := row.Scan(&unix); err != nil {
		return time.Time{}, false, err
	}
	if !unix.Valid {
		return time.Time{}, false, nil
	}
	return time.Unix(unix.Int64, 0), true, nil
}

func encodeRow(entry Entry) (valueJSON, metaJSON string, expiryUnix int64, err error) {
	vb, err := json.Marshal(entry.Value)
	if err != nil {
		return "", "", 0, err
	}
	mb, err := json.Marshal(entry.Metadata)
	if err != nil {
		return "", "", 0, err
	}
	if entry.hasExpiry() {
		expiryUnix = entry.Expiry.Unix()
	}
	return string(vb), string(mb), expiryUnix, nil
}

func decodeRow(key, valueJSON, metaJSON string, expiryUnix int64) (Entry, error) {
	var value, meta any
	if err := json.Unmarshal([]byte(valueJSON), &value); err != nil {
		return Entry{}, err
	}
	if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
		return Entry{}, err
	}
	entry := Entry{Key: key, Value: value, Metadata: meta}
	if expiryUnix > 0 {
		entry.Expiry = time.Unix(expiryUnix, 0)
	}
	return entry, nil
}
