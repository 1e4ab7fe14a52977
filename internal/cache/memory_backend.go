package cache

import "time"

// MemoryBackend is the default in-process map-backed store.
type MemoryBackend struct {
	entries map[string]Entry
}

// NewMemoryBackend constructs an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: map[string]Entry{}}
}

func (b *MemoryBackend) Get(key string) (Entry, bool, error) {
	e, ok := b.entries[key]
	return e, ok, nil
}

func (b *MemoryBackend) Set(entry Entry) error {
	b.entries[entry.Key] = entry
	return nil
}

func (b *MemoryBackend) Delete(key string) error {
	delete(b.entries, key)
	return nil
}

func (b *MemoryBackend) DueEntries(now time.Time) ([]Entry, error) {
	var due []Entry
	for k, e := range b.entries {
		if e.hasExpiry() && !e.Expiry.After(now) {
			due = append(due, e)
			delete(b.entries, k)
		}
	}
	return due, nil
}

// Size reports the number of entries currently stored (cache.Sizer).
func (b *MemoryBackend) Size() (int, error) {
	return len(b.entries), nil
}

func (b *MemoryBackend) NextExpiry() (time.Time, bool, error) {
	var (
		next  time.Time
		found bool
	)
	for _, e := range b.entries {
		if !e.hasExpiry() {
			continue
		}
		if !found || e.Expiry.Before(next) {
			next = e.Expiry
			found = true
		}
	}
	return next, found, nil
}
