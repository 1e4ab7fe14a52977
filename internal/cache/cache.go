// Package cache implements the key/value store with per-entry expiry used
// by the request/response controller (pending-request bookkeeping) and by
// any component that wants TTL'd scratch state. Expired entries are
// delivered back to their owning component as a CacheExpiry event.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/flowbroker/connector/internal/message"
)

// Owner receives CacheExpiry events for entries it registered itself
// against.
type Owner interface {
	Enqueue(ctx context.Context, evt message.Event) error
}

// Entry is one stored value.
type Entry struct {
	Key      string
	Value    any
	Metadata any
	Expiry   time.Time // zero means "never expires"
	Owner    Owner
}

func (e Entry) hasExpiry() bool { return !e.Expiry.IsZero() }

// Backend is the pluggable storage contract. The in-memory implementation
// below satisfies every operation a Service needs; a SQL-row-backed
// implementation (see sql_backend.go) satisfies the same contract for
// deployments that want cache state to survive a process restart.
type Backend interface {
	Get(key string) (Entry, bool, error)
	Set(entry Entry) error
	Delete(key string) error
	// DueEntries returns and removes every entry whose expiry is <= now.
	DueEntries(now time.Time) ([]Entry, error)
	// NextExpiry reports the soonest expiry among entries currently stored.
	NextExpiry() (time.Time, bool, error)
}

// Service is the mutex-guarded cache with an expiry dispatcher goroutine.
type Service struct {
	backend Backend

	mu   sync.Mutex
	wake chan struct{}
	done chan struct{}
}

// NewService starts the expiry dispatcher goroutine over backend.
func NewService(backend Backend) *Service {
	s := &Service{
		backend: backend,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go s.run()
	return s
}

// AddData stores value under key. expiry of zero means the entry never
// expires. Setting an existing key merges the new value/metadata while
// keeping the entry's prior expiry unless expiry is non-zero.
func (s *Service) AddData(key string, value any, expiry time.Duration, metadata any, owner Owner) error {
	if key == "" {
		return fmt.Errorf("cache key must not be empty")
	}

	s.mu.Lock()
	existing, found, err := s.backend.Get(key)
	if err != nil {
		s.mu.Unlock()
		return err
	}

	entry := Entry{Key: key, Value: value, Metadata: metadata, Owner: owner}
	switch {
	case expiry > 0:
		entry.Expiry = time.Now().Add(expiry)
	case found:
		entry.Expiry = existing.Expiry
	}
	if err := s.backend.Set(entry); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	s.nudge()
	return nil
}

// RefreshExpiry resets key's expiry to now+expiry, used by the
// request/response controller to keep a streaming request's cache entry
// alive on every chunk.
func (s *Service) RefreshExpiry(key string, expiry time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, found, err := s.backend.Get(key)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("cache key %q not found", key)
	}
	entry.Expiry = time.Now().Add(expiry)
	if err := s.backend.Set(entry); err != nil {
		return err
	}
	return nil
}

// Sizer is optionally implemented by a Backend to report its live entry
// count for metrics polling. A backend
// that cannot cheaply report a count (e.g. a SQL table under concurrent
// writers) may simply not implement it.
type Sizer interface {
	Size() (int, error)
}

// Size reports the backend's live entry count, or 0 if the backend does
// not implement Sizer.
func (s *Service) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	sizer, ok := s.backend.(Sizer)
	if !ok {
		return 0
	}
	n, err := sizer.Size()
	if err != nil {
		return 0
	}
	return n
}

// Get returns the stored value for key.
func (s *Service) Get(key string) (any, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, found, err := s.backend.Get(key)
	if err != nil || !found {
		return nil, found, err
	}
	return entry.Value, true, nil
}

// Delete removes key without firing a CacheExpiry event.
func (s *Service) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backend.Delete(key)
}

func (s *Service) nudge() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Service) run() {
	timerC := time.NewTimer(time.Hour)
	defer timerC.Stop()

	for {
		s.mu.Lock()
		next, found, _ := s.backend.NextExpiry()
		s.mu.Unlock()

		var wait time.Duration
		if !found {
			wait = time.Hour
		} else {
			wait = time.Until(next)
			if wait < 0 {
				wait = 0
			}
		}

		if !timerC.Stop() {
			select {
			case <-timerC.C:
			default:
			}
		}
		timerC.Reset(wait)

		select {
		case <-s.done:
			return
		case <-s.wake:
			continue
		case <-timerC.C:
		}

		s.fireExpired()
	}
}

func (s *Service) fireExpired() {
	s.mu.Lock()
	due, err := s.backend.DueEntries(time.Now())
	s.mu.Unlock()
	if err != nil {
		return
	}

	for _, entry := range due {
		if entry.Owner == nil {
			continue
		}
		_ = entry.Owner.Enqueue(context.Background(),
			message.NewCacheExpiryEvent(entry.Key, entry.Metadata, entry.Value))
	}
}

// Stop halts the expiry dispatcher goroutine.
func (s *Service) Stop() {
	close(s.done)
}
