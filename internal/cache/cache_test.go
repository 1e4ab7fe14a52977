package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowbroker/connector/internal/message"
)

type fakeOwner struct {
	mu     sync.Mutex
	events []message.Event
}

func (f *fakeOwner) Enqueue(_ context.Context, evt message.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, evt)
	return nil
}

func (f *fakeOwner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func TestAddDataAndGet(t *testing.T) {
	svc := NewService(NewMemoryBackend())
	defer svc.Stop()

	require.NoError(t, svc.AddData("k", "v", 0, nil, nil))
	v, found, err := svc.Get("k")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "v", v)
}

func TestExpiryFiresCacheExpiryEvent(t *testing.T) {
	svc := NewService(NewMemoryBackend())
	defer svc.Stop()

	owner := &fakeOwner{}
	require.NoError(t, svc.AddData("req-1", "pending", 10*time.Millisecond, "meta", owner))

	require.Eventually(t, func() bool { return owner.count() == 1 }, time.Second, 5*time.Millisecond)
	evt := owner.events[0]
	assert.Equal(t, message.EventCacheExpiry, evt.Type)
	assert.Equal(t, "req-1", evt.CacheExpiry.Key)
	assert.Equal(t, "meta", evt.CacheExpiry.Metadata)

	_, found, _ := svc.Get("req-1")
	assert.False(t, found, "expired entry should be removed")
}

func TestRefreshExpiryDelaysFiring(t *testing.T) {
	svc := NewService(NewMemoryBackend())
	defer svc.Stop()

	owner := &fakeOwner{}
	require.NoError(t, svc.AddData("stream-1", "chunk", 30*time.Millisecond, nil, owner))

	// Refresh twice before the original expiry would have fired.
	time.Sleep(15 * time.Millisecond)
	require.NoError(t, svc.RefreshExpiry("stream-1", 30*time.Millisecond))
	time.Sleep(15 * time.Millisecond)
	require.NoError(t, svc.RefreshExpiry("stream-1", 30*time.Millisecond))

	assert.Equal(t, 0, owner.count(), "refreshed entry must not expire early")

	require.Eventually(t, func() bool { return owner.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestUpdatingExistingKeyKeepsPriorExpiryUnlessOverridden(t *testing.T) {
	svc := NewService(NewMemoryBackend())
	defer svc.Stop()

	owner := &fakeOwner{}
	require.NoError(t, svc.AddData("k", "v1", 20*time.Millisecond, nil, owner))
	require.NoError(t, svc.AddData("k", "v2", 0, nil, owner))

	v, found, _ := svc.Get("k")
	require.True(t, found)
	assert.Equal(t, "v2", v)

	require.Eventually(t, func() bool { return owner.count() == 1 }, time.Second, 5*time.Millisecond)
}
