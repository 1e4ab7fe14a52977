package timersvc

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

func TestOneShotTimerFires(t *testing.T) {
	m := NewManager()
	defer m.Stop()

	owner := &fakeOwner{}
	m.AddTimer(10*time.Millisecond, owner, "t1", 0, "payload")

	require.Eventually(t, func() bool { return owner.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, message.EventTimer, owner.events[0].Type)
	assert.Equal(t, "t1", owner.events[0].Timer.TimerID)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, owner.count(), "one-shot timer must not repeat")
}

func TestIntervalTimerRepeats(t *testing.T) {
	m := NewManager()
	defer m.Stop()

	owner := &fakeOwner{}
	m.AddTimer(5*time.Millisecond, owner, "t2", 10*time.Millisecond, nil)

	require.Eventually(t, func() bool { return owner.count() >= 3 }, time.Second, 5*time.Millisecond)
}

func TestCancelTimerPreventsFire(t *testing.T) {
	m := NewManager()
	defer m.Stop()

	owner := &fakeOwner{}
	m.AddTimer(20*time.Millisecond, owner, "t3", 0, nil)
	m.CancelTimer(owner, "t3")

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 0, owner.count())
}
