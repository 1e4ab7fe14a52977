package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCombinedStopSignalInitiallyUnset(t *testing.T) {
	connectorWide := make(chan struct{})
	s := NewCombinedStopSignal(connectorWide)
	assert.False(t, s.IsSet())
	select {
	case <-s.Done():
		t.Fatal("Done() must not fire before either half is set")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestLocalSetFiresDone(t *testing.T) {
	s := NewCombinedStopSignal(make(chan struct{}))
	s.Set()
	assert.True(t, s.IsSet())
	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("Done() did not fire after local Set()")
	}
}

func TestConnectorWideSetFiresDoneWithoutLocalSet(t *testing.T) {
	connectorWide := make(chan struct{})
	s := NewCombinedStopSignal(connectorWide)
	close(connectorWide)

	assert.Eventually(t, s.IsSet, time.Second, time.Millisecond)
	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("Done() did not fire after connector-wide signal closed")
	}
}

func TestClearResetsOnlyLocalHalf(t *testing.T) {
	connectorWide := make(chan struct{})
	s := NewCombinedStopSignal(connectorWide)
	s.Set()
	assert.True(t, s.IsSet())

	s.Clear()
	assert.False(t, s.IsSet(), "Clear must un-set the local half")

	close(connectorWide)
	assert.Eventually(t, s.IsSet, time.Second, time.Millisecond, "connector-wide half must still be observable after Clear")
}

func TestClearAfterConnectorWideStillReportsSet(t *testing.T) {
	connectorWide := make(chan struct{})
	s := NewCombinedStopSignal(connectorWide)
	close(connectorWide)
	assert.Eventually(t, s.IsSet, time.Second, time.Millisecond)

	// Clear can never un-stop a process-wide shutdown.
	s.Clear()
	assert.True(t, s.IsSet())
}

func TestWaitReturnsFalseOnTimeoutWhenUnset(t *testing.T) {
	s := NewCombinedStopSignal(make(chan struct{}))
	assert.False(t, s.Wait(20*time.Millisecond))
}

func TestWaitReturnsTrueOnceSet(t *testing.T) {
	s := NewCombinedStopSignal(make(chan struct{}))
	go func() {
		time.Sleep(10 * time.Millisecond)
		s.Set()
	}()
	assert.True(t, s.Wait(time.Second))
}

func TestSetIsIdempotent(t *testing.T) {
	s := NewCombinedStopSignal(make(chan struct{}))
	s.Set()
	assert.NotPanics(t, func() { s.Set() })
	assert.True(t, s.IsSet())
}
