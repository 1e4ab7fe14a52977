// Package timersvc implements the process-wide timer scheduler: a min-heap
// dispatcher for plain interval timers, plus cron-syntax recurring timers
// layered on top for components that want calendar-style schedules.
package timersvc

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/flowbroker/connector/internal/message"
)

// Enqueuer receives Timer-typed Events on fire. Components implement this
// to receive their scheduled timers.
type Enqueuer interface {
	Enqueue(ctx context.Context, evt message.Event) error
}

type timer struct {
	expiration time.Time
	interval   time.Duration // zero means one-shot
	owner      Enqueuer
	timerID    string
	payload    any
	index      int // heap.Interface bookkeeping
}

type timerHeap []*timer

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].expiration.Before(h[j].expiration) }
func (h timerHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *timerHeap) Push(x any)         { t := x.(*timer); t.index = len(*h); *h = append(*h, t) }
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}

// Manager is the min-heap timer dispatcher, with an additional
// cron-expression scheduling mode run by a robfig/cron scheduler
// alongside the dispatcher goroutine.
type Manager struct {
	mu      sync.Mutex
	heap    timerHeap
	wake    chan struct{}
	done    chan struct{}
	cronSvc *cron.Cron
}

// NewManager starts the dispatcher goroutine. Call Stop to shut it down.
func NewManager() *Manager {
	m := &Manager{
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		cronSvc: cron.New(cron.WithSeconds()),
	}
	m.cronSvc.Start()
	go m.run()
	return m
}

// AddTimer schedules a one-shot (interval == 0) or repeating timer that
// enqueues a Timer-typed Event onto owner when it fires.
func (m *Manager) AddTimer(delay time.Duration, owner Enqueuer, timerID string, interval time.Duration, payload any) {
	m.mu.Lock()
	heap.Push(&m.heap, &timer{
		expiration: time.Now().Add(delay),
		interval:   interval,
		owner:      owner,
		timerID:    timerID,
		payload:    payload,
	})
	m.mu.Unlock()
	m.nudge()
}

// AddCronTimer schedules a recurring timer using cron syntax instead of a
// raw interval. The scheduler is built with cron.WithSeconds, so an
// expression has six fields and the leading seconds field is required.
func (m *Manager) AddCronTimer(expr string, owner Enqueuer, timerID string, payload any) (cron.EntryID, error) {
	return m.cronSvc.AddFunc(expr, func() {
		_ = owner.Enqueue(context.Background(), message.NewTimerEvent(timerID, payload))
	})
}

// CancelCronTimer removes a previously scheduled cron timer.
func (m *Manager) CancelCronTimer(id cron.EntryID) {
	m.cronSvc.Remove(id)
}

// CancelTimer removes every heap timer matching owner and timerID.
func (m *Manager) CancelTimer(owner Enqueuer, timerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	filtered := m.heap[:0]
	for _, t := range m.heap {
		if t.owner == owner && t.timerID == timerID {
			continue
		}
		filtered = append(filtered, t)
	}
	m.heap = filtered
	heap.Init(&m.heap)
}

func (m *Manager) nudge() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Manager) run() {
	timerC := time.NewTimer(time.Hour)
	defer timerC.Stop()

	for {
		m.mu.Lock()
		var wait time.Duration
		if len(m.heap) == 0 {
			wait = time.Hour
		} else {
			wait = time.Until(m.heap[0].expiration)
			if wait < 0 {
				wait = 0
			}
		}
		m.mu.Unlock()

		if !timerC.Stop() {
			select {
			case <-timerC.C:
			default:
			}
		}
		timerC.Reset(wait)

		select {
		case <-m.done:
			return
		case <-m.wake:
			continue
		case <-timerC.C:
		}

		m.fireDue()
	}
}

func (m *Manager) fireDue() {
	now := time.Now()
	var due []*timer

	m.mu.Lock()
	for len(m.heap) > 0 && !m.heap[0].expiration.After(now) {
		t := heap.Pop(&m.heap).(*timer)
		due = append(due, t)
		if t.interval > 0 {
			t.expiration = t.expiration.Add(t.interval)
			heap.Push(&m.heap, t)
		}
	}
	m.mu.Unlock()

	for _, t := range due {
		_ = t.owner.Enqueue(context.Background(), message.NewTimerEvent(t.timerID, t.payload))
	}
}

// Stop halts the dispatcher goroutine and the cron scheduler.
func (m *Manager) Stop() {
	close(m.done)
	<-m.cronSvc.Stop().Done()
}

// Len reports the number of pending heap timers, for metrics polling.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.heap)
}

// Cleanup discards all pending timers without firing them.
func (m *Manager) Cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.heap = nil
}
