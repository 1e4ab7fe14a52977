package broker

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryStrategy drives how long an adapter spends in StatusReconnecting
// before giving up and falling back to StatusDisconnected. ForeverRetry
// never gives up; ParametrizedRetry gives up after a fixed attempt count.
type RetryStrategy interface {
	// Next returns the delay before the next reconnect attempt, and false
	// once the strategy has exhausted its attempts (ForeverRetry never
	// returns false).
	Next() (time.Duration, bool)
	Reset()
}

// foreverRetry retries indefinitely with exponential backoff capped at
// maxInterval, so both strategies drive the status machine through the
// same code path.
type foreverRetry struct {
	b *backoff.ExponentialBackOff
}

// NewForeverRetry builds a RetryStrategy that never gives up.
func NewForeverRetry(maxInterval time.Duration) RetryStrategy {
	b := backoff.NewExponentialBackOff()
	b.MaxInterval = maxInterval
	b.MaxElapsedTime = 0 // never expire
	return &foreverRetry{b: b}
}

func (r *foreverRetry) Next() (time.Duration, bool) {
	return r.b.NextBackOff(), true
}

func (r *foreverRetry) Reset() { r.b.Reset() }

// parametrizedRetry retries up to count times at a fixed interval, then
// exhausts.
type parametrizedRetry struct {
	interval time.Duration
	count    int
	attempts int
}

// NewParametrizedRetry builds a RetryStrategy that gives up after count
// attempts, each interval apart.
func NewParametrizedRetry(count int, interval time.Duration) RetryStrategy {
	return &parametrizedRetry{interval: interval, count: count}
}

func (r *parametrizedRetry) Next() (time.Duration, bool) {
	if r.attempts >= r.count {
		return 0, false
	}
	r.attempts++
	return r.interval, true
}

func (r *parametrizedRetry) Reset() { r.attempts = 0 }

// reconnectLoop drives an adapter's reconnection state machine: it logs a
// countdown, calls connect on each tick, and transitions to StatusConnected
// on success or StatusDisconnected once the strategy exhausts.
func reconnectLoop(ctx context.Context, logger *slog.Logger, strategy RetryStrategy, connect func(context.Context) error, hub *statusHub) {
	strategy.Reset()
	hub.transition(StatusReconnecting)

	for {
		delay, ok := strategy.Next()
		if !ok {
			logger.Warn("broker reconnect attempts exhausted, giving up")
			hub.transition(StatusDisconnected)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		logger.Info("attempting broker reconnect", slog.Duration("delay", delay))
		if err := connect(ctx); err != nil {
			logger.Warn("broker reconnect attempt failed", slog.String("error", err.Error()))
			continue
		}

		hub.transition(StatusConnected)
		return
	}
}
