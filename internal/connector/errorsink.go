package connector

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/flowbroker/connector/internal/component"
	"github.com/flowbroker/connector/internal/flow"
	"github.com/flowbroker/connector/internal/message"
)

// errorFlowRateLimit caps how many ErrorRecords the shared error flow
// accepts per second; excess records are dropped with a warning rather
// than backpressuring the component that raised them.
const errorFlowRateLimit = 50

// flowErrorSink adapts a component.ErrorRecord into a Message and enqueues
// it onto the connector-wide error flow's input queue, rate-limited so a
// burst of failures in one app cannot starve every other component's
// shutdown/backpressure budget.
type flowErrorSink struct {
	logger *slog.Logger
	target *flow.Flow

	mu          sync.Mutex
	windowStart time.Time
	windowCount int
}

func newFlowErrorSink(logger *slog.Logger, target *flow.Flow) *flowErrorSink {
	return &flowErrorSink{logger: logger, target: target}
}

func (s *flowErrorSink) Emit(record component.ErrorRecord) {
	if !s.allow() {
		s.logger.Warn("error flow rate limit exceeded, dropping error record",
			slog.String("component", record.Location.Component),
			slog.String("flow", record.Location.Flow))
		return
	}

	msg := message.New(record, record.Message.Topic, record.Message.UserProperties)
	q := s.target.InputQueue()
	if q == nil {
		s.logger.Warn("error flow has no input component, dropping error record")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := q.Enqueue(ctx, message.NewMessageEvent(msg)); err != nil {
		s.logger.Warn("error flow input queue full, dropping error record", slog.String("error", err.Error()))
	}
}

func (s *flowErrorSink) allow() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if now.Sub(s.windowStart) >= time.Second {
		s.windowStart = now
		s.windowCount = 0
	}
	if s.windowCount >= errorFlowRateLimit {
		return false
	}
	s.windowCount++
	return true
}

// loggingErrorSink is used when no error_flow is configured: every
// ErrorRecord is only logged, never routed anywhere.
type loggingErrorSink struct {
	logger *slog.Logger
}

func (s *loggingErrorSink) Emit(record component.ErrorRecord) {
	s.logger.Warn("processing error",
		slog.String("component", record.Location.Component),
		slog.String("flow", record.Location.Flow),
		slog.String("exception_kind", record.Error.ExceptionKind),
		slog.String("error", record.Error.Text))
}
