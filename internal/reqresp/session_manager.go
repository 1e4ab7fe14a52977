package reqresp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/flowbroker/connector/internal/broker"
	"github.com/flowbroker/connector/internal/cache"
)

// SessionStatus is a point-in-time snapshot returned by ListSessions.
type SessionStatus struct {
	SessionID     string
	ResponseTopic string
	Pending       int
}

// SessionManager lets one component own many independent request/response
// controllers, each with its own broker connection and response topic
// prefix, bounded by maxSessions.
type SessionManager struct {
	maxSessions int
	dial        func(ctx context.Context, cfg Config) (broker.Adapter, error)
	cacheSvc    *cache.Service
	logger      *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

type session struct {
	controller *Controller
	adapter    broker.Adapter
	cancel     context.CancelFunc
}

// stopSignal adapts a context.CancelFunc-backed context into the minimal
// interface Controller.Run expects, letting DestroySession stop exactly one
// session's reader goroutine without touching the others.
type stopSignal struct {
	ctx context.Context
}

func (s stopSignal) Done() <-chan struct{} { return s.ctx.Done() }

// NewSessionManager builds a manager bounded to maxSessions concurrent
// sessions. dial opens a fresh broker connection per session (e.g. a new
// NATS connection), so no two sessions share broker state.
func NewSessionManager(maxSessions int, dial func(ctx context.Context, cfg Config) (broker.Adapter, error), cacheSvc *cache.Service, logger *slog.Logger) *SessionManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionManager{
		maxSessions: maxSessions,
		dial:        dial,
		cacheSvc:    cacheSvc,
		logger:      logger,
		sessions:    map[string]*session{},
	}
}

// CreateSession opens a new isolated request/response session and starts
// its reply reader goroutine. The session slot is reserved (a nil entry)
// under the same lock that checks maxSessions, so concurrent callers
// cannot both pass the bound while a dial is in flight; the reservation is
// released if any setup step fails.
func (m *SessionManager) CreateSession(ctx context.Context, sessionID string, cfg Config) (string, error) {
	m.mu.Lock()
	if m.maxSessions > 0 && len(m.sessions) >= m.maxSessions {
		m.mu.Unlock()
		return "", fmt.Errorf("reqresp: max_sessions (%d) reached", m.maxSessions)
	}
	if _, exists := m.sessions[sessionID]; exists {
		m.mu.Unlock()
		return "", fmt.Errorf("reqresp: session %q already exists", sessionID)
	}
	m.sessions[sessionID] = nil
	m.mu.Unlock()

	release := func() {
		m.mu.Lock()
		delete(m.sessions, sessionID)
		m.mu.Unlock()
	}

	adapter, err := m.dial(ctx, cfg)
	if err != nil {
		release()
		return "", fmt.Errorf("reqresp: session %q: dial: %w", sessionID, err)
	}
	if err := adapter.Connect(ctx); err != nil {
		release()
		return "", fmt.Errorf("reqresp: session %q: connect: %w", sessionID, err)
	}

	controller, err := New(adapter, cfg, m.cacheSvc, m.logger.With(slog.String("session", sessionID)))
	if err != nil {
		_ = adapter.Disconnect()
		release()
		return "", fmt.Errorf("reqresp: session %q: %w", sessionID, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	sess := &session{controller: controller, adapter: adapter, cancel: cancel}

	m.mu.Lock()
	m.sessions[sessionID] = sess
	m.mu.Unlock()

	go controller.Run(runCtx, stopSignal{ctx: runCtx})

	return sessionID, nil
}

// Session returns the controller for sessionID, if it exists. A slot still
// reserved by an in-flight CreateSession does not count as existing yet.
func (m *SessionManager) Session(sessionID string) (*Controller, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[sessionID]
	if !ok || sess == nil {
		return nil, false
	}
	return sess.controller, true
}

// DestroySession stops a session's reader goroutine and disconnects its
// broker connection. A slot still reserved by an in-flight CreateSession
// is left for its creator to finish or release.
func (m *SessionManager) DestroySession(sessionID string) error {
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	if !ok || sess == nil {
		m.mu.Unlock()
		return fmt.Errorf("reqresp: session %q not found", sessionID)
	}
	delete(m.sessions, sessionID)
	m.mu.Unlock()

	sess.cancel()
	return sess.adapter.Disconnect()
}

// ListSessions returns a status snapshot of every live session. Reserved
// slots whose setup has not completed are omitted.
func (m *SessionManager) ListSessions() []SessionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]SessionStatus, 0, len(m.sessions))
	for id, sess := range m.sessions {
		if sess == nil {
			continue
		}
		sess.controller.mu.Lock()
		pending := len(sess.controller.pending)
		sess.controller.mu.Unlock()
		out = append(out, SessionStatus{
			SessionID:     id,
			ResponseTopic: sess.controller.ResponseTopic(),
			Pending:       pending,
		})
	}
	return out
}
