package services

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-dashboards/pkg/apperrors"
)

type managedSession struct {
	session    *DashboardSession
	lastAccess time.Time
}

// SessionManager owns the open dashboard sessions, one per client and slug,
// and closes sessions left idle.
type SessionManager struct {
	ctx     context.Context
	deps    SessionDeps
	cfg     SessionConfig
	idleTTL time.Duration
	clock   clock.Clock
	logger  *zap.Logger

	mu       sync.Mutex
	sessions map[string]*managedSession
}

// NewSessionManager creates a SessionManager. Sessions live under ctx.
func NewSessionManager(ctx context.Context, deps SessionDeps, cfg SessionConfig, idleTTL time.Duration, logger *zap.Logger) *SessionManager {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	return &SessionManager{
		ctx:      ctx,
		deps:     deps,
		cfg:      cfg,
		idleTTL:  idleTTL,
		clock:    cfg.Clock,
		logger:   logger.Named("sessions"),
		sessions: make(map[string]*managedSession),
	}
}

func sessionKey(clientID, slug string) string {
	return clientID + "\x00" + slug
}

// Open starts a session for slug on behalf of clientID, closing any session
// the client already had on that dashboard.
func (m *SessionManager) Open(clientID, slug string, query url.Values) *DashboardSession {
	session := NewDashboardSession(m.ctx, slug, query, m.deps, m.cfg, m.logger)

	m.mu.Lock()
	key := sessionKey(clientID, slug)
	previous := m.sessions[key]
	m.sessions[key] = &managedSession{session: session, lastAccess: m.clock.Now()}
	m.mu.Unlock()

	if previous != nil {
		previous.session.Close()
	}

	m.logger.Debug("Opened dashboard session", zap.String("slug", slug))
	return session
}

// Get returns the client's session on slug and marks it used.
func (m *SessionManager) Get(clientID, slug string) (*DashboardSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ms, ok := m.sessions[sessionKey(clientID, slug)]
	if !ok {
		return nil, apperrors.ErrSessionNotFound
	}
	ms.lastAccess = m.clock.Now()
	return ms.session, nil
}

// Close ends the client's session on slug, if any.
func (m *SessionManager) Close(clientID, slug string) {
	m.mu.Lock()
	key := sessionKey(clientID, slug)
	ms := m.sessions[key]
	delete(m.sessions, key)
	m.mu.Unlock()

	if ms != nil {
		ms.session.Close()
	}
}

// Len returns the number of open sessions.
func (m *SessionManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep closes sessions idle for longer than the idle TTL and returns how
// many it closed.
func (m *SessionManager) Sweep() int {
	now := m.clock.Now()

	m.mu.Lock()
	var idle []*managedSession
	for key, ms := range m.sessions {
		if now.Sub(ms.lastAccess) > m.idleTTL {
			idle = append(idle, ms)
			delete(m.sessions, key)
		}
	}
	m.mu.Unlock()

	for _, ms := range idle {
		ms.session.Close()
	}
	if len(idle) > 0 {
		m.logger.Info("Closed idle dashboard sessions", zap.Int("count", len(idle)))
	}
	return len(idle)
}

// Run sweeps idle sessions until ctx is done, then closes every session.
func (m *SessionManager) Run(ctx context.Context) {
	interval := m.idleTTL / 2
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := m.clock.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.Shutdown()
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Shutdown closes every session.
func (m *SessionManager) Shutdown() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*managedSession)
	m.mu.Unlock()

	for _, ms := range sessions {
		ms.session.Close()
	}
}
