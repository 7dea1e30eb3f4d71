// Package session tracks long-lived agent connections by caller-chosen
// identifier. Each session owns one connection; sessions whose workspace was
// created by the server also own that directory's lifetime.
package session

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/agentgate/agentd/internal/common/logger"
	"github.com/agentgate/agentd/pkg/claudecode"
)

// Connection is the agent connection a session holds. *claudecode.Client
// satisfies it.
type Connection interface {
	Query(ctx context.Context, prompt string) error
	ReceiveResponse() <-chan claudecode.Event
	Interrupt(ctx context.Context) error
	Disconnect() error
}

// Factory establishes a new agent connection, including its handshake.
type Factory func(ctx context.Context) (Connection, error)

// WorkspaceCleaner removes workspace directories. Satisfied by
// *workspace.Manager.
type WorkspaceCleaner interface {
	Cleanup(identifier string) bool
	CleanupAll()
}

// Manager is the session registry. All methods are safe for concurrent use.
type Manager struct {
	logger  *logger.Logger
	cleaner WorkspaceCleaner

	mu                sync.Mutex
	sessions          map[string]Connection
	createdWorkspaces map[string]bool
}

// NewManager creates a session registry backed by the given workspace
// cleaner.
func NewManager(cleaner WorkspaceCleaner, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.Default()
	}
	return &Manager{
		logger:            log.WithFields(zap.String("component", "session-manager")),
		cleaner:           cleaner,
		sessions:          make(map[string]Connection),
		createdWorkspaces: make(map[string]bool),
	}
}

// CreateSession registers a session under the given identifier, establishing
// its connection via connect. The guard is held across the handshake so a
// duplicate identifier can never observe a half-created session.
// ownsWorkspace marks the session as owner of a server-created workspace
// directory, deleted when the session closes.
func (m *Manager) CreateSession(ctx context.Context, id string, connect Factory, ownsWorkspace bool) (Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[id]; exists {
		return nil, ErrDuplicateSession
	}

	conn, err := connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect session %s: %w", id, err)
	}

	m.sessions[id] = conn
	if ownsWorkspace {
		m.createdWorkspaces[id] = true
	}
	m.logger.Info("session created",
		zap.String("session_id", id),
		zap.Bool("owns_workspace", ownsWorkspace),
		zap.Int("total", len(m.sessions)))
	return conn, nil
}

// GetSession returns the connection for the given identifier.
func (m *Manager) GetSession(id string) (Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return conn, nil
}

// ListSessions returns the identifiers of all active sessions.
func (m *Manager) ListSessions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Count returns the number of active sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// CloseSession disconnects and removes the session. The session's workspace
// is deleted only when the registry created it, and only after the guard is
// released. Returns ErrSessionNotFound for unknown identifiers.
func (m *Manager) CloseSession(id string) error {
	m.mu.Lock()
	conn, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return ErrSessionNotFound
	}
	delete(m.sessions, id)
	owns := m.createdWorkspaces[id]
	delete(m.createdWorkspaces, id)

	if err := conn.Disconnect(); err != nil {
		m.logger.Warn("session disconnect failed",
			zap.String("session_id", id), zap.Error(err))
	}
	m.mu.Unlock()

	if owns {
		m.cleaner.Cleanup(id)
	}
	m.logger.Info("session closed", zap.String("session_id", id))
	return nil
}

// CloseAll disconnects every session and removes every tracked workspace.
// Individual disconnect failures are logged, not propagated. Used on
// shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	conns := make(map[string]Connection, len(m.sessions))
	for id, conn := range m.sessions {
		conns[id] = conn
	}
	m.sessions = make(map[string]Connection)
	m.createdWorkspaces = make(map[string]bool)
	m.mu.Unlock()

	for id, conn := range conns {
		if err := conn.Disconnect(); err != nil {
			m.logger.Warn("session disconnect failed",
				zap.String("session_id", id), zap.Error(err))
		}
	}
	m.cleaner.CleanupAll()
	if len(conns) > 0 {
		m.logger.Info("closed all sessions", zap.Int("count", len(conns)))
	}
}
