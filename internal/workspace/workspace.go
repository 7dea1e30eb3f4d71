// Package workspace manages per-query and per-session working directories
// under a single base path. Directories are tracked in memory by the
// identifier of their owner; orphans left behind by a previous process are
// swept on startup.
package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agentgate/agentd/internal/common/logger"
)

// ErrCreateFailed indicates the workspace directory could not be created.
var ErrCreateFailed = errors.New("workspace creation failed")

// OwnerKind identifies what kind of caller a workspace belongs to.
type OwnerKind string

const (
	OwnerQuery       OwnerKind = "query"
	OwnerQueryStream OwnerKind = "query_stream"
	OwnerSession     OwnerKind = "session"
)

// DefaultMaxAge is the orphan sweep threshold when Config does not set one.
const DefaultMaxAge = 24 * time.Hour

// Config holds workspace manager configuration.
type Config struct {
	// BasePath is the directory all workspaces are created under.
	// Supports ~ expansion.
	BasePath string

	// MaxAge is the age past which an untracked directory found during
	// Initialize is removed.
	MaxAge time.Duration
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.BasePath == "" {
		return errors.New("workspace base path is required")
	}
	return nil
}

// ExpandedBasePath returns BasePath with a leading ~ expanded to the
// user's home directory.
func (c *Config) ExpandedBasePath() (string, error) {
	path := c.BasePath
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("expand workspace base path: %w", err)
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path, nil
}

func (c *Config) maxAge() time.Duration {
	if c.MaxAge <= 0 {
		return DefaultMaxAge
	}
	return c.MaxAge
}

// Manager creates, tracks, and removes workspace directories. All methods
// are safe for concurrent use.
type Manager struct {
	basePath string
	maxAge   time.Duration
	logger   *logger.Logger

	mu     sync.Mutex
	owners map[string]OwnerKind
}

// NewManager creates a workspace manager. The base path is not touched
// until Initialize.
func NewManager(cfg Config, log *logger.Logger) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	basePath, err := cfg.ExpandedBasePath()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Default()
	}
	return &Manager{
		basePath: basePath,
		maxAge:   cfg.maxAge(),
		logger:   log.WithFields(zap.String("component", "workspace-manager")),
		owners:   make(map[string]OwnerKind),
	}, nil
}

// BasePath returns the expanded base directory.
func (m *Manager) BasePath() string {
	return m.basePath
}

// Path returns the directory a workspace with the given identifier would
// occupy. It does not create or check anything.
func (m *Manager) Path(identifier string) string {
	return filepath.Join(m.basePath, identifier)
}

// Initialize ensures the base directory exists and sweeps orphaned
// directories older than the configured max age. Sweep failures are logged
// and do not fail startup.
func (m *Manager) Initialize() error {
	if err := os.MkdirAll(m.basePath, 0o755); err != nil {
		return fmt.Errorf("create workspace base %s: %w", m.basePath, err)
	}
	m.sweepOrphans()
	return nil
}

func (m *Manager) sweepOrphans() {
	entries, err := os.ReadDir(m.basePath)
	if err != nil {
		m.logger.Warn("orphan sweep: cannot read base directory", zap.Error(err))
		return
	}

	cutoff := time.Now().Add(-m.maxAge)
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			m.logger.Warn("orphan sweep: stat failed",
				zap.String("name", entry.Name()), zap.Error(err))
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(m.basePath, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			m.logger.Warn("orphan sweep: remove failed",
				zap.String("path", path), zap.Error(err))
			continue
		}
		removed++
		m.logger.Info("removed orphaned workspace",
			zap.String("path", path),
			zap.Time("mod_time", info.ModTime()))
	}
	if removed > 0 {
		m.logger.Info("orphan sweep complete", zap.Int("removed", removed))
	}
}

// Create makes a workspace directory for the given identifier and tracks
// it. Creating an identifier that already has a directory is not an error:
// the existing directory is adopted and tracked.
func (m *Manager) Create(identifier string, owner OwnerKind) (string, error) {
	path := m.Path(identifier)

	if err := os.Mkdir(path, 0o755); err != nil {
		if !errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("%w: %s: %v", ErrCreateFailed, path, err)
		}
		m.logger.Warn("workspace directory already exists, adopting",
			zap.String("identifier", identifier),
			zap.String("path", path))
	}

	m.mu.Lock()
	m.owners[identifier] = owner
	m.mu.Unlock()

	m.logger.Debug("workspace created",
		zap.String("identifier", identifier),
		zap.String("owner", string(owner)),
		zap.String("path", path))
	return path, nil
}

// Cleanup removes the workspace for the given identifier. It reports
// whether the identifier was tracked; removing an untracked identifier is a
// no-op returning false. The directory is deleted outside the guard.
func (m *Manager) Cleanup(identifier string) bool {
	m.mu.Lock()
	owner, tracked := m.owners[identifier]
	delete(m.owners, identifier)
	m.mu.Unlock()

	if !tracked {
		return false
	}

	path := m.Path(identifier)
	if err := os.RemoveAll(path); err != nil {
		m.logger.Warn("workspace removal failed",
			zap.String("identifier", identifier),
			zap.String("path", path),
			zap.Error(err))
	} else {
		m.logger.Debug("workspace removed",
			zap.String("identifier", identifier),
			zap.String("owner", string(owner)))
	}
	return true
}

// CleanupAll removes every tracked workspace. Used on shutdown.
func (m *Manager) CleanupAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.owners))
	for id := range m.owners {
		ids = append(ids, id)
	}
	m.owners = make(map[string]OwnerKind)
	m.mu.Unlock()

	for _, id := range ids {
		path := m.Path(id)
		if err := os.RemoveAll(path); err != nil {
			m.logger.Warn("workspace removal failed",
				zap.String("identifier", id), zap.Error(err))
		}
	}
	if len(ids) > 0 {
		m.logger.Info("cleaned up workspaces", zap.Int("count", len(ids)))
	}
}

// Count returns the number of tracked workspaces.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.owners)
}
