package workspace

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, maxAge time.Duration) *Manager {
	t.Helper()
	m, err := NewManager(Config{BasePath: t.TempDir(), MaxAge: maxAge}, nil)
	require.NoError(t, err)
	require.NoError(t, m.Initialize())
	return m
}

func TestCreateAndCleanup(t *testing.T) {
	m := newTestManager(t, time.Hour)

	path, err := m.Create("q-1", OwnerQuery)
	require.NoError(t, err)
	assert.DirExists(t, path)
	assert.Equal(t, 1, m.Count())

	assert.True(t, m.Cleanup("q-1"))
	assert.NoDirExists(t, path)
	assert.Equal(t, 0, m.Count())
}

func TestCreateIdempotent(t *testing.T) {
	m := newTestManager(t, time.Hour)

	first, err := m.Create("dup", OwnerSession)
	require.NoError(t, err)

	// A second create for the same identifier adopts the existing directory.
	second, err := m.Create("dup", OwnerSession)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, m.Count())
}

func TestCleanupUntracked(t *testing.T) {
	m := newTestManager(t, time.Hour)

	assert.False(t, m.Cleanup("never-created"))

	_, err := m.Create("once", OwnerQuery)
	require.NoError(t, err)
	assert.True(t, m.Cleanup("once"))
	assert.False(t, m.Cleanup("once"))
}

func TestOrphanSweep(t *testing.T) {
	base := t.TempDir()

	oldDir := filepath.Join(base, "stale")
	require.NoError(t, os.Mkdir(oldDir, 0o755))
	oldTime := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(oldDir, oldTime, oldTime))

	youngDir := filepath.Join(base, "fresh")
	require.NoError(t, os.Mkdir(youngDir, 0o755))

	m, err := NewManager(Config{BasePath: base, MaxAge: 24 * time.Hour}, nil)
	require.NoError(t, err)
	require.NoError(t, m.Initialize())

	assert.NoDirExists(t, oldDir)
	assert.DirExists(t, youngDir)
}

func TestCleanupAll(t *testing.T) {
	m := newTestManager(t, time.Hour)

	p1, err := m.Create("a", OwnerQuery)
	require.NoError(t, err)
	p2, err := m.Create("b", OwnerSession)
	require.NoError(t, err)

	m.CleanupAll()
	assert.NoDirExists(t, p1)
	assert.NoDirExists(t, p2)
	assert.Equal(t, 0, m.Count())
}

func TestExpandedBasePath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	cfg := Config{BasePath: "~/ws"}
	path, err := cfg.ExpandedBasePath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "ws"), path)

	cfg = Config{BasePath: "/abs/ws"}
	path, err = cfg.ExpandedBasePath()
	require.NoError(t, err)
	assert.Equal(t, "/abs/ws", path)
}
