package tokenstore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteBackend_MigratesOnOpen(t *testing.T) {
	dir := t.TempDir()

	b, err := OpenSQLite(dir, testOrigin, testLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })

	assert.Equal(t, filepath.Join(dir, dbFileName), b.Path())

	var n int
	require.NoError(t, b.db.QueryRow(`SELECT COUNT(*) FROM kv`).Scan(&n))
	assert.Zero(t, n)
}

func TestSQLiteBackend_ReopenIsIdempotent(t *testing.T) {
	dir := t.TempDir()

	b, err := OpenSQLite(dir, testOrigin, testLogger(t))
	require.NoError(t, err)
	require.NoError(t, b.SetMany(map[string]string{KeyAccessToken: "A1"}))
	require.NoError(t, b.Close())

	b, err = OpenSQLite(dir, testOrigin, testLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })

	v, ok, err := b.Get(KeyAccessToken)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "A1", v)
}

func TestSQLiteBackend_UpdatedAt(t *testing.T) {
	b, err := OpenSQLite(t.TempDir(), testOrigin, testLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })

	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	b.nowFunc = func() time.Time { return fixed }

	require.NoError(t, b.SetMany(map[string]string{"k": "v"}))

	var ts int64
	require.NoError(t, b.db.QueryRow(`SELECT updated_at FROM kv WHERE key = 'k'`).Scan(&ts))
	assert.Equal(t, fixed.Unix(), ts)
}

func TestSQLiteBackend_FilePermissions(t *testing.T) {
	b, err := OpenSQLite(t.TempDir(), testOrigin, testLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })

	info, err := os.Stat(b.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(FilePerms), info.Mode().Perm())
}

func TestSQLiteBackend_KeysSorted(t *testing.T) {
	b, err := OpenSQLite(t.TempDir(), testOrigin, testLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })

	require.NoError(t, b.SetMany(map[string]string{"c": "3", "a": "1", "b": "2"}))

	keys, err := b.Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, keys)
}

func TestOpenSQLite_EmptyDir(t *testing.T) {
	_, err := OpenSQLite("", testOrigin, nil)
	assert.Error(t, err)
}
