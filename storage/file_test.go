package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/programandonocosmos/cashtools-api/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileBackend_StoreFetch(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "out")
	backend, err := NewFileBackend(dir, nil)
	require.NoError(t, err)
	require.True(t, backend.Available(context.Background()))

	path, err := backend.Store(context.Background(), interfaces.ArchiveFileName, []byte("first"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "cert.p12"), path)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	// replaced in place
	_, err = backend.Store(context.Background(), interfaces.ArchiveFileName, []byte("second"))
	require.NoError(t, err)

	data, err := backend.Fetch(context.Background(), interfaces.ArchiveFileName)
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), data)

	// no temporary files left behind
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFileBackend_Errors(t *testing.T) {
	backend, err := NewFileBackend(t.TempDir(), nil)
	require.NoError(t, err)

	_, err = backend.Fetch(context.Background(), "missing.p12")
	assert.ErrorIs(t, err, interfaces.ErrArchiveNotFound)

	for _, name := range []string{"", "..", "../escape", "a/b"} {
		_, err = backend.Store(context.Background(), name, []byte("x"))
		assert.Error(t, err, "name %q", name)
	}

	_, err = NewFileBackend("", nil)
	assert.Error(t, err)
}

func TestFileBackend_StoreFailsOnVanishedDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "gone")
	backend, err := NewFileBackend(dir, nil)
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(dir))

	assert.False(t, backend.Available(context.Background()))
	_, err = backend.Store(context.Background(), interfaces.ArchiveFileName, []byte("x"))
	assert.Error(t, err)
}
