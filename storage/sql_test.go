package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/programandonocosmos/cashtools-api/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupSQLBackend(t *testing.T) *SQLBackend {
	t.Helper()

	path := filepath.Join(t.TempDir(), "archives.db")
	db, err := OpenSQLite(path)
	require.NoError(t, err)

	backend, err := NewSQLBackend(db, "sqlite://"+path, nil)
	require.NoError(t, err)
	return backend
}

func TestSQLBackend_StoreFetch(t *testing.T) {
	backend := setupSQLBackend(t)
	ctx := context.Background()
	require.True(t, backend.Available(ctx))

	location, err := backend.Store(ctx, interfaces.ArchiveFileName, []byte{0x30, 0x82, 0x01})
	require.NoError(t, err)
	assert.Equal(t, backend.LocationURI()+"#cert.p12", location)

	data, err := backend.Fetch(ctx, interfaces.ArchiveFileName)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x30, 0x82, 0x01}, data)
}

func TestSQLBackend_StoreReplaces(t *testing.T) {
	backend := setupSQLBackend(t)
	ctx := context.Background()

	_, err := backend.Store(ctx, interfaces.ArchiveFileName, []byte("old"))
	require.NoError(t, err)
	_, err = backend.Store(ctx, interfaces.ArchiveFileName, []byte("new"))
	require.NoError(t, err)

	data, err := backend.Fetch(ctx, interfaces.ArchiveFileName)
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), data)

	var count int64
	require.NoError(t, backend.db.Model(&IdentityArchiveModel{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestSQLBackend_NotFound(t *testing.T) {
	backend := setupSQLBackend(t)

	_, err := backend.Fetch(context.Background(), "nope.p12")
	assert.ErrorIs(t, err, interfaces.ErrArchiveNotFound)
	assert.Equal(t, "sql-sqlite", backend.Name())
}
