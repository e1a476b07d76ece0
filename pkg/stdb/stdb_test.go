package stdb

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/clockworklabs/stdb-core/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAssemblesServerAgainstEmptyWAL(t *testing.T) {
	cfg := config.Default()
	cfg.WAL.Dir = filepath.Join(t.TempDir(), "wal")
	cfg.Session.TokenSecret = "test-secret"

	srv, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer srv.Close()

	assert.NotNil(t, srv.Handler())
	assert.NotNil(t, srv.Host())
}

func TestNewReplaysPriorWALOnRestart(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "wal")
	cfg := config.Default()
	cfg.WAL.Dir = dir
	cfg.Session.TokenSecret = "test-secret"

	srv1, err := New(context.Background(), cfg)
	require.NoError(t, err)
	require.NoError(t, srv1.Close())

	srv2, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer srv2.Close()
	assert.NotNil(t, srv2.Host())
}
