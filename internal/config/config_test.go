package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsWellFormed(t *testing.T) {
	cfg := Default()
	_, err := cfg.Module.ToHostConfig()
	require.NoError(t, err)
	ttl, err := cfg.Session.TokenTTLDuration()
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, ttl)
}

func TestLoadFileOverridesOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stdb.toml")
	doc := `
[http]
listen_addr = "0.0.0.0:8080"

[session]
token_secret = "s3cr3t"
token_ttl = "10m"

[wal]
dir = "/var/lib/stdb/wal"
fsync = false
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.HTTP.ListenAddr)
	assert.Equal(t, "s3cr3t", cfg.Session.TokenSecret)
	ttl, err := cfg.Session.TokenTTLDuration()
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, ttl)
	assert.Equal(t, "/var/lib/stdb/wal", cfg.WAL.Dir)
	assert.False(t, cfg.WAL.Fsync)

	// module table was not present in the document, so its defaults survive.
	hostCfg, err := cfg.Module.ToHostConfig()
	require.NoError(t, err)
	assert.Equal(t, Default().Module.MemoryLimitPages, hostCfg.MemoryLimitPages)
}

func TestLoadFileMissingReturnsError(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}
