package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 6379, cfg.Port)
	assert.False(t, cfg.IsReplica())
}

func TestLoadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.toml")
	content := `
port = 6380
dir = "/var/lib/keyva"
dbfilename = "snapshot.rdb"
replicaof_host = "10.0.0.1"
replicaof_port = 6379
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 6380, cfg.Port)
	assert.Equal(t, "/var/lib/keyva", cfg.Dir)
	assert.Equal(t, "snapshot.rdb", cfg.DBFilename)
	assert.True(t, cfg.IsReplica())
	assert.Equal(t, "10.0.0.1", cfg.ReplicaOfHost)

	// Unset keys keep their defaults.
	assert.Equal(t, "0.0.0.0", cfg.Host)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Port = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.ReplicaOfHost = "primary"
	cfg.ReplicaOfPort = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.MaxConnections = 0
	assert.Error(t, cfg.Validate())
}

func TestConfigGet(t *testing.T) {
	cfg := Default()
	cfg.Dir = "/data"

	value, ok := cfg.Get("dir")
	assert.True(t, ok)
	assert.Equal(t, "/data", value)

	value, ok = cfg.Get("dbfilename")
	assert.True(t, ok)
	assert.Equal(t, "dump.rdb", value)

	_, ok = cfg.Get("maxmemory")
	assert.False(t, ok)
}
