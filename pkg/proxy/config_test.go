package proxy

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	require.Equal(t, ":5432", cfg.ListenAddr)
	require.Equal(t, PostgresSQL, cfg.BackendType)
	require.Equal(t, DefaultMaxFrameSize, cfg.MaxFrameSize)
	require.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	require.False(t, cfg.Debug)
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen_addr: ":3306"
backend_addr: "db.internal:3306"
backend_type: mariadb
max_frame_size: 1048576
shutdown_timeout: 5s
debug: true
`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, ":3306", cfg.ListenAddr)
	require.Equal(t, "db.internal:3306", cfg.BackendAddr)
	require.Equal(t, MariaDB, cfg.BackendType)
	require.Equal(t, 1048576, cfg.MaxFrameSize)
	require.Equal(t, 5*time.Second, cfg.ShutdownTimeout)
	require.True(t, cfg.Debug)
}

func TestLoadConfigEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
backend_addr: "from-file:5432"
backend_type: postgres
`), 0o600))

	t.Setenv("SQLPROXY_BACKEND_ADDR", "from-env:3306")
	t.Setenv("SQLPROXY_BACKEND_TYPE", "mysql")
	t.Setenv("SQLPROXY_SHUTDOWN_TIMEOUT", "45")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "from-env:3306", cfg.BackendAddr)
	require.Equal(t, MariaDB, cfg.BackendType)
	require.Equal(t, 45*time.Second, cfg.ShutdownTimeout)
}

func TestLoadConfigRejectsUnknownBackendType(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backend_type: oracle\n"), 0o600))

	_, err := LoadConfig(path)
	require.Error(t, err)

	t.Setenv("SQLPROXY_BACKEND_TYPE", "oracle")
	_, err = LoadConfig("")
	require.Error(t, err)
}
