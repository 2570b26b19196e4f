package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "verdict.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "listen_addr: \":9090\"\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, "memory", cfg.DB.Driver)
	assert.Equal(t, 30*time.Second, cfg.Snapshot.LockTTL)
	assert.Equal(t, 5, cfg.Guardrail.CircuitThreshold)
	assert.Equal(t, 0.6, cfg.Assurance.ConfidenceFloor)
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("VERDICT_TEST_ENGINE_KEY", "secret-key")
	path := writeConfig(t, "engine:\n  api_key: ${VERDICT_TEST_ENGINE_KEY}\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "secret-key", cfg.Engine.APIKey)
}

func TestValidateSQLiteRequiresDSN(t *testing.T) {
	cfg := Default()
	cfg.DB.Driver = "sqlite"
	require.Error(t, cfg.Validate())

	cfg.DB.DSN = "file:verdict.db"
	require.NoError(t, cfg.Validate())
}

func TestValidateValkeyRequiresAddr(t *testing.T) {
	cfg := Default()
	cfg.Cache.Backend = "valkey"
	require.Error(t, cfg.Validate())

	cfg.Cache.Addr = "localhost:6379"
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsUnknownDriver(t *testing.T) {
	cfg := Default()
	cfg.DB.Driver = "dynamo"
	require.Error(t, cfg.Validate())
}

func TestValidateConfidenceFloorBounds(t *testing.T) {
	cfg := Default()
	cfg.Assurance.ConfidenceFloor = 1.5
	require.Error(t, cfg.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
