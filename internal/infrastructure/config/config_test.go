package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidleathers/guardian-recovery/internal/domain/values"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "guardiand.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_DefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "badger", cfg.Storage.Driver)
	assert.Equal(t, 7*24*time.Hour, cfg.Protocol.RecoveryTimeout)
	assert.Equal(t, values.Amount(100), cfg.Protocol.MinGuardianStake)
	assert.Equal(t, values.Address("recovery-custody"), cfg.Protocol.Custody)
	assert.Empty(t, cfg.Strategies)
}

func TestLoad_FileAndEnvironment(t *testing.T) {
	path := writeConfig(t, `
log_level: debug
server:
  port: 9090
protocol:
  min_guardian_stake: 250
  recovery_timeout: 72h
strategies:
  - id: social
    name: Social Recovery
    min_guardians: 4
    timeout_period: 48h
    requires_reputation: false
`)
	t.Setenv("GRD_SERVER__READ_TIMEOUT", "3s")
	t.Setenv("GRD_AUTH__JWT_SECRET", "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 3*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
	assert.Equal(t, values.Amount(250), cfg.Protocol.MinGuardianStake)
	assert.Equal(t, 72*time.Hour, cfg.Protocol.RecoveryTimeout)
	// untouched protocol keys keep their defaults
	assert.Equal(t, 10, cfg.Protocol.SlashPercentage)

	require.Len(t, cfg.Strategies, 1)
	assert.Equal(t, "social", cfg.Strategies[0].ID)
	assert.Equal(t, 48*time.Hour, cfg.Strategies[0].TimeoutPeriod)

	catalog, err := cfg.Catalog()
	require.NoError(t, err)
	assert.Len(t, catalog.List(), 4)
}

func TestLoad_RejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "unknown driver", body: "storage:\n  driver: etcd\n"},
		{name: "postgres without url", body: "storage:\n  driver: postgres\n"},
		{name: "bad protocol params", body: "protocol:\n  slash_percentage: 150\n"},
		{name: "shadowed strategy", body: "strategies:\n  - id: standard\n    min_guardians: 1\n    timeout_period: 1h\n"},
		{name: "bad port", body: "server:\n  port: 70000\n"},
		{name: "bad log format", body: "log_format: xml\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}
