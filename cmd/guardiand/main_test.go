package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidleathers/guardian-recovery/internal/domain/values"
	"github.com/davidleathers/guardian-recovery/internal/infrastructure/auth"
)

const testConfig = `
auth:
  jwt_secret: cli-secret
  issuer: guardiand-test
storage:
  driver: badger
  badger:
    in_memory: true
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "guardiand.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestTokenCommand(t *testing.T) {
	path := writeConfig(t, testConfig)

	out, err := execute(t, "--config", path, "token", "--sub", "alice", "--governance", "--act-as", "vault,treasury")
	require.NoError(t, err)

	tokens, err := auth.NewTokens(auth.Config{
		Secret:      []byte("cli-secret"),
		Issuer:      "guardiand-test",
		TokenExpiry: time.Hour,
	})
	require.NoError(t, err)

	claims, err := tokens.Verify(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, values.Address("alice"), claims.Principal())
	assert.True(t, claims.HasScope(auth.ScopeGovernance))
	assert.True(t, claims.CanActAs("vault"))
	assert.True(t, claims.CanActAs("treasury"))
	assert.False(t, claims.CanActAs("mallory"))
}

func TestTokenCommand_Errors(t *testing.T) {
	tests := []struct {
		name   string
		config string
		args   []string
	}{
		{name: "missing subject", config: testConfig, args: []string{"token"}},
		{name: "invalid subject", config: testConfig, args: []string{"token", "--sub", " "}},
		{name: "invalid delegate", config: testConfig, args: []string{"token", "--sub", "alice", "--act-as", "a b"}},
		{name: "no secret", config: "storage:\n  driver: badger\n", args: []string{"token", "--sub", "alice"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"--config", writeConfig(t, tt.config)}, tt.args...)
			_, err := execute(t, args...)
			assert.Error(t, err)
		})
	}
}

func TestMigrateCommand_RequiresPostgres(t *testing.T) {
	path := writeConfig(t, testConfig)

	_, err := execute(t, "--config", path, "migrate", "version")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres driver")
}

func TestServeCommand_RejectsInvalidConfig(t *testing.T) {
	path := writeConfig(t, "storage:\n  driver: etcd\n")

	_, err := execute(t, "--config", path, "serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown storage driver")
}
