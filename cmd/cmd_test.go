package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/vetdispatch/auth"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestScoreCommand(t *testing.T) {
	out, err := execute(t, "score")
	require.NoError(t, err)
	assert.Equal(t, "100", strings.TrimSpace(out))

	out, err = execute(t, "score", "--late", "1", "--no-shows", "1")
	require.NoError(t, err)
	assert.NotEqual(t, "100", strings.TrimSpace(out))
}

func TestSimulateCommand(t *testing.T) {
	out, err := execute(t, "simulate", filepath.Join("..", "qa", "scenarios", "timeout_cascade.yaml"))
	require.NoError(t, err)
	assert.Contains(t, out, "ok   timeout_cascade: assigned")

	_, err = execute(t, "simulate", "missing.yaml")
	assert.Error(t, err)
}

func TestTokenAndLogsCommands(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.yaml")
	logPath := filepath.Join(dir, "transitions.jsonl")
	rec := `{"timestamp":"2025-01-06T09:00:00Z","request_id":"r1","from":"pending","to":"offer_outstanding","provider_id":"v1"}` + "\n"
	require.NoError(t, os.WriteFile(logPath, []byte(rec), 0o600))
	require.NoError(t, os.WriteFile(cfgFile, []byte(`
http:
  jwt_secret: 0123456789abcdef-test
logging:
  backend: jsonl
  path: `+logPath+`
`), 0o600))

	out, err := execute(t, "token", "-c", cfgFile, "--actor", "ops", "--role", "support")
	require.NoError(t, err)
	signer, err := auth.NewSigner("0123456789abcdef-test")
	require.NoError(t, err)
	actor, err := signer.Verify(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, auth.RoleSupport, actor.Role)

	out, err = execute(t, "logs", "export", "-c", cfgFile, "--format", "csv", "--request", "r1")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "timestamp,request_id"))

	_, err = execute(t, "logs", "export", "-c", cfgFile, "--format", "xml")
	assert.Error(t, err)
}
