package cmd

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"apiprobe/internal/executor"
	"apiprobe/internal/token"
	"apiprobe/pkg/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	level, err := parseLogLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, logging.LevelDebug, level)

	level, err = parseLogLevel("error")
	require.NoError(t, err)
	assert.Equal(t, logging.LevelError, level)

	_, err = parseLogLevel("loud")
	require.Error(t, err)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, ExitCodeTestsFailed, exitCode(errTestsFailed))
	assert.Equal(t, ExitCodeAuthFailed, exitCode(&token.AuthError{Op: "token fetch", Err: errors.New("boom")}))
	assert.Equal(t, ExitCodeAuthFailed, exitCode(&executor.AuthenticationError{Status: 403}))
	assert.Equal(t, ExitCodeError, exitCode(errors.New("anything else")))
}

const testSuite = `
suite: smoke
cases:
  - name: create_order
    method: POST
    url: /orders
    contract:
      schema:
        name:
          type: string
          required: true
          max_length: 10
      valid_example:
        name: sample
    mutations: [missing_field, boundary]
  - name: list_orders
    url: /orders
`

func writeTestSuite(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "smoke.yaml"), []byte(testSuite), 0644))
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestGenerateCommand(t *testing.T) {
	dir := writeTestSuite(t)

	out, err := execute(t, "generate", "--suites", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "missing_required_field_name")
	assert.Contains(t, out, "boundary_name_above_max_length")
	assert.Contains(t, out, "2 mutation variants planned")
}

func TestGenerateCommandCaseFilter(t *testing.T) {
	dir := writeTestSuite(t)

	out, err := execute(t, "generate", "--suites", dir, "--case", "list_orders")
	require.NoError(t, err)
	assert.Contains(t, out, "0 mutation variants planned")
}

func TestValidateCommand(t *testing.T) {
	dir := writeTestSuite(t)
	configFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte("base_url: https://api.example.com\n"), 0644))

	out, err := execute(t, "validate", "--suites", dir, "--config", configFile)
	require.NoError(t, err)
	assert.Contains(t, out, "OK: 1 suites, 2 cases (1 with contracts)")
}

func TestValidateCommandBadConfig(t *testing.T) {
	dir := writeTestSuite(t)
	configFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte("retry_budget: 0\n"), 0644))

	_, err := execute(t, "validate", "--suites", dir, "--config", configFile)
	require.Error(t, err)
}
