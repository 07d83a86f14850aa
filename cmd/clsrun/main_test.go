package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objclass/goclass/types"
)

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestExecEcho(t *testing.T) {
	out, _, err := run(t, "exec", "echo", "--input", "ABC")
	require.NoError(t, err)
	assert.Equal(t, "ABC", out)
}

func TestExecRaw(t *testing.T) {
	out, _, err := run(t, "exec", "echo", "--input", "raw", "--raw")
	require.NoError(t, err)
	assert.Equal(t, "raw", out)
}

func TestExecInputFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "input")
	require.NoError(t, os.WriteFile(path, []byte("from file"), 0o600))

	out, _, err := run(t, "exec", "echo", "--input-file", path)
	require.NoError(t, err)
	assert.Equal(t, "from file", out)
}

func TestExecFailure(t *testing.T) {
	_, _, err := run(t, "exec", "echo_object")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "go.echo_object returned")

	_, _, err = run(t, "exec", "nope")
	require.Error(t, err)
}

func TestExecPersistsWithDataDir(t *testing.T) {
	dir := t.TempDir()

	_, _, err := run(t, "exec", "store_input", "--data-dir", dir, "--object", "greeting", "--input", "hello")
	require.NoError(t, err)

	out, _, err := run(t, "exec", "echo_object", "--data-dir", dir, "--object", "greeting")
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
}

func TestExecMetrics(t *testing.T) {
	_, stderr, err := run(t, "exec", "echo", "--input", "x", "--metrics-namespace", "clsrun", "--log-format", "json")
	require.NoError(t, err)
	assert.Contains(t, stderr, `"outcome":"ok"`)
}

func TestMethods(t *testing.T) {
	out, _, err := run(t, "methods", "--class", "jvm")
	require.NoError(t, err)
	assert.Equal(t, "jvm.echo\trd\njvm.echo_object\trd\njvm.store_input\trd|wr\n", out)
}

func TestConfigPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clsrun.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
class:
  name: fromfile
native:
  range_policy: strict
  max_handles: 64
log:
  level: warn
`), 0o600))
	t.Setenv("CLSRUN_NATIVE_MAX_HANDLES", "32")

	out, _, err := run(t, "config", "--config", path, "--log-level", "error")
	require.NoError(t, err)

	var cfg types.Config
	require.NoError(t, json.Unmarshal([]byte(out), &cfg))
	assert.Equal(t, "fromfile", cfg.Class.Name)
	assert.Equal(t, types.RangeStrict, cfg.Native.RangePolicy)
	assert.Equal(t, 32, cfg.Native.MaxHandles)
	assert.Equal(t, "error", cfg.Log.Level)
	assert.Equal(t, types.DefaultNativeConfig().LogBacklog, cfg.Native.LogBacklog)
}

func TestInvalidConfig(t *testing.T) {
	_, _, err := run(t, "config", "--range-policy", "wrap")
	require.Error(t, err)
}

func TestSchema(t *testing.T) {
	out, _, err := run(t, "schema")
	require.NoError(t, err)
	assert.Contains(t, out, `"range_policy"`)
}

func TestParseFlags(t *testing.T) {
	flags, err := parseFlags("rd|wr")
	require.NoError(t, err)
	assert.Equal(t, types.MethodRead|types.MethodWrite, flags)

	_, err = parseFlags("rw")
	require.Error(t, err)
}
