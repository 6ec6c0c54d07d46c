package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/giantswarm/upsert/internal/formatting"
)

// testEnv runs commands against a filesystem store in a temporary directory.
type testEnv struct {
	t         *testing.T
	storePath string
	configDir string
	stderr    bytes.Buffer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return &testEnv{
		t:         t,
		storePath: t.TempDir(),
		configDir: t.TempDir(),
	}
}

// run executes the root command with args and returns its standard output.
func (e *testEnv) run(args ...string) (string, error) {
	e.t.Helper()

	cmd := newRootCmd()
	var stdout bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&e.stderr)
	cmd.SetArgs(append(args,
		"--config", e.configDir,
		"--mode", "filesystem",
		"--filesystem-path", e.storePath,
	))

	err := cmd.Execute()
	return stdout.String(), err
}

// runJSON executes args with JSON output and decodes the results.
func (e *testEnv) runJSON(args ...string) ([]formatting.Result, error) {
	e.t.Helper()

	out, err := e.run(append(args, "-o", "json")...)
	var results []formatting.Result
	if decodeErr := json.Unmarshal([]byte(out), &results); decodeErr != nil {
		e.t.Fatalf("failed to decode output %q: %v (command error: %v)", out, decodeErr, err)
	}
	return results, err
}

func writeManifest(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write manifest: %v", err)
	}
	return path
}

const configMapManifest = `apiVersion: v1
kind: ConfigMap
metadata:
  name: settings
  namespace: apps
data:
  mode: fast
`
