package cmd

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/giantswarm/upsert/internal/client"
	"github.com/giantswarm/upsert/internal/config"
	"github.com/giantswarm/upsert/internal/metrics"
)

func TestApplyCreatesThenReplaces(t *testing.T) {
	env := newTestEnv(t)
	path := writeManifest(t, t.TempDir(), "cm.yaml", configMapManifest)

	results, err := env.runJSON("apply", "-f", path)
	if err != nil {
		t.Fatalf("first apply failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Outcome != "Created" || results[0].ResourceVersion != "1" {
		t.Errorf("unexpected first result %+v", results[0])
	}

	results, err = env.runJSON("apply", "-f", path)
	if err != nil {
		t.Fatalf("second apply failed: %v", err)
	}
	if results[0].Outcome != "Replaced" || results[0].ResourceVersion != "2" {
		t.Errorf("unexpected second result %+v", results[0])
	}

	if _, err := os.Stat(filepath.Join(env.storePath, "apps", "configmap", "settings.yaml")); err != nil {
		t.Errorf("expected object on disk: %v", err)
	}
}

func TestApplyDeleteExistingRecreates(t *testing.T) {
	env := newTestEnv(t)
	path := writeManifest(t, t.TempDir(), "cm.yaml", configMapManifest)

	if _, err := env.runJSON("apply", "-f", path); err != nil {
		t.Fatalf("first apply failed: %v", err)
	}

	results, err := env.runJSON("apply", "-f", path, "--delete-existing")
	if err != nil {
		t.Fatalf("apply with --delete-existing failed: %v", err)
	}
	if results[0].Outcome != "Recreated" {
		t.Errorf("expected Recreated, got %+v", results[0])
	}
}

func TestApplyStaleManifestIsPartialFailure(t *testing.T) {
	env := newTestEnv(t)
	dir := t.TempDir()
	path := writeManifest(t, dir, "cm.yaml", configMapManifest)

	for i := 0; i < 2; i++ {
		if _, err := env.runJSON("apply", "-f", path); err != nil {
			t.Fatalf("apply %d failed: %v", i, err)
		}
	}

	stale := strings.Replace(configMapManifest, "  namespace: apps\n", "  namespace: apps\n  resourceVersion: \"1\"\n", 1)
	stalePath := writeManifest(t, dir, "stale.yaml", stale)

	results, err := env.runJSON("apply", "-f", stalePath)
	var partial *PartialFailureError
	if !errors.As(err, &partial) {
		t.Fatalf("expected PartialFailureError, got %v", err)
	}
	if partial.Failed != 1 || partial.Total != 1 {
		t.Errorf("unexpected counts %+v", partial)
	}
	if results[0].Outcome != "Failed" || !strings.Contains(results[0].Error, "modified") {
		t.Errorf("expected a conflict failure, got %+v", results[0])
	}
	if getExitCode(err) != ExitCodePartialFailure {
		t.Errorf("expected exit code %d", ExitCodePartialFailure)
	}
}

func TestApplyDirectoryKeepsOrder(t *testing.T) {
	env := newTestEnv(t)
	dir := t.TempDir()
	writeManifest(t, dir, "b.yaml", strings.Replace(configMapManifest, "settings", "second", 1))
	writeManifest(t, dir, "a.yaml", strings.Replace(configMapManifest, "settings", "first", 1))
	writeManifest(t, dir, "notes.txt", "not a manifest")

	results, err := env.runJSON("apply", "-f", dir, "--concurrency", "2")
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Name != "first" || results[1].Name != "second" {
		t.Errorf("results out of order: %+v", results)
	}
}

func TestApplyDryRunWritesNothing(t *testing.T) {
	env := newTestEnv(t)
	path := writeManifest(t, t.TempDir(), "cm.yaml", configMapManifest)

	results, err := env.runJSON("apply", "-f", path, "--dry-run")
	if err != nil {
		t.Fatalf("dry-run apply failed: %v", err)
	}
	if results[0].Outcome != "Created" {
		t.Errorf("expected Created, got %+v", results[0])
	}

	if _, err := os.Stat(filepath.Join(env.storePath, "apps", "configmap", "settings.yaml")); !os.IsNotExist(err) {
		t.Errorf("dry run must not write to the store, stat error: %v", err)
	}
}

func TestApplyNamespaceFlagDefaultsNamespace(t *testing.T) {
	env := newTestEnv(t)
	manifest := strings.Replace(configMapManifest, "  namespace: apps\n", "", 1)
	path := writeManifest(t, t.TempDir(), "cm.yaml", manifest)

	results, err := env.runJSON("apply", "-f", path, "--namespace", "team-a")
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if results[0].Namespace != "team-a" {
		t.Errorf("expected namespace team-a, got %q", results[0].Namespace)
	}
}

func TestApplyTableOutput(t *testing.T) {
	env := newTestEnv(t)
	path := writeManifest(t, t.TempDir(), "cm.yaml", configMapManifest)

	out, err := env.run("apply", "-f", path)
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	for _, want := range []string{"ConfigMap", "settings", "Created"} {
		if !strings.Contains(out, want) {
			t.Errorf("table output should contain %q, got:\n%s", want, out)
		}
	}
}

func TestApplyErrors(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{
			name:    "missing filename flag",
			args:    []string{"apply"},
			wantErr: "filename",
		},
		{
			name:    "unknown output format",
			args:    []string{"apply", "-f", "x.yaml", "-o", "xml"},
			wantErr: "unsupported output format",
		},
		{
			name:    "missing file",
			args:    []string{"apply", "-f", "does-not-exist.yaml"},
			wantErr: "does-not-exist.yaml",
		},
		{
			name:    "invalid mode",
			args:    []string{"apply", "-f", "x.yaml", "--mode", "cloud"},
			wantErr: "invalid configuration",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			cmd := newRootCmd()
			cmd.SetOut(&env.stderr)
			cmd.SetErr(&env.stderr)
			args := append([]string{"--config", env.configDir, "--filesystem-path", env.storePath}, tt.args...)
			if !containsArg(tt.args, "--mode") {
				args = append(args, "--mode", "filesystem")
			}
			cmd.SetArgs(args)

			err := cmd.Execute()
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
			if getExitCode(err) != ExitCodeError {
				t.Errorf("expected exit code %d", ExitCodeError)
			}
		})
	}
}

func TestApplyStoreError(t *testing.T) {
	original := newStore
	defer func() { newStore = original }()
	newStore = func(config.Config) (client.ObjectStore, error) {
		return nil, errors.New("no cluster")
	}

	env := newTestEnv(t)
	path := writeManifest(t, t.TempDir(), "cm.yaml", configMapManifest)

	_, err := env.run("apply", "-f", path)
	if err == nil || !strings.Contains(err.Error(), "no cluster") {
		t.Fatalf("expected store error, got %v", err)
	}
}

func containsArg(args []string, arg string) bool {
	for _, a := range args {
		if a == arg {
			return true
		}
	}
	return false
}

func TestApplyLogsMetricsSummary(t *testing.T) {
	env := newTestEnv(t)
	path := writeManifest(t, t.TempDir(), "cm.yaml", configMapManifest)

	if _, err := env.run("apply", "-f", path); err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if _, err := env.run("apply", "-f", path); err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	logs := env.stderr.String()
	for _, want := range []string{
		"Applied 1 object(s): 1 created, 0 replaced",
		"Applied 1 object(s): 0 created, 1 replaced",
		"ConfigMap: 1 call(s)",
	} {
		if !strings.Contains(logs, want) {
			t.Errorf("expected log output to contain %q, got:\n%s", want, logs)
		}
	}

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), `upsert_apply_outcomes_total{kind="ConfigMap",outcome="Replaced"}`) {
		t.Errorf("expected the replace to be exported, got:\n%s", rec.Body.String())
	}
}

func TestApplyMetricsAddressRequiresWatch(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.run("apply", "-f", "x.yaml", "--metrics-bind-address", ":0")
	if err == nil || !strings.Contains(err.Error(), "requires --watch") {
		t.Fatalf("expected --watch error, got %v", err)
	}
}
