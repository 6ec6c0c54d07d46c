package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, dir, content string) {
	t.Helper()
	err := os.WriteFile(filepath.Join(dir, configFileName), []byte(content), 0644)
	require.NoError(t, err)
}

func TestLoadConfig_DefaultOnly(t *testing.T) {
	tempDir := t.TempDir()

	loaded, err := LoadConfig(tempDir)
	require.NoError(t, err)
	assert.Equal(t, GetDefaultConfig(), loaded)
}

func TestLoadConfig_Override(t *testing.T) {
	tempDir := t.TempDir()
	writeConfigFile(t, tempDir, `
mode: filesystem
namespace: team-a
filesystemPath: /var/lib/upsert
maxAttempts: 5
deleteExisting: true
backoff:
  duration: 250ms
  factor: 2
  steps: 4
deleteTimeout: 1m
logLevel: debug
`)

	loaded, err := LoadConfig(tempDir)
	require.NoError(t, err)

	assert.Equal(t, ModeFilesystem, loaded.Mode)
	assert.Equal(t, "team-a", loaded.Namespace)
	assert.Equal(t, "/var/lib/upsert", loaded.FilesystemPath)
	assert.Equal(t, 5, loaded.MaxAttempts)
	assert.True(t, loaded.DeleteExisting)
	assert.Equal(t, 250*time.Millisecond, loaded.Backoff.Duration)
	assert.Equal(t, 2.0, loaded.Backoff.Factor)
	assert.Equal(t, 4, loaded.Backoff.Steps)
	assert.Equal(t, time.Minute, loaded.DeleteTimeout)
	assert.Equal(t, "debug", loaded.LogLevel)

	// Unset fields keep their defaults.
	assert.Equal(t, DefaultConcurrency, loaded.Concurrency)
	assert.Equal(t, DefaultFieldManager, loaded.FieldManager)
}

func TestLoadConfig_Malformed(t *testing.T) {
	tempDir := t.TempDir()
	writeConfigFile(t, tempDir, "mode: [unterminated\n")

	_, err := LoadConfig(tempDir)
	require.Error(t, err)

	var cfgErr ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, ErrorTypeParse, cfgErr.ErrorType)
	assert.Equal(t, filepath.Join(tempDir, configFileName), cfgErr.FilePath)
	assert.Contains(t, cfgErr.DetailedError(), "Suggestions:")
}

func TestLoadConfig_Invalid(t *testing.T) {
	tempDir := t.TempDir()
	writeConfigFile(t, tempDir, "mode: cloud\nconcurrency: -1\n")

	_, err := LoadConfig(tempDir)
	require.Error(t, err)

	var cfgErr ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, ErrorTypeValidation, cfgErr.ErrorType)
	assert.Contains(t, cfgErr.Details, "mode")
	assert.Contains(t, cfgErr.Details, "concurrency")
}

func TestGetDefaultConfigPath(t *testing.T) {
	original := osUserHomeDir
	defer func() { osUserHomeDir = original }()

	osUserHomeDir = func() (string, error) { return "/home/tester", nil }
	path, err := GetDefaultConfigPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/home/tester", ".config", "upsert"), path)

	osUserHomeDir = func() (string, error) { return "", errors.New("no home") }
	_, err = GetDefaultConfigPath()
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "unknown mode", mutate: func(c *Config) { c.Mode = "cloud" }, wantErr: "mode"},
		{name: "zero attempts", mutate: func(c *Config) { c.MaxAttempts = 0 }, wantErr: "maxAttempts"},
		{name: "zero concurrency", mutate: func(c *Config) { c.Concurrency = 0 }, wantErr: "concurrency"},
		{name: "negative backoff", mutate: func(c *Config) { c.Backoff.Duration = -time.Second }, wantErr: "backoff.duration"},
		{name: "no delete timeout", mutate: func(c *Config) { c.DeleteTimeout = 0 }, wantErr: "deleteTimeout"},
		{name: "bad log level", mutate: func(c *Config) { c.LogLevel = "loud" }, wantErr: "logLevel"},
		{
			name: "filesystem without path",
			mutate: func(c *Config) {
				c.Mode = ModeFilesystem
				c.FilesystemPath = " "
			},
			wantErr: "filesystemPath",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaultConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			var verrs ValidationErrors
			require.True(t, errors.As(err, &verrs))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestBackoffConfig_WaitBackoff(t *testing.T) {
	b := BackoffConfig{Duration: time.Second, Factor: 1.5, Jitter: 0.1, Steps: 3, Cap: time.Minute}
	wb := b.WaitBackoff()

	assert.Equal(t, time.Second, wb.Duration)
	assert.Equal(t, 1.5, wb.Factor)
	assert.Equal(t, 0.1, wb.Jitter)
	assert.Equal(t, 3, wb.Steps)
	assert.Equal(t, time.Minute, wb.Cap)
}
