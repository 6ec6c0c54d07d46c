package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/giantswarm/upsert/pkg/logging"
)

const (
	userConfigDir  = ".config/upsert"
	configFileName = "config.yaml"
)

// osUserHomeDir is swapped in tests.
var osUserHomeDir = os.UserHomeDir

// GetDefaultConfigPath returns ~/.config/upsert.
func GetDefaultConfigPath() (string, error) {
	homeDir, err := osUserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine user config directory: %w", err)
	}
	return filepath.Join(homeDir, userConfigDir), nil
}

// LoadConfig loads config.yaml from configPath on top of the defaults.
// A missing file yields the defaults. The result is validated.
func LoadConfig(configPath string) (Config, error) {
	configFilePath := filepath.Join(configPath, configFileName)
	config := GetDefaultConfig()

	data, err := os.ReadFile(configFilePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logging.Debug("ConfigLoader", "No config.yaml found at %s, using defaults", configFilePath)
			return config, nil
		}
		return Config{}, ConfigurationError{
			FilePath:  configFilePath,
			ErrorType: ErrorTypeIO,
			Message:   "failed to read configuration file",
			Details:   err.Error(),
		}
	}

	if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, ConfigurationError{
			FilePath:  configFilePath,
			ErrorType: ErrorTypeParse,
			Message:   "malformed configuration file",
			Details:   err.Error(),
			Suggestions: []string{
				"Check the YAML syntax",
				"Durations use Go syntax such as 500ms or 30s",
			},
		}
	}

	if err := config.Validate(); err != nil {
		return Config{}, ConfigurationError{
			FilePath:  configFilePath,
			ErrorType: ErrorTypeValidation,
			Message:   "invalid configuration",
			Details:   err.Error(),
		}
	}

	logging.Info("ConfigLoader", "Loaded configuration from %s", configFilePath)
	return config, nil
}
