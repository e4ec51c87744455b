package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"kimibroker/pkg/logging"

	"gopkg.in/yaml.v3"
)

const (
	userConfigDir  = ".config/kimibroker"
	configFileName = "config.yaml"
)

// GetDefaultConfigPath returns the default configuration directory,
// ~/.config/kimibroker.
func GetDefaultConfigPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine user config directory: %w", err)
	}
	return filepath.Join(homeDir, userConfigDir), nil
}

// LoadConfig loads configuration from the specified directory. Missing
// config.yaml is not an error: defaults apply. A malformed config.yaml is an
// error, so a typo cannot silently revert the broker to defaults.
func LoadConfig(configPath string) (BrokerConfig, error) {
	configFilePath := filepath.Join(configPath, configFileName)
	cfg := GetDefaultConfig()

	data, err := os.ReadFile(configFilePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logging.Debug("ConfigLoader", "No config.yaml found at %s, using defaults", configFilePath)
			return cfg, nil
		}
		return BrokerConfig{}, fmt.Errorf("error reading config from %s: %w", configFilePath, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return BrokerConfig{}, fmt.Errorf("error loading config from %s: %w", configFilePath, err)
	}

	applyDefaults(&cfg)

	logging.Info("ConfigLoader", "Loaded configuration from %s", configFilePath)
	return cfg, nil
}

// applyDefaults fills in zero-valued fields after unmarshalling a partial
// config.yaml.
func applyDefaults(cfg *BrokerConfig) {
	def := GetDefaultConfig()

	if cfg.OAuth.ClientID == "" {
		cfg.OAuth.ClientID = def.OAuth.ClientID
	}
	if cfg.OAuth.DeviceAuthorizationURL == "" {
		cfg.OAuth.DeviceAuthorizationURL = def.OAuth.DeviceAuthorizationURL
	}
	if cfg.OAuth.TokenURL == "" {
		cfg.OAuth.TokenURL = def.OAuth.TokenURL
	}
	if cfg.OAuth.Provider == "" {
		cfg.OAuth.Provider = def.OAuth.Provider
	}
	if cfg.Stores.CLICredentialsPath == "" {
		cfg.Stores.CLICredentialsPath = def.Stores.CLICredentialsPath
	}
	if cfg.Stores.BrokerAuthPath == "" {
		cfg.Stores.BrokerAuthPath = def.Stores.BrokerAuthPath
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = def.RefreshInterval
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = def.LogLevel
	}
}
