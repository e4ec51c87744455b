package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so it can be written in config.yaml as a Go
// duration string ("10m", "1h30m") or as plain seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var seconds int64
	if err := value.Decode(&seconds); err == nil {
		*d = Duration(time.Duration(seconds) * time.Second)
		return nil
	}

	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("invalid duration value: %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Duration returns the wrapped time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// BrokerConfig is the top-level configuration structure for kimibroker.
type BrokerConfig struct {
	OAuth  OAuthConfig  `yaml:"oauth"`
	Stores StoresConfig `yaml:"stores"`

	// RefreshInterval is the period of the background refresh scheduler.
	RefreshInterval Duration `yaml:"refreshInterval,omitempty"`

	// LogLevel is the minimum log level ("debug", "info", "warn", "error").
	LogLevel string `yaml:"logLevel,omitempty"`
}

// OAuthConfig defines the OAuth device-flow endpoints and client identity.
type OAuthConfig struct {
	// ClientID is the OAuth client identifier shared with the Kimi CLI.
	ClientID string `yaml:"clientId,omitempty"`

	// DeviceAuthorizationURL is the RFC 8628 device authorization endpoint.
	DeviceAuthorizationURL string `yaml:"deviceAuthorizationUrl,omitempty"`

	// TokenURL is the OAuth token endpoint (device-code and refresh grants).
	TokenURL string `yaml:"tokenUrl,omitempty"`

	// Provider is the provider name the broker writes its own store entry under.
	Provider string `yaml:"provider,omitempty"`
}

// StoresConfig defines where the two credential files live.
type StoresConfig struct {
	// CLICredentialsPath is the companion Kimi CLI credential file.
	// The broker reads and updates this file but never deletes it.
	CLICredentialsPath string `yaml:"cliCredentialsPath,omitempty"`

	// BrokerAuthPath is the broker's own per-provider credential file.
	BrokerAuthPath string `yaml:"brokerAuthPath,omitempty"`
}
