package config

import (
	"os"
	"path/filepath"
	"time"
)

const (
	// DefaultClientID is the OAuth client identifier shared with the Kimi CLI.
	// Both tools authenticate as the same public client so they can share one
	// refresh token.
	DefaultClientID = "kimi-coder"

	// DefaultDeviceAuthorizationURL is the RFC 8628 device authorization endpoint.
	DefaultDeviceAuthorizationURL = "https://auth.moonshot.cn/oauth2/device/code"

	// DefaultTokenURL is the OAuth token endpoint.
	DefaultTokenURL = "https://auth.moonshot.cn/oauth2/token"

	// DefaultProvider is the provider name used for the broker store entry.
	DefaultProvider = "kimi-coder"
)

// DefaultRefreshInterval is the period of the background refresh scheduler.
const DefaultRefreshInterval = Duration(10 * time.Minute)

// GetDefaultConfig returns the default configuration for kimibroker.
func GetDefaultConfig() BrokerConfig {
	return BrokerConfig{
		OAuth: OAuthConfig{
			ClientID:               DefaultClientID,
			DeviceAuthorizationURL: DefaultDeviceAuthorizationURL,
			TokenURL:               DefaultTokenURL,
			Provider:               DefaultProvider,
		},
		Stores: StoresConfig{
			CLICredentialsPath: defaultCLICredentialsPath(),
			BrokerAuthPath:     defaultBrokerAuthPath(),
		},
		RefreshInterval: DefaultRefreshInterval,
		LogLevel:        "info",
	}
}

// defaultCLICredentialsPath returns the well-known location of the Kimi CLI
// credential file. The path is shared with the independently installed CLI.
func defaultCLICredentialsPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(homeDir, ".kimi", "credentials.json")
}

// defaultBrokerAuthPath returns the broker's own credential file location.
func defaultBrokerAuthPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(homeDir, ".config", "kimibroker", "auth.json")
}
