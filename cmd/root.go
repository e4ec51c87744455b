package cmd

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"kimibroker/internal/deviceflow"
)

// Exit codes for CLI commands. These follow common conventions so the broker
// can be scripted against.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
	// ExitCodeAuthRequired indicates a credential is required but not available.
	ExitCodeAuthRequired = 2
	// ExitCodeAuthFailed indicates the OAuth device flow failed.
	ExitCodeAuthFailed = 3
)

// configPath holds the --config flag value; empty means the default location.
var configPath string

// rootCmd represents the base command for the kimibroker application.
var rootCmd = &cobra.Command{
	Use:   "kimibroker",
	Short: "Broker Kimi OAuth credentials between tools",
	Long: `kimibroker obtains Kimi OAuth credentials via the device authorization
flow, keeps them refreshed in the background, and keeps the Kimi CLI's
credential file and the broker's own store consistent with each other.`,
	// SilenceUsage prevents Cobra from printing the usage message on errors
	// that are handled by the application.
	SilenceUsage: true,
}

// SetVersion sets the version for the root command. Called from the main
// package to inject the build version.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute is the main entry point for the CLI application. It is called by
// main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "kimibroker version %s\n" .Version}}`)

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(getExitCode(err))
	}
}

// getExitCode determines the appropriate exit code based on the error type.
func getExitCode(err error) int {
	var refreshErr *deviceflow.TokenRefreshError
	if errors.As(err, &refreshErr) {
		return ExitCodeAuthRequired
	}

	var expiredErr *deviceflow.DeviceCodeExpiredError
	if errors.As(err, &expiredErr) {
		return ExitCodeAuthFailed
	}

	var timeoutErr *deviceflow.LoginTimeoutError
	if errors.As(err, &timeoutErr) {
		return ExitCodeAuthFailed
	}

	var authErr *deviceflow.AuthorizationRequestError
	if errors.As(err, &authErr) {
		return ExitCodeAuthFailed
	}

	return ExitCodeError
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"config file (default is $HOME/.config/kimibroker/config.yaml)")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newLoginCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newRefreshCmd())
	rootCmd.AddCommand(newLogoutCmd())
}
