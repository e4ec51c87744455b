package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the broker's credential entry",
		Long: `Remove this provider's entry from the broker's credential store.

The Kimi CLI's own credential file is left untouched; use the Kimi CLI to
log out of it.`,
		RunE: runLogout,
	}
}

func runLogout(cmd *cobra.Command, args []string) error {
	session, err := newSession()
	if err != nil {
		return err
	}

	if err := session.Logout(); err != nil {
		return fmt.Errorf("failed to remove credential: %w", err)
	}

	fmt.Printf("Removed credential for provider %q.\n", session.Provider())
	return nil
}
