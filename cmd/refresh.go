package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Refresh the credential now",
		Long: `Force a credential refresh without waiting for the background scheduler.

If another process already refreshed the credential, its token is adopted
instead of performing a network refresh.`,
		RunE: runRefresh,
	}
}

func runRefresh(cmd *cobra.Command, args []string) error {
	session, err := newSession()
	if err != nil {
		return err
	}

	token, err := session.Refresh(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Printf("Credential refreshed. Valid for %s.\n", formatDuration(token.TimeRemaining()))
	return nil
}
