package cmd

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"kimibroker/pkg/oauth"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show credential status",
		Long: `Show the credentials known to the broker: the entry for each provider in
the broker's own store, plus the companion Kimi CLI credential file.`,
		RunE: runStatus,
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	session, err := newSession()
	if err != nil {
		return err
	}

	fmt.Println("Kimi CLI credential file")
	if token := session.CLIToken(); token != nil {
		fmt.Printf("  Status:   %s\n", freshnessLabel(token.TimeRemaining()))
		fmt.Printf("  Expires:  %s (%s)\n",
			token.ExpiresAt.Format(time.RFC3339), formatDuration(token.TimeRemaining()))
	} else {
		fmt.Printf("  Status:   %s\n", text.FgYellow.Sprint("No credential"))
	}
	fmt.Println()

	entries := session.Entries()
	if len(entries) == 0 {
		fmt.Println("Broker store is empty. Run: kimibroker login")
		return nil
	}

	providers := make([]string, 0, len(entries))
	for provider := range entries {
		providers = append(providers, provider)
	}
	sort.Strings(providers)

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Provider", "Type", "Status", "Expires"})
	for _, provider := range providers {
		record := entries[provider]
		remaining := time.Until(time.UnixMilli(record.Expires))
		t.AppendRow(table.Row{
			provider,
			record.Type,
			freshnessLabel(remaining),
			formatDuration(remaining),
		})
	}
	t.Render()

	return nil
}

// freshnessLabel colors the remaining lifetime: green while comfortably
// valid, yellow inside the refresh threshold, red once expired.
func freshnessLabel(remaining time.Duration) string {
	switch {
	case remaining <= 0:
		return text.FgRed.Sprint("Expired")
	case remaining < oauth.TokenRefreshThreshold:
		return text.FgYellow.Sprint("Expiring soon")
	default:
		return text.FgGreen.Sprint("Valid")
	}
}
