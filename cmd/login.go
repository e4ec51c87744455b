package cmd

import (
	"fmt"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"

	"kimibroker/internal/deviceflow"
)

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Authenticate via the device authorization flow",
		Long: `Authenticate to Kimi using the OAuth device authorization flow.

A user code and verification URL are printed; open the URL in any browser,
enter the code, and the command completes once authorization is granted.

If the Kimi CLI already holds a valid credential, it is reused and no new
login is performed.`,
		RunE: runLogin,
	}
}

func runLogin(cmd *cobra.Command, args []string) error {
	session, err := newSession()
	if err != nil {
		return err
	}

	wait := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	wait.Suffix = " Waiting for authorization..."
	defer wait.Stop()

	token, err := session.Login(cmd.Context(), func(auth *deviceflow.DeviceAuthorization) {
		fmt.Println("To authorize this device, open the following URL in your browser:")
		fmt.Println()
		if auth.VerificationURIComplete != "" {
			fmt.Printf("    %s\n", auth.VerificationURIComplete)
			fmt.Println()
			fmt.Printf("Or go to %s and enter the code: %s\n", auth.VerificationURI, auth.UserCode)
		} else {
			fmt.Printf("    %s\n", auth.VerificationURI)
			fmt.Println()
			fmt.Printf("Enter the code: %s\n", auth.UserCode)
		}
		fmt.Println()
		wait.Start()
	})
	if err != nil {
		return err
	}
	wait.Stop()

	fmt.Printf("Logged in. Credential valid for %s.\n", formatDuration(token.TimeRemaining()))
	return nil
}
