package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSaveSessionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "save-session",
		Short: "Log in interactively and store the session snapshot",
		Long: `Logs in with the configured credentials, solving the CAPTCHA, and writes
the browser's cookies and local storage to session.state_uri or
session.state_file. Later runs restore it with session.strategy=replay.
Run it with browser.headless=false to watch the login.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := servicesFrom(cmd)
			if err != nil {
				return err
			}
			where, err := svc.SaveSession(cmd.Context())
			if err != nil {
				return fmt.Errorf("save session: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "session saved to %s\n", where)
			return nil
		},
	}
}
