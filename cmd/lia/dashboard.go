package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ent0n29/lia/internal/terminal"
)

func newDashboardCmd(a *app) *cobra.Command {
	var plain bool
	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Print the security dashboard for this host",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			assistant, cleanup, err := a.singleAssistant(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			text := assistant.Dashboard(cmd.Context())
			repl := terminal.New(assistant, nil, cmd.OutOrStdout(), terminal.Options{Plain: plain}, a.logger)
			fmt.Fprintln(cmd.OutOrStdout(), repl.Render(text))
			return nil
		},
	}
	cmd.Flags().BoolVar(&plain, "plain", false, "print raw markdown")
	return cmd
}
