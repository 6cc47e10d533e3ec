package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ent0n29/lia/internal/terminal"
)

func newAskCmd(a *app) *cobra.Command {
	var plain bool
	cmd := &cobra.Command{
		Use:   "ask [request]",
		Short: "Answer a single request and exit",
		Example: `  lia ask "show running processes"
  lia ask how much disk space is left`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			assistant, cleanup, err := a.singleAssistant(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			resp := assistant.Process(cmd.Context(), strings.Join(args, " "))
			repl := terminal.New(assistant, nil, cmd.OutOrStdout(), terminal.Options{Plain: plain}, a.logger)
			fmt.Fprintln(cmd.OutOrStdout(), repl.Render(resp.Text))
			return nil
		},
	}
	cmd.Flags().BoolVar(&plain, "plain", false, "print raw markdown")
	return cmd
}
