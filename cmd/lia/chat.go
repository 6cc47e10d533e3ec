package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ent0n29/lia/internal/terminal"
)

type chatFlags struct {
	plain bool
	width int
}

func newChatCmd(a *app) *cobra.Command {
	var flags chatFlags
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat in the terminal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runChat(cmd.Context(), flags)
		},
	}
	cmd.Flags().BoolVar(&flags.plain, "plain", false, "disable colors and markdown rendering")
	cmd.Flags().IntVar(&flags.width, "width", 100, "word wrap width for rendered replies")
	return cmd
}

func (a *app) runChat(ctx context.Context, flags chatFlags) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	assistant, cleanup, err := a.singleAssistant(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	repl := terminal.New(assistant, os.Stdin, os.Stdout, terminal.Options{Plain: flags.plain, Width: flags.width}, a.logger)
	if err := repl.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
