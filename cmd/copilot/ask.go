package main

import (
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

var errAnalysisFailed = errors.New("analysis failed")

func newAskCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "ask <question...>",
		Short: "Ask a single question and print the dashboard",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			tr, log, err := newTranscript(opts)
			if err != nil {
				return err
			}
			defer log.Sync()
			defer tr.Dispose()

			ok, err := ask(ctx, tr, strings.Join(args, " "), cmd.OutOrStdout(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if !ok {
				return errAnalysisFailed
			}
			return nil
		},
	}
}
