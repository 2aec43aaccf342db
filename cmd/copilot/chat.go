package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/capitalize-ai/bi-copilot/internal/transcript"
)

const chatHelp = `Ask a question about your data. Commands:
  /new   start a new chat
  /quit  exit`

func newChatCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tr, log, err := newTranscript(opts)
			if err != nil {
				return err
			}
			defer log.Sync()
			defer tr.Dispose()

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, chatHelp)

			scanner := bufio.NewScanner(cmd.InOrStdin())
			for {
				fmt.Fprint(out, "\nbi> ")
				if !scanner.Scan() {
					fmt.Fprintln(out)
					return scanner.Err()
				}

				line := strings.TrimSpace(scanner.Text())
				switch line {
				case "":
					continue
				case "/quit", "/exit":
					return nil
				case "/new":
					tr.NewChat()
					fmt.Fprintln(out, "Started a new chat.")
					continue
				}

				// Ctrl-C abandons the current question only; its late
				// result is dropped by the reset.
				ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
				_, err := ask(ctx, tr, line, out, cmd.ErrOrStderr())
				interrupted := ctx.Err() != nil
				stop()

				switch {
				case interrupted:
					tr.NewChat()
					fmt.Fprintln(out, "\nCancelled. Started a new chat.")
				case errors.Is(err, context.Canceled), errors.Is(err, transcript.ErrTurnDiscarded):
				case err != nil:
					fmt.Fprintln(cmd.ErrOrStderr(), "Error:", err)
				}
			}
		},
	}
}
