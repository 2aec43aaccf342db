package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/capitalize-ai/bi-copilot/internal/analysis"
	"github.com/capitalize-ai/bi-copilot/internal/backend"
	"github.com/capitalize-ai/bi-copilot/internal/model"
	"github.com/capitalize-ai/bi-copilot/internal/render"
	"github.com/capitalize-ai/bi-copilot/internal/transcript"
	"github.com/capitalize-ai/bi-copilot/pkg/logger"
)

type ExitCode int

const (
	exitCodeSuccess = 0
	exitCodeError   = 1
)

type options struct {
	backendURL       string
	timeout          time.Duration
	logLevel         string
	progressInterval time.Duration
}

func Run() ExitCode {
	_ = godotenv.Load()

	opts := &options{}
	rootCmd := &cobra.Command{
		Use:           "copilot",
		Short:         "Ask business questions in plain English and get dashboards back.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	defaultBackend := os.Getenv("BACKEND_URL")
	if defaultBackend == "" {
		defaultBackend = "http://localhost:8000"
	}

	rootCmd.PersistentFlags().StringVar(&opts.backendURL, "backend", defaultBackend, "analysis backend base URL")
	rootCmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 120*time.Second, "timeout for one analysis")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().DurationVar(&opts.progressInterval, "progress-interval", time.Second, "how often the progress label advances, 0 to disable")

	rootCmd.AddCommand(
		newAskCmd(opts),
		newChatCmd(opts),
	)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return exitCodeError
	}
	return exitCodeSuccess
}

// newTranscript wires a transcript to the analysis backend.
func newTranscript(opts *options) (*transcript.Transcript, *logger.Logger, error) {
	log, err := logger.NewConsole(opts.logLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}

	client, err := backend.NewClient(backend.Config{
		BaseURL: opts.backendURL,
		Timeout: opts.timeout,
	}, log)
	if err != nil {
		return nil, nil, err
	}

	session := analysis.NewSession(client, log, analysis.Options{ProgressInterval: opts.progressInterval})
	return transcript.New(session, log, transcript.Options{}), log, nil
}

// ask submits one query, shows progress on progress, and renders the
// resolved assistant turn on out. It reports whether the analysis succeeded.
func ask(ctx context.Context, tr *transcript.Transcript, query string, out, progress io.Writer) (bool, error) {
	_, assistant, err := tr.Submit(ctx, query)
	if err != nil {
		return false, err
	}

	cancel := tr.Subscribe(func(e model.TranscriptEvent) {
		if e.Type == model.EventProgress && e.TurnID == assistant.ID {
			fmt.Fprintf(progress, "… %s\n", e.Progress)
		}
	})
	defer cancel()

	if st := tr.Session().State(); st.IsLoading {
		fmt.Fprintf(progress, "… %s\n", st.Progress)
	}

	turn, err := tr.Await(ctx, assistant.ID)
	if err != nil {
		return false, err
	}

	render.Turn(out, turn, "")
	return turn.Succeeded(), nil
}
