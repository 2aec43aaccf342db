// Package main is the entry point for the API server.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/capitalize-ai/bi-copilot/internal/analysis"
	"github.com/capitalize-ai/bi-copilot/internal/backend"
	"github.com/capitalize-ai/bi-copilot/internal/config"
	"github.com/capitalize-ai/bi-copilot/internal/handler"
	"github.com/capitalize-ai/bi-copilot/internal/llm"
	natsclient "github.com/capitalize-ai/bi-copilot/internal/nats"
	"github.com/capitalize-ai/bi-copilot/internal/service"
	"github.com/capitalize-ai/bi-copilot/internal/transcript"
	"github.com/capitalize-ai/bi-copilot/pkg/logger"
	"github.com/capitalize-ai/bi-copilot/pkg/tracing"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		logger.Global().Fatal("failed to create logger", zap.Error(err))
	}
	defer log.Sync()
	logger.SetGlobal(log)

	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}

	log.Info("starting API server")

	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "bi-copilot", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	backendClient, err := backend.NewClient(backend.Config{
		BaseURL: cfg.BackendURL,
		Timeout: cfg.BackendTimeout,
	}, log)
	if err != nil {
		log.Fatal("failed to create backend client", zap.Error(err))
	}

	checks := map[string]handler.Checker{
		"backend": handler.CheckerFunc(backendClient.Health),
	}

	// The audit stream is optional; chats work without it.
	var publisher service.EventPublisher
	var history handler.HistoryReader
	if cfg.NATSEnabled {
		natsClient, err := natsclient.Connect(ctx, natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			log.Fatal("failed to connect to NATS", zap.Error(err))
		}
		defer natsClient.Close()

		events := natsclient.NewEventStream(natsClient)
		if err := events.EnsureStream(ctx); err != nil {
			log.Fatal("failed to ensure stream", zap.Error(err))
		}
		publisher = events
		history = events
		checks["nats"] = natsClient
	}

	llmClient, err := llm.FromKeys(llm.Provider(cfg.DefaultLLM), cfg.AnthropicAPIKey, cfg.OpenAIAPIKey)
	if err != nil {
		log.Warn("failed to create LLM client, using query text for chat titles", zap.Error(err))
		llmClient = nil
	}
	if llmClient != nil {
		log.Info("chat titles enabled", zap.String("provider", llmClient.Name()))
	}

	chatSvc := service.NewChatService(
		backendClient,
		service.NewLLMTitler(llmClient, cfg.TitleModel, log),
		publisher,
		log,
		service.Options{
			IdleTTL:    cfg.ChatIdleTTL,
			Session:    analysis.Options{ProgressInterval: cfg.ProgressInterval},
			Transcript: transcript.Options{AllowConcurrent: cfg.AllowConcurrentQueries},
		},
	)
	defer chatSvc.Close()

	router := handler.NewRouter(handler.RouterConfig{
		Chats:              handler.NewChatHandler(chatSvc, log),
		Queries:            handler.NewQueryHandler(chatSvc, log),
		Stream:             handler.NewStreamHandler(chatSvc, log),
		History:            handler.NewHistoryHandler(history, log),
		Schema:             handler.NewSchemaHandler(backendClient, log),
		Health:             handler.NewHealthHandler(checks),
		JWTSecret:          cfg.JWTSecret,
		RateLimitRequests:  cfg.RateLimitRequests,
		RateLimitWindow:    cfg.RateLimitWindow,
		QueryRateLimit:     cfg.QueryRateLimit,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		Logger:             log,
	})

	// WriteTimeout defaults to zero so event streams stay open.
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}
