package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	httpadapter "github.com/PabloGalante/chatsum/internal/adapters/http"
	"github.com/PabloGalante/chatsum/internal/adapters/llm"
	firestorestore "github.com/PabloGalante/chatsum/internal/adapters/storage/firestore"
	memstore "github.com/PabloGalante/chatsum/internal/adapters/storage/memory"
	mongostore "github.com/PabloGalante/chatsum/internal/adapters/storage/mongo"
	"github.com/PabloGalante/chatsum/internal/adapters/storage/sqlstore"
	"github.com/PabloGalante/chatsum/internal/adapters/tokenizer"
	"github.com/PabloGalante/chatsum/internal/app/session"
	"github.com/PabloGalante/chatsum/internal/app/summaries"
	"github.com/PabloGalante/chatsum/internal/config"
	"github.com/PabloGalante/chatsum/internal/domain"
	"github.com/PabloGalante/chatsum/internal/observability"
)

var version = "dev"

const shutdownTimeout = 15 * time.Second

var (
	v = config.New()

	rootCmd = &cobra.Command{
		Use:   "chatsum-api",
		Short: "Chat session storage with AI summaries, questions and search",
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
)

func init() {
	// Assigned here rather than in the literal: serve reads rootCmd's flags,
	// which would otherwise form an initialization cycle.
	rootCmd.RunE = func(cmd *cobra.Command, _ []string) error {
		return serve(cmd.Context())
	}

	rootCmd.PersistentFlags().String("config", "", "path to a config file (yaml, json, toml)")
	rootCmd.PersistentFlags().String("port", "", "port of the HTTP server")
	rootCmd.PersistentFlags().String("storage", "", "storage backend: memory, firestore, mongo, sqlite, postgres, mysql")
	rootCmd.PersistentFlags().String("llm", "", "llm provider: mock, gemini, vertex, openai, anthropic, langchain")
	rootCmd.PersistentFlags().String("log-level", "", "debug, info, warn or error")

	for key, flag := range map[string]string{
		"port":            "port",
		"storage.backend": "storage",
		"llm.provider":    "llm",
		"log.level":       "log-level",
	} {
		if err := v.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			panic(err)
		}
	}

	rootCmd.AddCommand(serveCmd, versionCmd)
}

func main() {
	// A missing .env is the normal case outside local development.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		observability.Logger().Error("chatsum-api exited", "error", err)
		os.Exit(1)
	}
}

func serve(ctx context.Context) error {
	configPath, _ := rootCmd.PersistentFlags().GetString("config")
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	observability.Configure(os.Stdout, cfg.LogLevel)
	log := observability.Logger().With("mode", cfg.Mode, "version", version)

	store, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("opening %s store: %w", cfg.Storage.Backend, err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := store.Close(closeCtx); err != nil {
			log.Error("failed to close store", "error", err)
		}
	}()
	log.Info("store ready", "backend", cfg.Storage.Backend)

	llmClient, err := llm.NewClient(ctx, cfg.LLM)
	if err != nil {
		return fmt.Errorf("initializing llm client: %w", err)
	}
	log.Info("llm client ready", "provider", llmClient.Name())

	sessionSvc := session.NewService(
		llmClient,
		store,
		store,
		session.WithTokenCounter(newTokenCounter(log)),
		session.WithAITimeout(cfg.LLM.Timeout),
		session.WithSearchDefaults(cfg.Search.CaseSensitive, cfg.Search.Limit),
		session.WithHistoryLimit(cfg.HistoryLimit),
	)
	summarySvc := summaries.NewService(store)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           httpadapter.NewServer(sessionSvc, summarySvc),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// AI calls may take up to llm.timeout.
		WriteTimeout: cfg.LLM.Timeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("chatsum API listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func loadConfig(path string) (*config.Config, error) {
	if err := config.ReadFile(v, path); err != nil {
		return nil, err
	}
	return config.Load(v)
}

func openStore(ctx context.Context, cfg config.StorageConfig) (domain.Store, error) {
	switch cfg.Backend {
	case "firestore":
		return firestorestore.NewStore(ctx, cfg.GCPProjectID)
	case "mongo":
		return mongostore.NewStore(ctx, cfg.MongoURL, cfg.Database)
	case "sqlite", "postgres", "mysql":
		return sqlstore.Open(ctx, cfg.Backend, cfg.SQLDSN)
	default:
		return memstore.NewStore(), nil
	}
}

// newTokenCounter prefers the BPE tokenizer; its encoding tables are
// downloaded on first use, so offline hosts fall back to an estimate.
func newTokenCounter(log *slog.Logger) domain.TokenCounter {
	tk, err := tokenizer.NewTiktoken()
	if err != nil {
		log.Warn("tiktoken unavailable, using approximate token counts", "error", err)
		return tokenizer.Approx{}
	}
	return tk
}
