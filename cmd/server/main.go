package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"kami.app/kami-server/internal/api"
	"kami.app/kami-server/internal/auth"
	"kami.app/kami-server/internal/config"
	"kami.app/kami-server/internal/core"
	"kami.app/kami-server/internal/logging"
	"kami.app/kami-server/internal/store"
)

var (
	debug  bool
	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "kami-server",
	Short: "kAmI backend: gods, chat and community timelines over HTTP",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}
		if debug {
			cfg.LogLevel = "DEBUG"
		}
		logger, err = logging.New(cfg.LogLevel)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API (default)",
	RunE:  runServe,
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create the demo accounts and exit",
	RunE:  runSeed,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.AddCommand(serveCmd, seedCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openStore(ctx context.Context) (*store.Store, error) {
	backend, err := store.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.StoreBackend, err)
	}
	logger.Info("Store opened", zap.String("backend", cfg.StoreBackend))
	return store.New(backend), nil
}

func runSeed(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()
	return auth.SeedDemoUsers(ctx, s, logger)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	s, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	if cfg.SeedDemoUsers {
		if err := auth.SeedDemoUsers(ctx, s, logger); err != nil {
			return err
		}
	}

	// Without an API key every chat turn is answered with a fallback reply.
	var generator core.Generator
	if cfg.GeminiAPIKey != "" {
		gemini, err := core.NewGeminiGenerator(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, logger)
		if err != nil {
			return err
		}
		defer gemini.Close()
		generator = gemini
	} else {
		logger.Warn("GEMINI_API_KEY is not set, chat replies will use fallback text")
	}

	sessions := auth.NewSessionManager(s, logger, cfg.TokenTTL)
	registry := core.NewGodRegistry(s, logger)
	ledger := core.NewLedger(s, core.NewFeed(core.DefaultFeedBuffer))
	chatService := core.NewChatService(registry, ledger, generator, logger, core.ChatOptions{
		Language:      cfg.ResponseLanguage,
		MaxReplyChars: cfg.MaxReplyChars,
		Timeout:       cfg.GenerationTimeout,
		Retries:       cfg.GenerationRetries,
	})

	apiHandler := api.NewAPIHandler(sessions, registry, ledger, chatService, logger)
	router := api.NewRouter(apiHandler, logger)

	serverAddr := fmt.Sprintf(":%s", cfg.HTTPPort)
	srv := &http.Server{
		Addr:        serverAddr,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// Generation may retry, so leave room for every attempt.
		WriteTimeout: cfg.GenerationTimeout*time.Duration(cfg.GenerationRetries+1) + 15*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting server", zap.String("addr", serverAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("could not listen on %s: %w", serverAddr, err)
	case sig := <-quit:
		logger.Info("Shutting down server", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("Server exiting gracefully")
	return nil
}
