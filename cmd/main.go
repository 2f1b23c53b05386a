// Ghostwriter relay server
//
// This application streams inline "ghost text" completions from a hosted
// OpenAI-compatible API or a local Ollama model to a text editor. It handles
// login, token verification and the streaming relay itself.
//
// CLI Usage:
//
//	serve
//	  Starts the HTTP server (default when no command is given).
//	  Example: ./ghostwriter-relay serve --port 3000
//
//	token <username>
//	  Issues a JWT for username with JWT_SECRET, for manual testing.
//	  Example: ./ghostwriter-relay token alice
//
//	version
//	  Prints the build version.
//
// Environment Variables:
//   - PORT: listen port (default 3000)
//   - JWT_SECRET, ADMIN_PASSWORD, TOKEN_TTL, DISABLE_AUTH: authentication
//   - OPENAI_API_KEY, OPENAI_BASE_URL, OPENAI_MODEL: hosted provider
//   - OLLAMA_HOST, OLLAMA_MODEL: local provider
//   - CORS_ORIGIN: allowed browser origin
//   - CONTEXT_WINDOW_SIZE, MAX_STREAM_DURATION: relay limits
//   - SYSTEM_PROMPT_PATH, EXAMPLES_PATH: prompt overrides
//   - LOG_LEVEL, OTEL_EXPORTER_OTLP_ENDPOINT: observability
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"ghostwriter-relay/internal/app"
	"ghostwriter-relay/internal/auth"
	"ghostwriter-relay/internal/config"
	"ghostwriter-relay/internal/llm"
	"ghostwriter-relay/internal/metrics"
	"ghostwriter-relay/internal/prompt"
	"ghostwriter-relay/internal/telemetry"
	"ghostwriter-relay/pkg/utils"
)

// Set by ldflags.
var version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	serve := serveCmd()
	root := &cobra.Command{
		Use:           "ghostwriter-relay",
		Short:         "Streaming autocomplete relay for hosted and local LLMs",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve.RunE,
	}
	root.Flags().AddFlagSet(serve.Flags())
	root.AddCommand(serve, tokenCmd(), versionCmd())
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "ghostwriter-relay %s\n", version)
		},
	}
}

func tokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token <username>",
		Short: "Issue a bearer token for username using JWT_SECRET",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loadEnvFile(slog.Default())
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if !auth.ValidUsername(args[0]) {
				return fmt.Errorf("invalid username %q", args[0])
			}
			token, err := auth.IssueToken(args[0], cfg.Auth.Secret, cfg.Auth.TokenTTL)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			bootstrap := slog.New(slog.NewTextHandler(os.Stderr, nil))
			loadEnvFile(bootstrap)

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if port, _ := cmd.Flags().GetInt("port"); port != 0 {
				cfg.Port = port
			}
			if disable, _ := cmd.Flags().GetBool("disable-auth"); disable {
				cfg.Auth.Disabled = true
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
				Level: cfg.LogLevel,
			}))
			slog.SetDefault(logger)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, logger)
		},
	}
	cmd.Flags().Int("port", 0, "listen port (overrides PORT)")
	cmd.Flags().Bool("disable-auth", false, "accept all requests without a token")
	return cmd
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("starting", "version", version, "config", cfg)
	if cfg.Auth.Disabled {
		logger.Warn("authentication is disabled - all requests will be accepted")
	}
	if err := cfg.OpenAI.Validate(); err != nil {
		logger.Warn("hosted provider not usable until OPENAI_API_KEY is set", "error", err)
	}

	prompts, err := prompt.Load(cfg.SystemPromptPath, cfg.ExamplesPath)
	if err != nil {
		return err
	}
	logger.Info("prompt set loaded", "examples", len(prompts.Examples))

	tp, err := telemetry.Setup(ctx, telemetry.Config{Endpoint: cfg.OTLPEndpoint, Version: version}, logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn("trace flush failed", "error", err)
		}
	}()

	a := app.NewApp(app.Options{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics.New(),
		Tracer:  tp.Tracer("ghostwriter-relay"),
		Prompts: prompts,
		Hosted:  llm.NewOpenAI(cfg.OpenAI),
		Local:   llm.NewOllama(cfg.Ollama),
	})

	// No WriteTimeout: completions are long-lived streams.
	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           a,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("could not start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("error during server shutdown", "error", err)
		return err
	}
	logger.Info("server gracefully stopped")
	return nil
}

// loadEnvFile loads environment variables from a .env file if present.
// It attempts to load from the current directory and parent directories
// up to the root directory. Variables already set win.
func loadEnvFile(logger *slog.Logger) {
	workDir, err := os.Getwd()
	if err != nil {
		logger.Warn("could not determine current directory", "error", err)
		return
	}

	for dir := workDir; ; dir = filepath.Dir(dir) {
		envPath := filepath.Join(dir, ".env")
		if _, err := os.Stat(envPath); err == nil {
			if err := godotenv.Load(envPath); err != nil {
				logger.Warn("could not load .env", "path", envPath, "error", err)
				return
			}
			logger.Info("loaded environment variables", "path", envPath)
			if secret := os.Getenv("JWT_SECRET"); secret != "" {
				logger.Debug("JWT secret configured", "secret", utils.MaskToken(secret))
			}
			return
		}
		if dir == filepath.Dir(dir) {
			break
		}
	}

	logger.Debug("no .env file found, using existing environment variables")
}
