// Command latency compares the hosted and local autocomplete endpoints of a
// running relay. It logs in, sends every benchmark prompt to both endpoints
// and writes JSON, CSV and summary reports.
//
// Usage:
//
//	latency --url http://localhost:3000 --username bench --out ./results
//
// API_URL, USERNAME and PASSWORD are read from the environment or a .env
// file when the flags are not given.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	"ghostwriter-relay/internal/latency"
	"ghostwriter-relay/pkg/utils"
)

func main() {
	_ = godotenv.Load()

	url := flag.StringP("url", "u", utils.GetEnvWithDefault("API_URL", "http://localhost:3000"), "relay base URL")
	username := flag.String("username", utils.GetEnvWithDefault("USERNAME", ""), "login username")
	password := flag.String("password", utils.GetEnvWithDefault("PASSWORD", ""), "login password")
	out := flag.StringP("out", "o", "./results", "directory for report files")
	temperature := flag.Float64("temperature", 0.7, "sampling temperature sent with every prompt")
	delay := flag.Duration("delay", time.Second, "wait between the hosted and local request")
	pause := flag.Duration("pause", 2*time.Second, "wait between prompts")
	limit := flag.IntP("limit", "n", 0, "only run the first n prompts (0 = all)")
	verbose := flag.BoolP("verbose", "v", false, "debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	prompts := latency.DefaultPrompts()
	if *limit > 0 && *limit < len(prompts) {
		prompts = prompts[:*limit]
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *out, latency.Config{
		BaseURL:     *url,
		Username:    *username,
		Password:    *password,
		Temperature: *temperature,
		Delay:       *delay,
		Pause:       *pause,
		Prompts:     prompts,
		Logger:      logger,
	}); err != nil {
		fmt.Fprintln(os.Stderr, "latency test failed:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, outDir string, cfg latency.Config) error {
	r := latency.NewRunner(cfg)

	logger.Info("authenticating", "url", cfg.BaseURL, "username", cfg.Username)
	token, err := r.Login(ctx)
	if err != nil {
		return err
	}
	logger.Debug("authenticated", "token", utils.MaskToken(token))

	logger.Info("starting latency tests", "prompts", len(cfg.Prompts))
	results, runErr := r.Run(ctx, token)
	if len(results) == 0 {
		return runErr
	}

	files, err := latency.Export(outDir, results, time.Now())
	if err != nil {
		return err
	}
	logger.Info("results exported", "json", files.JSON, "csv", files.CSV, "summary", files.Summary)
	return runErr
}
