// Command gogi serves the deliberation engine and decision graph over
// MCP stdio. Logs go to stderr; stdout carries the protocol.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/ashita-ai/gogi"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(os.Getenv("GOGI_LOG_LEVEL")),
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

// logLevel maps GOGI_LOG_LEVEL to a slog level. Unknown values fall back
// to info.
func logLevel(raw string) slog.Level {
	switch strings.ToLower(raw) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	configPath := flag.String("config", os.Getenv("GOGI_CONFIG"), "path to the YAML configuration file (default gogi.yaml)")
	flag.Parse()

	opts := []gogi.Option{
		gogi.WithLogger(logger),
		gogi.WithVersion(version),
	}
	// An empty path lets New fall back to built-in defaults when no
	// gogi.yaml exists in the working directory.
	if *configPath != "" {
		opts = append(opts, gogi.WithConfigPath(*configPath))
	}

	app, err := gogi.New(ctx, opts...)
	if err != nil {
		return err
	}
	return app.Run(ctx)
}
