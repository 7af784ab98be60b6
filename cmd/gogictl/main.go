// Command gogictl inspects and maintains a gogi decision graph from the
// command line, without going through the MCP transport.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ashita-ai/gogi/internal/config"
	"github.com/ashita-ai/gogi/internal/storage"
)

var configPath string

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	root := &cobra.Command{
		Use:           "gogictl",
		Short:         "Inspect and maintain a gogi decision graph",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", os.Getenv("GOGI_CONFIG"),
		"path to the YAML configuration file (default gogi.yaml)")

	root.AddCommand(
		newListCmd(),
		newShowCmd(),
		newSimilarCmd(),
		newContradictionsCmd(),
		newRecomputeCmd(),
		newStatsCmd(),
	)

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// loadConfig resolves the configuration the same way the server does: an
// explicit --config must exist, the implicit default falls back to
// built-in defaults when gogi.yaml is absent.
func loadConfig() (*config.Config, error) {
	path := configPath
	implicit := path == ""
	if implicit {
		path = "gogi.yaml"
	}
	cfg, err := config.Load(path)
	if err != nil {
		if implicit && errors.Is(err, os.ErrNotExist) {
			return config.Default(), nil
		}
		return nil, err
	}
	return cfg, nil
}

// openStore opens the decision graph database read-write. The CLI shares
// the database file with a running server; SQLite serializes writers.
func openStore(ctx context.Context) (*storage.Store, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if !cfg.DecisionGraph.Enabled {
		return nil, nil, errors.New("the decision graph is disabled in configuration")
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	store, err := storage.Open(ctx, cfg.DecisionGraph.DBPath, logger)
	if err != nil {
		return nil, nil, err
	}
	return store, cfg, nil
}
