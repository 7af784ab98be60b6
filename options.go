package gogi

import (
	"log/slog"

	"github.com/ashita-ai/gogi/internal/config"
)

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds the configuration surface after applying defaults.
// Unexported; callers use the With* functions.
type resolvedOptions struct {
	logger     *slog.Logger
	cfg        *config.Config
	configPath string
	version    string
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithConfig supplies an already-built configuration, bypassing file loading.
// Takes priority over WithConfigPath.
func WithConfig(cfg *config.Config) Option {
	return func(o *resolvedOptions) { o.cfg = cfg }
}

// WithConfigPath sets the YAML configuration file to load.
// Defaults to "gogi.yaml" in the working directory.
func WithConfigPath(path string) Option {
	return func(o *resolvedOptions) { o.configPath = path }
}

// WithVersion sets the version string reported over MCP and in logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}
