// Package testutil provides shared test infrastructure: a throwaway SQLite
// decision store and a quiet logger.
package testutil

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/gogi/internal/storage"
)

// NewStore opens a decision store in a per-test temporary directory. The
// store is closed and the directory removed when the test finishes.
func NewStore(t *testing.T) *storage.Store {
	t.Helper()

	path := filepath.Join(t.TempDir(), "decision_graph.db")
	store, err := storage.Open(context.Background(), path, TestLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// TestLogger returns a logger configured for test output (warns only).
func TestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}
