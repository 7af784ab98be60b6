// Package ctxutil provides shared context key accessors.
//
// The deliberation id is minted by whoever starts a deliberation (the MCP
// tool handler or gogictl) and read by the engine and graph layers for log
// correlation. Both sides import ctxutil instead of each other.
package ctxutil

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const keyDeliberationID contextKey = "deliberation_id"

// WithDeliberationID returns a new context carrying the deliberation id.
func WithDeliberationID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, keyDeliberationID, id)
}

// DeliberationIDFromContext extracts the deliberation id, uuid.Nil when the
// context carries none.
func DeliberationIDFromContext(ctx context.Context) uuid.UUID {
	if v, ok := ctx.Value(keyDeliberationID).(uuid.UUID); ok {
		return v
	}
	return uuid.Nil
}
