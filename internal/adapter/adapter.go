// Package adapter provides the uniform contract for invoking one language
// model backend with a prompt.
//
// Two families implement the contract: subprocess adapters spawn an external
// CLI tool with a templated argument list, HTTP adapters POST to a local or
// hosted completion endpoint. Both respect an adapter-owned timeout, reject
// over-length prompts before touching the backend, and classify failures into
// the three kinds the engine isolates per participant.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors surfaced by adapters.
var (
	// ErrPromptTooLong is returned before any backend call when the
	// composed prompt exceeds the adapter's maximum length.
	ErrPromptTooLong = errors.New("adapter: prompt exceeds maximum length")
	// ErrEscalationExhausted is returned when all permission levels failed.
	ErrEscalationExhausted = errors.New("adapter: permission escalation exhausted")
)

// Kind classifies an invocation failure. The engine renders each kind as a
// distinct [ERROR: ...] sentinel in the participant's response slot.
type Kind string

const (
	KindTimeout   Kind = "TIMEOUT"
	KindTransient Kind = "TRANSIENT"
	KindFatal     Kind = "FATAL"
)

// Error carries a failure kind alongside the underlying cause.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("adapter: %s: %v", e.Kind, e.Err) }

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Classify maps any invocation error to its failure kind. Deadline errors
// are timeouts even when unwrapped; everything unclassified is fatal.
func Classify(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindFatal
}

// Request is one invocation of a backend.
type Request struct {
	Prompt string
	Model  string
	// Context, when present, is prepended to the prompt with a blank-line
	// separator. Used for graph memory and transcript-so-far injection.
	Context string
	// IsDeliberation distinguishes engine fan-out calls from standalone
	// ones; some CLI tools take a project-context flag only outside
	// deliberations.
	IsDeliberation bool
	// WorkingDir overrides the subprocess working directory.
	WorkingDir string
}

// Adapter invokes one backend. Implementations are reentrant: the engine
// fans out N concurrent invocations, each with its own subprocess or HTTP
// request context.
type Adapter interface {
	Name() string
	Timeout() time.Duration
	Invoke(ctx context.Context, req Request) (string, error)
}

// composePrompt joins the optional context and the prompt.
func composePrompt(req Request) string {
	if req.Context == "" {
		return req.Prompt
	}
	return req.Context + "\n\n" + req.Prompt
}

// checkLength enforces the adapter's maximum prompt length before any
// backend work happens.
func checkLength(prompt string, maxChars int) error {
	if maxChars > 0 && len(prompt) > maxChars {
		return &Error{Kind: KindFatal, Err: fmt.Errorf("%w: %d chars over limit %d",
			ErrPromptTooLong, len(prompt), maxChars)}
	}
	return nil
}
