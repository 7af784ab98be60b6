package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// permissionDeniedMarker is the backend's signature for a call that would
// succeed at a higher permission level. Any other failure aborts escalation.
const permissionDeniedMarker = "insufficient permission to proceed"

// permissionLevels are tried in order. Starting low keeps the common case
// least privileged; escalation only happens on an explicit permission error.
var permissionLevels = []string{"low", "medium", "high"}

// EscalatingCLIAdapter wraps the subprocess runner with graceful permission
// escalation: low, then medium, then high. Escalation success is logged;
// exhausting all three levels is fatal.
type EscalatingCLIAdapter struct {
	cli           *CLIAdapter
	permissionArg string
}

// NewEscalatingCLI builds the escalating subprocess adapter. permissionArg
// is the flag whose value carries the level (e.g. --permission-mode).
func NewEscalatingCLI(name, command string, args []string, timeout time.Duration, maxPromptChars int, permissionArg string, logger *slog.Logger) *EscalatingCLIAdapter {
	return &EscalatingCLIAdapter{
		cli:           NewCLI(name, command, args, timeout, maxPromptChars, "", logger),
		permissionArg: permissionArg,
	}
}

// Name identifies the adapter in participant ids and logs.
func (a *EscalatingCLIAdapter) Name() string { return a.cli.name }

// Timeout is the per-invocation bound, applied per attempt.
func (a *EscalatingCLIAdapter) Timeout() time.Duration { return a.cli.timeout }

// Invoke runs the command at rising permission levels until one succeeds.
func (a *EscalatingCLIAdapter) Invoke(ctx context.Context, req Request) (string, error) {
	prompt := composePrompt(req)
	if err := checkLength(prompt, a.cli.maxPromptChars); err != nil {
		return "", err
	}

	var lastErr error
	for i, level := range permissionLevels {
		argv := a.cli.buildArgs(req, prompt, []string{a.permissionArg, level})
		stdout, stderr, err := a.cli.run(ctx, argv, req.WorkingDir)
		if err == nil {
			if i > 0 {
				a.cli.logger.Info("permission escalation succeeded",
					"adapter", a.cli.name, "level", level)
			}
			return a.cli.scrub(stdout), nil
		}
		if !isPermissionDenied(err, stdout, stderr) {
			return "", err
		}
		a.cli.logger.Warn("permission denied, escalating",
			"adapter", a.cli.name, "level", level)
		lastErr = err
	}

	return "", &Error{Kind: KindFatal, Err: fmt.Errorf("%w: last error: %v", ErrEscalationExhausted, lastErr)}
}

// isPermissionDenied checks the combined output and error text for the
// escalation marker.
func isPermissionDenied(err error, stdout, stderr string) bool {
	for _, s := range []string{stdout, stderr, err.Error()} {
		if strings.Contains(strings.ToLower(s), permissionDeniedMarker) {
			return true
		}
	}
	return false
}
