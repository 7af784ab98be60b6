package adapter

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// Placeholders substituted into the argv template per invocation.
const (
	placeholderModel      = "{model}"
	placeholderPrompt     = "{prompt}"
	placeholderWorkingDir = "{working_directory}"
)

// CLIAdapter spawns an external command per invocation. The argv template
// comes from configuration; {model}, {prompt}, and {working_directory}
// placeholders are substituted at call time. Stdin is closed, stdout and
// stderr are captured separately, and a non-zero exit with stderr content
// becomes a run failure.
type CLIAdapter struct {
	name           string
	command        string
	args           []string
	timeout        time.Duration
	maxPromptChars int

	// projectContextFlag, when set, is stripped from the argv during
	// deliberations and inserted right after the model argument (or at
	// the front when no model argument exists) outside them.
	projectContextFlag string

	// scrub post-processes raw stdout. Defaults to whitespace trimming;
	// the local-model variant strips runtime banner and metadata lines.
	scrub func(string) string

	logger *slog.Logger
}

// NewCLI builds the plain subprocess adapter.
func NewCLI(name, command string, args []string, timeout time.Duration, maxPromptChars int, projectContextFlag string, logger *slog.Logger) *CLIAdapter {
	return &CLIAdapter{
		name:               name,
		command:            command,
		args:               args,
		timeout:            timeout,
		maxPromptChars:     maxPromptChars,
		projectContextFlag: projectContextFlag,
		scrub:              strings.TrimSpace,
		logger:             logger,
	}
}

// Name identifies the adapter in participant ids and logs.
func (a *CLIAdapter) Name() string { return a.name }

// Timeout is the per-invocation bound.
func (a *CLIAdapter) Timeout() time.Duration { return a.timeout }

// Invoke runs the command once and returns its scrubbed stdout.
func (a *CLIAdapter) Invoke(ctx context.Context, req Request) (string, error) {
	prompt := composePrompt(req)
	if err := checkLength(prompt, a.maxPromptChars); err != nil {
		return "", err
	}

	argv := a.buildArgs(req, prompt, nil)
	out, _, err := a.run(ctx, argv, req.WorkingDir)
	if err != nil {
		return "", err
	}
	return a.scrub(out), nil
}

// buildArgs substitutes placeholders and applies the project-context flag
// rule. extra is appended verbatim (used by the escalating variant for the
// permission argument pair).
func (a *CLIAdapter) buildArgs(req Request, prompt string, extra []string) []string {
	argv := make([]string, 0, len(a.args)+len(extra))
	modelIdx := -1
	for _, arg := range a.args {
		if a.projectContextFlag != "" && arg == a.projectContextFlag && req.IsDeliberation {
			continue
		}
		sub := strings.ReplaceAll(arg, placeholderModel, req.Model)
		sub = strings.ReplaceAll(sub, placeholderPrompt, prompt)
		sub = strings.ReplaceAll(sub, placeholderWorkingDir, req.WorkingDir)
		if strings.Contains(arg, placeholderModel) {
			modelIdx = len(argv)
		}
		argv = append(argv, sub)
	}

	// Outside deliberations the flag goes right after the model argument,
	// or at the front when the template never names a model.
	if a.projectContextFlag != "" && !req.IsDeliberation && !contains(argv, a.projectContextFlag) {
		at := 0
		if modelIdx >= 0 {
			at = modelIdx + 1
		}
		argv = append(argv[:at], append([]string{a.projectContextFlag}, argv[at:]...)...)
	}

	return append(argv, extra...)
}

// run executes the command with the adapter timeout and returns stdout and
// stderr. Timeout, spawn failure, and non-zero exits map to failure kinds.
func (a *CLIAdapter) run(ctx context.Context, argv []string, workingDir string) (stdout, stderr string, err error) {
	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	cmd := exec.CommandContext(callCtx, a.command, argv...) //nolint:gosec // command and args come from operator config
	if workingDir != "" {
		cmd.Dir = workingDir
	}
	cmd.Stdin = nil

	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	runErr := cmd.Run()
	stdout, stderr = outBuf.String(), errBuf.String()

	switch {
	case callCtx.Err() == context.DeadlineExceeded:
		return stdout, stderr, newError(KindTimeout, "%s timed out after %s", a.command, a.timeout)
	case runErr == nil:
		return stdout, stderr, nil
	}

	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		msg := strings.TrimSpace(stderr)
		if msg == "" {
			msg = "no stderr output"
		}
		return stdout, stderr, newError(KindFatal, "%s exited %d: %s", a.command, exitErr.ExitCode(), msg)
	}
	// Spawn failures (binary missing, permission denied) are fatal.
	return stdout, stderr, newError(KindFatal, "run %s: %v", a.command, runErr)
}

func contains(args []string, s string) bool {
	for _, a := range args {
		if a == s {
			return true
		}
	}
	return false
}
