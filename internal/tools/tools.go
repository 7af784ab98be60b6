// Package tools executes the evidence-gathering requests participants embed
// in their responses.
//
// A request is a line containing "TOOL_REQUEST:" followed by a JSON object
// naming the tool and its arguments. Every tool operates strictly inside the
// deliberation's working directory: path arguments that escape the root or
// touch an excluded prefix are rejected, file reads are size-capped, and
// commands run under a timeout with bounded output.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/ashita-ai/gogi/internal/config"
	"github.com/ashita-ai/gogi/internal/model"
)

// requestMarker introduces an embedded tool request.
const requestMarker = "TOOL_REQUEST:"

// searchMatchLimit caps search_code results independently of output chars.
const searchMatchLimit = 50

// Request is one parsed tool invocation.
type Request struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Executor runs tool requests against one working directory.
type Executor struct {
	root           string
	exclusions     []string
	maxFileBytes   int64
	maxOutputChars int
	cmdTimeout     time.Duration
	logger         *slog.Logger
}

// NewExecutor builds an executor rooted at the deliberation's working
// directory.
func NewExecutor(root string, cfg config.ToolSecurityConfig, logger *slog.Logger) *Executor {
	return &Executor{
		root:           filepath.Clean(root),
		exclusions:     cfg.ExcludedPaths,
		maxFileBytes:   cfg.MaxFileBytes,
		maxOutputChars: cfg.MaxOutputChars,
		cmdTimeout:     cfg.CommandTimeout.Std(),
		logger:         logger,
	}
}

// ParseRequests extracts every tool request from a response. Malformed
// requests are skipped; a participant cannot break the round by emitting
// bad JSON.
func ParseRequests(response string) []Request {
	var requests []Request
	rest := response
	for {
		at := strings.Index(rest, requestMarker)
		if at < 0 {
			return requests
		}
		payload := rest[at+len(requestMarker):]
		obj, ok := extractJSONObject(payload)
		if !ok {
			return requests
		}
		var req Request
		if err := json.Unmarshal([]byte(obj), &req); err == nil && req.Name != "" {
			requests = append(requests, req)
		}
		rest = payload[strings.Index(payload, obj)+len(obj):]
	}
}

// Execute runs one request and records the outcome. Failures land in the
// Err field; they never abort the round.
func (e *Executor) Execute(ctx context.Context, round int, requester string, req Request) model.ToolExecution {
	record := model.ToolExecution{
		Round:     round,
		Requester: requester,
		Tool:      req.Name,
		Args:      req.Arguments,
		Timestamp: time.Now().UTC(),
	}

	output, err := e.run(ctx, req)
	if err != nil {
		record.Err = err.Error()
		e.logger.Warn("tool execution failed",
			"tool", req.Name, "requester", requester, "round", round, "error", err)
		return record
	}
	record.Output = output
	return record
}

func (e *Executor) run(ctx context.Context, req Request) (string, error) {
	switch req.Name {
	case "read_file":
		return e.readFile(req.Arguments)
	case "search_code":
		return e.searchCode(req.Arguments)
	case "list_files":
		return e.listFiles(req.Arguments)
	case "run_command":
		return e.runCommand(ctx, req.Arguments)
	case "get_file_tree":
		return e.fileTree(req.Arguments)
	default:
		return "", fmt.Errorf("tools: unknown tool %q", req.Name)
	}
}

// ── Individual tools ───────────────────────────────────────────────────────────

func (e *Executor) readFile(args map[string]any) (string, error) {
	path, err := e.resolvePath(stringArg(args, "path"))
	if err != nil {
		return "", err
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("tools: stat %s: %w", path, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("tools: %s is a directory", path)
	}
	if info.Size() > e.maxFileBytes {
		return "", fmt.Errorf("tools: %s is %d bytes, limit %d", path, info.Size(), e.maxFileBytes)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("tools: read %s: %w", path, err)
	}
	return string(data), nil
}

func (e *Executor) searchCode(args map[string]any) (string, error) {
	pattern := stringArg(args, "pattern")
	if pattern == "" {
		return "", fmt.Errorf("tools: search_code requires a pattern")
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return "", fmt.Errorf("tools: compile pattern: %w", err)
	}

	start := e.root
	if sub := stringArg(args, "path"); sub != "" {
		if start, err = e.resolvePath(sub); err != nil {
			return "", err
		}
	}

	var matches []string
	walkErr := filepath.WalkDir(start, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr // unreadable entries are skipped
		}
		rel, relErr := filepath.Rel(e.root, path)
		if relErr == nil && e.excluded(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if info, infoErr := d.Info(); infoErr != nil || info.Size() > e.maxFileBytes {
			return nil
		}
		data, readErr := os.ReadFile(path)
		if readErr != nil || bytes.IndexByte(data, 0) >= 0 {
			return nil
		}
		for i, line := range strings.Split(string(data), "\n") {
			if re.MatchString(line) {
				matches = append(matches, fmt.Sprintf("%s:%d: %s", rel, i+1, strings.TrimSpace(line)))
				if len(matches) >= searchMatchLimit {
					return filepath.SkipAll
				}
			}
		}
		return nil
	})
	if walkErr != nil {
		return "", fmt.Errorf("tools: search: %w", walkErr)
	}
	if len(matches) == 0 {
		return "no matches", nil
	}
	return strings.Join(matches, "\n"), nil
}

func (e *Executor) listFiles(args map[string]any) (string, error) {
	dir := e.root
	var err error
	if sub := stringArg(args, "path"); sub != "" {
		if dir, err = e.resolvePath(sub); err != nil {
			return "", err
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("tools: list %s: %w", dir, err)
	}

	var names []string
	for _, entry := range entries {
		rel, relErr := filepath.Rel(e.root, filepath.Join(dir, entry.Name()))
		if relErr == nil && e.excluded(rel) {
			continue
		}
		name := entry.Name()
		if entry.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, "\n"), nil
}

func (e *Executor) runCommand(ctx context.Context, args map[string]any) (string, error) {
	command := stringArg(args, "command")
	if command == "" {
		return "", fmt.Errorf("tools: run_command requires a command")
	}

	cmdCtx, cancel := context.WithTimeout(ctx, e.cmdTimeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, "sh", "-c", command) //nolint:gosec // sandboxed to the working dir with timeout and output caps
	cmd.Dir = e.root
	out, err := cmd.CombinedOutput()
	if cmdCtx.Err() == context.DeadlineExceeded {
		return "", fmt.Errorf("tools: command timed out after %s", e.cmdTimeout)
	}
	output := truncate(string(out), e.maxOutputChars)
	if err != nil {
		return "", fmt.Errorf("tools: command failed: %v: %s", err, output)
	}
	return output, nil
}

func (e *Executor) fileTree(args map[string]any) (string, error) {
	maxDepth := intArg(args, "max_depth", 3)
	maxEntries := intArg(args, "max_entries", 200)
	return e.Tree(maxDepth, maxEntries)
}

// Tree renders the working directory as an indented listing, bounded by
// depth and entry count. Also used for the first round's context block.
func (e *Executor) Tree(maxDepth, maxEntries int) (string, error) {
	var b strings.Builder
	count := 0
	err := filepath.WalkDir(e.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr // unreadable entries are skipped
		}
		if path == e.root {
			return nil
		}
		rel, relErr := filepath.Rel(e.root, path)
		if relErr != nil {
			return nil
		}
		if e.excluded(rel) || strings.HasPrefix(filepath.Base(rel), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		depth := strings.Count(rel, string(filepath.Separator))
		if depth >= maxDepth {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if count >= maxEntries {
			return filepath.SkipAll
		}
		count++
		name := filepath.Base(rel)
		if d.IsDir() {
			name += "/"
		}
		fmt.Fprintf(&b, "%s%s\n", strings.Repeat("  ", depth), name)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("tools: tree: %w", err)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// ── Path safety ────────────────────────────────────────────────────────────────

// resolvePath joins a relative argument onto the root and rejects anything
// that escapes it or touches an excluded prefix.
func (e *Executor) resolvePath(arg string) (string, error) {
	if arg == "" {
		return "", fmt.Errorf("tools: path argument is required")
	}
	if filepath.IsAbs(arg) {
		return "", fmt.Errorf("tools: absolute paths are not allowed")
	}

	joined := filepath.Clean(filepath.Join(e.root, arg))
	if !contained(e.root, joined) {
		return "", fmt.Errorf("tools: path %q escapes the working directory", arg)
	}
	rel, err := filepath.Rel(e.root, joined)
	if err != nil {
		return "", fmt.Errorf("tools: path %q escapes the working directory", arg)
	}
	if e.excluded(rel) {
		return "", fmt.Errorf("tools: path %q is excluded", arg)
	}

	// The lexical check above is not enough: a symlink inside the tree can
	// point anywhere. Re-check containment on the resolved path. A path
	// that does not exist yet cannot be resolved and fails at use instead.
	if resolved, rErr := filepath.EvalSymlinks(joined); rErr == nil {
		realRoot := e.root
		if rr, rootErr := filepath.EvalSymlinks(e.root); rootErr == nil {
			realRoot = rr
		}
		if !contained(realRoot, resolved) {
			return "", fmt.Errorf("tools: path %q escapes the working directory", arg)
		}
	}
	return joined, nil
}

// contained reports whether path sits at or below root, lexically.
func contained(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// excluded matches a root-relative path against the exclusion prefixes.
// Directory exclusions end in "/" and match the subtree; bare names match
// the exact file.
func (e *Executor) excluded(rel string) bool {
	slashed := filepath.ToSlash(rel)
	for _, prefix := range e.exclusions {
		if strings.HasSuffix(prefix, "/") {
			if strings.HasPrefix(slashed, prefix) || slashed == strings.TrimSuffix(prefix, "/") {
				return true
			}
		} else if slashed == prefix || strings.HasPrefix(slashed, prefix+"/") {
			return true
		}
	}
	return false
}

// ── Context rendering ──────────────────────────────────────────────────────────

// RenderWindow formats the recent tool executions for injection into the
// next round's context. Only executions from the last contextRounds rounds
// relative to nextRound appear; each output is truncated.
func (e *Executor) RenderWindow(executions []model.ToolExecution, nextRound, contextRounds int) string {
	oldest := nextRound - contextRounds
	var b strings.Builder
	for _, ex := range executions {
		if ex.Round < oldest {
			continue
		}
		if b.Len() == 0 {
			b.WriteString("## Recent Tool Results\n")
		}
		fmt.Fprintf(&b, "\n### %s by %s (round %d)\n", ex.Tool, ex.Requester, ex.Round)
		if ex.Err != "" {
			fmt.Fprintf(&b, "```\nerror: %s\n```\n", ex.Err)
			continue
		}
		fmt.Fprintf(&b, "```\n%s\n```\n", truncate(ex.Output, e.maxOutputChars))
	}
	return strings.TrimRight(b.String(), "\n")
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

func intArg(args map[string]any, key string, fallback int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return fallback
	}
}

// extractJSONObject returns the first balanced {...} span in s, honoring
// braces inside JSON strings.
func extractJSONObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case inString:
			if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
		case c == '"':
			inString = true
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
