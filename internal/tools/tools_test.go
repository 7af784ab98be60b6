package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/gogi/internal/config"
	"github.com/ashita-ai/gogi/internal/model"
	"github.com/ashita-ai/gogi/internal/testutil"
)

func newTestExecutor(t *testing.T) (*Executor, string) {
	t.Helper()
	root := t.TempDir()

	write := func(rel, content string) {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	write("main.go", "package main\n\nfunc main() {}\n")
	write("internal/server/server.go", "package server\n\nfunc Listen() error { return nil }\n")
	write("secrets/.env", "API_KEY=hunter2\n")
	write(".git/config", "[core]\n")
	write("notes.txt", "remember the Listen call\n")

	cfg := config.ToolSecurityConfig{
		Enabled:        true,
		ExcludedPaths:  []string{".git/", "secrets/", ".env"},
		MaxFileBytes:   1024,
		MaxOutputChars: 200,
		ContextRounds:  2,
		CommandTimeout: config.Duration(2 * time.Second),
	}
	return NewExecutor(root, cfg, testutil.TestLogger()), root
}

func TestParseRequests(t *testing.T) {
	response := `Let me check the code first.
TOOL_REQUEST: {"name": "read_file", "arguments": {"path": "main.go"}}
Then search:
TOOL_REQUEST: {"name": "search_code",
  "arguments": {"pattern": "Listen"}}
Done.`

	requests := ParseRequests(response)
	require.Len(t, requests, 2)
	assert.Equal(t, "read_file", requests[0].Name)
	assert.Equal(t, "main.go", requests[0].Arguments["path"])
	assert.Equal(t, "search_code", requests[1].Name)
}

func TestParseRequestsMalformed(t *testing.T) {
	assert.Empty(t, ParseRequests("no markers here"))
	assert.Empty(t, ParseRequests(`TOOL_REQUEST: {"name": `))
	assert.Empty(t, ParseRequests(`TOOL_REQUEST: {"arguments": {"path": "x"}}`))
}

func TestExecuteReadFile(t *testing.T) {
	e, _ := newTestExecutor(t)
	record := e.Execute(context.Background(), 1, "m@c", Request{
		Name: "read_file", Arguments: map[string]any{"path": "main.go"},
	})
	assert.Empty(t, record.Err)
	assert.Contains(t, record.Output, "package main")
	assert.Equal(t, 1, record.Round)
	assert.Equal(t, "m@c", record.Requester)
}

func TestExecuteReadFileRejectsTraversal(t *testing.T) {
	e, _ := newTestExecutor(t)
	for _, path := range []string{"../outside.txt", "/etc/passwd", "internal/../../escape"} {
		record := e.Execute(context.Background(), 1, "m@c", Request{
			Name: "read_file", Arguments: map[string]any{"path": path},
		})
		assert.NotEmpty(t, record.Err, "path %q must be rejected", path)
		assert.Empty(t, record.Output)
	}
}

func TestExecuteReadFileRejectsSymlinkEscape(t *testing.T) {
	e, root := newTestExecutor(t)

	outside := filepath.Join(t.TempDir(), "credentials.txt")
	require.NoError(t, os.WriteFile(outside, []byte("TOKEN=abc\n"), 0o644))
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "innocent.txt")))

	record := e.Execute(context.Background(), 1, "m@c", Request{
		Name: "read_file", Arguments: map[string]any{"path": "innocent.txt"},
	})
	assert.Contains(t, record.Err, "escapes")
	assert.Empty(t, record.Output)
}

func TestExecuteReadFileFollowsInternalSymlink(t *testing.T) {
	e, root := newTestExecutor(t)
	require.NoError(t, os.Symlink(filepath.Join(root, "main.go"), filepath.Join(root, "alias.go")))

	record := e.Execute(context.Background(), 1, "m@c", Request{
		Name: "read_file", Arguments: map[string]any{"path": "alias.go"},
	})
	assert.Empty(t, record.Err)
	assert.Contains(t, record.Output, "package main")
}

func TestExecuteReadFileRejectsExcluded(t *testing.T) {
	e, _ := newTestExecutor(t)
	for _, path := range []string{".git/config", "secrets/.env"} {
		record := e.Execute(context.Background(), 1, "m@c", Request{
			Name: "read_file", Arguments: map[string]any{"path": path},
		})
		assert.Contains(t, record.Err, "excluded", "path %q", path)
	}
}

func TestExecuteReadFileSizeCap(t *testing.T) {
	e, root := newTestExecutor(t)
	big := strings.Repeat("x", 2048)
	require.NoError(t, os.WriteFile(filepath.Join(root, "big.bin"), []byte(big), 0o644))

	record := e.Execute(context.Background(), 1, "m@c", Request{
		Name: "read_file", Arguments: map[string]any{"path": "big.bin"},
	})
	assert.Contains(t, record.Err, "limit")
}

func TestExecuteSearchCode(t *testing.T) {
	e, _ := newTestExecutor(t)
	record := e.Execute(context.Background(), 1, "m@c", Request{
		Name: "search_code", Arguments: map[string]any{"pattern": "Listen"},
	})
	require.Empty(t, record.Err)
	assert.Contains(t, record.Output, "internal/server/server.go:3")
	assert.Contains(t, record.Output, "notes.txt:1")
	assert.NotContains(t, record.Output, "secrets")
}

func TestExecuteListFiles(t *testing.T) {
	e, _ := newTestExecutor(t)
	record := e.Execute(context.Background(), 1, "m@c", Request{Name: "list_files"})
	require.Empty(t, record.Err)
	assert.Contains(t, record.Output, "main.go")
	assert.Contains(t, record.Output, "internal/")
	assert.NotContains(t, record.Output, ".git")
	assert.NotContains(t, record.Output, "secrets")
}

func TestExecuteRunCommand(t *testing.T) {
	e, _ := newTestExecutor(t)
	record := e.Execute(context.Background(), 1, "m@c", Request{
		Name: "run_command", Arguments: map[string]any{"command": "echo hello"},
	})
	require.Empty(t, record.Err)
	assert.Equal(t, "hello\n", record.Output)
}

func TestExecuteRunCommandTimeout(t *testing.T) {
	e, _ := newTestExecutor(t)
	e.cmdTimeout = 50 * time.Millisecond
	record := e.Execute(context.Background(), 1, "m@c", Request{
		Name: "run_command", Arguments: map[string]any{"command": "sleep 5"},
	})
	assert.Contains(t, record.Err, "timed out")
}

func TestExecuteRunCommandOutputCap(t *testing.T) {
	e, _ := newTestExecutor(t)
	record := e.Execute(context.Background(), 1, "m@c", Request{
		Name: "run_command", Arguments: map[string]any{"command": "yes x | head -c 1000"},
	})
	require.Empty(t, record.Err)
	assert.LessOrEqual(t, len(record.Output), 200+len("…"))
}

func TestExecuteUnknownTool(t *testing.T) {
	e, _ := newTestExecutor(t)
	record := e.Execute(context.Background(), 1, "m@c", Request{Name: "delete_everything"})
	assert.Contains(t, record.Err, "unknown tool")
}

func TestTree(t *testing.T) {
	e, _ := newTestExecutor(t)
	tree, err := e.Tree(3, 200)
	require.NoError(t, err)
	assert.Contains(t, tree, "main.go")
	assert.Contains(t, tree, "internal/")
	assert.Contains(t, tree, "  server/")
	assert.NotContains(t, tree, ".git")
	assert.NotContains(t, tree, "secrets")
}

func TestTreeDepthAndEntryCaps(t *testing.T) {
	e, _ := newTestExecutor(t)
	shallow, err := e.Tree(1, 200)
	require.NoError(t, err)
	assert.Contains(t, shallow, "internal/")
	assert.NotContains(t, shallow, "server")

	capped, err := e.Tree(3, 1)
	require.NoError(t, err)
	assert.Len(t, strings.Split(capped, "\n"), 1)
}

func TestRenderWindow(t *testing.T) {
	e, _ := newTestExecutor(t)
	executions := []model.ToolExecution{
		{Round: 1, Requester: "a@x", Tool: "read_file", Output: "old content"},
		{Round: 2, Requester: "a@x", Tool: "search_code", Output: strings.Repeat("match\n", 60)},
		{Round: 3, Requester: "b@y", Tool: "run_command", Err: "command failed: exit 1"},
	}

	rendered := e.RenderWindow(executions, 4, 2)
	assert.NotContains(t, rendered, "old content", "round 1 is outside the window")
	assert.Contains(t, rendered, "search_code by a@x (round 2)")
	assert.Contains(t, rendered, "error: command failed")
	assert.LessOrEqual(t, strings.Count(rendered, "match"), 40, "outputs are truncated")
}

func TestRenderWindowEmpty(t *testing.T) {
	e, _ := newTestExecutor(t)
	assert.Empty(t, e.RenderWindow(nil, 2, 2))
	assert.Empty(t, e.RenderWindow([]model.ToolExecution{{Round: 1, Tool: "x"}}, 5, 2))
}
