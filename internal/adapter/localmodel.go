package adapter

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// LocalModelCLIAdapter runs a local inference CLI (llama.cpp style) whose
// {model} argument must be a *.gguf file path. Model names are resolved by
// fuzzy stem match across a fixed directory search order, and the runtime's
// banner and metadata lines are scrubbed from stdout.
type LocalModelCLIAdapter struct {
	cli       *CLIAdapter
	modelDirs []string
}

// ggufSearchPathEnv is a colon-separated list of extra model directories.
const ggufSearchPathEnv = "LLAMA_CPP_MODEL_PATH"

// NewLocalModelCLI builds the local-model subprocess adapter. modelDirs are
// searched after the standard locations.
func NewLocalModelCLI(name, command string, args []string, timeout time.Duration, maxPromptChars int, modelDirs []string, logger *slog.Logger) *LocalModelCLIAdapter {
	a := &LocalModelCLIAdapter{
		cli:       NewCLI(name, command, args, timeout, maxPromptChars, "", logger),
		modelDirs: modelDirs,
	}
	a.cli.scrub = scrubLocalRuntimeOutput
	return a
}

// Name identifies the adapter in participant ids and logs.
func (a *LocalModelCLIAdapter) Name() string { return a.cli.name }

// Timeout is the per-invocation bound.
func (a *LocalModelCLIAdapter) Timeout() time.Duration { return a.cli.timeout }

// Invoke resolves the model to a file path, then runs the command.
func (a *LocalModelCLIAdapter) Invoke(ctx context.Context, req Request) (string, error) {
	prompt := composePrompt(req)
	if err := checkLength(prompt, a.cli.maxPromptChars); err != nil {
		return "", err
	}

	path, err := a.ResolveModelPath(req.Model)
	if err != nil {
		return "", &Error{Kind: KindFatal, Err: err}
	}
	resolved := req
	resolved.Model = path

	argv := a.cli.buildArgs(resolved, prompt, nil)
	out, _, err := a.cli.run(ctx, argv, req.WorkingDir)
	if err != nil {
		return "", err
	}
	return a.cli.scrub(out), nil
}

// ResolveModelPath maps a model name to a *.gguf file. Absolute paths are
// used as-is. Otherwise each search directory is walked for files whose
// stem contains the name case-insensitively; an exact stem or filename
// match wins, then the shortest path. No match produces an error listing
// the searched directories and up to ten available candidates.
func (a *LocalModelCLIAdapter) ResolveModelPath(model string) (string, error) {
	if filepath.IsAbs(model) {
		return model, nil
	}

	dirs := a.searchDirs()
	needle := strings.ToLower(strings.TrimSuffix(model, ".gguf"))

	var candidates []string
	var matches []string
	for _, dir := range dirs {
		_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return nil //nolint:nilerr // unreadable entries are skipped, not fatal
			}
			if !strings.EqualFold(filepath.Ext(path), ".gguf") {
				return nil
			}
			candidates = append(candidates, path)
			stem := strings.ToLower(strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
			if strings.Contains(stem, needle) {
				matches = append(matches, path)
			}
			return nil
		})
	}

	if len(matches) == 0 {
		shown := candidates
		if len(shown) > 10 {
			shown = shown[:10]
		}
		return "", fmt.Errorf("adapter: model %q not found; searched %v; available: %v", model, dirs, shown)
	}

	best := matches[0]
	for _, m := range matches {
		stem := strings.ToLower(strings.TrimSuffix(filepath.Base(m), filepath.Ext(m)))
		base := strings.ToLower(filepath.Base(m))
		if stem == needle || base == strings.ToLower(model) {
			return m, nil
		}
		if len(m) < len(best) {
			best = m
		}
	}
	return best, nil
}

// searchDirs returns the ordered model search path: user cache, user home,
// system-wide locations, the environment list, then configured extras.
func (a *LocalModelCLIAdapter) searchDirs() []string {
	var dirs []string
	if cacheDir, err := os.UserCacheDir(); err == nil {
		dirs = append(dirs, filepath.Join(cacheDir, "models"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, "models"), filepath.Join(home, ".models"))
	}
	dirs = append(dirs, "/usr/local/share/models", "/usr/share/models")
	for _, dir := range filepath.SplitList(os.Getenv(ggufSearchPathEnv)) {
		if dir != "" {
			dirs = append(dirs, dir)
		}
	}
	return append(dirs, a.modelDirs...)
}

// bannerKeywords identify startup noise the runtime prints before the
// generated text.
var bannerKeywords = []string{"loading", "version", "initializing", "build", "warning"}

// metadataPrefixes identify runtime diagnostics interleaved with output.
var metadataPrefixes = []string{"llama_", "ggml_", "main:", "system_info:", "sampling:", "generate:"}

// scrubLocalRuntimeOutput drops leading banner lines and metadata lines
// anywhere in the output, then trims whitespace.
func scrubLocalRuntimeOutput(raw string) string {
	lines := strings.Split(raw, "\n")
	var kept []string
	inBanner := true
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		lower := strings.ToLower(trimmed)

		if isMetadataLine(lower) {
			continue
		}
		if inBanner {
			if trimmed == "" || hasBannerKeyword(lower) {
				continue
			}
			inBanner = false
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

func hasBannerKeyword(lower string) bool {
	for _, kw := range bannerKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func isMetadataLine(lower string) bool {
	for _, p := range metadataPrefixes {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return false
}
