// Package config loads and validates the gogi configuration file.
//
// Configuration lives in a single YAML document. String fields may reference
// environment variables as ${VAR}; references are resolved at load time.
// Relative storage paths resolve against the config file's directory so that
// launching from any CWD touches the same decision graph.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML fields read as Go duration strings
// ("120s", "5m"). Bare integers are rejected to keep units explicit.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("config: duration must be a string like \"120s\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// AdapterType discriminates subprocess and HTTP adapters.
type AdapterType string

const (
	AdapterCLI  AdapterType = "cli"
	AdapterHTTP AdapterType = "http"
)

// Variant selects a behavior specialization within an adapter type.
type Variant string

const (
	// VariantGeneric is the plain subprocess adapter (the cli default).
	VariantGeneric Variant = ""
	// VariantEscalating retries a subprocess at rising permission levels.
	VariantEscalating Variant = "escalating"
	// VariantLocalModel resolves model names to *.gguf files on disk.
	VariantLocalModel Variant = "local_model"
	// VariantGenerate posts to a generate-style local endpoint (/api/generate).
	VariantGenerate Variant = "generate"
	// VariantChat posts to an OpenAI-compatible local endpoint (/v1/chat/completions).
	VariantChat Variant = "chat"
	// VariantHostedChat posts to a hosted OpenAI-compatible endpoint with bearer auth.
	VariantHostedChat Variant = "hosted_chat"
)

// AdapterConfig configures one named backend adapter.
type AdapterConfig struct {
	Type    AdapterType `yaml:"type"`
	Variant Variant     `yaml:"variant,omitempty"`
	Timeout Duration    `yaml:"timeout,omitempty"`

	// Subprocess fields. Args is a template; {model}, {prompt}, and
	// {working_directory} placeholders are substituted per invocation.
	Command            string   `yaml:"command,omitempty"`
	Args               []string `yaml:"args,omitempty"`
	ProjectContextFlag string   `yaml:"project_context_flag,omitempty"`
	PermissionArg      string   `yaml:"permission_arg,omitempty"`
	ModelDirs          []string `yaml:"model_dirs,omitempty"`

	// HTTP fields.
	BaseURL    string `yaml:"base_url,omitempty"`
	APIKey     string `yaml:"api_key,omitempty"`
	MaxRetries int    `yaml:"max_retries,omitempty"`

	MaxPromptChars int `yaml:"max_prompt_chars,omitempty"`
}

// Defaults are per-request fallbacks for the deliberate operation.
type Defaults struct {
	Mode            string   `yaml:"mode"`
	Rounds          int      `yaml:"rounds"`
	MaxRounds       int      `yaml:"max_rounds"`
	TimeoutPerRound Duration `yaml:"timeout_per_round"`
}

// ConvergenceConfig tunes the round-over-round similarity analysis.
type ConvergenceConfig struct {
	Enabled                     bool    `yaml:"enabled"`
	MinRoundsBeforeCheck        int     `yaml:"min_rounds_before_check"`
	SemanticSimilarityThreshold float64 `yaml:"semantic_similarity_threshold"`
	DivergenceThreshold         float64 `yaml:"divergence_threshold"`
	ConsecutiveStableRounds     int     `yaml:"consecutive_stable_rounds"`
	ImpasseRounds               int     `yaml:"impasse_rounds"`
	StanceStabilityThreshold    float64 `yaml:"stance_stability_threshold"`
	ResponseLengthDropThreshold float64 `yaml:"response_length_drop_threshold"`
}

// EarlyStoppingConfig tunes model-controlled early termination.
type EarlyStoppingConfig struct {
	Enabled   bool    `yaml:"enabled"`
	Threshold float64 `yaml:"threshold"`
	MinRounds int     `yaml:"min_rounds"`
}

// SummarizerConfig names the adapter+model that writes the final summary.
// When empty, the first participant of the deliberation summarizes.
type SummarizerConfig struct {
	Adapter string `yaml:"adapter,omitempty"`
	Model   string `yaml:"model,omitempty"`
}

// ToolSecurityConfig bounds tool execution during deliberations.
type ToolSecurityConfig struct {
	Enabled        bool     `yaml:"enabled"`
	ExcludedPaths  []string `yaml:"excluded_paths"`
	MaxFileBytes   int64    `yaml:"max_file_bytes"`
	MaxOutputChars int      `yaml:"max_output_chars"`
	ContextRounds  int      `yaml:"context_rounds"`
	CommandTimeout Duration `yaml:"command_timeout"`
}

// FileTreeConfig bounds the working-directory tree injected into round 1.
type FileTreeConfig struct {
	Enabled    bool `yaml:"enabled"`
	MaxDepth   int  `yaml:"max_depth"`
	MaxEntries int  `yaml:"max_entries"`
}

// DeliberationConfig groups the engine's behavioral knobs.
type DeliberationConfig struct {
	Convergence   ConvergenceConfig   `yaml:"convergence"`
	EarlyStopping EarlyStoppingConfig `yaml:"early_stopping"`
	Summarizer    SummarizerConfig    `yaml:"summarizer"`
	ToolSecurity  ToolSecurityConfig  `yaml:"tool_security"`
	FileTree      FileTreeConfig      `yaml:"file_tree"`
}

// TierBoundaries split retrieved context into strong and moderate brackets.
// Invariant: 0 < moderate < strong <= 1.
type TierBoundaries struct {
	Strong   float64 `yaml:"strong"`
	Moderate float64 `yaml:"moderate"`
}

// AdaptiveKConfig sizes retrieval K by decision-graph population.
type AdaptiveKConfig struct {
	SmallDB  int `yaml:"small_db"`
	MediumDB int `yaml:"medium_db"`
	SmallK   int `yaml:"small_k"`
	MediumK  int `yaml:"medium_k"`
	LargeK   int `yaml:"large_k"`
}

// CacheConfig sizes the two cache tiers.
type CacheConfig struct {
	QuerySize     int      `yaml:"query_size"`
	QueryTTL      Duration `yaml:"query_ttl"`
	EmbeddingSize int      `yaml:"embedding_size"`
}

// WorkerConfig tunes the background similarity worker.
type WorkerConfig struct {
	QueueSize           int     `yaml:"queue_size"`
	BatchSize           int     `yaml:"batch_size"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
}

// EmbeddingConfig points the dense similarity backend at a local provider.
type EmbeddingConfig struct {
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// DecisionGraphConfig configures the persistent decision memory.
type DecisionGraphConfig struct {
	Enabled             bool            `yaml:"enabled"`
	DBPath              string          `yaml:"db_path"`
	TranscriptsDir      string          `yaml:"transcripts_dir"`
	TierBoundaries      TierBoundaries  `yaml:"tier_boundaries"`
	MaxContextDecisions int             `yaml:"max_context_decisions"`
	ContextTokenBudget  int             `yaml:"context_token_budget"`
	QueryWindow         int             `yaml:"query_window"`
	NoiseFloor          float64         `yaml:"noise_floor"`
	SimilarityBackend   string          `yaml:"similarity_backend"`
	AdaptiveK           AdaptiveKConfig `yaml:"adaptive_k"`
	Cache               CacheConfig     `yaml:"cache"`
	Worker              WorkerConfig    `yaml:"worker"`
	Embedding           EmbeddingConfig `yaml:"embedding"`
}

// Similarity backend overrides for DecisionGraphConfig.SimilarityBackend.
const (
	BackendAuto      = "auto"
	BackendEmbedding = "embedding"
	BackendTFIDF     = "tfidf"
	BackendJaccard   = "jaccard"
)

// RegistryEntry is one allowlisted model for an adapter.
type RegistryEntry struct {
	ID      string `yaml:"id"`
	Label   string `yaml:"label,omitempty"`
	Tier    string `yaml:"tier,omitempty"`
	Default bool   `yaml:"default,omitempty"`
	Note    string `yaml:"note,omitempty"`
}

// Config is the full configuration surface.
type Config struct {
	Adapters      map[string]AdapterConfig   `yaml:"adapters"`
	Defaults      Defaults                   `yaml:"defaults"`
	Deliberation  DeliberationConfig         `yaml:"deliberation"`
	DecisionGraph DecisionGraphConfig        `yaml:"decision_graph"`
	ModelRegistry map[string][]RegistryEntry `yaml:"model_registry,omitempty"`

	// baseDir is the config file's directory; relative paths resolve here.
	baseDir string
}

// Load reads, resolves, and validates the configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("config: resolve %s: %w", path, err)
	}
	cfg.baseDir = filepath.Dir(abs)
	cfg.resolvePaths()

	return cfg, nil
}

// Parse unmarshals raw YAML, resolves ${VAR} references, applies defaults,
// and validates. Callers that load from disk should prefer Load, which also
// anchors relative paths.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}

	if err := cfg.resolveEnvRefs(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a standalone configuration with every default applied and
// no adapters. Used by tests and by gogictl when no config file is given.
func Default() *Config {
	cfg := &Config{Adapters: map[string]AdapterConfig{}}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Defaults.Mode == "" {
		c.Defaults.Mode = "conference"
	}
	if c.Defaults.Rounds == 0 {
		c.Defaults.Rounds = 2
	}
	if c.Defaults.MaxRounds == 0 {
		c.Defaults.MaxRounds = 5
	}
	if c.Defaults.TimeoutPerRound == 0 {
		c.Defaults.TimeoutPerRound = Duration(300 * time.Second)
	}

	for name, a := range c.Adapters {
		if a.Timeout == 0 {
			a.Timeout = Duration(120 * time.Second)
		}
		if a.MaxPromptChars == 0 {
			a.MaxPromptChars = 100_000
		}
		if a.Type == AdapterHTTP {
			if a.Variant == VariantGeneric {
				a.Variant = VariantChat
			}
			if a.MaxRetries == 0 {
				a.MaxRetries = 3
			}
		}
		if a.Variant == VariantEscalating && a.PermissionArg == "" {
			a.PermissionArg = "--permission-mode"
		}
		c.Adapters[name] = a
	}

	conv := &c.Deliberation.Convergence
	if conv.MinRoundsBeforeCheck == 0 {
		conv.MinRoundsBeforeCheck = 2
	}
	if conv.SemanticSimilarityThreshold == 0 {
		conv.SemanticSimilarityThreshold = 0.85
	}
	if conv.DivergenceThreshold == 0 {
		conv.DivergenceThreshold = 0.40
	}
	if conv.ConsecutiveStableRounds == 0 {
		conv.ConsecutiveStableRounds = 1
	}
	if conv.ImpasseRounds == 0 {
		conv.ImpasseRounds = 3
	}
	if conv.StanceStabilityThreshold == 0 {
		conv.StanceStabilityThreshold = 0.60
	}
	if conv.ResponseLengthDropThreshold == 0 {
		conv.ResponseLengthDropThreshold = 0.40
	}

	es := &c.Deliberation.EarlyStopping
	if es.Threshold == 0 {
		es.Threshold = 0.66
	}
	if es.MinRounds == 0 {
		es.MinRounds = 1
	}

	ts := &c.Deliberation.ToolSecurity
	if ts.ExcludedPaths == nil {
		ts.ExcludedPaths = []string{".git/", "transcripts/", "node_modules/", ".venv/", "__pycache__/", ".env"}
	}
	if ts.MaxFileBytes == 0 {
		ts.MaxFileBytes = 128 * 1024
	}
	if ts.MaxOutputChars == 0 {
		ts.MaxOutputChars = 1000
	}
	if ts.ContextRounds == 0 {
		ts.ContextRounds = 2
	}
	if ts.CommandTimeout == 0 {
		ts.CommandTimeout = Duration(30 * time.Second)
	}

	ft := &c.Deliberation.FileTree
	if ft.MaxDepth == 0 {
		ft.MaxDepth = 3
	}
	if ft.MaxEntries == 0 {
		ft.MaxEntries = 200
	}

	dg := &c.DecisionGraph
	if dg.DBPath == "" {
		dg.DBPath = filepath.Join("data", "decision_graph.db")
	}
	if dg.TranscriptsDir == "" {
		dg.TranscriptsDir = "transcripts"
	}
	if dg.TierBoundaries.Strong == 0 {
		dg.TierBoundaries.Strong = 0.75
	}
	if dg.TierBoundaries.Moderate == 0 {
		dg.TierBoundaries.Moderate = 0.45
	}
	if dg.MaxContextDecisions == 0 {
		dg.MaxContextDecisions = 5
	}
	if dg.ContextTokenBudget == 0 {
		dg.ContextTokenBudget = 1500
	}
	if dg.QueryWindow == 0 {
		dg.QueryWindow = 1000
	}
	if dg.NoiseFloor == 0 {
		dg.NoiseFloor = 0.20
	}
	if dg.SimilarityBackend == "" {
		dg.SimilarityBackend = BackendAuto
	}
	if dg.AdaptiveK.SmallDB == 0 {
		dg.AdaptiveK.SmallDB = 100
	}
	if dg.AdaptiveK.MediumDB == 0 {
		dg.AdaptiveK.MediumDB = 1000
	}
	if dg.AdaptiveK.SmallK == 0 {
		dg.AdaptiveK.SmallK = 5
	}
	if dg.AdaptiveK.MediumK == 0 {
		dg.AdaptiveK.MediumK = 3
	}
	if dg.AdaptiveK.LargeK == 0 {
		dg.AdaptiveK.LargeK = 2
	}
	if dg.Cache.QuerySize == 0 {
		dg.Cache.QuerySize = 100
	}
	if dg.Cache.QueryTTL == 0 {
		dg.Cache.QueryTTL = Duration(300 * time.Second)
	}
	if dg.Cache.EmbeddingSize == 0 {
		dg.Cache.EmbeddingSize = 1000
	}
	if dg.Worker.QueueSize == 0 {
		dg.Worker.QueueSize = 100
	}
	if dg.Worker.BatchSize == 0 {
		dg.Worker.BatchSize = 50
	}
	if dg.Worker.SimilarityThreshold == 0 {
		dg.Worker.SimilarityThreshold = 0.5
	}
	if dg.Embedding.BaseURL == "" {
		dg.Embedding.BaseURL = "http://localhost:11434"
	}
	if dg.Embedding.Model == "" {
		dg.Embedding.Model = "nomic-embed-text"
	}
}

// resolvePaths anchors relative storage paths at the config file's directory.
func (c *Config) resolvePaths() {
	if c.baseDir == "" {
		return
	}
	if !filepath.IsAbs(c.DecisionGraph.DBPath) {
		c.DecisionGraph.DBPath = filepath.Join(c.baseDir, c.DecisionGraph.DBPath)
	}
	if !filepath.IsAbs(c.DecisionGraph.TranscriptsDir) {
		c.DecisionGraph.TranscriptsDir = filepath.Join(c.baseDir, c.DecisionGraph.TranscriptsDir)
	}
}

// Validate checks cross-field consistency. Field-level shape errors are
// caught during unmarshal; this guards semantic invariants.
func (c *Config) Validate() error {
	for name, a := range c.Adapters {
		switch a.Type {
		case AdapterCLI:
			if a.Command == "" {
				return fmt.Errorf("config: adapter %q: command is required for type cli", name)
			}
			switch a.Variant {
			case VariantGeneric, VariantEscalating, VariantLocalModel:
			default:
				return fmt.Errorf("config: adapter %q: unknown cli variant %q", name, a.Variant)
			}
		case AdapterHTTP:
			if a.BaseURL == "" {
				return fmt.Errorf("config: adapter %q: base_url is required for type http", name)
			}
			switch a.Variant {
			case VariantGenerate, VariantChat, VariantHostedChat:
			default:
				return fmt.Errorf("config: adapter %q: unknown http variant %q", name, a.Variant)
			}
		default:
			return fmt.Errorf("config: adapter %q: type must be cli or http, got %q", name, a.Type)
		}
		if a.Timeout <= 0 {
			return fmt.Errorf("config: adapter %q: timeout must be positive", name)
		}
	}

	if c.Defaults.Rounds < 1 {
		return fmt.Errorf("config: defaults.rounds must be at least 1")
	}
	if c.Defaults.MaxRounds < c.Defaults.Rounds {
		return fmt.Errorf("config: defaults.max_rounds (%d) below defaults.rounds (%d)",
			c.Defaults.MaxRounds, c.Defaults.Rounds)
	}
	if m := c.Defaults.Mode; m != "quick" && m != "conference" {
		return fmt.Errorf("config: defaults.mode must be quick or conference, got %q", m)
	}

	conv := c.Deliberation.Convergence
	for _, t := range []struct {
		name string
		v    float64
	}{
		{"semantic_similarity_threshold", conv.SemanticSimilarityThreshold},
		{"divergence_threshold", conv.DivergenceThreshold},
		{"stance_stability_threshold", conv.StanceStabilityThreshold},
		{"response_length_drop_threshold", conv.ResponseLengthDropThreshold},
	} {
		if t.v < 0 || t.v > 1 {
			return fmt.Errorf("config: convergence.%s must be in [0,1]", t.name)
		}
	}
	if conv.DivergenceThreshold >= conv.SemanticSimilarityThreshold {
		return fmt.Errorf("config: convergence.divergence_threshold must be below semantic_similarity_threshold")
	}

	if es := c.Deliberation.EarlyStopping; es.Threshold <= 0 || es.Threshold > 1 {
		return fmt.Errorf("config: early_stopping.threshold must be in (0,1]")
	}

	if s := c.Deliberation.Summarizer; s.Adapter != "" {
		if _, ok := c.Adapters[s.Adapter]; !ok {
			return fmt.Errorf("config: summarizer adapter %q is not configured", s.Adapter)
		}
	}

	tb := c.DecisionGraph.TierBoundaries
	if !(0 < tb.Moderate && tb.Moderate < tb.Strong && tb.Strong <= 1) {
		return fmt.Errorf("config: tier_boundaries require 0 < moderate < strong <= 1, got moderate=%.2f strong=%.2f",
			tb.Moderate, tb.Strong)
	}
	if c.DecisionGraph.ContextTokenBudget <= 0 {
		return fmt.Errorf("config: decision_graph.context_token_budget must be positive")
	}
	if c.DecisionGraph.QueryWindow <= 0 {
		return fmt.Errorf("config: decision_graph.query_window must be positive")
	}
	switch c.DecisionGraph.SimilarityBackend {
	case BackendAuto, BackendEmbedding, BackendTFIDF, BackendJaccard:
	default:
		return fmt.Errorf("config: decision_graph.similarity_backend must be auto, embedding, tfidf, or jaccard, got %q",
			c.DecisionGraph.SimilarityBackend)
	}

	for adapter := range c.ModelRegistry {
		if _, ok := c.Adapters[adapter]; !ok {
			return fmt.Errorf("config: model_registry references unknown adapter %q", adapter)
		}
	}

	return nil
}

// RegistryAllows reports whether the participant's model passes the adapter's
// allowlist. Adapters without a registry accept any model.
func (c *Config) RegistryAllows(adapter, model string) bool {
	entries, ok := c.ModelRegistry[adapter]
	if !ok || len(entries) == 0 {
		return true
	}
	for _, e := range entries {
		if e.ID == model {
			return true
		}
	}
	return false
}

// DefaultModel returns the registry's default model for an adapter, or "".
func (c *Config) DefaultModel(adapter string) string {
	for _, e := range c.ModelRegistry[adapter] {
		if e.Default {
			return e.ID
		}
	}
	return ""
}
