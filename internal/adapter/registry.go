package adapter

import (
	"fmt"
	"log/slog"

	"github.com/ashita-ai/gogi/internal/config"
)

// Registry maps adapter names to built instances.
type Registry map[string]Adapter

// Get returns the named adapter or an error listing what exists.
func (r Registry) Get(name string) (Adapter, error) {
	a, ok := r[name]
	if !ok {
		return nil, fmt.Errorf("adapter: %q is not configured (have %v)", name, r.Names())
	}
	return a, nil
}

// Names lists configured adapter names.
func (r Registry) Names() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	return names
}

// BuildRegistry constructs every configured adapter. Configuration was
// validated at load time, so an unknown type or variant here is a bug.
func BuildRegistry(cfg *config.Config, logger *slog.Logger) (Registry, error) {
	reg := make(Registry, len(cfg.Adapters))
	for name, ac := range cfg.Adapters {
		a, err := build(name, ac, logger)
		if err != nil {
			return nil, err
		}
		reg[name] = a
	}
	return reg, nil
}

func build(name string, ac config.AdapterConfig, logger *slog.Logger) (Adapter, error) {
	timeout := ac.Timeout.Std()
	switch ac.Type {
	case config.AdapterCLI:
		switch ac.Variant {
		case config.VariantGeneric:
			return NewCLI(name, ac.Command, ac.Args, timeout, ac.MaxPromptChars, ac.ProjectContextFlag, logger), nil
		case config.VariantEscalating:
			return NewEscalatingCLI(name, ac.Command, ac.Args, timeout, ac.MaxPromptChars, ac.PermissionArg, logger), nil
		case config.VariantLocalModel:
			return NewLocalModelCLI(name, ac.Command, ac.Args, timeout, ac.MaxPromptChars, ac.ModelDirs, logger), nil
		}
	case config.AdapterHTTP:
		switch ac.Variant {
		case config.VariantGenerate:
			return NewGenerateHTTP(name, ac.BaseURL, timeout, ac.MaxRetries, ac.MaxPromptChars, logger), nil
		case config.VariantChat:
			return NewChatHTTP(name, ac.BaseURL, timeout, ac.MaxRetries, ac.MaxPromptChars, logger), nil
		case config.VariantHostedChat:
			return NewHostedChat(name, ac.BaseURL, ac.APIKey, timeout, ac.MaxRetries, ac.MaxPromptChars, logger), nil
		}
	}
	return nil, fmt.Errorf("adapter: %q: unsupported type %q variant %q", name, ac.Type, ac.Variant)
}
