package config

import (
	"fmt"
	"os"
	"regexp"
)

var envRefPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv substitutes ${VAR} references from the process environment.
// Unset variables substitute as "" and are reported in missing.
func expandEnv(s string) (expanded string, missing []string) {
	expanded = envRefPattern.ReplaceAllStringFunc(s, func(ref string) string {
		name := envRefPattern.FindStringSubmatch(ref)[1]
		val, ok := os.LookupEnv(name)
		if !ok {
			missing = append(missing, name)
			return ""
		}
		return val
	})
	return expanded, missing
}

// resolveEnvRefs walks every string field that may carry ${VAR} references.
// Missing variables are fatal for required fields; the optional api_key
// degrades to empty, which adapters treat as "no auth".
func (c *Config) resolveEnvRefs() error {
	for name, a := range c.Adapters {
		var missing []string

		a.Command, missing = expandEnv(a.Command)
		if len(missing) > 0 {
			return fmt.Errorf("config: adapter %q: command references unset %v", name, missing)
		}
		a.BaseURL, missing = expandEnv(a.BaseURL)
		if len(missing) > 0 {
			return fmt.Errorf("config: adapter %q: base_url references unset %v", name, missing)
		}
		for i, arg := range a.Args {
			a.Args[i], missing = expandEnv(arg)
			if len(missing) > 0 {
				return fmt.Errorf("config: adapter %q: args[%d] references unset %v", name, i, missing)
			}
		}
		for i, dir := range a.ModelDirs {
			a.ModelDirs[i], missing = expandEnv(dir)
			if len(missing) > 0 {
				return fmt.Errorf("config: adapter %q: model_dirs[%d] references unset %v", name, i, missing)
			}
		}

		// api_key is optional: unresolved references downgrade to no auth.
		a.APIKey, _ = expandEnv(a.APIKey)

		c.Adapters[name] = a
	}

	var missing []string
	c.DecisionGraph.DBPath, missing = expandEnv(c.DecisionGraph.DBPath)
	if len(missing) > 0 {
		return fmt.Errorf("config: decision_graph.db_path references unset %v", missing)
	}
	c.DecisionGraph.TranscriptsDir, missing = expandEnv(c.DecisionGraph.TranscriptsDir)
	if len(missing) > 0 {
		return fmt.Errorf("config: decision_graph.transcripts_dir references unset %v", missing)
	}
	c.DecisionGraph.Embedding.BaseURL, missing = expandEnv(c.DecisionGraph.Embedding.BaseURL)
	if len(missing) > 0 {
		return fmt.Errorf("config: decision_graph.embedding.base_url references unset %v", missing)
	}

	return nil
}
