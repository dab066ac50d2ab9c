package config

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"github.com/tidwall/jsonc"
)

// Load reads and merges configuration from user-level and repo-level JSONC files.
// Resolution order: defaults → user config (~/.config/relay/relay.jsonc) →
// repo config (.relay/relay.jsonc) → override file → environment.
func Load(override string) (*Config, error) {
	cfg := DefaultConfig()

	// Load user-level config
	userDir, err := os.UserConfigDir()
	if err == nil {
		userPath := filepath.Join(userDir, "relay", "relay.jsonc")
		if userMap, err := loadJSONC(userPath); err == nil {
			if err := mergeIntoConfig(&cfg, userMap); err != nil {
				return nil, fmt.Errorf("merging user config: %w", err)
			}
		}
	}

	// Load repo-level config
	repoRoot := findRepoRoot()
	if repoRoot != "" {
		repoPath := RepoConfigPath(repoRoot)
		if repoMap, err := loadJSONC(repoPath); err == nil {
			if err := mergeIntoConfig(&cfg, repoMap); err != nil {
				return nil, fmt.Errorf("merging repo config: %w", err)
			}
		}
	}

	if override != "" {
		overrideMap, err := loadJSONC(override)
		if err != nil {
			return nil, fmt.Errorf("loading config %s: %w", override, err)
		}
		if err := mergeIntoConfig(&cfg, overrideMap); err != nil {
			return nil, fmt.Errorf("merging %s: %w", override, err)
		}
	}

	// Environment variable overrides
	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// loadJSONC reads a JSONC file and returns it as a map.
func loadJSONC(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	jsonData := jsonc.ToJSON(data)
	var m map[string]any
	if err := json.Unmarshal(jsonData, &m); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return m, nil
}

// mergeIntoConfig marshals the config to a map, deep-merges the source map over it,
// then unmarshals back to the Config struct.
func mergeIntoConfig(cfg *Config, src map[string]any) error {
	// Marshal current config to map
	cfgBytes, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	var dst map[string]any
	if err := json.Unmarshal(cfgBytes, &dst); err != nil {
		return err
	}

	// Deep merge: src overrides dst
	if err := mergo.Merge(&dst, src, mergo.WithOverride); err != nil {
		return err
	}

	// Unmarshal merged map back to Config
	merged, err := json.Marshal(dst)
	if err != nil {
		return err
	}
	return json.Unmarshal(merged, cfg)
}

// findRepoRoot finds the git repository root via git rev-parse.
func findRepoRoot() string {
	cmd := exec.Command("git", "rev-parse", "--show-toplevel")
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

// applyEnvOverrides applies environment variable overrides to the config.
func applyEnvOverrides(cfg *Config) {
	if proxy := os.Getenv("RELAY_PROXY"); proxy != "" {
		cfg.Executor.HTTP.Proxy = proxy
	}
	if key := os.Getenv("RELAY_API_KEY"); key != "" {
		cfg.Executor.HTTP.APIKey = key
	}
	if prompt := os.Getenv("RELAY_PROMPT"); prompt != "" {
		cfg.Prompt = prompt
	}
}

// RepoConfigPath returns the repo-level config file under root.
func RepoConfigPath(root string) string {
	return filepath.Join(root, ".relay", "relay.jsonc")
}

// RepoRoot returns the detected git repository root, or empty string if not in a repo.
func RepoRoot() string {
	return findRepoRoot()
}
