package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tidwall/jsonc"
	"github.com/tidwall/sjson"

	"github.com/alanmeadows/relay/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage relay configuration",
	Long:  `Show and modify relay configuration values.`,
}

var configJSONFlag bool

func init() {
	configShowCmd.Flags().BoolVar(&configJSONFlag, "json", false, "Output raw JSON without formatting")
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show merged configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		redacted := redactConfig(appConfig)

		var data []byte
		var err error
		if configJSONFlag {
			data, err = json.Marshal(redacted)
		} else {
			data, err = json.MarshalIndent(redacted, "", "  ")
		}
		if err != nil {
			return fmt.Errorf("marshaling config: %w", err)
		}

		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	},
}

// redactConfig returns a copy of the config with secret fields masked.
func redactConfig(cfg *config.Config) *config.Config {
	copy := *cfg

	if copy.Executor.HTTP.APIKey != "" {
		copy.Executor.HTTP.APIKey = "***"
	}

	// Header values may carry credentials; keep the names only.
	if len(copy.Executor.HTTP.Headers) > 0 {
		headers := make([]string, len(copy.Executor.HTTP.Headers))
		for i, h := range copy.Executor.HTTP.Headers {
			name, _, ok := strings.Cut(h, ":")
			if ok && isSecretHeader(name) {
				h = name + ": ***"
			}
			headers[i] = h
		}
		copy.Executor.HTTP.Headers = headers
	}

	return &copy
}

func isSecretHeader(name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	return name == "authorization" || name == "proxy-authorization" ||
		strings.Contains(name, "token") || strings.Contains(name, "key")
}

// parseConfigValue interprets a command-line value as bool, integer,
// float or string, in that order.
func parseConfigValue(raw string) any {
	if b, err := strconv.ParseBool(raw); err == nil {
		return b
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	return raw
}

// setConfigValue writes key=value into the JSONC file at path, creating
// it when missing. Comments are not preserved.
func setConfigValue(path, key string, value any) error {
	existing := []byte("{}")
	if data, err := os.ReadFile(path); err == nil {
		existing = jsonc.ToJSON(data)
	}

	updated, err := sjson.SetBytes(existing, key, value)
	if err != nil {
		return fmt.Errorf("setting key %q: %w", key, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, updated, 0644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a config value",
	Long: `Set a configuration value using a dotted key path.

The value is written to .relay/relay.jsonc in the repository root.
The file is created if it does not exist.

Note: JSONC comments are not preserved on write.`,
	Example: `  relay config set prompt "ai> "
  relay config set executor.kind http
  relay config set executor.http.url https://api.example.com/v1/complete
  relay config set server.port 8080`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := args[0]
		value := parseConfigValue(args[1])

		repoRoot := config.RepoRoot()
		if repoRoot == "" {
			return fmt.Errorf("not in a git repository")
		}

		if err := setConfigValue(config.RepoConfigPath(repoRoot), key, value); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %v\n", key, value)
		return nil
	},
}
