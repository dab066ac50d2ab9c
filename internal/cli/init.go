package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"github.com/tidwall/sjson"

	"github.com/alanmeadows/relay/internal/config"
	"github.com/alanmeadows/relay/internal/store"
)

var initForceFlag bool

// initAnswers holds the values collected by the init form.
type initAnswers struct {
	Prompt   string
	Kind     string
	Shell    string
	Command  string
	URL      string
	Path     string
	Filter   string
	Autosave bool
	Archive  bool
}

func answersFromConfig(cfg *config.Config) initAnswers {
	return initAnswers{
		Prompt:   cfg.Prompt,
		Kind:     string(cfg.Executor.Kind),
		Shell:    cfg.Executor.Shell,
		Command:  strings.Join(cfg.Executor.Command, " "),
		URL:      cfg.Executor.HTTP.URL,
		Path:     cfg.Executor.Filter.Path,
		Filter:   string(cfg.Executor.Filter.Kind),
		Autosave: cfg.Session.Autosave,
		Archive:  cfg.Archive.Enabled,
	}
}

// render produces the repo config document for the answers. Settings
// that do not apply to the chosen executor are left out.
func (a initAnswers) render() ([]byte, error) {
	doc := []byte("{}")
	set := func(key string, value any) {
		if doc == nil {
			return
		}
		var err error
		if doc, err = sjson.SetBytes(doc, key, value); err != nil {
			doc = nil
		}
	}

	set("prompt", a.Prompt)
	set("executor.kind", a.Kind)
	switch config.ExecutorKind(a.Kind) {
	case config.ExecutorShell:
		set("executor.shell", a.Shell)
	case config.ExecutorCommand:
		set("executor.command", strings.Fields(a.Command))
	case config.ExecutorHTTP:
		set("executor.http.url", a.URL)
	}
	set("executor.filter.kind", a.Filter)
	if config.FilterKind(a.Filter) == config.FilterJSONPath {
		set("executor.filter.path", a.Path)
	}
	set("session.autosave", a.Autosave)
	set("archive.enabled", a.Archive)

	if doc == nil {
		return nil, errors.New("building config document")
	}

	var pretty json.RawMessage = doc
	out, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("formatting config: %w", err)
	}
	return append(out, '\n'), nil
}

func required(what string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", what)
		}
		return nil
	}
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a repository config interactively",
	Long: `Walk through the main settings and write them to .relay/relay.jsonc in the
repository root. Existing values are offered as defaults.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		repoRoot := config.RepoRoot()
		if repoRoot == "" {
			return fmt.Errorf("not in a git repository")
		}
		path := config.RepoConfigPath(repoRoot)

		if store.Exists(path) && !initForceFlag {
			overwrite := false
			if err := huh.NewConfirm().
				Title(fmt.Sprintf("%s exists. Overwrite?", filepath.Join(".relay", filepath.Base(path)))).
				Value(&overwrite).
				Run(); err != nil {
				return err
			}
			if !overwrite {
				return nil
			}
		}

		a := answersFromConfig(appConfig)
		form := huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Prompt").
					Value(&a.Prompt).
					Validate(required("prompt")),
				huh.NewSelect[string]().
					Title("Executor").
					Options(
						huh.NewOption("Shell (sh -c <input>)", string(config.ExecutorShell)),
						huh.NewOption("Fixed command", string(config.ExecutorCommand)),
						huh.NewOption("HTTP endpoint via curl", string(config.ExecutorHTTP)),
					).
					Value(&a.Kind),
			),
			huh.NewGroup(
				huh.NewInput().
					Title("Shell").
					Value(&a.Shell).
					Validate(required("shell")),
			).WithHideFunc(func() bool { return a.Kind != string(config.ExecutorShell) }),
			huh.NewGroup(
				huh.NewInput().
					Title("Command").
					Description("Arguments separated by spaces; {input} marks where the input goes").
					Value(&a.Command).
					Validate(required("command")),
			).WithHideFunc(func() bool { return a.Kind != string(config.ExecutorCommand) }),
			huh.NewGroup(
				huh.NewInput().
					Title("URL").
					Value(&a.URL).
					Validate(required("URL")),
			).WithHideFunc(func() bool { return a.Kind != string(config.ExecutorHTTP) }),
			huh.NewGroup(
				huh.NewSelect[string]().
					Title("Output filter").
					Options(
						huh.NewOption("None", string(config.FilterNone)),
						huh.NewOption("JSON values", string(config.FilterJSON)),
						huh.NewOption("JSON path", string(config.FilterJSONPath)),
						huh.NewOption("SSE fields", string(config.FilterFields)),
					).
					Value(&a.Filter),
			),
			huh.NewGroup(
				huh.NewInput().
					Title("JSON path").
					Description("gjson path rendered from each value, e.g. choices.0.delta.content").
					Value(&a.Path).
					Validate(required("path")),
			).WithHideFunc(func() bool { return a.Filter != string(config.FilterJSONPath) }),
			huh.NewGroup(
				huh.NewConfirm().
					Title("Autosave transcripts?").
					Value(&a.Autosave),
				huh.NewConfirm().
					Title("Archive sessions to SQLite?").
					Value(&a.Archive),
			),
		)
		if err := form.Run(); err != nil {
			return err
		}

		data, err := a.render()
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
		if err := os.WriteFile(path, data, 0644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVarP(&initForceFlag, "force", "f", false, "Overwrite an existing config without asking")
}
