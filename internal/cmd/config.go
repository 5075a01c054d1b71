package cmd

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/Iron-Ham/breakfix/internal/collab"
	"github.com/Iron-Ham/breakfix/internal/config"
	"github.com/Iron-Ham/breakfix/internal/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or create breakfix configuration",
	Long: `View or create breakfix configuration.

Without arguments, displays the effective configuration.`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration as YAML",
	RunE:  runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	Long: `Create a default config file at ~/.config/breakfix/config.yaml.

Every collaborator is listed with an empty command; fill them in before
running 'breakfix run'.`,
	RunE: runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	RunE:  runConfigPath,
}

var configCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration and report unconfigured collaborators",
	RunE:  runConfigCheck,
}

var configInitForce bool

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configCheckCmd)

	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "overwrite an existing config file")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if used := viper.ConfigFileUsed(); used != "" {
		_, _ = fmt.Fprintf(out, "# Config file: %s\n", used)
	} else {
		_, _ = fmt.Fprintln(out, "# Config file: (none - using defaults)")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprint(out, string(data))
	return nil
}

const configHeader = `# Breakfix Configuration
#
# Collaborators are shell commands that read one JSON request on stdin and
# write one JSON response on stdout. They run in the run root.
#
# Every key can be overridden with an environment variable, e.g.
# BREAKFIX_RETRY_GREEN_ATTEMPTS=8 for retry.green_attempts.

`

// defaultConfigYAML renders the default configuration with every
// collaborator key present.
func defaultConfigYAML() ([]byte, error) {
	cfg := config.Default()
	for _, name := range config.ValidCollaborators() {
		cfg.Collaborators[name] = ""
	}
	var buf bytes.Buffer
	buf.WriteString(configHeader)
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	configFile := config.ConfigFile()
	if used := viper.GetString("config"); used != "" {
		configFile = used
	}

	if _, err := os.Stat(configFile); err == nil && !configInitForce {
		return fmt.Errorf("config file already exists at %s\nUse --force to overwrite it", configFile)
	}
	if err := os.MkdirAll(filepath.Dir(configFile), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := defaultConfigYAML()
	if err != nil {
		return err
	}
	if err := os.WriteFile(configFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Created config file at %s\n", configFile)
	_, _ = fmt.Fprintln(out, "Fill in the collaborators section before running 'breakfix run'.")
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if used := viper.ConfigFileUsed(); used != "" {
		_, _ = fmt.Fprintf(out, "Active config: %s\n", used)
	} else {
		_, _ = fmt.Fprintf(out, "Default path: %s (not created)\n", config.ConfigFile())
	}

	_, _ = fmt.Fprintln(out, "\nSearch paths:")
	_, _ = fmt.Fprintf(out, "  1. %s\n", config.ConfigFile())
	_, _ = fmt.Fprintln(out, "  2. ./config.yaml (current directory)")
	_, _ = fmt.Fprintln(out, "\nEnvironment variables: BREAKFIX_* (e.g., BREAKFIX_AGENT_MODEL)")
	return nil
}

func runConfigCheck(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	missing := collab.Unconfigured(cfg)
	for _, name := range config.ValidCollaborators() {
		if slices.Contains(missing, name) {
			_, _ = fmt.Fprintf(out, "%s %s\n", errorStyle.Render("missing"), name)
			continue
		}
		_, _ = fmt.Fprintf(out, "%s %s: %s\n", successStyle.Render("ok"), name, mutedStyle.Render(cfg.Collaborators[name]))
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %d of %d collaborators have no command",
			errors.ErrMissingCapability, len(missing), len(config.ValidCollaborators()))
	}
	_, _ = fmt.Fprintln(out, successStyle.Render("Configuration is complete."))
	return nil
}
