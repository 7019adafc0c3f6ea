package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/verdrift/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect verdrift configuration",
	Long: `Inspect the configuration resolved from .verdrift.yml, VERDRIFT_
environment variables and defaults.

Examples:
  verdrift config show                # Show in YAML format
  verdrift config show --format json  # Show in JSON format
  verdrift config validate            # Check the configuration`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	RunE:  runConfigValidate,
}

var configFormat string

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)

	configShowCmd.Flags().StringVar(&configFormat, "format", "yaml", "Output format (yaml, json)")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	return showConfig(cmd.OutOrStdout(), configFormat, cfg)
}

func showConfig(w io.Writer, format string, cfg *config.Config) error {
	switch format {
	case "yaml", "yml":
		fmt.Fprintln(w, "# Resolved from all sources (file, env vars, defaults)")
		encoder := yaml.NewEncoder(w)
		encoder.SetIndent(2)
		if err := encoder.Encode(cfg); err != nil {
			return err
		}
		return encoder.Close()
	case "json":
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(cfg)
	default:
		return fmt.Errorf("unsupported format: %s (supported: yaml, json)", format)
	}
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if _, err := newInjector(cfg); err != nil {
		return fmt.Errorf("build settings: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), "✅ Configuration is valid.")
	return nil
}
