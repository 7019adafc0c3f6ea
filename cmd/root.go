// Package cmd provides the command-line interface for verdrift.
//
// Configuration is resolved with the following precedence:
//  1. Command-line flags (--port, --interval, ...) - highest priority
//  2. Environment variables (VERDRIFT_SERVER_PORT, VERDRIFT_MONITOR_URL, ...)
//  3. The configuration file: --config, then VERDRIFT_CONFIG_FILE, then
//     .verdrift.yml in the current directory
//  4. Built-in defaults - lowest priority
package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/verdrift/internal/config"
	"github.com/conneroisu/verdrift/internal/errors"
	"github.com/conneroisu/verdrift/internal/logging"
	"github.com/conneroisu/verdrift/internal/stamp"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "verdrift",
	Short: "Detect when a deployed single-page app has been replaced by a newer build",
	Long: `verdrift stamps built single-page applications with a small monitor that
notices when the server starts handing out a different bundle than the one
the page loaded, and offers to reload.

Quick Start:
  verdrift inject dist/index.html   Stamp a built index document
  verdrift serve --root dist        Serve a build with the monitor injected
  verdrift snippet                  Print the monitor script
  verdrift watch https://app.test/  Watch a deployment from a terminal
  verdrift check https://app.test/  Run a single comparison`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .verdrift.yml, can also use VERDRIFT_CONFIG_FILE env var)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

// initConfig picks the configuration file and enables VERDRIFT_ environment
// overrides.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv("VERDRIFT_CONFIG_FILE"); envConfigFile != "" {
		viper.SetConfigFile(envConfigFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".verdrift")
	}

	viper.SetEnvPrefix("VERDRIFT")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// A missing or malformed file falls back to defaults; Load validates
	// whatever was resolved.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// newLogger builds the logger selected by --log-level and --log-format.
func newLogger(cmd *cobra.Command) (logging.Logger, error) {
	levelName := viper.GetString("log.level")
	if levelName == "" {
		levelName = "info"
	}
	level, err := logging.ParseLevel(levelName)
	if err != nil {
		return nil, errors.ErrInvalidConfig("log.level", levelName, err.Error())
	}

	return logging.NewLogger(&logging.LoggerConfig{
		Level:  level,
		Format: viper.GetString("log.format"),
		Output: cmd.ErrOrStderr(),
	}), nil
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// newInjector resolves the build metadata and prepares an injector. A
// missing version is fatal here, before anything is written or served.
func newInjector(cfg *config.Config) (*stamp.Injector, error) {
	meta, err := stamp.Resolve(cfg.VersionSource(), time.Now())
	if err != nil {
		return nil, err
	}
	return stamp.NewInjector(meta, cfg.SnippetOptions(), cfg.Build.Nonce)
}
