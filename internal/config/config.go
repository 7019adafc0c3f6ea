// Package config provides configuration management for verdrift using Viper
// for flexible loading from files, environment variables and command-line
// flags.
//
// The configuration system supports YAML files (.verdrift.yml), environment
// variable overrides with the VERDRIFT_ prefix and validation. It covers the
// static server, build-time stamping, the drift monitor shared by the
// injected snippet and the headless watcher, and the watcher's own options.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/conneroisu/verdrift/internal/monitor"
	"github.com/conneroisu/verdrift/internal/snippet"
	"github.com/conneroisu/verdrift/internal/stamp"
)

// Handler names accepted by watch.handler.
const (
	HandlerPrompt = "prompt"
	HandlerLog    = "log"
	HandlerAuto   = "auto"
)

// MinPollInterval keeps a misconfigured monitor from hammering the origin.
const MinPollInterval = time.Second

type Config struct {
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Build   BuildConfig   `yaml:"build" mapstructure:"build"`
	Monitor MonitorConfig `yaml:"monitor" mapstructure:"monitor"`
	Watch   WatchConfig   `yaml:"watch" mapstructure:"watch"`
}

type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	Host           string   `yaml:"host" mapstructure:"host"`
	Root           string   `yaml:"root" mapstructure:"root"`
	Index          string   `yaml:"index" mapstructure:"index"`
	SPAFallback    bool     `yaml:"spa_fallback" mapstructure:"spa_fallback"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

type BuildConfig struct {
	Version        string           `yaml:"version" mapstructure:"version"`
	ProjectDir     string           `yaml:"project_dir" mapstructure:"project_dir"`
	DeploymentPath string           `yaml:"deployment_path" mapstructure:"deployment_path"`
	Nonce          string           `yaml:"nonce" mapstructure:"nonce"`
	Globals        []snippet.Global `yaml:"globals" mapstructure:"globals"`
	ConsoleLines   []string         `yaml:"console_lines" mapstructure:"console_lines"`
}

type MonitorConfig struct {
	URL             string        `yaml:"url" mapstructure:"url"`
	PollInterval    time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
	PauseWhenHidden bool          `yaml:"pause_when_hidden" mapstructure:"pause_when_hidden"`
	AutoStart       bool          `yaml:"auto_start" mapstructure:"auto_start"`
	PromptMessage   string        `yaml:"prompt_message" mapstructure:"prompt_message"`
	SuccessMessage  string        `yaml:"success_message" mapstructure:"success_message"`
	SeedPolicy      string        `yaml:"seed_policy" mapstructure:"seed_policy"`
}

type WatchConfig struct {
	Handler   string   `yaml:"handler" mapstructure:"handler"`
	StateFile string   `yaml:"state_file" mapstructure:"state_file"`
	OnUpdate  []string `yaml:"on_update" mapstructure:"on_update"`
	PushURL   string   `yaml:"push_url" mapstructure:"push_url"`
}

// SetDefaults registers the default of every key on v.
func SetDefaults(v *viper.Viper) {
	d := monitor.DefaultConfig()

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.root", "dist")
	v.SetDefault("server.index", "index.html")
	v.SetDefault("server.spa_fallback", true)

	v.SetDefault("build.project_dir", ".")

	v.SetDefault("monitor.poll_interval", d.PollInterval)
	v.SetDefault("monitor.pause_when_hidden", d.PauseWhenHidden)
	v.SetDefault("monitor.auto_start", d.AutoStart)
	v.SetDefault("monitor.prompt_message", d.Messages.Prompt)
	v.SetDefault("monitor.success_message", d.Messages.Success)
	v.SetDefault("monitor.seed_policy", string(d.SeedPolicy))

	v.SetDefault("watch.handler", HandlerLog)
	v.SetDefault("watch.state_file", filepath.Join(".verdrift", "state.yml"))
}

// Load reads the configuration from the global viper instance.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads and validates the configuration held by v.
func LoadFrom(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	// Handle slices set via flags or env as a single comma-separated value
	// (workaround for viper slice handling)
	if v.IsSet("build.console_lines") && len(config.Build.ConsoleLines) == 0 {
		config.Build.ConsoleLines = v.GetStringSlice("build.console_lines")
	}
	if v.IsSet("watch.on_update") && len(config.Watch.OnUpdate) == 0 {
		config.Watch.OnUpdate = v.GetStringSlice("watch.on_update")
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// MonitorSettings converts the monitor section for a headless monitor.
func (c *Config) MonitorSettings() monitor.Config {
	return monitor.Config{
		URL:             c.Monitor.URL,
		PollInterval:    c.Monitor.PollInterval,
		PauseWhenHidden: c.Monitor.PauseWhenHidden,
		AutoStart:       c.Monitor.AutoStart,
		Messages: monitor.Messages{
			Prompt:  c.Monitor.PromptMessage,
			Success: c.Monitor.SuccessMessage,
		},
		KeyPrefix:  monitor.KeyPrefix(c.DeploymentPath()),
		SeedPolicy: monitor.SeedPolicy(c.Monitor.SeedPolicy),
	}
}

// SnippetOptions converts the monitor and build sections for the client
// snippet.
func (c *Config) SnippetOptions() snippet.Options {
	return snippet.Options{
		Monitor:      c.MonitorSettings(),
		Globals:      c.Build.Globals,
		ConsoleLines: c.Build.ConsoleLines,
	}
}

// VersionSource returns where the build version comes from.
func (c *Config) VersionSource() stamp.VersionSource {
	return stamp.VersionSource{Version: c.Build.Version, ProjectDir: c.Build.ProjectDir}
}

// DeploymentPath is the path the storage namespace is derived from. It
// defaults to the served root.
func (c *Config) DeploymentPath() string {
	if c.Build.DeploymentPath != "" {
		return c.Build.DeploymentPath
	}
	if c.Server.Root != "" {
		return c.Server.Root
	}
	return "."
}

// validateConfig validates configuration values for security and correctness
func validateConfig(config *Config) error {
	if err := validateServerConfig(&config.Server); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := validateMonitorConfig(&config.Monitor); err != nil {
		return fmt.Errorf("monitor config: %w", err)
	}

	if err := validateWatchConfig(&config.Watch); err != nil {
		return fmt.Errorf("watch config: %w", err)
	}

	return nil
}

// validateServerConfig validates server configuration values
func validateServerConfig(config *ServerConfig) error {
	// Allow 0 for system-assigned ports in testing
	if config.Port < 0 || config.Port > 65535 {
		return fmt.Errorf("port %d is not in valid range 0-65535", config.Port)
	}

	if config.Host != "" {
		dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'", "\\"}
		for _, char := range dangerousChars {
			if strings.Contains(config.Host, char) {
				return fmt.Errorf("host contains dangerous character: %s", char)
			}
		}
	}

	if config.Index != "" && (strings.ContainsAny(config.Index, `/\`) || config.Index == "..") {
		return fmt.Errorf("index must be a file name, got %q", config.Index)
	}

	return nil
}

// validateMonitorConfig validates monitor configuration values
func validateMonitorConfig(config *MonitorConfig) error {
	if config.PollInterval < MinPollInterval {
		return fmt.Errorf("poll_interval %s is below the minimum of %s", config.PollInterval, MinPollInterval)
	}

	switch monitor.SeedPolicy(config.SeedPolicy) {
	case monitor.SeedAlways, monitor.SeedFirstLoad:
	default:
		return fmt.Errorf("seed_policy must be %q or %q, got %q",
			monitor.SeedAlways, monitor.SeedFirstLoad, config.SeedPolicy)
	}

	return nil
}

// validateWatchConfig validates watch configuration values
func validateWatchConfig(config *WatchConfig) error {
	switch config.Handler {
	case HandlerPrompt, HandlerLog, HandlerAuto:
	default:
		return fmt.Errorf("handler must be one of %s, %s, %s; got %q",
			HandlerPrompt, HandlerLog, HandlerAuto, config.Handler)
	}

	if config.StateFile == "" {
		return fmt.Errorf("state_file must not be empty")
	}

	if config.PushURL != "" && !strings.HasPrefix(config.PushURL, "ws://") && !strings.HasPrefix(config.PushURL, "wss://") {
		return fmt.Errorf("push_url must be a ws:// or wss:// URL, got %q", config.PushURL)
	}

	return nil
}
