// Package monitor implements the version-drift state machine.
//
// A Monitor periodically fetches the page it guards, extracts the page's build
// fingerprint and compares it with the baseline persisted in a Store. When the
// two differ the configured UpdateHandler decides whether the update is
// applied. The baseline only moves forward on an accepted update, so a
// declined update is detected again on the next check.
//
// The generated client snippet (package snippet) follows the same rules in
// the browser; this package is the executable form used by the watch and
// check commands.
package monitor

import (
	"fmt"
	"hash/crc32"
	"path/filepath"
	"time"

	"github.com/conneroisu/verdrift/internal/errors"
)

// SeedPolicy controls how Seed treats an existing baseline.
type SeedPolicy string

const (
	// SeedAlways overwrites the baseline on every page load, so the baseline
	// is the build the page actually loaded.
	SeedAlways SeedPolicy = "always"
	// SeedFirstLoad only writes the baseline when none exists yet.
	SeedFirstLoad SeedPolicy = "first-load"
)

const (
	DefaultPollInterval = 5 * time.Minute
	DefaultPrompt       = "A new version of this application is available. Reload now?"
	DefaultSuccess      = "The application has been updated to the latest version."

	keySuffix = "_fingerprint"
)

// Messages are the user-facing strings of the built-in prompt flow.
type Messages struct {
	Prompt  string `json:"prompt" yaml:"prompt"`
	Success string `json:"success" yaml:"success"`
}

// Config is the immutable monitor configuration.
type Config struct {
	// URL is the page whose fingerprint is watched.
	URL string
	// PollInterval between automatic checks.
	PollInterval time.Duration
	// PauseWhenHidden enables visibility integration: no polling while hidden,
	// one immediate check when visible again.
	PauseWhenHidden bool
	// AutoStart enables the periodic timer. Without it only visibility
	// changes and manual calls trigger checks.
	AutoStart bool
	Messages  Messages
	// KeyPrefix namespaces the baseline in the Store.
	KeyPrefix  string
	SeedPolicy SeedPolicy
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		PollInterval:    DefaultPollInterval,
		PauseWhenHidden: true,
		AutoStart:       true,
		Messages:        Messages{Prompt: DefaultPrompt, Success: DefaultSuccess},
		KeyPrefix:       "verdrift",
		SeedPolicy:      SeedAlways,
	}
}

// withDefaults fills zero-valued fields that have a meaningful default.
// Booleans are left alone since false is a valid choice.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.Messages.Prompt == "" {
		c.Messages.Prompt = d.Messages.Prompt
	}
	if c.Messages.Success == "" {
		c.Messages.Success = d.Messages.Success
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = d.KeyPrefix
	}
	if c.SeedPolicy == "" {
		c.SeedPolicy = d.SeedPolicy
	}
	return c
}

// Validate reports configuration values the monitor cannot run with.
func (c Config) Validate() error {
	if c.PollInterval < 0 {
		return errors.ErrInvalidConfig("poll_interval", c.PollInterval, "must not be negative")
	}
	switch c.SeedPolicy {
	case "", SeedAlways, SeedFirstLoad:
	default:
		return errors.ErrInvalidConfig("seed_policy", c.SeedPolicy,
			fmt.Sprintf("must be %q or %q", SeedAlways, SeedFirstLoad))
	}
	return nil
}

// StorageKey returns the key under which the baseline is persisted.
func (c Config) StorageKey() string {
	return StorageKey(c.KeyPrefix)
}

// StorageKey returns <prefix>_fingerprint.
func StorageKey(prefix string) string {
	return prefix + keySuffix
}

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// KeyPrefix derives a storage namespace from the deployment's absolute path
// so several applications sharing an origin keep separate baselines.
func KeyPrefix(deploymentPath string) string {
	abs, err := filepath.Abs(deploymentPath)
	if err != nil {
		abs = filepath.Clean(deploymentPath)
	}
	return fmt.Sprintf("verdrift_%08x", crc32.Checksum([]byte(abs), castagnoli))
}

// URLKeyPrefix derives a storage namespace from a page URL, for monitors
// that watch a deployment from outside and know no deployment path.
func URLKeyPrefix(pageURL string) string {
	return fmt.Sprintf("verdrift_%08x", crc32.Checksum([]byte(pageURL), castagnoli))
}
