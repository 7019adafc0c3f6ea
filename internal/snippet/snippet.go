// Package snippet generates the client-side drift monitor injected into the
// head of served pages.
//
// The generated script is self-contained: configuration, version metadata
// and the baseline fingerprint are embedded as literals, and the fingerprint
// expression is the one package fingerprint compiles, so server and browser
// agree on what a build's fingerprint is.
package snippet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strings"
	"text/template"

	"github.com/a-h/templ"

	"github.com/conneroisu/verdrift/internal/errors"
	"github.com/conneroisu/verdrift/internal/fingerprint"
	"github.com/conneroisu/verdrift/internal/monitor"
)

// Marker appears exactly once in every generated script. Documents that
// contain it have already been stamped.
const Marker = "w.verdrift = {"

// IsStamped reports whether doc already carries a generated monitor.
func IsStamped(doc []byte) bool {
	return bytes.Contains(doc, []byte(Marker))
}

// Global is an extra window property set by the snippet.
type Global struct {
	Key   string      `yaml:"key" json:"key"`
	Value interface{} `yaml:"value" json:"value"`
}

// Options configure the generated monitor.
type Options struct {
	// Monitor carries interval, visibility, auto-start, messages, key prefix
	// and seed policy. Monitor.URL overrides the checked page; by default the
	// page checks its own location.
	Monitor      monitor.Config
	Globals      []Global
	ConsoleLines []string
}

// Input is everything a generation needs.
type Input struct {
	Version     string
	CompileTime string
	// Fingerprint seeds the baseline on page load. Zero disables seeding.
	Fingerprint fingerprint.Fingerprint
	Options     Options
}

// clientConfig is the JSON object embedded into the script.
type clientConfig struct {
	URL             string           `json:"url,omitempty"`
	Interval        int64            `json:"interval"`
	PauseWhenHidden bool             `json:"pauseWhenHidden"`
	AutoStart       bool             `json:"autoStart"`
	Prefix          string           `json:"prefix"`
	Seed            string           `json:"seed"`
	Fingerprint     string           `json:"fingerprint,omitempty"`
	Pattern         string           `json:"pattern"`
	Flags           string           `json:"flags"`
	Messages        monitor.Messages `json:"messages"`
}

var (
	identPattern = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

	reservedGlobals = map[string]bool{
		"version":         true,
		"version_date":    true,
		"checkForUpdates": true,
		"onAppUpdate":     true,
		"verdrift":        true,
	}

	client = template.Must(template.New("client").
		Funcs(template.FuncMap{"js": jsLiteral}).
		Parse(clientTemplate))
)

// jsLiteral encodes v as a JavaScript literal. encoding/json escapes <, >
// and & as well as U+2028/U+2029.
func jsLiteral(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Validate checks that in can produce a meaningful snippet. Missing version
// metadata is a build error: a snippet with empty values would silently
// break drift detection.
func (in Input) Validate() error {
	if strings.TrimSpace(in.Version) == "" {
		return errors.NewBuildError("MISSING_VERSION", "version is required to generate the snippet", nil)
	}
	if strings.TrimSpace(in.CompileTime) == "" {
		return errors.NewBuildError("MISSING_COMPILE_TIME", "compile time is required to generate the snippet", nil)
	}
	if err := in.Options.Monitor.Validate(); err != nil {
		return err
	}
	for _, g := range in.Options.Globals {
		if !identPattern.MatchString(g.Key) {
			return errors.NewBuildError("INVALID_GLOBAL", fmt.Sprintf("global key %q is not an identifier", g.Key), nil)
		}
		if reservedGlobals[g.Key] {
			return errors.NewBuildError("INVALID_GLOBAL", fmt.Sprintf("global key %q is reserved", g.Key), nil)
		}
	}
	return nil
}

// Generate renders the client monitor.
func Generate(in Input) (string, error) {
	if err := in.Validate(); err != nil {
		return "", err
	}

	cfg := in.Options.Monitor
	defaults := monitor.DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaults.PollInterval
	}
	if cfg.Messages.Prompt == "" {
		cfg.Messages.Prompt = defaults.Messages.Prompt
	}
	if cfg.Messages.Success == "" {
		cfg.Messages.Success = defaults.Messages.Success
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = defaults.KeyPrefix
	}
	if cfg.SeedPolicy == "" {
		cfg.SeedPolicy = defaults.SeedPolicy
	}
	if in.Fingerprint.IsZero() {
		// Unbundled pages have no build identity; only the manual
		// checkForUpdates entry point stays available.
		cfg.AutoStart = false
		cfg.PauseWhenHidden = false
	}

	data := struct {
		Config       clientConfig
		Version      string
		CompileTime  string
		Globals      []Global
		ConsoleLines []string
	}{
		Config: clientConfig{
			URL:             cfg.URL,
			Interval:        cfg.PollInterval.Milliseconds(),
			PauseWhenHidden: cfg.PauseWhenHidden,
			AutoStart:       cfg.AutoStart,
			Prefix:          cfg.KeyPrefix,
			Seed:            string(cfg.SeedPolicy),
			Fingerprint:     in.Fingerprint.String(),
			Pattern:         fingerprint.Pattern,
			Flags:           fingerprint.Flags,
			Messages:        cfg.Messages,
		},
		Version:      in.Version,
		CompileTime:  in.CompileTime,
		Globals:      in.Options.Globals,
		ConsoleLines: in.Options.ConsoleLines,
	}

	var buf bytes.Buffer
	if err := client.Execute(&buf, data); err != nil {
		return "", errors.NewBuildError("SNIPPET_RENDER", "failed to render snippet", err)
	}
	return buf.String(), nil
}

// Tag wraps script in a <script> element. A non-empty nonce is emitted for
// pages served under a nonce-based Content-Security-Policy.
func Tag(script, nonce string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		open := "<script"
		if nonce != "" {
			open += ` nonce="` + templ.EscapeString(nonce) + `"`
		}
		if _, err := io.WriteString(w, open+">"); err != nil {
			return err
		}
		if _, err := io.WriteString(w, script); err != nil {
			return err
		}
		_, err := io.WriteString(w, "</script>")
		return err
	})
}

// RenderTag renders Tag into a byte slice.
func RenderTag(ctx context.Context, script, nonce string) ([]byte, error) {
	var buf bytes.Buffer
	if err := Tag(script, nonce).Render(ctx, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
