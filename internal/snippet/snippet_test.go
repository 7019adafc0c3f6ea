package snippet

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/verdrift/internal/errors"
	"github.com/conneroisu/verdrift/internal/fingerprint"
	"github.com/conneroisu/verdrift/internal/monitor"
)

func baseInput() Input {
	cfg := monitor.DefaultConfig()
	cfg.PollInterval = 30 * time.Second
	cfg.KeyPrefix = "verdrift_0a1b2c3d"
	return Input{
		Version:     "1.4.2",
		CompileTime: "2026-10-15 09:30:00",
		Fingerprint: "ab12cd34",
		Options:     Options{Monitor: cfg},
	}
}

var configPattern = regexp.MustCompile(`var cfg = (\{.*\});`)

func embeddedConfig(t *testing.T, script string) map[string]interface{} {
	t.Helper()
	m := configPattern.FindStringSubmatch(script)
	require.NotNil(t, m, "config literal not found")
	var cfg map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(m[1]), &cfg))
	return cfg
}

func TestGenerateEmbedsConfiguration(t *testing.T) {
	script, err := Generate(baseInput())
	require.NoError(t, err)

	assert.Contains(t, script, `w.version = "1.4.2";`)
	assert.Contains(t, script, `w.version_date = "2026-10-15 09:30:00";`)
	assert.Contains(t, script, "w.checkForUpdates = checkForUpdates;")
	assert.Contains(t, script, "w.onAppUpdate")

	cfg := embeddedConfig(t, script)
	assert.EqualValues(t, 30000, cfg["interval"])
	assert.Equal(t, true, cfg["pauseWhenHidden"])
	assert.Equal(t, true, cfg["autoStart"])
	assert.Equal(t, "verdrift_0a1b2c3d", cfg["prefix"])
	assert.Equal(t, "always", cfg["seed"])
	assert.Equal(t, "ab12cd34", cfg["fingerprint"])
	assert.Equal(t, fingerprint.Pattern, cfg["pattern"])
	assert.Equal(t, fingerprint.Flags, cfg["flags"])
	assert.NotContains(t, cfg, "url")

	messages, ok := cfg["messages"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, monitor.DefaultPrompt, messages["prompt"])
	assert.Equal(t, monitor.DefaultSuccess, messages["success"])
}

func TestGenerateWithoutFingerprintDisablesPolling(t *testing.T) {
	in := baseInput()
	in.Fingerprint = ""

	script, err := Generate(in)
	require.NoError(t, err)

	cfg := embeddedConfig(t, script)
	assert.NotContains(t, cfg, "fingerprint")
	assert.Equal(t, false, cfg["autoStart"])
	assert.Equal(t, false, cfg["pauseWhenHidden"])
	assert.Contains(t, script, `w.version = "1.4.2";`)
}

func TestGenerateEscapesValues(t *testing.T) {
	in := baseInput()
	in.Version = `</script><script>alert(1)</script>`
	in.Options.Monitor.Messages.Prompt = "Reload?\u2028now"
	in.Options.ConsoleLines = []string{"</script>"}
	in.Options.Globals = []Global{{Key: "buildInfo", Value: map[string]string{"x": "</script>"}}}

	script, err := Generate(in)
	require.NoError(t, err)

	assert.NotContains(t, strings.ToLower(script), "</script")
	assert.NotContains(t, script, "\u2028")
	assert.Contains(t, script, `w["buildInfo"] = {"x":"\u003c/script\u003e"};`)
	assert.Contains(t, script, `console.log("\u003c/script\u003e");`)
}

func TestGenerateValidation(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*Input)
	}{
		{"missing version", func(in *Input) { in.Version = " " }},
		{"missing compile time", func(in *Input) { in.CompileTime = "" }},
		{"global key not an identifier", func(in *Input) {
			in.Options.Globals = []Global{{Key: "a-b", Value: 1}}
		}},
		{"reserved global key", func(in *Input) {
			in.Options.Globals = []Global{{Key: "onAppUpdate", Value: 1}}
		}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			in := baseInput()
			tc.mutate(&in)

			script, err := Generate(in)
			require.Error(t, err)
			assert.Empty(t, script)
			assert.True(t, errors.IsBuildError(err))
		})
	}

	in := baseInput()
	in.Options.Monitor.SeedPolicy = "never"
	_, err := Generate(in)
	assert.Error(t, err)
}

func TestGenerateAppliesDefaults(t *testing.T) {
	script, err := Generate(Input{Version: "1.0.0", CompileTime: "now", Fingerprint: "f1"})
	require.NoError(t, err)

	cfg := embeddedConfig(t, script)
	assert.EqualValues(t, monitor.DefaultPollInterval.Milliseconds(), cfg["interval"])
	assert.Equal(t, "verdrift", cfg["prefix"])
	assert.Equal(t, "always", cfg["seed"])
}

func TestRenderTag(t *testing.T) {
	ctx := context.Background()

	out, err := RenderTag(ctx, "run()", "")
	require.NoError(t, err)
	assert.Equal(t, "<script>run()</script>", string(out))

	out, err = RenderTag(ctx, "run()", `n0nce"x`)
	require.NoError(t, err)
	assert.Equal(t, `<script nonce="n0nce&#34;x">run()</script>`, string(out))
}

func TestGeneratedScriptCarriesMarker(t *testing.T) {
	script, err := Generate(Input{Version: "1.0.0", CompileTime: "2026-10-15 09:00:00"})
	require.NoError(t, err)

	assert.Equal(t, 1, strings.Count(script, Marker))
	assert.True(t, IsStamped([]byte(script)))
	assert.False(t, IsStamped([]byte("<html></html>")))
}
