package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// flagBinding ties a command-line flag to a configuration key.
type flagBinding struct {
	flag string
	key  string
}

var (
	buildBindings = []flagBinding{
		{"app-version", "build.version"},
		{"project-dir", "build.project_dir"},
		{"deployment-path", "build.deployment_path"},
		{"nonce", "build.nonce"},
	}

	monitorBindings = []flagBinding{
		{"url", "monitor.url"},
		{"interval", "monitor.poll_interval"},
		{"auto-start", "monitor.auto_start"},
		{"pause-when-hidden", "monitor.pause_when_hidden"},
		{"seed-policy", "monitor.seed_policy"},
		{"prompt-message", "monitor.prompt_message"},
		{"success-message", "monitor.success_message"},
	}

	serverBindings = []flagBinding{
		{"port", "server.port"},
		{"host", "server.host"},
		{"root", "server.root"},
		{"index", "server.index"},
		{"spa-fallback", "server.spa_fallback"},
	}

	watchBindings = []flagBinding{
		{"handler", "watch.handler"},
		{"state-file", "watch.state_file"},
		{"on-update", "watch.on_update"},
		{"push-url", "watch.push_url"},
	}
)

func addBuildFlags(fs *pflag.FlagSet) {
	fs.String("app-version", "", "Application version (default: version field of package.json)")
	fs.String("project-dir", ".", "Directory containing package.json")
	fs.String("deployment-path", "", "Deployment path the storage namespace is derived from")
	fs.String("nonce", "", "CSP nonce for the injected script element")
}

func addMonitorFlags(fs *pflag.FlagSet) {
	fs.String("url", "", "Page to poll (default: the page the monitor runs on)")
	fs.Duration("interval", 0, "Poll interval (default 5m)")
	fs.Bool("auto-start", true, "Start polling automatically")
	fs.Bool("pause-when-hidden", true, "Pause polling while the page is hidden")
	fs.String("seed-policy", "", "Baseline seeding: always or first-load")
	fs.String("prompt-message", "", "Confirmation shown when a new version is found")
	fs.String("success-message", "", "Message shown after accepting an update")
}

func addServerFlags(fs *pflag.FlagSet) {
	fs.IntP("port", "p", 8080, "Port to serve on")
	fs.String("host", "localhost", "Host to bind to")
	fs.String("root", "dist", "Built application directory")
	fs.String("index", "index.html", "Index document inside root")
	fs.Bool("spa-fallback", true, "Serve the index for unknown extensionless paths")
}

func addWatchFlags(fs *pflag.FlagSet) {
	fs.String("handler", "", "Update handler: prompt, log or auto")
	fs.String("state-file", "", "File the baseline fingerprint is persisted in")
	fs.StringSlice("on-update", nil, "Command run after an update is accepted")
	fs.String("push-url", "", "Events endpoint of a verdrift server (ws:// or wss://)")
}

// bindFlags binds the flags a command actually defines. Binding happens when
// the command runs so commands sharing a key do not overwrite each other's
// bindings. Only flags set on the command line take precedence over the
// configuration file and environment.
func bindFlags(cmd *cobra.Command, bindings ...flagBinding) error {
	for _, b := range bindings {
		f := cmd.Flags().Lookup(b.flag)
		if f == nil || !f.Changed {
			continue
		}
		if err := viper.BindPFlag(b.key, f); err != nil {
			return fmt.Errorf("binding --%s: %w", b.flag, err)
		}
	}
	return nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
