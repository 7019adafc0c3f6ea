package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/verdrift/internal/config"
	"github.com/conneroisu/verdrift/internal/errors"
	"github.com/conneroisu/verdrift/internal/fingerprint"
	"github.com/conneroisu/verdrift/internal/logging"
	"github.com/conneroisu/verdrift/internal/monitor"
	"github.com/conneroisu/verdrift/internal/push"
)

var watchCmd = &cobra.Command{
	Use:   "watch [url]",
	Short: "Watch a deployment for new builds from a terminal",
	Long: `Run the drift monitor headless against a deployed page.

On start the page is loaded once and its fingerprint seeded as the baseline
(per --seed-policy). The page is then polled; when the fingerprint changes
the configured handler decides what happens:

  prompt  ask on the terminal, then run --on-update when accepted
  log     report the new build on every check and change nothing
  auto    accept immediately and run --on-update

The baseline is kept in --state-file. SIGUSR1 marks the watcher hidden
(polling pauses), SIGUSR2 marks it visible again (one immediate check, then
polling resumes). With --push-url the watcher also checks whenever a
verdrift server announces a rebuild.

Examples:
  verdrift watch https://app.example.com/
  verdrift watch https://app.example.com/ --handler auto --on-update ./deploy-hook.sh
  verdrift watch https://app.example.com/ --push-url wss://app.example.com/__verdrift/events`,
	Args:    cobra.MaximumNArgs(1),
	Aliases: []string{"w"},
	RunE:    runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	addMonitorFlags(watchCmd.Flags())
	addWatchFlags(watchCmd.Flags())
	watchCmd.Flags().String("deployment-path", "", "Deployment path the storage namespace is derived from (default: the URL)")
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadMonitorCommand(cmd, args)
	if err != nil {
		return err
	}

	fetcher := monitor.NewHTTPFetcher(nil)
	m, err := newMonitor(cmd, cfg, logger, fetcher)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Loading the page once is the headless equivalent of a page load.
	if err := seedFromPage(ctx, m, fetcher, logger); err != nil {
		return err
	}

	go forwardVisibility(ctx, m, logger)

	if cfg.Watch.PushURL != "" {
		client := &push.Client{
			URL:    cfg.Watch.PushURL,
			Logger: logger,
			OnEvent: func(ctx context.Context, ev push.Event) {
				if ev.Type == push.EventFingerprint {
					m.CheckForUpdates(ctx)
				}
			},
		}
		go client.Run(ctx)
	}

	settings := m.Config()
	fmt.Fprintf(cmd.OutOrStdout(), "Watching %s every %s (handler %s, state %s)\n",
		settings.URL, settings.PollInterval, cfg.Watch.Handler, cfg.Watch.StateFile)

	return m.Run(ctx)
}

// loadMonitorCommand resolves configuration for the commands that run a
// monitor against a URL given as argument or configuration.
func loadMonitorCommand(cmd *cobra.Command, args []string) (*config.Config, logging.Logger, error) {
	bindings := append(append(monitorBindings, watchBindings...), flagBinding{"deployment-path", "build.deployment_path"})
	if err := bindFlags(cmd, bindings...); err != nil {
		return nil, nil, err
	}
	if len(args) == 1 {
		viper.Set("monitor.url", args[0])
	}

	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if cfg.Monitor.URL == "" {
		return nil, nil, errors.ErrInvalidConfig("monitor.url", "", "a page URL is required")
	}

	logger, err := newLogger(cmd)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// newMonitor wires the persisted store, the configured handler and the
// reload command into a monitor.
func newMonitor(cmd *cobra.Command, cfg *config.Config, logger logging.Logger, fetcher monitor.Fetcher) (*monitor.Monitor, error) {
	settings := cfg.MonitorSettings()
	if cfg.Build.DeploymentPath == "" {
		settings.KeyPrefix = monitor.URLKeyPrefix(settings.URL)
	}

	handler, err := newUpdateHandler(cfg.Watch.Handler, settings.Messages, cmd.InOrStdin(), cmd.OutOrStdout(), logger)
	if err != nil {
		return nil, err
	}

	opts := []monitor.Option{
		monitor.WithStore(monitor.NewFileStore(cfg.Watch.StateFile)),
		monitor.WithFetcher(fetcher),
		monitor.WithHandler(handler),
		monitor.WithLogger(logger),
	}
	if len(cfg.Watch.OnUpdate) > 0 {
		opts = append(opts, monitor.WithReloader(&monitor.CommandReloader{
			Args:   cfg.Watch.OnUpdate,
			Stdout: cmd.OutOrStdout(),
			Stderr: cmd.ErrOrStderr(),
		}))
	}

	return monitor.New(settings, opts...)
}

func newUpdateHandler(name string, messages monitor.Messages, in io.Reader, out io.Writer, logger logging.Logger) (monitor.UpdateHandler, error) {
	switch name {
	case config.HandlerPrompt:
		return &monitor.PromptHandler{
			Prompter: monitor.NewTerminalPrompter(in, out),
			Messages: messages,
		}, nil
	case config.HandlerLog, "":
		return &monitor.LogHandler{Logger: logger}, nil
	case config.HandlerAuto:
		return monitor.AutoApplyHandler{}, nil
	default:
		return nil, errors.ErrInvalidConfig("watch.handler", name, "must be prompt, log or auto")
	}
}

// seedFromPage fetches the page once and seeds its fingerprint. A page that
// cannot be loaded at start is fatal, as a browser would show nothing either.
func seedFromPage(ctx context.Context, m *monitor.Monitor, fetcher monitor.Fetcher, logger logging.Logger) error {
	url := m.Config().URL
	html, err := fetcher.Fetch(ctx, url)
	if err != nil {
		return err
	}

	fp, found := fingerprint.Extract(html)
	if !found {
		logger.Warn(ctx, nil, "No bundle fingerprint on page, nothing to compare against", "url", url)
	}
	return m.Seed(ctx, fp)
}

// forwardVisibility turns the visibility signals into SetVisible calls until
// ctx is done.
func forwardVisibility(ctx context.Context, m *monitor.Monitor, logger logging.Logger) {
	hidden, visible := visibilitySignals()
	if hidden == nil || visible == nil {
		return
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, hidden, visible)
	defer signal.Stop(sigs)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigs:
			isVisible := sig == visible
			logger.Debug(ctx, "Visibility changed", "visible", isVisible)
			m.SetVisible(ctx, isVisible)
		}
	}
}
