package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/conneroisu/verdrift/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve a built application with the drift monitor injected",
	Long: `Serve a built single-page application. Every HTML response gets the
monitor injected with the fingerprint of the exact document served, unknown
client-side routes fall back to the index, and rebuilds of the index are
announced on ` + server.EventsPath + `.

Examples:
  verdrift serve                       # Serve ./dist on localhost:8080
  verdrift serve --root build -p 3000  # Serve ./build on port 3000`,
	Aliases: []string{"s"},
	RunE:    runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	addServerFlags(serveCmd.Flags())
	addBuildFlags(serveCmd.Flags())
	addMonitorFlags(serveCmd.Flags())
}

func runServe(cmd *cobra.Command, args []string) error {
	bindings := append(append(serverBindings, buildBindings...), monitorBindings...)
	if err := bindFlags(cmd, bindings...); err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cmd)
	if err != nil {
		return err
	}

	injector, err := newInjector(cfg)
	if err != nil {
		return err
	}

	srv, err := server.New(cfg, injector, logger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	// Create context that cancels on interrupt
	ctx, stop := signal.NotifyContext(commandContext(cmd), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(cmd.OutOrStdout(), "Serving %s (%s) at http://%s:%d\n",
		cfg.Server.Root, injector.Metadata().Label(), cfg.Server.Host, cfg.Server.Port)

	// Start returns once ctx is cancelled and the server has shut down.
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}
