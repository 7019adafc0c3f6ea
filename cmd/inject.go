package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/conneroisu/verdrift/internal/errors"
)

var injectCmd = &cobra.Command{
	Use:   "inject <index.html>",
	Short: "Stamp a built HTML document with the drift monitor",
	Long: `Inject the drift monitor into the head of a built HTML document.

The version comes from --app-version or the version field of package.json and
is required. The baseline fingerprint is taken from the document's own entry
script.

Examples:
  verdrift inject dist/index.html                      # Rewrite in place
  verdrift inject dist/index.html -o public/index.html # Write elsewhere
  verdrift inject dist/index.html --dry-run            # Print the result`,
	Args: cobra.ExactArgs(1),
	RunE: runInject,
}

var (
	injectOut    string
	injectDryRun bool
)

func init() {
	rootCmd.AddCommand(injectCmd)

	injectCmd.Flags().StringVarP(&injectOut, "out", "o", "", "Output file (default: rewrite the input)")
	injectCmd.Flags().BoolVar(&injectDryRun, "dry-run", false, "Print the stamped document instead of writing it")
	addBuildFlags(injectCmd.Flags())
	addMonitorFlags(injectCmd.Flags())
}

func runInject(cmd *cobra.Command, args []string) error {
	if err := bindFlags(cmd, append(buildBindings, monitorBindings...)...); err != nil {
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
	ctx := commandContext(cmd)

	path := args[0]
	info, err := os.Stat(path)
	if err != nil {
		return errors.NewIOError("READ_FAILED", "cannot read document", err).WithFile(path)
	}
	doc, err := os.ReadFile(path)
	if err != nil {
		return errors.NewIOError("READ_FAILED", "cannot read document", err).WithFile(path)
	}

	injector, err := newInjector(cfg)
	if err != nil {
		return err
	}

	stamped, err := injector.Stamp(ctx, doc)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if !stamped.Found {
		logger.Warn(ctx, nil, "No bundle fingerprint found, the monitor will stay idle", "file", path)
	}

	if injectDryRun {
		_, err := cmd.OutOrStdout().Write(stamped.Document)
		return err
	}

	target := injectOut
	if target == "" {
		target = path
	}
	if err := writeFileAtomic(target, stamped.Document, info.Mode().Perm()); err != nil {
		return errors.NewIOError("WRITE_FAILED", "cannot write stamped document", err).WithFile(target)
	}

	meta := injector.Metadata()
	fmt.Fprintf(cmd.OutOrStdout(), "✅ Stamped %s with %s (fingerprint %q)\n", target, meta.Label(), stamped.Fingerprint)
	return nil
}

// writeFileAtomic replaces path through a temporary file in the same
// directory so a served document is never half written.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
