package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/conneroisu/verdrift/internal/errors"
	"github.com/conneroisu/verdrift/internal/fingerprint"
	"github.com/conneroisu/verdrift/internal/snippet"
)

var snippetCmd = &cobra.Command{
	Use:   "snippet [index.html]",
	Short: "Print the drift monitor script",
	Long: `Print the generated monitor for inclusion by other tooling.

The baseline fingerprint is read from the given document, or taken from
--fingerprint. Without either the monitor is generated idle.

Examples:
  verdrift snippet dist/index.html          # Script for a built document
  verdrift snippet --fingerprint ab12cd34   # Script for a known bundle
  verdrift snippet dist/index.html --tag    # Complete <script> element`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSnippet,
}

var (
	snippetTag         bool
	snippetFingerprint string
)

func init() {
	rootCmd.AddCommand(snippetCmd)

	snippetCmd.Flags().BoolVar(&snippetTag, "tag", false, "Wrap the script in a <script> element")
	snippetCmd.Flags().StringVar(&snippetFingerprint, "fingerprint", "", "Baseline fingerprint to embed")
	addBuildFlags(snippetCmd.Flags())
	addMonitorFlags(snippetCmd.Flags())
}

func runSnippet(cmd *cobra.Command, args []string) error {
	if err := bindFlags(cmd, append(buildBindings, monitorBindings...)...); err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	injector, err := newInjector(cfg)
	if err != nil {
		return err
	}

	var script string
	if len(args) == 1 {
		doc, err := os.ReadFile(args[0])
		if err != nil {
			return errors.NewIOError("READ_FAILED", "cannot read document", err).WithFile(args[0])
		}
		script, _, _, err = injector.Script(doc)
		if err != nil {
			return err
		}
	} else {
		meta := injector.Metadata()
		script, err = snippet.Generate(snippet.Input{
			Version:     meta.Version,
			CompileTime: meta.CompileTime,
			Fingerprint: fingerprint.Fingerprint(snippetFingerprint),
			Options:     cfg.SnippetOptions(),
		})
		if err != nil {
			return err
		}
	}

	if !snippetTag {
		_, err := fmt.Fprintln(cmd.OutOrStdout(), script)
		return err
	}

	tag, err := snippet.RenderTag(commandContext(cmd), script, cfg.Build.Nonce)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(tag))
	return err
}
