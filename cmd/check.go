package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/verdrift/internal/errors"
	"github.com/conneroisu/verdrift/internal/monitor"
)

var checkCmd = &cobra.Command{
	Use:   "check [url]",
	Short: "Compare a deployment against the persisted baseline once",
	Long: `Run a single drift check against the baseline in the state file, the way
the monitor's manual check does. Without a baseline nothing is fetched;
use --seed to record the current build first.

Examples:
  verdrift check https://app.example.com/ --seed            # Record the current build
  verdrift check https://app.example.com/                   # Compare against it
  verdrift check https://app.example.com/ --fail-on-drift   # Non-zero exit on drift (CI)
  verdrift check https://app.example.com/ --format json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCheck,
}

var (
	checkSeed        bool
	checkFailOnDrift bool
	checkFormat      string
)

func init() {
	rootCmd.AddCommand(checkCmd)

	checkCmd.Flags().BoolVar(&checkSeed, "seed", false, "Seed the baseline from the current page before checking")
	checkCmd.Flags().BoolVar(&checkFailOnDrift, "fail-on-drift", false, "Exit with an error when a new build is found")
	checkCmd.Flags().StringVarP(&checkFormat, "format", "f", "text", "Output format (text, json, yaml)")
	addMonitorFlags(checkCmd.Flags())
	addWatchFlags(checkCmd.Flags())
	checkCmd.Flags().String("deployment-path", "", "Deployment path the storage namespace is derived from (default: the URL)")
}

// checkReport is the printable form of one check.
type checkReport struct {
	URL        string    `json:"url" yaml:"url"`
	Outcome    string    `json:"outcome" yaml:"outcome"`
	Baseline   string    `json:"baseline,omitempty" yaml:"baseline,omitempty"`
	Observed   string    `json:"observed,omitempty" yaml:"observed,omitempty"`
	Resolution string    `json:"resolution,omitempty" yaml:"resolution,omitempty"`
	Error      string    `json:"error,omitempty" yaml:"error,omitempty"`
	CheckedAt  time.Time `json:"checked_at" yaml:"checked_at"`
}

func runCheck(cmd *cobra.Command, args []string) error {
	switch checkFormat {
	case "text", "json", "yaml":
	default:
		return fmt.Errorf("unsupported format: %s (supported: text, json, yaml)", checkFormat)
	}

	cfg, logger, err := loadMonitorCommand(cmd, args)
	if err != nil {
		return err
	}

	fetcher := monitor.NewHTTPFetcher(nil)
	m, err := newMonitor(cmd, cfg, logger, fetcher)
	if err != nil {
		return err
	}
	ctx := commandContext(cmd)

	if checkSeed {
		if err := seedFromPage(ctx, m, fetcher, logger); err != nil {
			return err
		}
	}

	res := m.CheckForUpdates(ctx)
	report := checkReport{
		URL:       m.Config().URL,
		Outcome:   res.Outcome.String(),
		Baseline:  res.Baseline.String(),
		Observed:  res.Observed.String(),
		CheckedAt: res.At,
	}
	if res.Outcome == monitor.OutcomeDrifted {
		report.Resolution = res.Resolution.String()
	}
	if res.Err != nil {
		report.Error = res.Err.Error()
	}

	if err := writeCheckReport(cmd.OutOrStdout(), checkFormat, report); err != nil {
		return err
	}

	if checkFailOnDrift && res.Outcome == monitor.OutcomeDrifted && res.Resolution != monitor.Accepted {
		return errors.NewValidationError("DRIFT_DETECTED",
			fmt.Sprintf("deployed build %s differs from baseline %s", res.Observed, res.Baseline))
	}
	return nil
}

func writeCheckReport(w io.Writer, format string, report checkReport) error {
	switch format {
	case "json":
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(report)
	case "yaml":
		encoder := yaml.NewEncoder(w)
		encoder.SetIndent(2)
		if err := encoder.Encode(report); err != nil {
			return err
		}
		return encoder.Close()
	}

	switch report.Outcome {
	case monitor.OutcomeNoBaseline.String():
		_, err := fmt.Fprintf(w, "No baseline recorded for %s yet (run with --seed)\n", report.URL)
		return err
	case monitor.OutcomeDrifted.String():
		_, err := fmt.Fprintf(w, "🔄 New build at %s: %s -> %s (%s)\n",
			report.URL, report.Baseline, report.Observed, report.Resolution)
		return err
	case monitor.OutcomeCurrent.String():
		_, err := fmt.Fprintf(w, "✅ %s is current (%s)\n", report.URL, report.Baseline)
		return err
	case monitor.OutcomeFailed.String():
		_, err := fmt.Fprintf(w, "❌ Check of %s failed: %s\n", report.URL, report.Error)
		return err
	default:
		_, err := fmt.Fprintf(w, "%s: %s\n", report.URL, report.Outcome)
		return err
	}
}
