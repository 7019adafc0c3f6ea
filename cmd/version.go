package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/conneroisu/verdrift/internal/version"
)

var (
	versionFormat string
	versionShort  bool
)

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Long: `Display version information for the verdrift binary.

Examples:
  verdrift version                # Show version and platform
  verdrift version --short        # Show short version only
  verdrift version --detailed     # Show detailed version info
  verdrift version --format json  # Output as JSON`,
	RunE: runVersionCommand,
}

func init() {
	rootCmd.AddCommand(versionCmd)

	versionCmd.Flags().StringVarP(&versionFormat, "format", "f", "text", "Output format (text, json)")
	versionCmd.Flags().BoolVar(&versionShort, "short", false, "Show short version only")
	versionCmd.Flags().Bool("detailed", false, "Show detailed version information")
}

func runVersionCommand(cmd *cobra.Command, args []string) error {
	detailed, _ := cmd.Flags().GetBool("detailed")
	out := cmd.OutOrStdout()

	switch versionFormat {
	case "json":
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(struct {
			*version.BuildInfo
			IsRelease bool `json:"is_release"`
		}{version.GetBuildInfo(), version.IsRelease()})
	case "text":
		switch {
		case versionShort:
			fmt.Fprintln(out, version.GetShortVersion())
		case detailed:
			fmt.Fprintln(out, version.GetDetailedVersion())
		default:
			info := version.GetBuildInfo()
			fmt.Fprintf(out, "verdrift %s\n", version.GetShortVersion())
			fmt.Fprintf(out, "Go: %s\n", info.GoVersion)
			fmt.Fprintf(out, "Platform: %s\n", info.Platform)
		}
		return nil
	default:
		return fmt.Errorf("unsupported format: %s (supported: text, json)", versionFormat)
	}
}
