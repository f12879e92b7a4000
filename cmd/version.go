package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/conneroisu/pagecraft/internal/version"
)

var (
	versionShort    bool
	versionDetailed bool
	versionFormat   string
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		switch {
		case versionFormat == "json":
			data, err := json.MarshalIndent(version.GetBuildInfo(), "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(out, string(data))
		case versionShort:
			fmt.Fprintln(out, version.GetShortVersion())
		case versionDetailed:
			fmt.Fprintln(out, version.GetDetailedVersion())
		case versionFormat == "text" || versionFormat == "":
			fmt.Fprintf(out, "pagecraft %s\n", version.GetVersion())
		default:
			return fmt.Errorf("unsupported format %q (valid: text, json)", versionFormat)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().BoolVar(&versionShort, "short", false, "Print only the version")
	versionCmd.Flags().BoolVar(&versionDetailed, "detailed", false, "Print build details")
	versionCmd.Flags().StringVar(&versionFormat, "format", "text", "Output format (text|json)")
}
