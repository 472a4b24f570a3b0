package cli

import (
	"fmt"
	"runtime"

	"github.com/abhishekbhakat/liqui-speak/internal/core/version"
	"github.com/abhishekbhakat/liqui-speak/internal/updater"
	"github.com/spf13/cobra"
)

var checkUpdate bool

// latestRelease is replaced in tests.
var latestRelease = updater.CheckUpdate

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  usageArgs(cobra.NoArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "liqui-speak v%s %s/%s\n", version.Version, runtime.GOOS, runtime.GOARCH)
		if !checkUpdate {
			return nil
		}

		latest, newer, err := latestRelease(cmd.Context())
		if err != nil {
			return err
		}
		switch {
		case latest == "":
			fmt.Fprintln(w, "No releases published yet")
		case newer:
			fmt.Fprintf(w, "Update available: v%s (run 'liqui-speak update')\n", latest)
		default:
			fmt.Fprintln(w, "Up to date")
		}
		return nil
	},
}

func init() {
	versionCmd.Flags().BoolVar(&checkUpdate, "check", false, "check GitHub for a newer release")
	rootCmd.AddCommand(versionCmd)
}
