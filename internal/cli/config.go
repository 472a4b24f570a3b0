package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/abhishekbhakat/liqui-speak/internal/core/downloader"
	"github.com/abhishekbhakat/liqui-speak/internal/core/provision"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	force       bool
	installDeps bool
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Download the model and runner for this platform",
	Long: `Prepare this machine for transcription.

Checks for ffmpeg, downloads the LFM2-Audio model files and the inference
runner for this platform into the model directory, and records them in a
manifest. Files that are already present and intact are not downloaded again.`,
	Args: usageArgs(cobra.NoArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger(cmd, cfg)
		defer logger.Close()

		stderr := cmd.ErrOrStderr()
		p, err := provision.New(cfg,
			provision.WithLogger(logger.Logger),
			provision.WithOutput(stderr))
		if err != nil {
			return err
		}

		report, err := p.EnsureReady(cmd.Context(), provision.Options{
			Verbose:     verbose,
			Force:       force,
			InstallDeps: installDeps,
		})
		if err != nil {
			return err
		}
		printReport(stderr, report)
		return nil
	},
}

func init() {
	configCmd.Flags().BoolVar(&force, "force", false, "download every file again")
	configCmd.Flags().BoolVar(&installDeps, "install-deps", false, "install ffmpeg with the system package manager")
	rootCmd.AddCommand(configCmd)
}

func printReport(w io.Writer, r *provision.Report) {
	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	fmt.Fprintln(w)
	for _, a := range r.Assets {
		switch a.Action {
		case provision.ActionPresent:
			green.Fprint(w, "  ✓ ")
		default:
			cyan.Fprint(w, "  ↓ ")
		}
		fmt.Fprintf(w, "%-40s %10s  %s\n", a.Description, downloader.FormatBytes(a.Size), a.Action)
	}

	if r.Deps.FFmpeg != "" {
		green.Fprint(w, "  ✓ ")
		fmt.Fprintf(w, "%-40s %s\n", "ffmpeg", r.Deps.FFmpeg)
	} else {
		yellow.Fprint(w, "  - ")
		fmt.Fprintf(w, "%-40s %s\n", "ffmpeg", "not found, using embedded converter")
	}

	for _, hint := range r.Hints {
		yellow.Fprint(w, "Hint: ")
		fmt.Fprintln(w, hint)
	}

	fmt.Fprintln(w)
	green.Fprintf(w, "Ready for %s", r.Platform)
	fmt.Fprintf(w, " (%s, %s)\n", r.ModelDir, r.Elapsed.Round(time.Millisecond))
}
