package cli

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/abhishekbhakat/liqui-speak/internal/core/downloader"
	"github.com/abhishekbhakat/liqui-speak/internal/core/provision"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var fullCheck bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the provisioned model files",
	Args:  usageArgs(cobra.NoArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		pl, err := provision.Current()
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Model directory: %s\n", cfg.ModelDir)
		fmt.Fprintf(w, "Platform:        %s\n", pl)

		m, err := provision.LoadManifest(cfg.ModelDir)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				fmt.Fprintln(w, "Manifest:        none")
			} else {
				fmt.Fprintf(w, "Manifest:        unreadable (%v)\n", err)
			}
		} else {
			fmt.Fprintf(w, "Repository:      %s\n", m.Repo)
			fmt.Fprintf(w, "Updated:         %s\n", m.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
			fmt.Fprintln(w, "Files:")
			for _, rel := range m.Paths() {
				e := m.Assets[rel]
				fmt.Fprintf(w, "  %-52s %10s  %s\n", rel, downloader.FormatBytes(e.Size), e.Kind)
			}
		}

		if _, err := provision.Verify(cfg, pl, fullCheck); err != nil {
			return err
		}
		color.New(color.FgGreen).Fprintln(w, "Ready")
		return nil
	},
}

func init() {
	statusCmd.Flags().BoolVar(&fullCheck, "full", false, "verify SHA-256 checksums instead of sizes and times")
	rootCmd.AddCommand(statusCmd)
}
