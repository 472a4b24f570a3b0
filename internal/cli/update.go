package cli

import (
	"github.com/abhishekbhakat/liqui-speak/internal/updater"
	"github.com/spf13/cobra"
)

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Update liqui-speak to the latest release",
	Args:  usageArgs(cobra.NoArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		return updater.Update(cmd.Context(), cmd.ErrOrStderr())
	},
}

func init() {
	rootCmd.AddCommand(updateCmd)
}
