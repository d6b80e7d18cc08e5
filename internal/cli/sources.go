package cli

import (
	"github.com/spf13/cobra"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List configured quote sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Sources()
	},
}
