package cli

import (
	"github.com/spf13/cobra"

	"swapquoter/internal/app"
)

var (
	historyLimit   int
	historyRoundID int64
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show persisted quote rounds",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().History(cmd.Context(), app.HistoryOptions{
			Limit:   historyLimit,
			RoundID: historyRoundID,
		})
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum rounds to list")
	historyCmd.Flags().Int64Var(&historyRoundID, "round", 0, "Show per-candidate results for one round id")
}
