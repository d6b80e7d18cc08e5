package cli

import (
	"time"

	"github.com/spf13/cobra"

	"swapquoter/internal/app"
)

var watchInterval time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Continuously re-quote a trade on an interval",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := quoteOptions()
		if err != nil {
			return err
		}
		return getApp().Watch(cmd.Context(), app.WatchOptions{
			QuoteOptions: opts,
			Interval:     watchInterval,
		})
	},
}

func init() {
	registerQuoteFlags(watchCmd)
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 15*time.Second, "Refresh interval between rounds")
}
