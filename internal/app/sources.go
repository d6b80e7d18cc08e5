package app

import (
	"fmt"
	"os"
	"text/tabwriter"
)

// Sources prints the configured quote sources and their contracts.
func (a *App) Sources() error {
	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tKind\tEnabled\tBase URL\tFee %\tContracts")
	for _, src := range a.Config.Sources {
		fmt.Fprintf(writer, "%s\t%s\t%v\t%s\t%.2f\t%d\n",
			src.ID, src.Kind, src.Enabled, src.BaseURL, src.FeeRatePct, len(src.Contracts))
	}
	writer.Flush()

	for _, src := range a.Config.Sources {
		if len(src.Contracts) == 0 {
			continue
		}
		fmt.Fprintf(os.Stdout, "\n%s contracts:\n", src.ID)
		cw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(cw, "  Chain\tRouter\tSpender")
		for _, c := range src.Contracts {
			spender := c.Spender
			if spender == "" {
				spender = c.Router
			}
			fmt.Fprintf(cw, "  %d\t%s\t%s\n", c.ChainID, c.Router, spender)
		}
		cw.Flush()
	}
	return nil
}
