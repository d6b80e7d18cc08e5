package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"
)

// HistoryOptions configure the history command.
type HistoryOptions struct {
	Limit int
	// RoundID, when nonzero, prints one round's per-candidate results
	// instead of the round list.
	RoundID int64
}

// History prints recent persisted quote rounds.
func (a *App) History(ctx context.Context, opts HistoryOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show history")
	}
	if closeStore != nil {
		defer closeStore()
	}

	if opts.RoundID > 0 {
		results, err := store.ListResultsForRound(ctx, opts.RoundID)
		if err != nil {
			return err
		}
		if len(results) == 0 {
			fmt.Fprintln(os.Stdout, "no results found")
			return nil
		}
		writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(writer, "Candidate\tReceive\tNet Fiat\tPass\tReason\tVs Best")
		for _, r := range results {
			delta := ""
			if r.DeltaFromBestPct != nil {
				delta = "-" + r.DeltaFromBestPct.StringFixed(2) + "%"
			}
			fmt.Fprintf(writer, "%s\t%s\t%s\t%v\t%s\t%s\n",
				r.CandidateKey, r.ToAmount.String(), r.NetFiatValue.StringFixed(2), r.Pass, r.Reason, delta)
		}
		writer.Flush()
		return nil
	}

	rounds, err := store.ListRecentRounds(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(rounds) == 0 {
		fmt.Fprintln(os.Stdout, "no rounds found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tTime (UTC)\tChain\tPair\tAmount\tBest\tBest Net Fiat\tGas Sort")
	for _, round := range rounds {
		fmt.Fprintf(writer, "%d\t%s\t%d\t%s->%s\t%s\t%s\t%s\t%v\n",
			round.ID,
			round.StartedAt.UTC().Format(time.RFC3339),
			round.ChainID,
			round.PaySymbol,
			round.ReceiveSymbol,
			round.PayAmount.String(),
			round.BestKey,
			round.BestNetFiat.StringFixed(2),
			round.IncludeGas,
		)
	}
	writer.Flush()
	return nil
}
