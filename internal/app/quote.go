package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"swapquoter/internal/metrics"
	"swapquoter/internal/orchestrate"
	"swapquoter/internal/quote"
)

// QuoteOptions parameterise a one-shot quote round.
type QuoteOptions struct {
	PaySymbol     string
	ReceiveSymbol string
	ChainID       int64
	// ReceiveChainID differs from ChainID for bridge quotes; zero means
	// same-chain.
	ReceiveChainID int64
	Amount         decimal.Decimal
	SlippageBps    int64
	UserAddress    string
	// SelectBest additionally prepares the best candidate's execution
	// sequence and prints its steps.
	SelectBest bool
	// MaxAmount caps the amount by wallet balance before quoting.
	MaxAmount bool
}

// WatchOptions parameterise the continuous re-quoting loop.
type WatchOptions struct {
	QuoteOptions
	Interval time.Duration
}

func (a *App) buildIntent(ctx context.Context, o *orchestrate.Orchestrator, opts QuoteOptions) (quote.TradeIntent, error) {
	if err := a.chainIDFor(opts.ChainID); err != nil {
		return quote.TradeIntent{}, err
	}
	receiveChain := opts.ReceiveChainID
	if receiveChain == 0 {
		receiveChain = opts.ChainID
	}

	payToken, err := a.ResolveToken(opts.PaySymbol, opts.ChainID)
	if err != nil {
		return quote.TradeIntent{}, err
	}
	receiveToken, err := a.ResolveToken(opts.ReceiveSymbol, receiveChain)
	if err != nil {
		return quote.TradeIntent{}, err
	}

	slippage := opts.SlippageBps
	if slippage <= 0 {
		slippage = a.Config.Quoting.DefaultSlippageBps
	}

	user := common.HexToAddress(opts.UserAddress)
	amount := opts.Amount

	if opts.MaxAmount {
		capped, err := o.MaxPayAmount(ctx, payToken, user)
		if err != nil {
			return quote.TradeIntent{}, fmt.Errorf("resolve max amount: %w", err)
		}
		if capped.LessThan(amount) {
			a.Logger.Info().Str("amount", amount.String()).Str("capped", capped.String()).Msg("amount capped by wallet balance")
			amount = capped
		}
	}

	return quote.TradeIntent{
		ChainID:      opts.ChainID,
		PayToken:     payToken,
		ReceiveToken: receiveToken,
		PayAmount:    amount,
		SlippageBps:  slippage,
		UserAddress:  user,
		SourceIDs:    a.Config.EnabledSourceIDs(),
	}, nil
}

// Quote runs one round to completion and prints the ranked list.
func (a *App) Quote(ctx context.Context, opts QuoteOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	var sink orchestrate.RoundSink
	if store != nil {
		sink = store
	}

	orch := a.newOrchestrator(ctx, sink, 0)
	defer orch.Close()

	intent, err := a.buildIntent(ctx, orch, opts)
	if err != nil {
		return err
	}
	if !intent.Valid() {
		return errors.New("incomplete trade parameters; nothing to quote")
	}

	orch.SetTradeIntent(intent)
	if err := orch.WaitRound(ctx); err != nil {
		return err
	}

	ranked := orch.Snapshot()
	printRanked(os.Stdout, ranked)

	if opts.SelectBest {
		best := ""
		for _, rq := range ranked {
			if rq.IsBest {
				best = rq.Candidate.Key()
				break
			}
		}
		if best == "" {
			return errors.New("no executable candidate to select")
		}
		prep, err := orch.SelectCandidate(ctx, best)
		if err != nil {
			return err
		}
		printPrepared(os.Stdout, best, prep)
	}

	return nil
}

// Watch re-quotes the same intent on an interval until interrupted,
// persisting each completed round and serving metrics when enabled.
func (a *App) Watch(ctx context.Context, opts WatchOptions) error {
	if opts.Interval <= 0 {
		return errors.New("watch interval must be greater than zero")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; rounds will not be persisted")
	}
	if closeStore != nil {
		defer closeStore()
	}

	var sink orchestrate.RoundSink
	if store != nil {
		sink = store
	}

	if a.Config.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		srv := &http.Server{Addr: a.Config.Metrics.ListenAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.Logger.Error().Err(err).Msg("metrics server failed")
			}
		}()
		defer srv.Close()
		a.Logger.Info().Str("addr", a.Config.Metrics.ListenAddr).Msg("metrics listener started")
	}

	orch := a.newOrchestrator(ctx, sink, 0)
	defer orch.Close()

	orch.AddListener(orchestrate.ListenerFunc(func(u orchestrate.Update) {
		if !u.Done {
			return
		}
		for _, rq := range u.Quotes {
			if rq.IsBest {
				a.Logger.Info().
					Uint64("generation", u.Generation).
					Str("best", rq.Candidate.Key()).
					Str("net_fiat", rq.NetFiatValue.StringFixed(2)).
					Msg("round complete")
				return
			}
		}
		a.Logger.Warn().Uint64("generation", u.Generation).Msg("round complete with no executable candidate")
	}))

	intent, err := a.buildIntent(ctx, orch, opts.QuoteOptions)
	if err != nil {
		return err
	}
	orch.SetTradeIntent(intent)

	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			orch.RequestRefresh()
		}
	}
}

func printRanked(w *os.File, ranked []quote.RankedQuote) {
	writer := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Source\tReceive\tNet Fiat\tBest\tVs Best\tStatus")
	for _, rq := range ranked {
		c := rq.Candidate
		status := "ok"
		if !c.Resolved {
			status = "loading"
		} else if c.Reason != quote.ReasonNone {
			status = c.Reason.UserMessage()
		} else if rq.Expired {
			status = "expired"
		}

		best := ""
		if rq.IsBest {
			best = "*"
		}
		delta := ""
		if rq.DeltaFromBestPct != nil {
			delta = "-" + rq.DeltaFromBestPct.StringFixed(2) + "%"
		}
		amount := ""
		if c.Resolved && c.ToAmount.IsPositive() {
			amount = c.ToAmount.String()
		}
		net := ""
		if c.Resolved && c.Reason == quote.ReasonNone {
			net = rq.NetFiatValue.StringFixed(2)
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\n", c.Key(), amount, net, best, delta, status)
	}
	writer.Flush()
}

func printPrepared(w *os.File, key string, prep *quote.PreparedExecution) {
	fmt.Fprintf(w, "\nprepared execution for %s (two-step approve: %v, gas: %d units @ %s wei, $%s)\n",
		key, prep.ShouldTwoStepApprove, prep.Gas.EstimatedUnits, prep.Gas.PriceWei, prep.Gas.USDValue.StringFixed(2))
	writer := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "#\tKind\tTo\tValue\tChain")
	for i, step := range prep.Steps {
		fmt.Fprintf(writer, "%d\t%s\t%s\t%s\t%d\n", i+1, step.Kind, step.To.Hex(), step.Value, step.ChainID)
	}
	writer.Flush()
}
