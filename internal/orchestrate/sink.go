package orchestrate

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"swapquoter/internal/quote"
)

// RoundResult is one candidate's outcome inside a completed round.
type RoundResult struct {
	Key              string
	ToAmount         decimal.Decimal
	NetFiatValue     decimal.Decimal
	Pass             bool
	Reason           string
	DeltaFromBestPct *decimal.Decimal
}

// RoundSummary describes a fully resolved quote round.
type RoundSummary struct {
	Generation    uint64
	StartedAt     time.Time
	FinishedAt    time.Time
	ChainID       int64
	PaySymbol     string
	ReceiveSymbol string
	PayAmount     decimal.Decimal
	IncludeGas    bool
	BestKey       string
	BestNetFiat   decimal.Decimal
	Results       []RoundResult
}

// RoundSink receives completed rounds. It is an optional observation
// surface; the engine never reads anything back from it.
type RoundSink interface {
	SaveRound(ctx context.Context, summary RoundSummary) error
}

func summarize(gen uint64, startedAt time.Time, intent quote.TradeIntent, includeGas bool, ranked []quote.RankedQuote) RoundSummary {
	summary := RoundSummary{
		Generation:    gen,
		StartedAt:     startedAt,
		FinishedAt:    time.Now().UTC(),
		ChainID:       intent.ChainID,
		PaySymbol:     intent.PayToken.Symbol,
		ReceiveSymbol: intent.ReceiveToken.Symbol,
		PayAmount:     intent.PayAmount,
		IncludeGas:    includeGas,
	}
	for _, rq := range ranked {
		if rq.Candidate == nil {
			continue
		}
		result := RoundResult{
			Key:              rq.Candidate.Key(),
			ToAmount:         rq.Candidate.ToAmount,
			NetFiatValue:     rq.NetFiatValue,
			Pass:             rq.Validation != nil && rq.Validation.OverallPass,
			Reason:           rq.Candidate.Reason.String(),
			DeltaFromBestPct: rq.DeltaFromBestPct,
		}
		if rq.IsBest {
			summary.BestKey = result.Key
			summary.BestNetFiat = rq.NetFiatValue
		}
		summary.Results = append(summary.Results, result)
	}
	return summary
}
