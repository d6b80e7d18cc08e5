package rank

import (
	"sort"

	"github.com/shopspring/decimal"

	"swapquoter/internal/quote"
)

var hundred = decimal.NewFromInt(100)

// Item is one candidate with the inputs ranking needs. ReceiveFiatPrice
// and GasFiat are explicit parameters so ranking stays a pure function
// of its arguments.
type Item struct {
	Candidate        *quote.Candidate
	Validation       *quote.ValidationResult
	ReceiveFiatPrice decimal.Decimal
	GasFiat          decimal.Decimal
	Expired          bool
}

// Rank orders candidates by net fiat value, labels the single best
// passing entry, and computes each other passing entry's relative loss.
// It re-fetches nothing and holds no state: ranking the same inputs
// twice yields the same output.
func Rank(items []Item, includeGas bool) []quote.RankedQuote {
	ranked := make([]quote.RankedQuote, 0, len(items))
	for _, it := range items {
		rq := quote.RankedQuote{
			Candidate:  it.Candidate,
			Validation: it.Validation,
			GasFiat:    it.GasFiat,
			Expired:    it.Expired,
		}
		if resolvedWithAmount(it.Candidate) {
			rq.NetFiatValue = score(it, includeGas)
		}
		ranked = append(ranked, rq)
	}

	// Loading placeholders keep their arrival order at the tail;
	// resolved entries sort by score, best first.
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		ar, br := resolvedWithAmount(a.Candidate), resolvedWithAmount(b.Candidate)
		if ar != br {
			return ar
		}
		if !ar {
			return false
		}
		return a.NetFiatValue.GreaterThan(b.NetFiatValue)
	})

	bestIdx := -1
	for i := range ranked {
		if eligible(ranked[i]) {
			bestIdx = i
			break
		}
	}
	if bestIdx < 0 {
		return ranked
	}

	ranked[bestIdx].IsBest = true
	best := ranked[bestIdx].NetFiatValue
	if !best.IsPositive() {
		return ranked
	}

	for i := range ranked {
		if i == bestIdx || !eligible(ranked[i]) {
			continue
		}
		delta := best.Sub(ranked[i].NetFiatValue).Abs().Div(best).Mul(hundred).RoundFloor(2)
		ranked[i].DeltaFromBestPct = &delta
	}
	return ranked
}

func score(it Item, includeGas bool) decimal.Decimal {
	s := it.Candidate.ToAmount.Mul(it.ReceiveFiatPrice)
	if includeGas {
		s = s.Sub(it.GasFiat)
	}
	return s
}

func resolvedWithAmount(c *quote.Candidate) bool {
	return c != nil && c.Resolved && c.Reason == quote.ReasonNone && c.ToAmount.IsPositive()
}

func eligible(r quote.RankedQuote) bool {
	return resolvedWithAmount(r.Candidate) && r.Validation != nil && r.Validation.OverallPass
}
