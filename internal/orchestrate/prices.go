package orchestrate

import (
	"strings"

	"github.com/shopspring/decimal"

	"swapquoter/internal/token"
)

// PriceSource supplies fiat prices for scoring. Prices are read once at
// round start and passed through the pipeline as a snapshot.
type PriceSource interface {
	// TokenPrice returns the fiat price for one unit of the token, or
	// zero when unknown.
	TokenPrice(tok token.Token) decimal.Decimal
	// NativePrice returns the fiat price of the chain's native asset.
	NativePrice(chainID int64) decimal.Decimal
}

// StaticPrices is a PriceSource backed by a fixed symbol -> price table,
// fed from configuration or CLI flags.
type StaticPrices struct {
	bySymbol map[string]decimal.Decimal
	native   map[int64]string
}

// NewStaticPrices builds a static price table. nativeSymbols maps chain
// ids to their native asset's symbol.
func NewStaticPrices(bySymbol map[string]decimal.Decimal, nativeSymbols map[int64]string) *StaticPrices {
	normalized := make(map[string]decimal.Decimal, len(bySymbol))
	for sym, price := range bySymbol {
		normalized[strings.ToUpper(sym)] = price
	}
	natives := make(map[int64]string, len(nativeSymbols))
	for chainID, sym := range nativeSymbols {
		natives[chainID] = strings.ToUpper(sym)
	}
	return &StaticPrices{bySymbol: normalized, native: natives}
}

// TokenPrice implements PriceSource.
func (p *StaticPrices) TokenPrice(tok token.Token) decimal.Decimal {
	return p.bySymbol[strings.ToUpper(tok.Symbol)]
}

// NativePrice implements PriceSource.
func (p *StaticPrices) NativePrice(chainID int64) decimal.Decimal {
	sym, ok := p.native[chainID]
	if !ok {
		return decimal.Zero
	}
	return p.bySymbol[sym]
}

var _ PriceSource = (*StaticPrices)(nil)
