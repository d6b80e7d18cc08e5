package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// QuoteRound is one persisted quote round.
type QuoteRound struct {
	ID            int64
	StartedAt     time.Time
	FinishedAt    time.Time
	Generation    int64
	ChainID       int64
	PaySymbol     string
	ReceiveSymbol string
	PayAmount     decimal.Decimal
	IncludeGas    bool
	BestKey       string
	BestNetFiat   decimal.Decimal
	CreatedAt     time.Time
}

// QuoteResult is one candidate's outcome within a persisted round.
type QuoteResult struct {
	ID               int64
	RoundID          int64
	CandidateKey     string
	ToAmount         decimal.Decimal
	NetFiatValue     decimal.Decimal
	Pass             bool
	Reason           string
	DeltaFromBestPct *decimal.Decimal
	CreatedAt        time.Time
}
