package quote

import (
	"encoding/json"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"swapquoter/internal/token"
)

// TradeIntent captures one immutable request to convert PayToken into
// ReceiveToken. Any field change starts a new generation; in-flight
// work for prior generations is discarded on arrival.
type TradeIntent struct {
	ChainID      int64
	PayToken     token.Token
	ReceiveToken token.Token
	// PayAmount is the human-readable amount typed by the user.
	PayAmount   decimal.Decimal
	SlippageBps int64
	UserAddress common.Address
	// SourceIDs is the snapshot of enabled sources at round start.
	SourceIDs []string
}

// Bridge reports whether the intent crosses chains.
func (i TradeIntent) Bridge() bool {
	return i.PayToken.ChainID != i.ReceiveToken.ChainID
}

// PayAmountWei is the intent amount in the pay token's smallest unit.
func (i TradeIntent) PayAmountWei() *big.Int {
	return i.PayToken.ToWei(i.PayAmount)
}

// SlippageFraction returns slippage as a fraction, e.g. 50 bps -> 0.005.
func (i TradeIntent) SlippageFraction() decimal.Decimal {
	return decimal.NewFromInt(i.SlippageBps).Shift(-4)
}

// Valid reports whether the intent is complete enough to quote.
func (i TradeIntent) Valid() bool {
	return i.PayToken.Symbol != "" &&
		i.ReceiveToken.Symbol != "" &&
		!i.PayToken.Equal(i.ReceiveToken) &&
		i.PayAmount.IsPositive() &&
		len(i.SourceIDs) > 0
}

// ProposedTx is the execution payload a source wants the user to sign.
type ProposedTx struct {
	To      common.Address
	Data    []byte
	Value   *big.Int
	ChainID int64
}

// FeeBreakdown itemises a candidate's cost in receive-token units and fiat.
type FeeBreakdown struct {
	ProtocolFee     decimal.Decimal
	ServiceFee      decimal.Decimal
	ProtocolFeeFiat decimal.Decimal
	ServiceFeeFiat  decimal.Decimal
}

// FailureReason classifies why a candidate is unusable. The zero value
// means the candidate is healthy (or still loading).
type FailureReason int

const (
	ReasonNone FailureReason = iota
	// ReasonUnavailable: the source's backend failed after one retry.
	ReasonUnavailable
	// ReasonNoRoute: the source answered but returned no usable amount.
	ReasonNoRoute
	// ReasonSimulationFailed: execution simulation could not be produced
	// even though funds are sufficient.
	ReasonSimulationFailed
	// ReasonValidationFailed: router/spender/call-data checks failed.
	ReasonValidationFailed
	// ReasonPreparationFailed: gas or nonce lookup failed for the
	// selected candidate.
	ReasonPreparationFailed
)

// UserMessage is the row-level text shown for a failed candidate.
func (r FailureReason) UserMessage() string {
	switch r {
	case ReasonUnavailable, ReasonNoRoute:
		return "no route found"
	case ReasonSimulationFailed:
		return "failed to simulate"
	case ReasonValidationFailed:
		return "security verification failed"
	case ReasonPreparationFailed:
		return "failed to prepare transaction"
	default:
		return ""
	}
}

func (r FailureReason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonUnavailable:
		return "source_unavailable"
	case ReasonNoRoute:
		return "no_route"
	case ReasonSimulationFailed:
		return "simulation_failed"
	case ReasonValidationFailed:
		return "validation_failed"
	case ReasonPreparationFailed:
		return "preparation_failed"
	default:
		return "unknown"
	}
}

// Candidate is one source's answer (or failure) within a generation.
type Candidate struct {
	SourceID string
	// BridgeID is set in incremental-list rounds; candidates are keyed
	// by (SourceID, BridgeID).
	BridgeID   string
	Generation uint64

	// Resolved flips to true exactly once, when the fetch completes
	// (successfully or not). Unresolved candidates render as loading
	// placeholders and are excluded from ranking.
	Resolved bool

	// Raw is the source's opaque quote payload; nil on failure.
	Raw json.RawMessage

	// ToAmount is the advertised receive amount in human units; zero
	// until resolved or when no route exists.
	ToAmount    decimal.Decimal
	ToAmountWei *big.Int

	Fees FeeBreakdown
	Tx   *ProposedTx
	// Spender is the address the source expects an allowance for; nil
	// when no allowance is needed.
	Spender *common.Address
	// GasUnits is the source-reported gas figure for the trade tx.
	GasUnits uint64

	Wrap token.WrapDirection

	Reason FailureReason
	// Err keeps the underlying cause for diagnostics; never shown raw.
	Err error
}

// Key identifies a candidate within a round's candidate set.
func (c *Candidate) Key() string {
	if c.BridgeID == "" {
		return c.SourceID
	}
	return c.SourceID + "/" + c.BridgeID
}

// Failed reports whether the candidate resolved without a usable quote.
func (c *Candidate) Failed() bool {
	return c.Resolved && c.Reason != ReasonNone
}

// ValidationResult is the Safety Validator's verdict. It is computed
// once per candidate and never mutated.
type ValidationResult struct {
	RouterWhitelisted  bool
	SpenderWhitelisted bool
	CallDataConsistent bool
	OverallPass        bool
}

// DecodedCall is the normalised view of a source's encoded trade call.
type DecodedCall struct {
	FromToken  common.Address
	ToToken    common.Address
	Amount     *big.Int
	MinReceive *big.Int
}

// ErrDecodeUnsupported marks sources without a call-data decoder; the
// consistency check then defaults to pass.
var ErrDecodeUnsupported = errors.New("call data decoding not supported")

// RankedQuote is a candidate joined with its verdict and fiat score.
type RankedQuote struct {
	Candidate  *Candidate
	Validation *ValidationResult
	// NetFiatValue is toAmount x receive fiat price, minus gas when the
	// round ranks gas-inclusive.
	NetFiatValue decimal.Decimal
	GasFiat      decimal.Decimal
	IsBest       bool
	// DeltaFromBestPct is nil for the best entry, loading entries, and
	// failed entries.
	DeltaFromBestPct *decimal.Decimal
	// Expired is set once the selected quote outlives its TTL.
	Expired bool
}

// Executable reports whether the quote may be offered for execution.
func (r RankedQuote) Executable() bool {
	return r.Candidate != nil && r.Candidate.Resolved &&
		r.Candidate.Reason == ReasonNone &&
		r.Validation != nil && r.Validation.OverallPass &&
		!r.Expired
}

// StepKind labels a prepared transaction's role in the sequence.
type StepKind int

const (
	StepRevokeApproval StepKind = iota
	StepApproval
	StepTrade
)

func (k StepKind) String() string {
	switch k {
	case StepRevokeApproval:
		return "revoke_approval"
	case StepApproval:
		return "approval"
	case StepTrade:
		return "trade"
	default:
		return "unknown"
	}
}

// TxStep is one independently submittable chain transaction. Gas limit
// is intentionally absent; the signing collaborator estimates it.
type TxStep struct {
	Kind    StepKind
	To      common.Address
	Data    []byte
	Value   *big.Int
	ChainID int64
	From    common.Address
}

// GasEstimate carries the resolved gas cost for the trade transaction.
type GasEstimate struct {
	EstimatedUnits uint64
	PriceWei       *big.Int
	USDValue       decimal.Decimal
}

// PreparedExecution is the ordered transaction sequence for the
// currently selected candidate: [revoke?][approve?][trade].
type PreparedExecution struct {
	Steps                []TxStep
	ShouldTwoStepApprove bool
	Gas                  GasEstimate
}

// TradeStep returns the trade transaction, always the last step.
func (p *PreparedExecution) TradeStep() TxStep {
	return p.Steps[len(p.Steps)-1]
}

// ApprovalSteps returns the 0-2 approval transactions preceding the trade.
func (p *PreparedExecution) ApprovalSteps() []TxStep {
	return p.Steps[:len(p.Steps)-1]
}

// AllowanceSnapshot is a point-in-time allowance read. It is fetched
// per round because the spender differs per source.
type AllowanceSnapshot struct {
	TokenID   string
	Spender   common.Address
	AmountWei *big.Int
}

// Sufficient reports whether the snapshot covers the required amount.
func (a AllowanceSnapshot) Sufficient(required *big.Int) bool {
	if a.AmountWei == nil {
		return false
	}
	return a.AmountWei.Cmp(required) >= 0
}
