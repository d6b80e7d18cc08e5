package validate

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"swapquoter/internal/quote"
	"swapquoter/internal/registry"
	"swapquoter/internal/token"
)

// nativeSentinel is the conventional pseudo-address aggregators encode
// for the native asset.
var nativeSentinel = common.HexToAddress("0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE")

// Decoder decodes a source's proposed call data into trade terms.
// Returning an error wrapping quote.ErrDecodeUnsupported makes the
// consistency check default to pass.
type Decoder interface {
	DecodeCallData(data []byte) (*quote.DecodedCall, error)
}

// Validator checks a candidate's execution payload against the contract
// whitelist and the requested trade terms. Validate is a pure function
// of its inputs; the validator itself holds only static policy.
type Validator struct {
	reg *registry.Registry
	// tolerancePct bounds the drift between the decoded minimum-receive
	// and the slippage-adjusted advertised amount.
	tolerancePct decimal.Decimal
	logger       zerolog.Logger
}

// New constructs a validator with the given policy threshold in percent.
func New(reg *registry.Registry, tolerancePct decimal.Decimal, logger zerolog.Logger) *Validator {
	return &Validator{
		reg:          reg,
		tolerancePct: tolerancePct,
		logger:       logger.With().Str("component", "validator").Logger(),
	}
}

// Validate computes the candidate's verdict. decoder may be nil for
// sources without call-data decoding. It never panics and never
// mutates the candidate.
func (v *Validator) Validate(c *quote.Candidate, intent quote.TradeIntent, decoder Decoder) quote.ValidationResult {
	res := quote.ValidationResult{
		RouterWhitelisted:  v.checkRouter(c, intent),
		SpenderWhitelisted: v.checkSpender(c, intent),
		CallDataConsistent: v.checkCallData(c, intent, decoder),
	}
	res.OverallPass = res.RouterWhitelisted && res.SpenderWhitelisted && res.CallDataConsistent
	if !res.OverallPass {
		v.logger.Warn().
			Str("source", c.Key()).
			Bool("router", res.RouterWhitelisted).
			Bool("spender", res.SpenderWhitelisted).
			Bool("call_data", res.CallDataConsistent).
			Msg("candidate failed security verification")
	}
	return res
}

// checkRouter requires proposedTx.to to equal the whitelisted router.
// Wrap pairs target the wrapper contract directly and are exempt.
func (v *Validator) checkRouter(c *quote.Candidate, intent quote.TradeIntent) bool {
	if c.Wrap != token.WrapNone {
		return true
	}
	if c.Tx == nil {
		return false
	}
	router, ok := v.reg.RouterFor(c.SourceID, intent.ChainID)
	if !ok {
		return false
	}
	return c.Tx.To == router
}

// checkSpender requires the candidate's expected allowance target to be
// whitelisted. Native pay and wrap pairs need no allowance.
func (v *Validator) checkSpender(c *quote.Candidate, intent quote.TradeIntent) bool {
	if intent.PayToken.Native || c.Wrap != token.WrapNone {
		return true
	}
	// No spender proposed: the preparer only ever approves the
	// whitelisted spender, so there is nothing to reject.
	if c.Spender == nil {
		return true
	}
	spender, ok := v.reg.SpenderFor(c.SourceID, intent.ChainID)
	if !ok {
		return false
	}
	return *c.Spender == spender
}

// checkCallData decodes the payload and compares it to the intent.
// Decoding is defence in depth: sources without a decoder pass.
func (v *Validator) checkCallData(c *quote.Candidate, intent quote.TradeIntent, decoder Decoder) bool {
	if decoder == nil || c.Tx == nil || len(c.Tx.Data) == 0 {
		return true
	}

	decoded, err := decoder.DecodeCallData(c.Tx.Data)
	if err != nil {
		if errors.Is(err, quote.ErrDecodeUnsupported) {
			return true
		}
		return false
	}

	if !tokenMatches(decoded.FromToken, intent.PayToken) {
		return false
	}
	if !tokenMatches(decoded.ToToken, intent.ReceiveToken) {
		return false
	}
	if decoded.Amount == nil || decoded.Amount.Cmp(intent.PayAmountWei()) != 0 {
		return false
	}
	return v.minReceiveWithinTolerance(c, intent, decoded)
}

// minReceiveWithinTolerance bounds how far the encoded minimum-out may
// drift from toAmount x (1 - slippage), catching stale or tampered
// payloads whose floor no longer corresponds to the advertised quote.
func (v *Validator) minReceiveWithinTolerance(c *quote.Candidate, intent quote.TradeIntent, decoded *quote.DecodedCall) bool {
	if decoded.MinReceive == nil || c.ToAmountWei == nil {
		return false
	}

	one := decimal.NewFromInt(1)
	target := decimal.NewFromBigInt(c.ToAmountWei, 0).Mul(one.Sub(intent.SlippageFraction()))
	if !target.IsPositive() {
		return false
	}

	drift := decimal.NewFromBigInt(decoded.MinReceive, 0).Sub(target).Abs()
	pct := drift.Div(target).Mul(decimal.NewFromInt(100))
	return pct.LessThanOrEqual(v.tolerancePct)
}

func tokenMatches(addr common.Address, tok token.Token) bool {
	if tok.Native {
		return addr == (common.Address{}) || addr == nativeSentinel
	}
	return addr == tok.Address
}
