package prepare

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"swapquoter/internal/chain"
	"swapquoter/internal/quote"
	"swapquoter/internal/registry"
	"swapquoter/internal/token"
)

// GasPrefs is the read-only gas preference snapshot handed in from an
// external preferences store. Resolution order: cached price, cached
// tier, then the market's "normal" tier.
type GasPrefs struct {
	PreferredPriceWei *big.Int
	PreferredTier     string
}

// Preparer turns a validated candidate into the ordered transaction
// sequence the signing collaborator will submit.
type Preparer struct {
	reader chain.Reader
	reg    *registry.Registry
	prefs  GasPrefs
	logger zerolog.Logger
}

// New constructs a preparer.
func New(reader chain.Reader, reg *registry.Registry, prefs GasPrefs, logger zerolog.Logger) *Preparer {
	return &Preparer{
		reader: reader,
		reg:    reg,
		prefs:  prefs,
		logger: logger.With().Str("component", "preparer").Logger(),
	}
}

// ReadAllowance fetches the allowance snapshot relevant to a candidate.
// Returns a snapshot with a nil amount when no allowance applies.
func (p *Preparer) ReadAllowance(ctx context.Context, c *quote.Candidate, intent quote.TradeIntent) (quote.AllowanceSnapshot, error) {
	spender, needed := p.spenderFor(c, intent)
	if !needed {
		return quote.AllowanceSnapshot{TokenID: intent.PayToken.ID()}, nil
	}
	amount, err := p.reader.Allowance(ctx, intent.ChainID, intent.PayToken.Address, intent.UserAddress, spender)
	if err != nil {
		return quote.AllowanceSnapshot{}, fmt.Errorf("allowance for %s: %w", c.Key(), err)
	}
	return quote.AllowanceSnapshot{
		TokenID:   intent.PayToken.ID(),
		Spender:   spender,
		AmountWei: amount,
	}, nil
}

// Prepare builds the execution sequence for the candidate. Failures
// are scoped to this candidate; the caller flags it and moves on.
func (p *Preparer) Prepare(ctx context.Context, c *quote.Candidate, intent quote.TradeIntent, allowance quote.AllowanceSnapshot, nativeFiatPrice decimal.Decimal) (*quote.PreparedExecution, error) {
	if c.Tx == nil {
		return nil, errors.New("candidate has no proposed transaction")
	}

	required := intent.PayAmountWei()
	spender, approvalNeeded := p.spenderFor(c, intent)
	approved := !approvalNeeded || allowance.Sufficient(required)

	twoStep := false
	if approvalNeeded && !approved {
		restriction := p.reg.RestrictionFor(intent.ChainID, intent.PayToken.Address)
		nonzero := allowance.AmountWei != nil && allowance.AmountWei.Sign() > 0
		twoStep = restriction == registry.RestrictionZeroThenApprove && nonzero
	}

	gas, err := p.estimateGas(ctx, c, intent, nativeFiatPrice)
	if err != nil {
		return nil, err
	}

	var steps []quote.TxStep
	if !approved {
		if twoStep {
			steps = append(steps, quote.TxStep{
				Kind:    quote.StepRevokeApproval,
				To:      intent.PayToken.Address,
				Data:    chain.ApproveCallData(spender, big.NewInt(0)),
				Value:   big.NewInt(0),
				ChainID: intent.ChainID,
				From:    intent.UserAddress,
			})
		}
		steps = append(steps, quote.TxStep{
			Kind:    quote.StepApproval,
			To:      intent.PayToken.Address,
			Data:    chain.ApproveCallData(spender, required),
			Value:   big.NewInt(0),
			ChainID: intent.ChainID,
			From:    intent.UserAddress,
		})
	}
	steps = append(steps, quote.TxStep{
		Kind:    quote.StepTrade,
		To:      c.Tx.To,
		Data:    c.Tx.Data,
		Value:   c.Tx.Value,
		ChainID: c.Tx.ChainID,
		From:    intent.UserAddress,
	})

	return &quote.PreparedExecution{
		Steps:                steps,
		ShouldTwoStepApprove: twoStep,
		Gas:                  gas,
	}, nil
}

// spenderFor resolves the allowance target for a candidate. The second
// return is false when no approval applies (native pay, wrap pairs).
func (p *Preparer) spenderFor(c *quote.Candidate, intent quote.TradeIntent) (common.Address, bool) {
	if intent.PayToken.Native || c.Wrap != token.WrapNone {
		return common.Address{}, false
	}
	if c.Spender != nil {
		return *c.Spender, true
	}
	if spender, ok := p.reg.SpenderFor(c.SourceID, intent.ChainID); ok {
		return spender, true
	}
	return common.Address{}, false
}

// estimateGas resolves units and price. Wrap pairs are simulated
// directly; everything else trusts the gas figure in the source quote.
func (p *Preparer) estimateGas(ctx context.Context, c *quote.Candidate, intent quote.TradeIntent, nativeFiatPrice decimal.Decimal) (quote.GasEstimate, error) {
	units := c.GasUnits
	if c.Wrap != token.WrapNone {
		simulated, err := p.reader.EstimateGas(ctx, intent.ChainID, intent.UserAddress, c.Tx.To, c.Tx.Value, c.Tx.Data)
		if err != nil {
			return quote.GasEstimate{}, fmt.Errorf("simulate wrap: %w", err)
		}
		units = simulated
	}

	price, err := p.resolveGasPrice(ctx, intent.ChainID)
	if err != nil {
		return quote.GasEstimate{}, err
	}

	return quote.GasEstimate{
		EstimatedUnits: units,
		PriceWei:       price,
		USDValue:       GasFiatCost(units, price, nativeFiatPrice),
	}, nil
}

func (p *Preparer) resolveGasPrice(ctx context.Context, chainID int64) (*big.Int, error) {
	if p.prefs.PreferredPriceWei != nil && p.prefs.PreferredPriceWei.Sign() > 0 {
		return new(big.Int).Set(p.prefs.PreferredPriceWei), nil
	}
	tier := p.prefs.PreferredTier
	if tier == "" {
		tier = "normal"
	}
	price, err := p.reader.GasPrice(ctx, chainID, tier)
	if err != nil {
		return nil, fmt.Errorf("resolve gas price: %w", err)
	}
	return price, nil
}

// GasFiatCost converts a gas spend into fiat using the native asset's
// price. Native assets are assumed to carry 18 decimals.
func GasFiatCost(units uint64, priceWei *big.Int, nativeFiatPrice decimal.Decimal) decimal.Decimal {
	if priceWei == nil || units == 0 {
		return decimal.Zero
	}
	spent := new(big.Int).Mul(priceWei, new(big.Int).SetUint64(units))
	return decimal.NewFromBigInt(spent, -18).Mul(nativeFiatPrice)
}
