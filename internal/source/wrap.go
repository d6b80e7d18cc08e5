package source

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"swapquoter/internal/quote"
	"swapquoter/internal/token"
)

// WrapSourceID labels the synthetic wrap/unwrap source.
const WrapSourceID = "native-wrap"

const wrapperABIJSON = `[
	{"name":"deposit","type":"function","stateMutability":"payable","inputs":[],"outputs":[]},
	{"name":"withdraw","type":"function","stateMutability":"nonpayable","inputs":[{"name":"wad","type":"uint256"}],"outputs":[]}
]`

var wrapperABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(wrapperABIJSON))
	if err != nil {
		panic("failed to parse wrapper ABI: " + err.Error())
	}
	wrapperABI = parsed
}

// WrapAdapter serves native/wrapped-native pairs with a synthetic 1:1
// quote targeting the wrapper contract directly, bypassing any router.
type WrapAdapter struct {
	wrapped map[int64]common.Address
	logger  zerolog.Logger
}

// NewWrapAdapter builds the wrap adapter from per-chain wrapper contracts.
func NewWrapAdapter(wrapped map[int64]common.Address, logger zerolog.Logger) *WrapAdapter {
	copied := make(map[int64]common.Address, len(wrapped))
	for chainID, addr := range wrapped {
		copied[chainID] = addr
	}
	return &WrapAdapter{
		wrapped: copied,
		logger:  logger.With().Str("component", "source_adapter").Str("source", WrapSourceID).Logger(),
	}
}

// ID implements Adapter.
func (a *WrapAdapter) ID() string { return WrapSourceID }

// Supports reports whether the intent is a wrap/unwrap pair this
// adapter can serve.
func (a *WrapAdapter) Supports(intent quote.TradeIntent) token.WrapDirection {
	wrapper, ok := a.wrapped[intent.ChainID]
	if !ok {
		return token.WrapNone
	}
	return token.ClassifyWrapPair(intent.PayToken, intent.ReceiveToken, wrapper)
}

// Quote implements Adapter. There is no network call; the quote is
// always 1:1 and the transaction targets the wrapper contract.
func (a *WrapAdapter) Quote(_ context.Context, intent quote.TradeIntent) (*quote.Candidate, error) {
	direction := a.Supports(intent)
	if direction == token.WrapNone {
		return nil, fmt.Errorf("pair %s/%s is not a wrap pair on chain %d",
			intent.PayToken.Symbol, intent.ReceiveToken.Symbol, intent.ChainID)
	}

	wrapper := a.wrapped[intent.ChainID]
	amountWei := intent.PayAmountWei()

	var data []byte
	var value *big.Int
	var err error
	switch direction {
	case token.Wrap:
		data, err = wrapperABI.Pack("deposit")
		value = amountWei
	case token.Unwrap:
		data, err = wrapperABI.Pack("withdraw", amountWei)
		value = big.NewInt(0)
	}
	if err != nil {
		return nil, fmt.Errorf("pack wrapper call: %w", err)
	}

	return &quote.Candidate{
		SourceID:    WrapSourceID,
		Resolved:    true,
		ToAmount:    intent.PayAmount,
		ToAmountWei: amountWei,
		Wrap:        direction,
		Tx: &quote.ProposedTx{
			To:      wrapper,
			Data:    data,
			Value:   value,
			ChainID: intent.ChainID,
		},
	}, nil
}

var _ Adapter = (*WrapAdapter)(nil)
