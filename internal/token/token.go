package token

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Token identifies an asset on a single chain. Native assets carry the
// zero address and Native=true.
type Token struct {
	Symbol   string
	ChainID  int64
	Address  common.Address
	Decimals int32
	Native   bool
}

// ID returns a stable identifier usable as a map key and in request
// payloads: "<chainID>:native" or "<chainID>:<lowercase address>".
func (t Token) ID() string {
	if t.Native {
		return fmt.Sprintf("%d:native", t.ChainID)
	}
	return fmt.Sprintf("%d:%s", t.ChainID, strings.ToLower(t.Address.Hex()))
}

// Equal compares tokens by chain and address, case-insensitively.
func (t Token) Equal(other Token) bool {
	if t.ChainID != other.ChainID {
		return false
	}
	if t.Native || other.Native {
		return t.Native == other.Native
	}
	return t.Address == other.Address
}

// ToWei converts a human-readable amount into the token's smallest unit.
func (t Token) ToWei(amount decimal.Decimal) *big.Int {
	return amount.Shift(t.Decimals).Truncate(0).BigInt()
}

// FromWei converts a smallest-unit amount into human-readable units.
func (t Token) FromWei(wei *big.Int) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, 0).Shift(-t.Decimals)
}

// WrapDirection describes whether a pair is a native wrap, an unwrap,
// or an ordinary trade.
type WrapDirection int

const (
	WrapNone WrapDirection = iota
	// Wrap means pay native, receive the wrapped form.
	Wrap
	// Unwrap means pay the wrapped form, receive native.
	Unwrap
)

// ClassifyWrapPair reports whether (pay, receive) is the chain's
// native/wrapped-native pair. wrappedNative is the wrapper contract for
// the pay token's chain; the zero address disables detection.
func ClassifyWrapPair(pay, receive Token, wrappedNative common.Address) WrapDirection {
	if wrappedNative == (common.Address{}) || pay.ChainID != receive.ChainID {
		return WrapNone
	}
	if pay.Native && !receive.Native && receive.Address == wrappedNative {
		return Wrap
	}
	if receive.Native && !pay.Native && pay.Address == wrappedNative {
		return Unwrap
	}
	return WrapNone
}
