package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Reader exposes the read-only chain queries the quoting pipeline
// needs. Implementations must be safe for concurrent use.
type Reader interface {
	// Allowance returns the ERC20 allowance granted by owner to spender.
	Allowance(ctx context.Context, chainID int64, tok, owner, spender common.Address) (*big.Int, error)
	// Balance returns the ERC20 balance of owner.
	Balance(ctx context.Context, chainID int64, tok, owner common.Address) (*big.Int, error)
	// NativeBalance returns owner's native-asset balance.
	NativeBalance(ctx context.Context, chainID int64, owner common.Address) (*big.Int, error)
	// GasPrice resolves the chain's current gas price scaled by the
	// named tier's multiplier.
	GasPrice(ctx context.Context, chainID int64, tier string) (*big.Int, error)
	// EstimateGas simulates the transaction and returns its gas usage.
	EstimateGas(ctx context.Context, chainID int64, from, to common.Address, value *big.Int, data []byte) (uint64, error)
}
