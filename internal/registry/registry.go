package registry

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Endpoints are the whitelisted contracts for one source on one chain.
type Endpoints struct {
	Router  common.Address
	Spender common.Address
}

// RestrictionKind classifies approval quirks of legacy tokens.
type RestrictionKind int

const (
	// RestrictionNone is the default for unknown tokens.
	RestrictionNone RestrictionKind = iota
	// RestrictionZeroThenApprove marks tokens that reject changing a
	// nonzero allowance directly; the allowance must be zeroed first.
	RestrictionZeroThenApprove
)

// Registry holds the static contract whitelist consulted by the Safety
// Validator and Execution Preparer. It is immutable after construction.
type Registry struct {
	endpoints     map[string]Endpoints
	restrictions  map[string]RestrictionKind
	wrappedNative map[int64]common.Address
}

// New returns an empty registry. Use the Add* methods during wiring.
func New() *Registry {
	return &Registry{
		endpoints:     make(map[string]Endpoints),
		restrictions:  make(map[string]RestrictionKind),
		wrappedNative: make(map[int64]common.Address),
	}
}

// Mainnet defaults carried regardless of configuration. USDT rejects a
// nonzero -> nonzero allowance change on Ethereum mainnet.
var defaultRestrictions = map[string]RestrictionKind{
	restrictionKey(1, common.HexToAddress("0xdAC17F958D2ee523a2206206994597C13D831ec7")): RestrictionZeroThenApprove,
}

var defaultWrappedNative = map[int64]common.Address{
	1: common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"),
}

// Default returns a registry pre-seeded with mainnet knowledge.
func Default() *Registry {
	r := New()
	for k, v := range defaultRestrictions {
		r.restrictions[k] = v
	}
	for chainID, addr := range defaultWrappedNative {
		r.wrappedNative[chainID] = addr
	}
	return r
}

func endpointKey(sourceID string, chainID int64) string {
	return fmt.Sprintf("%s/%d", strings.ToLower(sourceID), chainID)
}

func restrictionKey(chainID int64, tokenAddr common.Address) string {
	return fmt.Sprintf("%d/%s", chainID, strings.ToLower(tokenAddr.Hex()))
}

// AddEndpoints registers the whitelisted router and spender for a
// source on a chain, replacing any previous entry.
func (r *Registry) AddEndpoints(sourceID string, chainID int64, e Endpoints) {
	r.endpoints[endpointKey(sourceID, chainID)] = e
}

// AddRestriction records an approval restriction for (chain, token).
func (r *Registry) AddRestriction(chainID int64, tokenAddr common.Address, kind RestrictionKind) {
	r.restrictions[restrictionKey(chainID, tokenAddr)] = kind
}

// SetWrappedNative records the wrapper contract for a chain's native asset.
func (r *Registry) SetWrappedNative(chainID int64, addr common.Address) {
	r.wrappedNative[chainID] = addr
}

// RouterFor returns the whitelisted router for (source, chain).
func (r *Registry) RouterFor(sourceID string, chainID int64) (common.Address, bool) {
	e, ok := r.endpoints[endpointKey(sourceID, chainID)]
	if !ok || e.Router == (common.Address{}) {
		return common.Address{}, false
	}
	return e.Router, true
}

// SpenderFor returns the whitelisted spender for (source, chain). When
// a source registers no distinct spender the router doubles as one.
func (r *Registry) SpenderFor(sourceID string, chainID int64) (common.Address, bool) {
	e, ok := r.endpoints[endpointKey(sourceID, chainID)]
	if !ok {
		return common.Address{}, false
	}
	if e.Spender != (common.Address{}) {
		return e.Spender, true
	}
	if e.Router != (common.Address{}) {
		return e.Router, true
	}
	return common.Address{}, false
}

// RestrictionFor reports the approval restriction for (chain, token).
func (r *Registry) RestrictionFor(chainID int64, tokenAddr common.Address) RestrictionKind {
	return r.restrictions[restrictionKey(chainID, tokenAddr)]
}

// WrappedNative returns the wrapper contract for a chain, if known.
func (r *Registry) WrappedNative(chainID int64) (common.Address, bool) {
	addr, ok := r.wrappedNative[chainID]
	return addr, ok
}
