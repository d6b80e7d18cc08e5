package source

import (
	"context"

	"swapquoter/internal/quote"
)

// Adapter wraps one liquidity source behind a uniform contract. Quote
// must be side-effect-free beyond the network call. A returned error
// means the source's backend was unreachable and the call may be
// retried; a source that answers but has no route returns a resolved
// candidate with ReasonNoRoute and a nil error.
type Adapter interface {
	ID() string
	Quote(ctx context.Context, intent quote.TradeIntent) (*quote.Candidate, error)
}

// CallDecoder is the optional per-source capability to decode a
// proposed transaction's call data into trade terms. Adapters without
// it are validated on whitelists alone.
type CallDecoder interface {
	DecodeCallData(data []byte) (*quote.DecodedCall, error)
}

// BridgePair is one coarse (source, bridge) route candidate returned by
// a bridge aggregator's list endpoint.
type BridgePair struct {
	SourceID string
	BridgeID string
}

// BridgeLister is implemented by cross-chain sources that expose a
// two-phase list-then-detail quote API.
type BridgeLister interface {
	Adapter
	// ListPairs fetches the coarse candidate set for the intent.
	ListPairs(ctx context.Context, intent quote.TradeIntent) ([]BridgePair, error)
	// QuotePair fetches the detailed quote for one pair.
	QuotePair(ctx context.Context, intent quote.TradeIntent, pair BridgePair) (*quote.Candidate, error)
}

// Registry indexes adapters by id.
type Registry struct {
	adapters map[string]Adapter
	order    []string
}

// NewRegistry builds an adapter registry preserving registration order.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

// Register adds or replaces an adapter.
func (r *Registry) Register(a Adapter) {
	if _, exists := r.adapters[a.ID()]; !exists {
		r.order = append(r.order, a.ID())
	}
	r.adapters[a.ID()] = a
}

// Get returns the adapter with the given id.
func (r *Registry) Get(id string) (Adapter, bool) {
	a, ok := r.adapters[id]
	return a, ok
}

// Decoder returns the adapter's call decoder when it has one.
func (r *Registry) Decoder(id string) (CallDecoder, bool) {
	a, ok := r.adapters[id]
	if !ok {
		return nil, false
	}
	d, ok := a.(CallDecoder)
	return d, ok
}

// IDs lists registered adapter ids in registration order.
func (r *Registry) IDs() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
