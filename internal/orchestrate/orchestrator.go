package orchestrate

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"swapquoter/internal/chain"
	"swapquoter/internal/metrics"
	"swapquoter/internal/prepare"
	"swapquoter/internal/quote"
	"swapquoter/internal/rank"
	"swapquoter/internal/source"
	"swapquoter/internal/token"
	"swapquoter/internal/validate"
)

var (
	// ErrNoRound indicates no quote round is active.
	ErrNoRound = errors.New("no active quote round")
	// ErrSuperseded indicates the round changed while preparing.
	ErrSuperseded = errors.New("quote round superseded")
	// ErrNotExecutable indicates the candidate is not fit for execution.
	ErrNotExecutable = errors.New("candidate not executable")
)

// Update is one incremental snapshot pushed to listeners.
type Update struct {
	Generation uint64
	Quotes     []quote.RankedQuote
	// Done is true once every candidate in the round has resolved.
	Done bool
	// Prepared is non-nil when a selected candidate has a fresh
	// execution sequence.
	Prepared *quote.PreparedExecution
}

// Listener receives incremental round updates.
type Listener interface {
	OnQuotes(u Update)
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(Update)

// OnQuotes implements Listener.
func (f ListenerFunc) OnQuotes(u Update) { f(u) }

// Options tune orchestrator behaviour.
type Options struct {
	// Debounce coalesces rapid intent changes into one round.
	Debounce time.Duration
	// QuoteTTL flags a selected quote expired after this long.
	QuoteTTL time.Duration
	// IncludeGasInSort is the initial ranking mode.
	IncludeGasInSort bool
	// GasTier names the tier used for the round's gas price snapshot.
	GasTier string
	// GasReserve is held back from the native balance in MaxPayAmount.
	GasReserve decimal.Decimal
}

// Deps wires the orchestrator's collaborators.
type Deps struct {
	Adapters  *source.Registry
	Wrap      *source.WrapAdapter
	Validator *validate.Validator
	Preparer  *prepare.Preparer
	Reader    chain.Reader
	Prices    PriceSource
	// Sink optionally receives completed rounds.
	Sink RoundSink
}

type entry struct {
	cand       *quote.Candidate
	validation *quote.ValidationResult
	gasFiat    decimal.Decimal
}

// round owns the mutable state of one generation. Every async step
// captures the round and re-checks it against the orchestrator's
// current generation before mutating anything.
type round struct {
	gen        uint64
	intent     quote.TradeIntent
	includeGas bool
	startedAt  time.Time

	entries map[string]*entry
	order   []string
	pending int
	// buffered suppresses per-arrival notifications; the round flushes
	// once as a full replacement when it completes. Used the first time
	// an incremental-list round populates an empty candidate set.
	buffered bool
	done     chan struct{}

	receivePrice decimal.Decimal
	nativePrice  decimal.Decimal

	gasOnce     sync.Once
	gasPriceWei *big.Int
}

// Orchestrator owns the trade-intent state and drives concurrent quote
// rounds. Stale results are discarded by generation comparison, not by
// cancelling network calls.
type Orchestrator struct {
	ctx    context.Context
	deps   Deps
	opts   Options
	logger zerolog.Logger

	generation atomic.Uint64

	mu            sync.Mutex
	cur           *round
	pendingIntent *quote.TradeIntent
	debounceTimer *time.Timer
	expiryTimer   *time.Timer
	visible       bool
	includeGas    bool
	selectedKey   string
	selectedGone  bool
	prepared      *quote.PreparedExecution
	listeners     []Listener
	wg            sync.WaitGroup
}

// New constructs an orchestrator. ctx bounds all background work.
func New(ctx context.Context, deps Deps, opts Options, logger zerolog.Logger) *Orchestrator {
	if opts.GasTier == "" {
		opts.GasTier = "normal"
	}
	return &Orchestrator{
		ctx:        ctx,
		deps:       deps,
		opts:       opts,
		logger:     logger.With().Str("component", "orchestrator").Logger(),
		visible:    true,
		includeGas: opts.IncludeGasInSort,
	}
}

// AddListener registers a listener for incremental updates.
func (o *Orchestrator) AddListener(l Listener) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.listeners = append(o.listeners, l)
}

// SetTradeIntent debounces rapid intent changes and starts a new round
// once the intent settles. An invalid intent starts nothing.
func (o *Orchestrator) SetTradeIntent(intent quote.TradeIntent) {
	o.mu.Lock()
	o.pendingIntent = &intent
	if o.debounceTimer != nil {
		o.debounceTimer.Stop()
	}
	if o.opts.Debounce <= 0 {
		o.mu.Unlock()
		o.fireDebounced()
		return
	}
	o.debounceTimer = time.AfterFunc(o.opts.Debounce, o.fireDebounced)
	o.mu.Unlock()
}

func (o *Orchestrator) fireDebounced() {
	o.mu.Lock()
	intent := o.pendingIntent
	o.pendingIntent = nil
	o.mu.Unlock()

	if intent == nil {
		return
	}
	if !intent.Valid() {
		o.logger.Debug().Msg("intent incomplete; round not started")
		return
	}
	o.startRound("intent_change", *intent)
}

// RequestRefresh restarts the round for the current intent immediately.
func (o *Orchestrator) RequestRefresh() {
	o.mu.Lock()
	var intent *quote.TradeIntent
	if o.cur != nil {
		snapshot := o.cur.intent
		intent = &snapshot
	}
	o.mu.Unlock()

	if intent == nil {
		return
	}
	o.startRound("refresh", *intent)
}

// SetVisible tracks panel visibility. Reopening restarts any pending
// round so the user never sees arbitrarily stale quotes.
func (o *Orchestrator) SetVisible(visible bool) {
	o.mu.Lock()
	was := o.visible
	o.visible = visible
	var intent *quote.TradeIntent
	if !was && visible && o.cur != nil {
		snapshot := o.cur.intent
		intent = &snapshot
	}
	o.mu.Unlock()

	if intent != nil {
		o.startRound("reopen", *intent)
	}
}

// SetIncludeGasInSort flips the ranking mode and re-ranks in place.
// Nothing is re-fetched.
func (o *Orchestrator) SetIncludeGasInSort(include bool) {
	o.mu.Lock()
	o.includeGas = include
	var update *Update
	if o.cur != nil {
		o.cur.includeGas = include
		u := o.updateLocked(o.cur, false)
		update = &u
	}
	o.mu.Unlock()

	if update != nil {
		o.notify(*update)
	}
}

// Snapshot returns the current ranked candidate list.
func (o *Orchestrator) Snapshot() []quote.RankedQuote {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cur == nil {
		return nil
	}
	return o.rankedLocked(o.cur)
}

// Prepared returns the execution sequence for the selected candidate.
func (o *Orchestrator) Prepared() *quote.PreparedExecution {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.prepared
}

// WaitRound blocks until the current round has fully resolved.
func (o *Orchestrator) WaitRound(ctx context.Context) error {
	o.mu.Lock()
	if o.cur == nil {
		o.mu.Unlock()
		return ErrNoRound
	}
	done := o.cur.done
	o.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// MaxPayAmount caps the payable amount by wallet balance, holding back
// a gas reserve when paying in the native asset.
func (o *Orchestrator) MaxPayAmount(ctx context.Context, tok token.Token, owner common.Address) (decimal.Decimal, error) {
	if tok.Native {
		bal, err := o.deps.Reader.NativeBalance(ctx, tok.ChainID, owner)
		if err != nil {
			return decimal.Zero, err
		}
		max := tok.FromWei(bal).Sub(o.opts.GasReserve)
		if max.IsNegative() {
			return decimal.Zero, nil
		}
		return max, nil
	}
	bal, err := o.deps.Reader.Balance(ctx, tok.ChainID, tok.Address, owner)
	if err != nil {
		return decimal.Zero, err
	}
	return tok.FromWei(bal), nil
}

// Close stops timers and waits for in-flight work to finish delivering.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.debounceTimer != nil {
		o.debounceTimer.Stop()
	}
	if o.expiryTimer != nil {
		o.expiryTimer.Stop()
	}
	o.mu.Unlock()
	o.wg.Wait()
}

// startRound advances the generation and fans out fetches. Results for
// prior generations are dropped on arrival.
func (o *Orchestrator) startRound(trigger string, intent quote.TradeIntent) {
	gen := o.generation.Add(1)
	metrics.RoundsStarted.WithLabelValues(trigger).Inc()

	r := &round{
		gen:          gen,
		intent:       intent,
		startedAt:    time.Now().UTC(),
		entries:      make(map[string]*entry),
		done:         make(chan struct{}),
		receivePrice: o.deps.Prices.TokenPrice(intent.ReceiveToken),
		nativePrice:  o.deps.Prices.NativePrice(intent.ChainID),
	}

	o.mu.Lock()
	r.includeGas = o.includeGas
	prevEmpty := o.cur == nil || len(o.cur.entries) == 0

	// Wrap pairs bypass third-party routing entirely.
	if o.deps.Wrap != nil && o.deps.Wrap.Supports(intent) != token.WrapNone {
		o.installRoundLocked(r)
		o.addPlaceholderLocked(r, source.WrapSourceID)
		o.mu.Unlock()
		o.spawn(func() { o.fetchOne(r, o.deps.Wrap, source.WrapSourceID) })
		o.logger.Info().Uint64("generation", gen).Str("trigger", trigger).Msg("wrap round started")
		return
	}

	if intent.Bridge() {
		r.buffered = prevEmpty
		o.installRoundLocked(r)
		var listers []source.BridgeLister
		for _, id := range intent.SourceIDs {
			adapter, ok := o.deps.Adapters.Get(id)
			if !ok {
				o.logger.Warn().Str("source", id).Msg("unknown source id")
				continue
			}
			lister, ok := adapter.(source.BridgeLister)
			if !ok {
				continue
			}
			o.addPlaceholderLocked(r, id)
			listers = append(listers, lister)
		}
		o.mu.Unlock()
		for _, lister := range listers {
			l := lister
			o.spawn(func() { o.runBridgeSource(r, l) })
		}
		o.completeIfEmpty(r)
		o.logger.Info().Uint64("generation", gen).Str("trigger", trigger).Int("sources", len(listers)).Msg("bridge round started")
		return
	}

	o.installRoundLocked(r)
	var fetches []func()
	for _, id := range intent.SourceIDs {
		adapter, ok := o.deps.Adapters.Get(id)
		if !ok {
			o.logger.Warn().Str("source", id).Msg("unknown source id")
			continue
		}
		if _, isBridge := adapter.(source.BridgeLister); isBridge {
			continue
		}
		if adapter.ID() == source.WrapSourceID {
			continue
		}
		o.addPlaceholderLocked(r, id)
		a, key := adapter, id
		fetches = append(fetches, func() { o.fetchOne(r, a, key) })
	}
	o.mu.Unlock()
	for _, f := range fetches {
		o.spawn(f)
	}
	o.completeIfEmpty(r)
	o.logger.Info().Uint64("generation", gen).Str("trigger", trigger).Int("sources", len(fetches)).Msg("quote round started")
}

// installRoundLocked replaces the current round and clears selection
// state. Caller holds the lock.
func (o *Orchestrator) installRoundLocked(r *round) {
	o.cur = r
	o.selectedKey = ""
	o.selectedGone = false
	o.prepared = nil
	if o.expiryTimer != nil {
		o.expiryTimer.Stop()
		o.expiryTimer = nil
	}
}

func (o *Orchestrator) addPlaceholderLocked(r *round, key string) {
	if _, exists := r.entries[key]; !exists {
		r.order = append(r.order, key)
	}
	r.entries[key] = &entry{cand: &quote.Candidate{SourceID: key, Generation: r.gen}}
	r.pending++
}

// completeIfEmpty closes a round that found nothing to fetch.
func (o *Orchestrator) completeIfEmpty(r *round) {
	o.mu.Lock()
	if o.cur == r && r.pending == 0 {
		u := o.updateLocked(r, true)
		close(r.done)
		o.mu.Unlock()
		o.notify(u)
		return
	}
	o.mu.Unlock()
}

func (o *Orchestrator) spawn(f func()) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		f()
	}()
}

// fetchOne runs one adapter's full pipeline: fetch (with one transparent
// retry), validate, gas-cost, then deliver under the generation check.
func (o *Orchestrator) fetchOne(r *round, adapter source.Adapter, key string) {
	cand := o.fetchWithRetry(r, adapter)
	e := o.finishCandidate(r, cand)
	o.deliver(r, key, e)
}

func (o *Orchestrator) fetchWithRetry(r *round, adapter source.Adapter) *quote.Candidate {
	start := time.Now()
	cand, err := adapter.Quote(o.ctx, r.intent)
	if err != nil {
		o.logger.Debug().Err(err).Str("source", adapter.ID()).Msg("quote fetch failed; retrying once")
		cand, err = adapter.Quote(o.ctx, r.intent)
	}
	metrics.QuoteDuration.WithLabelValues(adapter.ID()).Observe(time.Since(start).Seconds())
	if err != nil {
		return &quote.Candidate{
			SourceID: adapter.ID(),
			Resolved: true,
			Reason:   quote.ReasonUnavailable,
			Err:      err,
		}
	}
	return cand
}

// finishCandidate runs the synchronous tail of the pipeline. It never
// mutates shared state; results flow through deliver.
func (o *Orchestrator) finishCandidate(r *round, cand *quote.Candidate) *entry {
	cand.Generation = r.gen
	cand.Resolved = true
	e := &entry{cand: cand}

	if cand.Reason != quote.ReasonNone {
		metrics.QuoteOutcomes.WithLabelValues(cand.SourceID, cand.Reason.String()).Inc()
		return e
	}

	// Wrap pairs have no source-reported gas figure; ask the node to
	// simulate the trade transaction directly.
	if cand.Wrap != token.WrapNone && cand.Tx != nil {
		units, err := o.deps.Reader.EstimateGas(o.ctx, r.intent.ChainID, r.intent.UserAddress, cand.Tx.To, cand.Tx.Value, cand.Tx.Data)
		if err != nil {
			if o.fundsSufficient(r.intent) {
				cand.Reason = quote.ReasonSimulationFailed
				cand.Err = err
				metrics.QuoteOutcomes.WithLabelValues(cand.SourceID, cand.Reason.String()).Inc()
				return e
			}
			// Expected skip: nothing to simulate against an empty wallet.
			o.logger.Debug().Err(err).Str("source", cand.SourceID).Msg("wrap simulation skipped")
		} else {
			cand.GasUnits = units
		}
	}

	var decoder validate.Decoder
	if d, ok := o.deps.Adapters.Decoder(cand.SourceID); ok {
		decoder = d
	}
	validation := o.deps.Validator.Validate(cand, r.intent, decoder)
	e.validation = &validation
	if !validation.OverallPass {
		cand.Reason = quote.ReasonValidationFailed
		metrics.QuoteOutcomes.WithLabelValues(cand.SourceID, cand.Reason.String()).Inc()
		return e
	}

	e.gasFiat = prepare.GasFiatCost(cand.GasUnits, o.roundGasPrice(r), r.nativePrice)
	cand.Fees.ProtocolFeeFiat = cand.Fees.ProtocolFee.Mul(r.receivePrice)
	cand.Fees.ServiceFeeFiat = cand.Fees.ServiceFee.Mul(r.receivePrice)
	metrics.QuoteOutcomes.WithLabelValues(cand.SourceID, "ok").Inc()
	return e
}

// roundGasPrice fetches the chain's gas price once per round. A failed
// read degrades gas-aware ranking to zero gas rather than failing the
// round.
func (o *Orchestrator) roundGasPrice(r *round) *big.Int {
	r.gasOnce.Do(func() {
		price, err := o.deps.Reader.GasPrice(o.ctx, r.intent.ChainID, o.opts.GasTier)
		if err != nil {
			o.logger.Warn().Err(err).Int64("chain", r.intent.ChainID).Msg("gas price unavailable for ranking")
			return
		}
		r.gasPriceWei = price
	})
	return r.gasPriceWei
}

func (o *Orchestrator) fundsSufficient(intent quote.TradeIntent) bool {
	required := intent.PayAmountWei()
	var bal *big.Int
	var err error
	if intent.PayToken.Native {
		bal, err = o.deps.Reader.NativeBalance(o.ctx, intent.ChainID, intent.UserAddress)
	} else {
		bal, err = o.deps.Reader.Balance(o.ctx, intent.ChainID, intent.PayToken.Address, intent.UserAddress)
	}
	if err != nil || bal == nil {
		return false
	}
	return bal.Cmp(required) >= 0
}

// runBridgeSource drives one bridge aggregator's two-phase flow: coarse
// pair list first, then a detailed quote per pair, merged in by key.
func (o *Orchestrator) runBridgeSource(r *round, lister source.BridgeLister) {
	pairs, err := lister.ListPairs(o.ctx, r.intent)
	if err != nil {
		pairs, err = lister.ListPairs(o.ctx, r.intent)
	}
	if err != nil {
		o.deliver(r, lister.ID(), o.finishCandidate(r, &quote.Candidate{
			SourceID: lister.ID(),
			Resolved: true,
			Reason:   quote.ReasonUnavailable,
			Err:      err,
		}))
		return
	}
	if len(pairs) == 0 {
		o.deliver(r, lister.ID(), o.finishCandidate(r, &quote.Candidate{
			SourceID: lister.ID(),
			Resolved: true,
			Reason:   quote.ReasonNoRoute,
		}))
		return
	}

	// Swap the coarse placeholder for one placeholder per pair.
	o.mu.Lock()
	if o.generation.Load() != r.gen || o.cur != r {
		o.mu.Unlock()
		metrics.StaleResultsDropped.Inc()
		return
	}
	o.removeEntryLocked(r, lister.ID())
	r.pending--
	for _, p := range pairs {
		o.addPlaceholderLocked(r, p.SourceID+"/"+p.BridgeID)
	}
	var u *Update
	if !r.buffered {
		built := o.updateLocked(r, false)
		u = &built
	}
	o.mu.Unlock()
	if u != nil {
		o.notify(*u)
	}

	for _, p := range pairs {
		pair := p
		o.spawn(func() {
			cand, err := lister.QuotePair(o.ctx, r.intent, pair)
			if err != nil {
				cand, err = lister.QuotePair(o.ctx, r.intent, pair)
			}
			if err != nil {
				cand = &quote.Candidate{
					SourceID: pair.SourceID,
					BridgeID: pair.BridgeID,
					Resolved: true,
					Reason:   quote.ReasonUnavailable,
					Err:      err,
				}
			}
			cand.BridgeID = pair.BridgeID
			o.deliver(r, pair.SourceID+"/"+pair.BridgeID, o.finishCandidate(r, cand))
		})
	}
}

func (o *Orchestrator) removeEntryLocked(r *round, key string) {
	delete(r.entries, key)
	for i, k := range r.order {
		if k == key {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// deliver merges one resolved candidate into the round under the
// generation check. Stale results are dropped silently.
func (o *Orchestrator) deliver(r *round, key string, e *entry) {
	o.mu.Lock()
	if o.generation.Load() != r.gen || o.cur != r {
		o.mu.Unlock()
		metrics.StaleResultsDropped.Inc()
		o.logger.Debug().Uint64("generation", r.gen).Str("key", key).Msg("stale result dropped")
		return
	}

	if _, exists := r.entries[key]; !exists {
		r.order = append(r.order, key)
		r.pending++
	}
	r.entries[key] = e
	r.pending--
	complete := r.pending == 0

	var u *Update
	if complete || !r.buffered {
		built := o.updateLocked(r, complete)
		u = &built
	}

	var summary *RoundSummary
	if complete {
		close(r.done)
		if o.deps.Sink != nil {
			s := summarize(r.gen, r.startedAt, r.intent, r.includeGas, o.rankedLocked(r))
			summary = &s
		}
	}
	o.mu.Unlock()

	if u != nil {
		o.notify(*u)
	}
	if summary != nil {
		o.spawn(func() {
			if err := o.deps.Sink.SaveRound(o.ctx, *summary); err != nil {
				o.logger.Error().Err(err).Uint64("generation", summary.Generation).Msg("failed to persist round")
			}
		})
	}
}

func (o *Orchestrator) rankedLocked(r *round) []quote.RankedQuote {
	items := make([]rank.Item, 0, len(r.order))
	for _, key := range r.order {
		e := r.entries[key]
		items = append(items, rank.Item{
			Candidate:        e.cand,
			Validation:       e.validation,
			ReceiveFiatPrice: r.receivePrice,
			GasFiat:          e.gasFiat,
			Expired:          o.selectedGone && key == o.selectedKey,
		})
	}
	return rank.Rank(items, r.includeGas)
}

func (o *Orchestrator) updateLocked(r *round, done bool) Update {
	return Update{
		Generation: r.gen,
		Quotes:     o.rankedLocked(r),
		Done:       done,
		Prepared:   o.prepared,
	}
}

func (o *Orchestrator) notify(u Update) {
	o.mu.Lock()
	listeners := make([]Listener, len(o.listeners))
	copy(listeners, o.listeners)
	o.mu.Unlock()
	for _, l := range listeners {
		l.OnQuotes(u)
	}
}

// SelectCandidate marks a candidate active and builds its execution
// sequence (allowance read, approval steps, gas). The prepared result
// expires after the quote TTL and must then be re-validated.
func (o *Orchestrator) SelectCandidate(ctx context.Context, key string) (*quote.PreparedExecution, error) {
	o.mu.Lock()
	r := o.cur
	if r == nil {
		o.mu.Unlock()
		return nil, ErrNoRound
	}
	e, ok := r.entries[key]
	if !ok {
		o.mu.Unlock()
		return nil, fmt.Errorf("unknown candidate %q", key)
	}
	cand := e.cand
	if !cand.Resolved || cand.Reason != quote.ReasonNone || e.validation == nil || !e.validation.OverallPass {
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNotExecutable, key)
	}
	gen := r.gen
	intent := r.intent
	nativePrice := r.nativePrice
	o.mu.Unlock()

	allowance, err := o.deps.Preparer.ReadAllowance(ctx, cand, intent)
	if err == nil {
		var prep *quote.PreparedExecution
		prep, err = o.deps.Preparer.Prepare(ctx, cand, intent, allowance, nativePrice)
		if err == nil {
			return o.installPrepared(r, gen, key, prep)
		}
	}

	// Preparation failure is scoped to this candidate only.
	o.mu.Lock()
	if o.generation.Load() == gen && o.cur == r {
		cand.Reason = quote.ReasonPreparationFailed
		cand.Err = err
		metrics.QuoteOutcomes.WithLabelValues(cand.SourceID, cand.Reason.String()).Inc()
		u := o.updateLocked(r, r.pending == 0)
		o.mu.Unlock()
		o.notify(u)
	} else {
		o.mu.Unlock()
	}
	return nil, fmt.Errorf("prepare %s: %w", key, err)
}

func (o *Orchestrator) installPrepared(r *round, gen uint64, key string, prep *quote.PreparedExecution) (*quote.PreparedExecution, error) {
	o.mu.Lock()
	if o.generation.Load() != gen || o.cur != r {
		o.mu.Unlock()
		metrics.StaleResultsDropped.Inc()
		return nil, ErrSuperseded
	}
	o.selectedKey = key
	o.selectedGone = false
	o.prepared = prep
	if o.expiryTimer != nil {
		o.expiryTimer.Stop()
	}
	o.expiryTimer = time.AfterFunc(o.opts.QuoteTTL, func() { o.expireSelection(r, gen, key) })
	u := o.updateLocked(r, r.pending == 0)
	o.mu.Unlock()

	o.notify(u)
	return prep, nil
}

func (o *Orchestrator) expireSelection(r *round, gen uint64, key string) {
	o.mu.Lock()
	if o.generation.Load() != gen || o.cur != r || o.selectedKey != key {
		o.mu.Unlock()
		return
	}
	o.selectedGone = true
	u := o.updateLocked(r, r.pending == 0)
	o.mu.Unlock()

	o.logger.Info().Str("key", key).Msg("selected quote expired; re-validation required")
	o.notify(u)
}
