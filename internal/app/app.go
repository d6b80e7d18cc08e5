package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"swapquoter/internal/chain"
	"swapquoter/internal/config"
	"swapquoter/internal/logging"
	"swapquoter/internal/orchestrate"
	"swapquoter/internal/prepare"
	"swapquoter/internal/registry"
	"swapquoter/internal/source"
	"swapquoter/internal/storage"
	"swapquoter/internal/token"
	"swapquoter/internal/validate"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logging.Component(logger, "app")}
}

// buildRegistry assembles the contract whitelist and approval
// restriction tables from configuration on top of mainnet defaults.
func (a *App) buildRegistry() *registry.Registry {
	reg := registry.Default()
	for _, src := range a.Config.Sources {
		for _, contracts := range src.Contracts {
			reg.AddEndpoints(src.ID, contracts.ChainID, registry.Endpoints{
				Router:  common.HexToAddress(contracts.Router),
				Spender: common.HexToAddress(contracts.Spender),
			})
		}
	}
	for _, tok := range a.Config.Tokens {
		if tok.Restriction == "zero_then_approve" {
			reg.AddRestriction(tok.ChainID, common.HexToAddress(tok.Address), registry.RestrictionZeroThenApprove)
		}
	}
	for _, ch := range a.Config.Chains {
		if ch.WrappedNative != "" {
			reg.SetWrappedNative(ch.ChainID, common.HexToAddress(ch.WrappedNative))
		}
	}
	return reg
}

func (a *App) buildReader() *chain.Client {
	endpoints := make([]chain.Endpoint, 0, len(a.Config.Chains))
	for _, ch := range a.Config.Chains {
		endpoints = append(endpoints, chain.Endpoint{
			ChainID: ch.ChainID,
			RPCURL:  ch.RPCURL,
			Timeout: ch.RequestTimeout,
		})
	}
	return chain.NewClient(endpoints, a.Config.Gas.TierMultipliers, a.Logger)
}

func (a *App) buildAdapters(reg *registry.Registry) (*source.Registry, *source.WrapAdapter) {
	adapters := source.NewRegistry()
	for _, src := range a.Config.Sources {
		if !src.Enabled {
			continue
		}
		opts := source.HTTPOptions{
			ID:      src.ID,
			BaseURL: src.BaseURL,
			FeeRate: decimal.NewFromFloat(src.FeeRatePct).Shift(-2),
			Timeout: src.Timeout,
		}
		switch src.Kind {
		case "bridge":
			adapters.Register(source.NewBridgeAdapter(opts, a.Logger))
		default:
			adapters.Register(source.NewHTTPAdapter(opts, a.Logger))
		}
	}

	wrapped := make(map[int64]common.Address)
	for _, ch := range a.Config.Chains {
		if addr, ok := reg.WrappedNative(ch.ChainID); ok {
			wrapped[ch.ChainID] = addr
		}
	}
	wrap := source.NewWrapAdapter(wrapped, a.Logger)
	adapters.Register(wrap)
	return adapters, wrap
}

func (a *App) buildPrices() *orchestrate.StaticPrices {
	prices := make(map[string]decimal.Decimal, len(a.Config.Prices))
	for sym, price := range a.Config.Prices {
		prices[sym] = decimal.NewFromFloat(price)
	}
	natives := make(map[int64]string, len(a.Config.Chains))
	for _, ch := range a.Config.Chains {
		natives[ch.ChainID] = ch.NativeSymbol
	}
	return orchestrate.NewStaticPrices(prices, natives)
}

func (a *App) gasPrefs() prepare.GasPrefs {
	prefs := prepare.GasPrefs{PreferredTier: a.Config.Gas.PreferredTier}
	if a.Config.Gas.PreferredPriceGwei > 0 {
		gwei := decimal.NewFromFloat(a.Config.Gas.PreferredPriceGwei)
		prefs.PreferredPriceWei = gwei.Shift(9).Truncate(0).BigInt()
	}
	return prefs
}

// ResolveToken finds a configured token by symbol on a chain. Native
// tokens may also be referenced by the chain's native symbol.
func (a *App) ResolveToken(symbol string, chainID int64) (token.Token, error) {
	for _, tok := range a.Config.Tokens {
		if tok.ChainID == chainID && strings.EqualFold(tok.Symbol, symbol) {
			return token.Token{
				Symbol:   tok.Symbol,
				ChainID:  tok.ChainID,
				Address:  common.HexToAddress(tok.Address),
				Decimals: tok.Decimals,
				Native:   tok.Native,
			}, nil
		}
	}
	for _, ch := range a.Config.Chains {
		if ch.ChainID == chainID && strings.EqualFold(ch.NativeSymbol, symbol) {
			return token.Token{
				Symbol:   strings.ToUpper(symbol),
				ChainID:  chainID,
				Decimals: 18,
				Native:   true,
			}, nil
		}
	}
	return token.Token{}, fmt.Errorf("token %q not configured on chain %d", symbol, chainID)
}

// newOrchestrator assembles the full quoting pipeline. debounce
// overrides the configured debounce; pass a negative value to keep it.
func (a *App) newOrchestrator(ctx context.Context, sink orchestrate.RoundSink, debounce time.Duration) *orchestrate.Orchestrator {
	reg := a.buildRegistry()
	reader := a.buildReader()
	adapters, wrap := a.buildAdapters(reg)

	validator := validate.New(reg, decimal.NewFromFloat(a.Config.Quoting.MinReceiveTolerancePct), a.Logger)
	preparer := prepare.New(reader, reg, a.gasPrefs(), a.Logger)

	if debounce < 0 {
		debounce = a.Config.Quoting.Debounce
	}

	return orchestrate.New(ctx, orchestrate.Deps{
		Adapters:  adapters,
		Wrap:      wrap,
		Validator: validator,
		Preparer:  preparer,
		Reader:    reader,
		Prices:    a.buildPrices(),
		Sink:      sink,
	}, orchestrate.Options{
		Debounce:         debounce,
		QuoteTTL:         a.Config.Quoting.QuoteTTL,
		IncludeGasInSort: a.Config.Quoting.IncludeGasInSort,
		GasTier:          a.Config.Gas.PreferredTier,
		GasReserve:       decimal.NewFromFloat(a.Config.Quoting.GasReserve),
	}, a.Logger)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// chainIDFor resolves a configured chain by id, validating it exists.
func (a *App) chainIDFor(chainID int64) error {
	for _, ch := range a.Config.Chains {
		if ch.ChainID == chainID {
			return nil
		}
	}
	return fmt.Errorf("chain %d not configured", chainID)
}
