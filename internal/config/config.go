package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"swapquoter/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App      AppConfig              `mapstructure:"app"`
	Logging  logging.Config         `mapstructure:"logging"`
	Quoting  QuotingConfig          `mapstructure:"quoting"`
	Chains   map[string]ChainConfig `mapstructure:"chains"`
	Sources  []SourceConfig         `mapstructure:"sources"`
	Tokens   []TokenConfig          `mapstructure:"tokens"`
	Prices   map[string]float64     `mapstructure:"prices"`
	Gas      GasConfig              `mapstructure:"gas"`
	Database DatabaseConfig         `mapstructure:"database"`
	Metrics  MetricsConfig          `mapstructure:"metrics"`
	Export   ExportConfig           `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// QuotingConfig tunes the orchestrator's round policy.
type QuotingConfig struct {
	// Debounce coalesces rapid intent changes into one round.
	Debounce time.Duration `mapstructure:"debounce"`
	// QuoteTTL is how long a selected quote stays valid before it is
	// flagged expired and must be re-validated.
	QuoteTTL time.Duration `mapstructure:"quote_ttl"`
	// MinReceiveTolerancePct bounds how far a source's encoded
	// minimum-out may drift from its advertised quote.
	MinReceiveTolerancePct float64       `mapstructure:"min_receive_tolerance_pct"`
	DefaultSlippageBps     int64         `mapstructure:"default_slippage_bps"`
	IncludeGasInSort       bool          `mapstructure:"include_gas_in_sort"`
	RequestTimeout         time.Duration `mapstructure:"request_timeout"`
	// GasReserve is the native-asset amount held back from the payable
	// balance so the user can still cover gas.
	GasReserve float64 `mapstructure:"gas_reserve"`
}

// ChainConfig covers on-chain data access for one chain.
type ChainConfig struct {
	ChainID        int64         `mapstructure:"chain_id"`
	RPCURL         string        `mapstructure:"rpc_url"`
	NativeSymbol   string        `mapstructure:"native_symbol"`
	WrappedNative  string        `mapstructure:"wrapped_native"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// SourceContracts lists the whitelisted contracts for one chain.
type SourceContracts struct {
	ChainID int64  `mapstructure:"chain_id"`
	Router  string `mapstructure:"router"`
	Spender string `mapstructure:"spender"`
}

// SourceConfig describes one liquidity source.
type SourceConfig struct {
	ID      string `mapstructure:"id"`
	Kind    string `mapstructure:"kind"` // aggregator | bridge
	BaseURL string `mapstructure:"base_url"`
	// FeeRatePct is the source's service fee, passed explicitly to the
	// adapter and never inferred from responses.
	FeeRatePct float64           `mapstructure:"fee_rate_pct"`
	Enabled    bool              `mapstructure:"enabled"`
	Timeout    time.Duration     `mapstructure:"timeout"`
	Contracts  []SourceContracts `mapstructure:"contracts"`
}

// TokenConfig declares a quotable token.
type TokenConfig struct {
	Symbol   string `mapstructure:"symbol"`
	ChainID  int64  `mapstructure:"chain_id"`
	Address  string `mapstructure:"address"`
	Decimals int32  `mapstructure:"decimals"`
	Native   bool   `mapstructure:"native"`
	// Restriction marks legacy approval behaviour; currently only
	// "zero_then_approve" is understood.
	Restriction string `mapstructure:"restriction"`
}

// GasConfig holds the read-only gas preferences handed to the preparer.
type GasConfig struct {
	// PreferredPriceGwei is a previously cached user selection by price;
	// zero means unset.
	PreferredPriceGwei float64 `mapstructure:"preferred_price_gwei"`
	// PreferredTier is a previously cached selection by named tier.
	PreferredTier string `mapstructure:"preferred_tier"`
	// TierMultipliers scale the chain's base gas price per named tier.
	TierMultipliers map[string]float64 `mapstructure:"tier_multipliers"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// MetricsConfig controls the optional Prometheus listener.
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SWAPQUOTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "swapquoter")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("quoting.debounce", "300ms")
	v.SetDefault("quoting.quote_ttl", "30s")
	v.SetDefault("quoting.min_receive_tolerance_pct", 5.0)
	v.SetDefault("quoting.default_slippage_bps", int64(50))
	v.SetDefault("quoting.include_gas_in_sort", false)
	v.SetDefault("quoting.request_timeout", "15s")
	v.SetDefault("quoting.gas_reserve", 0.01)

	v.SetDefault("gas.preferred_tier", "")
	v.SetDefault("gas.tier_multipliers", map[string]float64{
		"slow":   0.8,
		"normal": 1.0,
		"fast":   1.3,
	})

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen_addr", ":9109")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Quoting.Debounce < 0 {
		return fmt.Errorf("quoting.debounce cannot be negative")
	}
	if c.Quoting.QuoteTTL <= 0 {
		return fmt.Errorf("quoting.quote_ttl must be greater than zero")
	}
	if c.Quoting.MinReceiveTolerancePct < 0 {
		return fmt.Errorf("quoting.min_receive_tolerance_pct cannot be negative")
	}
	if c.Quoting.DefaultSlippageBps < 0 || c.Quoting.DefaultSlippageBps > 10000 {
		return fmt.Errorf("quoting.default_slippage_bps must be within [0, 10000]")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	seen := make(map[string]struct{}, len(c.Sources))
	for _, src := range c.Sources {
		if src.ID == "" {
			return fmt.Errorf("sources[].id is required")
		}
		if _, dup := seen[src.ID]; dup {
			return fmt.Errorf("duplicate source id %q", src.ID)
		}
		seen[src.ID] = struct{}{}
		switch src.Kind {
		case "", "aggregator", "bridge":
		default:
			return fmt.Errorf("source %q: unknown kind %q", src.ID, src.Kind)
		}
	}
	for _, tok := range c.Tokens {
		if tok.Symbol == "" {
			return fmt.Errorf("tokens[].symbol is required")
		}
		if !tok.Native && tok.Address == "" {
			return fmt.Errorf("token %q: address required for non-native tokens", tok.Symbol)
		}
		switch tok.Restriction {
		case "", "zero_then_approve":
		default:
			return fmt.Errorf("token %q: unknown restriction %q", tok.Symbol, tok.Restriction)
		}
	}
	return nil
}

// EnabledSourceIDs returns the ids of sources enabled in configuration.
func (c *Config) EnabledSourceIDs() []string {
	ids := make([]string, 0, len(c.Sources))
	for _, src := range c.Sources {
		if src.Enabled {
			ids = append(ids, src.ID)
		}
	}
	return ids
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
