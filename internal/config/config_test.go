package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("无配置文件时应使用默认值: %v", err)
	}

	if cfg.Quoting.Debounce != 300*time.Millisecond {
		t.Fatalf("默认防抖不正确: %s", cfg.Quoting.Debounce)
	}
	if cfg.Quoting.QuoteTTL != 30*time.Second {
		t.Fatalf("默认报价有效期不正确: %s", cfg.Quoting.QuoteTTL)
	}
	if cfg.Quoting.MinReceiveTolerancePct != 5.0 {
		t.Fatalf("默认容差不正确: %f", cfg.Quoting.MinReceiveTolerancePct)
	}
	if cfg.Quoting.DefaultSlippageBps != 50 {
		t.Fatalf("默认滑点不正确: %d", cfg.Quoting.DefaultSlippageBps)
	}
	if cfg.Gas.TierMultipliers["fast"] != 1.3 {
		t.Fatalf("默认档位倍率不正确: %v", cfg.Gas.TierMultipliers)
	}
	if cfg.Metrics.ListenAddr != ":9109" {
		t.Fatalf("默认 metrics 地址不正确: %s", cfg.Metrics.ListenAddr)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
quoting:
  debounce: 150ms
  quote_ttl: 45s
sources:
  - id: agg
    kind: aggregator
    base_url: https://agg.example.com
    fee_rate_pct: 0.3
    enabled: true
    contracts:
      - chain_id: 1
        router: "0x1111111111111111111111111111111111111111"
tokens:
  - symbol: USDC
    chain_id: 1
    address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
    decimals: 6
chains:
  mainnet:
    chain_id: 1
    rpc_url: https://rpc.example.com
    native_symbol: ETH
prices:
  ETH: 4000.0
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}
	if cfg.Quoting.Debounce != 150*time.Millisecond {
		t.Fatalf("防抖未生效: %s", cfg.Quoting.Debounce)
	}
	if cfg.Quoting.QuoteTTL != 45*time.Second {
		t.Fatalf("报价有效期未生效: %s", cfg.Quoting.QuoteTTL)
	}
	if len(cfg.Sources) != 1 || cfg.Sources[0].ID != "agg" {
		t.Fatalf("来源解析不正确: %+v", cfg.Sources)
	}
	if cfg.Sources[0].Contracts[0].Router == "" {
		t.Fatal("合约白名单解析不正确")
	}
	if got := cfg.EnabledSourceIDs(); len(got) != 1 || got[0] != "agg" {
		t.Fatalf("EnabledSourceIDs 不正确: %v", got)
	}
	if cfg.Prices["ETH"] != 4000.0 {
		t.Fatalf("价格表解析不正确: %v", cfg.Prices)
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	base := func() *Config {
		return &Config{
			Quoting: QuotingConfig{
				QuoteTTL:               30 * time.Second,
				MinReceiveTolerancePct: 5,
				DefaultSlippageBps:     50,
			},
			Export: ExportConfig{MaxDataPoints: 100},
		}
	}

	cfg := base()
	cfg.Sources = []SourceConfig{{ID: "a"}, {ID: "a"}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("重复来源 id 应校验失败")
	}

	cfg = base()
	cfg.Sources = []SourceConfig{{ID: "a", Kind: "ftp"}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("未知来源类型应校验失败")
	}

	cfg = base()
	cfg.Tokens = []TokenConfig{{Symbol: "USDC", ChainID: 1}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("非原生代币缺少地址应校验失败")
	}

	cfg = base()
	cfg.Tokens = []TokenConfig{{Symbol: "USDT", ChainID: 1, Address: "0x1", Restriction: "burn_first"}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("未知限制类型应校验失败")
	}

	cfg = base()
	cfg.Quoting.QuoteTTL = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("quote_ttl 为零应校验失败")
	}

	cfg = base()
	cfg.Quoting.DefaultSlippageBps = 20000
	if err := cfg.Validate(); err == nil {
		t.Fatal("滑点超出范围应校验失败")
	}
}

func TestResolveMaxPoints(t *testing.T) {
	cfg := &Config{Export: ExportConfig{MaxDataPoints: 500}}
	if cfg.ResolveMaxPoints(0) != 500 {
		t.Fatal("无覆盖时应返回配置默认")
	}
	if cfg.ResolveMaxPoints(10) != 10 {
		t.Fatal("CLI 覆盖应优先")
	}
}
