package token

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

var (
	usdcAddr = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	wethAddr = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
)

func TestTokenID(t *testing.T) {
	native := Token{Symbol: "ETH", ChainID: 1, Native: true}
	if native.ID() != "1:native" {
		t.Fatalf("原生代币 ID 不正确: %s", native.ID())
	}

	usdc := Token{Symbol: "USDC", ChainID: 1, Address: usdcAddr, Decimals: 6}
	want := "1:0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"
	if usdc.ID() != want {
		t.Fatalf("期望 %s, 实际 %s", want, usdc.ID())
	}
}

func TestTokenEqual(t *testing.T) {
	a := Token{ChainID: 1, Address: usdcAddr}
	b := Token{ChainID: 1, Address: usdcAddr, Symbol: "USDC"}
	if !a.Equal(b) {
		t.Fatal("同链同地址应相等")
	}
	if a.Equal(Token{ChainID: 10, Address: usdcAddr}) {
		t.Fatal("不同链不应相等")
	}
	native := Token{ChainID: 1, Native: true}
	if native.Equal(a) {
		t.Fatal("原生代币与 ERC20 不应相等")
	}
	if !native.Equal(Token{ChainID: 1, Native: true}) {
		t.Fatal("同链原生代币应相等")
	}
}

func TestWeiConversion(t *testing.T) {
	usdc := Token{Symbol: "USDC", ChainID: 1, Address: usdcAddr, Decimals: 6}

	wei := usdc.ToWei(decimal.RequireFromString("123.456789"))
	if wei.Cmp(big.NewInt(123456789)) != 0 {
		t.Fatalf("ToWei 结果不正确: %s", wei)
	}

	back := usdc.FromWei(wei)
	if !back.Equal(decimal.RequireFromString("123.456789")) {
		t.Fatalf("FromWei 结果不正确: %s", back)
	}

	if !usdc.FromWei(nil).IsZero() {
		t.Fatal("nil wei 应返回零")
	}

	// 超出精度的小数位应被截断
	truncated := usdc.ToWei(decimal.RequireFromString("1.0000009"))
	if truncated.Cmp(big.NewInt(1000000)) != 0 {
		t.Fatalf("截断结果不正确: %s", truncated)
	}
}

func TestClassifyWrapPair(t *testing.T) {
	eth := Token{Symbol: "ETH", ChainID: 1, Native: true, Decimals: 18}
	weth := Token{Symbol: "WETH", ChainID: 1, Address: wethAddr, Decimals: 18}
	usdc := Token{Symbol: "USDC", ChainID: 1, Address: usdcAddr, Decimals: 6}

	if got := ClassifyWrapPair(eth, weth, wethAddr); got != Wrap {
		t.Fatalf("ETH->WETH 应为 Wrap, 实际 %d", got)
	}
	if got := ClassifyWrapPair(weth, eth, wethAddr); got != Unwrap {
		t.Fatalf("WETH->ETH 应为 Unwrap, 实际 %d", got)
	}
	if got := ClassifyWrapPair(eth, usdc, wethAddr); got != WrapNone {
		t.Fatalf("ETH->USDC 不应识别为封装对, 实际 %d", got)
	}
	if got := ClassifyWrapPair(eth, weth, common.Address{}); got != WrapNone {
		t.Fatal("未配置 wrapper 地址时应禁用识别")
	}

	crossChain := Token{Symbol: "WETH", ChainID: 10, Address: wethAddr, Decimals: 18}
	if got := ClassifyWrapPair(eth, crossChain, wethAddr); got != WrapNone {
		t.Fatal("跨链对不应识别为封装对")
	}
}
