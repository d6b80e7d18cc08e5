package source

import (
	"bytes"
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"swapquoter/internal/quote"
	"swapquoter/internal/token"
)

var wrapperAddr = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")

func wrapIntent(pay, receive token.Token) quote.TradeIntent {
	return quote.TradeIntent{
		ChainID:      1,
		PayToken:     pay,
		ReceiveToken: receive,
		PayAmount:    decimal.NewFromInt(2),
		SlippageBps:  50,
		UserAddress:  testUser,
		SourceIDs:    []string{WrapSourceID},
	}
}

func TestWrapAdapterSupports(t *testing.T) {
	eth := token.Token{Symbol: "ETH", ChainID: 1, Native: true, Decimals: 18}
	weth := token.Token{Symbol: "WETH", ChainID: 1, Address: wrapperAddr, Decimals: 18}
	dai := token.Token{Symbol: "DAI", ChainID: 1, Address: testRecvAddr, Decimals: 18}

	a := NewWrapAdapter(map[int64]common.Address{1: wrapperAddr}, noopLogger())
	if a.Supports(wrapIntent(eth, weth)) != token.Wrap {
		t.Fatal("ETH->WETH 应识别为 Wrap")
	}
	if a.Supports(wrapIntent(weth, eth)) != token.Unwrap {
		t.Fatal("WETH->ETH 应识别为 Unwrap")
	}
	if a.Supports(wrapIntent(eth, dai)) != token.WrapNone {
		t.Fatal("普通交易对不应被识别")
	}

	empty := NewWrapAdapter(nil, noopLogger())
	if empty.Supports(wrapIntent(eth, weth)) != token.WrapNone {
		t.Fatal("未配置 wrapper 的链不应被识别")
	}
}

func TestWrapAdapterQuoteDeposit(t *testing.T) {
	eth := token.Token{Symbol: "ETH", ChainID: 1, Native: true, Decimals: 18}
	weth := token.Token{Symbol: "WETH", ChainID: 1, Address: wrapperAddr, Decimals: 18}

	a := NewWrapAdapter(map[int64]common.Address{1: wrapperAddr}, noopLogger())
	intent := wrapIntent(eth, weth)

	cand, err := a.Quote(context.Background(), intent)
	if err != nil {
		t.Fatalf("封装报价失败: %v", err)
	}
	if !cand.ToAmount.Equal(intent.PayAmount) {
		t.Fatalf("封装应为 1:1, 实际 %s", cand.ToAmount)
	}
	if cand.Wrap != token.Wrap {
		t.Fatal("方向应为 Wrap")
	}
	if cand.Tx.To != wrapperAddr {
		t.Fatalf("交易应发往 wrapper 合约: %s", cand.Tx.To)
	}
	if cand.Tx.Value.Cmp(intent.PayAmountWei()) != 0 {
		t.Fatalf("deposit 应携带原生金额: %s", cand.Tx.Value)
	}
	if !bytes.Equal(cand.Tx.Data, wrapperABI.Methods["deposit"].ID) {
		t.Fatal("deposit 调用数据不正确")
	}
}

func TestWrapAdapterQuoteWithdraw(t *testing.T) {
	eth := token.Token{Symbol: "ETH", ChainID: 1, Native: true, Decimals: 18}
	weth := token.Token{Symbol: "WETH", ChainID: 1, Address: wrapperAddr, Decimals: 18}

	a := NewWrapAdapter(map[int64]common.Address{1: wrapperAddr}, noopLogger())
	intent := wrapIntent(weth, eth)

	cand, err := a.Quote(context.Background(), intent)
	if err != nil {
		t.Fatalf("解封报价失败: %v", err)
	}
	if cand.Wrap != token.Unwrap {
		t.Fatal("方向应为 Unwrap")
	}
	if cand.Tx.Value.Sign() != 0 {
		t.Fatalf("withdraw 不应携带原生金额: %s", cand.Tx.Value)
	}
	if !bytes.Equal(cand.Tx.Data[:4], wrapperABI.Methods["withdraw"].ID) {
		t.Fatal("withdraw 调用数据不正确")
	}
}

func TestWrapAdapterRejectsOrdinaryPair(t *testing.T) {
	eth := token.Token{Symbol: "ETH", ChainID: 1, Native: true, Decimals: 18}
	dai := token.Token{Symbol: "DAI", ChainID: 1, Address: testRecvAddr, Decimals: 18}

	a := NewWrapAdapter(map[int64]common.Address{1: wrapperAddr}, noopLogger())
	if _, err := a.Quote(context.Background(), wrapIntent(eth, dai)); err == nil {
		t.Fatal("普通交易对应返回错误")
	}
}

func TestRegistryOrderAndDecoder(t *testing.T) {
	first := NewHTTPAdapter(HTTPOptions{ID: "one"}, noopLogger())
	second := NewWrapAdapter(nil, noopLogger())
	reg := NewRegistry(first, second)

	ids := reg.IDs()
	if len(ids) != 2 || ids[0] != "one" || ids[1] != WrapSourceID {
		t.Fatalf("注册顺序应被保留: %v", ids)
	}

	if _, ok := reg.Decoder("one"); !ok {
		t.Fatal("聚合器适配器应提供解码器")
	}
	if _, ok := reg.Decoder(WrapSourceID); ok {
		t.Fatal("wrap 适配器不应提供解码器")
	}

	replacement := NewHTTPAdapter(HTTPOptions{ID: "one", BaseURL: "http://x"}, noopLogger())
	reg.Register(replacement)
	if len(reg.IDs()) != 2 {
		t.Fatal("重复注册不应追加顺序")
	}
	got, _ := reg.Get("one")
	if got != Adapter(replacement) {
		t.Fatal("重复注册应替换实例")
	}
}
