package prepare

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"swapquoter/internal/quote"
	"swapquoter/internal/registry"
	"swapquoter/internal/token"
)

var (
	usdtAddr    = common.HexToAddress("0xdAC17F958D2ee523a2206206994597C13D831ec7")
	daiAddr     = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
	routerAddr  = common.HexToAddress("0x1111111111111111111111111111111111111111")
	spenderAddr = common.HexToAddress("0x2222222222222222222222222222222222222222")
	userAddr    = common.HexToAddress("0x4444444444444444444444444444444444444444")
	wrapperAddr = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
)

type fakeReader struct {
	allowance   *big.Int
	allowErr    error
	balance     *big.Int
	nativeBal   *big.Int
	gasPrice    *big.Int
	gasPriceErr error
	estimated   uint64
	estimateErr error
}

func (f *fakeReader) Allowance(context.Context, int64, common.Address, common.Address, common.Address) (*big.Int, error) {
	return f.allowance, f.allowErr
}

func (f *fakeReader) Balance(context.Context, int64, common.Address, common.Address) (*big.Int, error) {
	return f.balance, nil
}

func (f *fakeReader) NativeBalance(context.Context, int64, common.Address) (*big.Int, error) {
	return f.nativeBal, nil
}

func (f *fakeReader) GasPrice(context.Context, int64, string) (*big.Int, error) {
	return f.gasPrice, f.gasPriceErr
}

func (f *fakeReader) EstimateGas(context.Context, int64, common.Address, common.Address, *big.Int, []byte) (uint64, error) {
	return f.estimated, f.estimateErr
}

func usdtIntent() quote.TradeIntent {
	return quote.TradeIntent{
		ChainID:      1,
		PayToken:     token.Token{Symbol: "USDT", ChainID: 1, Address: usdtAddr, Decimals: 6},
		ReceiveToken: token.Token{Symbol: "DAI", ChainID: 1, Address: daiAddr, Decimals: 18},
		PayAmount:    decimal.NewFromInt(100),
		SlippageBps:  50,
		UserAddress:  userAddr,
		SourceIDs:    []string{"agg"},
	}
}

func tradeCandidate() *quote.Candidate {
	return &quote.Candidate{
		SourceID:    "agg",
		Resolved:    true,
		ToAmount:    decimal.NewFromInt(99),
		ToAmountWei: big.NewInt(99000000),
		Spender:     &spenderAddr,
		GasUnits:    180000,
		Tx: &quote.ProposedTx{
			To:      routerAddr,
			Data:    []byte{0xab, 0xcd},
			Value:   big.NewInt(0),
			ChainID: 1,
		},
	}
}

func newTestPreparer(reader *fakeReader) *Preparer {
	return New(reader, registry.Default(), GasPrefs{PreferredPriceWei: big.NewInt(1000000000)}, zerolog.Nop())
}

func stepKinds(steps []quote.TxStep) []quote.StepKind {
	kinds := make([]quote.StepKind, len(steps))
	for i, s := range steps {
		kinds[i] = s.Kind
	}
	return kinds
}

func TestPrepareTwoStepApprove(t *testing.T) {
	cases := []struct {
		name       string
		payToken   token.Token
		allowance  *big.Int
		wantTwo    bool
		wantKinds  []quote.StepKind
	}{
		{
			name:      "受限代币且存量授权不足",
			payToken:  token.Token{Symbol: "USDT", ChainID: 1, Address: usdtAddr, Decimals: 6},
			allowance: big.NewInt(1),
			wantTwo:   true,
			wantKinds: []quote.StepKind{quote.StepRevokeApproval, quote.StepApproval, quote.StepTrade},
		},
		{
			name:      "受限代币但存量授权为零",
			payToken:  token.Token{Symbol: "USDT", ChainID: 1, Address: usdtAddr, Decimals: 6},
			allowance: big.NewInt(0),
			wantTwo:   false,
			wantKinds: []quote.StepKind{quote.StepApproval, quote.StepTrade},
		},
		{
			name:      "受限代币且授权充足",
			payToken:  token.Token{Symbol: "USDT", ChainID: 1, Address: usdtAddr, Decimals: 6},
			allowance: big.NewInt(200000000),
			wantTwo:   false,
			wantKinds: []quote.StepKind{quote.StepTrade},
		},
		{
			name:      "普通代币授权不足",
			payToken:  token.Token{Symbol: "DAI", ChainID: 1, Address: daiAddr, Decimals: 6},
			allowance: big.NewInt(1),
			wantTwo:   false,
			wantKinds: []quote.StepKind{quote.StepApproval, quote.StepTrade},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			reader := &fakeReader{allowance: tc.allowance}
			p := newTestPreparer(reader)
			intent := usdtIntent()
			intent.PayToken = tc.payToken
			cand := tradeCandidate()

			allowance, err := p.ReadAllowance(context.Background(), cand, intent)
			if err != nil {
				t.Fatalf("读取授权失败: %v", err)
			}
			prep, err := p.Prepare(context.Background(), cand, intent, allowance, decimal.NewFromInt(4000))
			if err != nil {
				t.Fatalf("Prepare 失败: %v", err)
			}
			if prep.ShouldTwoStepApprove != tc.wantTwo {
				t.Fatalf("两步授权判定错误: 期望 %v", tc.wantTwo)
			}
			got := stepKinds(prep.Steps)
			if len(got) != len(tc.wantKinds) {
				t.Fatalf("步骤数不符: 期望 %v, 实际 %v", tc.wantKinds, got)
			}
			for i := range got {
				if got[i] != tc.wantKinds[i] {
					t.Fatalf("第 %d 步类型不符: 期望 %s, 实际 %s", i, tc.wantKinds[i], got[i])
				}
			}
		})
	}
}

func TestPrepareRevokeStepZeroesAllowance(t *testing.T) {
	reader := &fakeReader{allowance: big.NewInt(1)}
	p := newTestPreparer(reader)
	intent := usdtIntent()
	cand := tradeCandidate()

	allowance, _ := p.ReadAllowance(context.Background(), cand, intent)
	prep, err := p.Prepare(context.Background(), cand, intent, allowance, decimal.NewFromInt(4000))
	if err != nil {
		t.Fatalf("Prepare 失败: %v", err)
	}

	revoke := prep.Steps[0]
	if revoke.Kind != quote.StepRevokeApproval || revoke.To != usdtAddr {
		t.Fatalf("撤销步骤不正确: %+v", revoke)
	}
	approve := prep.Steps[1]
	if approve.To != usdtAddr {
		t.Fatalf("授权步骤应发往代币合约: %s", approve.To)
	}
	// approve(spender, 0) 与 approve(spender, amount) 仅金额不同
	if len(revoke.Data) != len(approve.Data) {
		t.Fatal("撤销与授权的调用数据长度应一致")
	}
	trade := prep.TradeStep()
	if trade.Kind != quote.StepTrade || trade.To != routerAddr {
		t.Fatalf("交易步骤不正确: %+v", trade)
	}
	if len(prep.ApprovalSteps()) != 2 {
		t.Fatal("交易前应有两个授权相关步骤")
	}
}

func TestPrepareNativePaySkipsApproval(t *testing.T) {
	reader := &fakeReader{}
	p := newTestPreparer(reader)
	intent := usdtIntent()
	intent.PayToken = token.Token{Symbol: "ETH", ChainID: 1, Native: true, Decimals: 18}
	cand := tradeCandidate()
	cand.Spender = nil

	allowance, err := p.ReadAllowance(context.Background(), cand, intent)
	if err != nil {
		t.Fatalf("原生支付读取授权不应失败: %v", err)
	}
	if allowance.AmountWei != nil {
		t.Fatal("原生支付不应有授权快照金额")
	}

	prep, err := p.Prepare(context.Background(), cand, intent, allowance, decimal.NewFromInt(4000))
	if err != nil {
		t.Fatalf("Prepare 失败: %v", err)
	}
	if len(prep.Steps) != 1 || prep.Steps[0].Kind != quote.StepTrade {
		t.Fatalf("原生支付应只有交易步骤: %v", stepKinds(prep.Steps))
	}
}

func TestPrepareWrapSimulatesGas(t *testing.T) {
	reader := &fakeReader{estimated: 45000}
	p := newTestPreparer(reader)
	intent := usdtIntent()
	intent.PayToken = token.Token{Symbol: "ETH", ChainID: 1, Native: true, Decimals: 18}
	intent.ReceiveToken = token.Token{Symbol: "WETH", ChainID: 1, Address: wrapperAddr, Decimals: 18}

	cand := tradeCandidate()
	cand.Wrap = token.Wrap
	cand.Tx.To = wrapperAddr
	cand.GasUnits = 0

	prep, err := p.Prepare(context.Background(), cand, intent, quote.AllowanceSnapshot{}, decimal.NewFromInt(4000))
	if err != nil {
		t.Fatalf("Prepare 失败: %v", err)
	}
	if prep.Gas.EstimatedUnits != 45000 {
		t.Fatalf("封装对应使用模拟 gas: %d", prep.Gas.EstimatedUnits)
	}

	reader.estimateErr = errors.New("execution reverted")
	if _, err := p.Prepare(context.Background(), cand, intent, quote.AllowanceSnapshot{}, decimal.NewFromInt(4000)); err == nil {
		t.Fatal("模拟失败应返回错误")
	}
}

func TestPrepareGasPriceResolution(t *testing.T) {
	// 缓存价格优先
	reader := &fakeReader{allowance: big.NewInt(0), gasPrice: big.NewInt(7)}
	p := New(reader, registry.Default(), GasPrefs{PreferredPriceWei: big.NewInt(42)}, zerolog.Nop())
	intent := usdtIntent()
	cand := tradeCandidate()

	prep, err := p.Prepare(context.Background(), cand, intent, quote.AllowanceSnapshot{AmountWei: big.NewInt(0)}, decimal.NewFromInt(4000))
	if err != nil {
		t.Fatalf("Prepare 失败: %v", err)
	}
	if prep.Gas.PriceWei.Cmp(big.NewInt(42)) != 0 {
		t.Fatalf("应优先使用缓存价格: %s", prep.Gas.PriceWei)
	}

	// 无缓存时退回 tier 行情
	p = New(reader, registry.Default(), GasPrefs{}, zerolog.Nop())
	prep, err = p.Prepare(context.Background(), cand, intent, quote.AllowanceSnapshot{AmountWei: big.NewInt(0)}, decimal.NewFromInt(4000))
	if err != nil {
		t.Fatalf("Prepare 失败: %v", err)
	}
	if prep.Gas.PriceWei.Cmp(big.NewInt(7)) != 0 {
		t.Fatalf("无缓存时应使用行情价格: %s", prep.Gas.PriceWei)
	}

	// 行情失败则准备失败
	reader.gasPriceErr = errors.New("rpc down")
	if _, err := p.Prepare(context.Background(), cand, intent, quote.AllowanceSnapshot{AmountWei: big.NewInt(0)}, decimal.NewFromInt(4000)); err == nil {
		t.Fatal("gas 价格不可用时应返回错误")
	}
}

func TestPrepareMissingTx(t *testing.T) {
	p := newTestPreparer(&fakeReader{})
	cand := tradeCandidate()
	cand.Tx = nil
	if _, err := p.Prepare(context.Background(), cand, usdtIntent(), quote.AllowanceSnapshot{}, decimal.Zero); err == nil {
		t.Fatal("缺少交易载荷应返回错误")
	}
}

func TestGasFiatCost(t *testing.T) {
	// 100000 单位 x 1 gwei = 1e14 wei = 0.0001 ETH; x $4000 = $0.4
	cost := GasFiatCost(100000, big.NewInt(1000000000), decimal.NewFromInt(4000))
	if !cost.Equal(decimal.RequireFromString("0.4")) {
		t.Fatalf("gas 成本换算不正确: %s", cost)
	}
	if !GasFiatCost(0, big.NewInt(1), decimal.NewFromInt(1)).IsZero() {
		t.Fatal("零单位应返回零成本")
	}
	if !GasFiatCost(1, nil, decimal.NewFromInt(1)).IsZero() {
		t.Fatal("无价格应返回零成本")
	}
}
