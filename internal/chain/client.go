package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
)

const erc20ABIJSON = `[
	{"name":"allowance","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"approve","type":"function","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

var erc20ABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		panic("failed to parse ERC20 ABI: " + err.Error())
	}
	erc20ABI = parsed
}

// Endpoint describes one chain's RPC access.
type Endpoint struct {
	ChainID int64
	RPCURL  string
	Timeout time.Duration
}

// Client implements Reader over JSON-RPC, dialing each chain lazily on
// first use and reusing the connection afterwards.
type Client struct {
	endpoints map[int64]Endpoint
	tiers     map[string]float64
	logger    zerolog.Logger

	mu      sync.Mutex
	clients map[int64]*ethclient.Client
}

// NewClient builds a multi-chain reader. tiers maps tier names to gas
// price multipliers; "normal" defaults to 1.0 when absent.
func NewClient(endpoints []Endpoint, tiers map[string]float64, logger zerolog.Logger) *Client {
	byID := make(map[int64]Endpoint, len(endpoints))
	for _, e := range endpoints {
		byID[e.ChainID] = e
	}
	if tiers == nil {
		tiers = map[string]float64{}
	}
	if _, ok := tiers["normal"]; !ok {
		tiers["normal"] = 1.0
	}
	return &Client{
		endpoints: byID,
		tiers:     tiers,
		logger:    logger.With().Str("component", "chain_client").Logger(),
		clients:   make(map[int64]*ethclient.Client),
	}
}

func (c *Client) getClient(ctx context.Context, chainID int64) (*ethclient.Client, Endpoint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ep, ok := c.endpoints[chainID]
	if !ok || ep.RPCURL == "" {
		return nil, Endpoint{}, fmt.Errorf("no rpc endpoint configured for chain %d", chainID)
	}

	if client, ok := c.clients[chainID]; ok {
		return client, ep, nil
	}

	client, err := ethclient.DialContext(ctx, ep.RPCURL)
	if err != nil {
		return nil, Endpoint{}, fmt.Errorf("dial chain %d: %w", chainID, err)
	}
	c.clients[chainID] = client
	return client, ep, nil
}

func (c *Client) withTimeout(ctx context.Context, ep Endpoint) (context.Context, context.CancelFunc) {
	timeout := ep.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}

// Allowance reads erc20.allowance(owner, spender).
func (c *Client) Allowance(ctx context.Context, chainID int64, tok, owner, spender common.Address) (*big.Int, error) {
	out, err := c.callERC20(ctx, chainID, tok, "allowance", owner, spender)
	if err != nil {
		return nil, fmt.Errorf("read allowance: %w", err)
	}
	return out, nil
}

// Balance reads erc20.balanceOf(owner).
func (c *Client) Balance(ctx context.Context, chainID int64, tok, owner common.Address) (*big.Int, error) {
	out, err := c.callERC20(ctx, chainID, tok, "balanceOf", owner)
	if err != nil {
		return nil, fmt.Errorf("read balance: %w", err)
	}
	return out, nil
}

// NativeBalance reads the account balance at the latest block.
func (c *Client) NativeBalance(ctx context.Context, chainID int64, owner common.Address) (*big.Int, error) {
	client, ep, err := c.getClient(ctx, chainID)
	if err != nil {
		return nil, err
	}
	ctx, cancel := c.withTimeout(ctx, ep)
	defer cancel()

	bal, err := client.BalanceAt(ctx, owner, nil)
	if err != nil {
		return nil, fmt.Errorf("read native balance: %w", err)
	}
	return bal, nil
}

// GasPrice returns the suggested gas price scaled by the tier multiplier.
func (c *Client) GasPrice(ctx context.Context, chainID int64, tier string) (*big.Int, error) {
	mult, ok := c.tiers[strings.ToLower(tier)]
	if !ok {
		return nil, fmt.Errorf("unknown gas tier %q", tier)
	}

	client, ep, err := c.getClient(ctx, chainID)
	if err != nil {
		return nil, err
	}
	ctx, cancel := c.withTimeout(ctx, ep)
	defer cancel()

	base, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest gas price: %w", err)
	}

	scaled := new(big.Float).Mul(new(big.Float).SetInt(base), big.NewFloat(mult))
	result, _ := scaled.Int(nil)
	if result.Sign() <= 0 {
		return nil, errors.New("gas price scaled to zero")
	}
	return result, nil
}

// EstimateGas runs the node's execution simulation for the call.
func (c *Client) EstimateGas(ctx context.Context, chainID int64, from, to common.Address, value *big.Int, data []byte) (uint64, error) {
	client, ep, err := c.getClient(ctx, chainID)
	if err != nil {
		return 0, err
	}
	ctx, cancel := c.withTimeout(ctx, ep)
	defer cancel()

	gas, err := client.EstimateGas(ctx, ethereum.CallMsg{
		From:  from,
		To:    &to,
		Value: value,
		Data:  data,
	})
	if err != nil {
		return 0, fmt.Errorf("estimate gas: %w", err)
	}
	return gas, nil
}

func (c *Client) callERC20(ctx context.Context, chainID int64, tok common.Address, method string, args ...interface{}) (*big.Int, error) {
	client, ep, err := c.getClient(ctx, chainID)
	if err != nil {
		return nil, err
	}
	ctx, cancel := c.withTimeout(ctx, ep)
	defer cancel()

	payload, err := erc20ABI.Pack(method, args...)
	if err != nil {
		return nil, err
	}

	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &tok, Data: payload}, nil)
	if err != nil {
		return nil, err
	}

	outputs, err := erc20ABI.Unpack(method, res)
	if err != nil {
		return nil, err
	}
	if len(outputs) != 1 {
		return nil, fmt.Errorf("unexpected %s response", method)
	}
	value, ok := outputs[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("failed to decode %s output", method)
	}
	return value, nil
}

// ApproveCallData encodes erc20.approve(spender, amount).
func ApproveCallData(spender common.Address, amount *big.Int) []byte {
	data, err := erc20ABI.Pack("approve", spender, amount)
	if err != nil {
		// Static ABI with static argument types; Pack cannot fail here.
		panic("pack approve: " + err.Error())
	}
	return data
}

var _ Reader = (*Client)(nil)
