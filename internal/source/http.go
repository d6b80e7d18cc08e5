package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"swapquoter/internal/quote"
)

const quotePath = "/quote"

// Aggregator routers expose a single swap entrypoint; its arguments are
// what the Safety Validator checks the encoded payload against.
const swapABIJSON = `[{"name":"swap","type":"function","stateMutability":"payable","inputs":[{"name":"fromToken","type":"address"},{"name":"toToken","type":"address"},{"name":"amount","type":"uint256"},{"name":"minReturn","type":"uint256"}],"outputs":[{"name":"returnAmount","type":"uint256"}]}]`

var swapABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(swapABIJSON))
	if err != nil {
		panic("failed to parse swap ABI: " + err.Error())
	}
	swapABI = parsed
}

// HTTPOptions parameterise an aggregator adapter.
type HTTPOptions struct {
	ID      string
	BaseURL string
	// FeeRate is the source's service fee as a fraction of the receive
	// amount, handed in explicitly.
	FeeRate   decimal.Decimal
	Timeout   time.Duration
	UserAgent string
}

// HTTPAdapter quotes a same-chain swap source over its REST API.
type HTTPAdapter struct {
	opts    HTTPOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewHTTPAdapter constructs an aggregator adapter.
func NewHTTPAdapter(opts HTTPOptions, logger zerolog.Logger) *HTTPAdapter {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPAdapter{
		opts:    opts,
		logger:  logger.With().Str("component", "source_adapter").Str("source", opts.ID).Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
	}
}

// ID implements Adapter.
func (a *HTTPAdapter) ID() string { return a.opts.ID }

type quoteRequest struct {
	FromTokenID   string `json:"fromTokenId"`
	ToTokenID     string `json:"toTokenId"`
	FromAmountRaw string `json:"fromAmountRaw"`
	UserAddress   string `json:"userAddress"`
	Slippage      string `json:"slippage"`
	FeeRate       string `json:"feeRate"`
	ChainID       int64  `json:"chainId"`
	BridgeID      string `json:"bridgeId,omitempty"`
}

type quoteResponse struct {
	ToAmountRaw string `json:"toAmountRaw"`
	Tx          struct {
		To    string `json:"to"`
		Data  string `json:"data"`
		Value string `json:"value"`
	} `json:"tx"`
	Spender        string `json:"spender"`
	GasUnits       uint64 `json:"gasUnits"`
	ProtocolFeeRaw string `json:"protocolFeeRaw"`
}

type errorResponse struct {
	ErrorType   string `json:"errorType"`
	Description string `json:"description"`
	Message     string `json:"message"`
}

// Quote implements Adapter.
func (a *HTTPAdapter) Quote(ctx context.Context, intent quote.TradeIntent) (*quote.Candidate, error) {
	req := quoteRequest{
		FromTokenID:   intent.PayToken.ID(),
		ToTokenID:     intent.ReceiveToken.ID(),
		FromAmountRaw: intent.PayAmountWei().String(),
		UserAddress:   intent.UserAddress.Hex(),
		Slippage:      intent.SlippageFraction().String(),
		FeeRate:       a.opts.FeeRate.String(),
		ChainID:       intent.ChainID,
	}
	payload, raw, err := a.postQuote(ctx, req)
	if err != nil {
		return nil, err
	}
	return a.buildCandidate(intent, "", payload, raw)
}

func (a *HTTPAdapter) postQuote(ctx context.Context, reqPayload quoteRequest) (*quoteResponse, json.RawMessage, error) {
	if a.baseURL == "" {
		return nil, nil, errors.New("source base url not configured")
	}

	body, err := json.Marshal(reqPayload)
	if err != nil {
		return nil, nil, err
	}

	endpoint := a.baseURL + quotePath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(a.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "swapquoter/1.0")
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	payloadBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, nil, parseHTTPError(a.opts.ID, resp.StatusCode, payloadBytes)
	}

	var quoteRes quoteResponse
	if err := json.Unmarshal(payloadBytes, &quoteRes); err != nil {
		return nil, nil, err
	}
	return &quoteRes, json.RawMessage(payloadBytes), nil
}

func (a *HTTPAdapter) buildCandidate(intent quote.TradeIntent, bridgeID string, res *quoteResponse, raw json.RawMessage) (*quote.Candidate, error) {
	cand := &quote.Candidate{
		SourceID: a.opts.ID,
		BridgeID: bridgeID,
		Resolved: true,
	}

	if res.ToAmountRaw == "" || res.ToAmountRaw == "0" {
		cand.Reason = quote.ReasonNoRoute
		return cand, nil
	}

	toWei, ok := new(big.Int).SetString(res.ToAmountRaw, 10)
	if !ok {
		cand.Reason = quote.ReasonNoRoute
		cand.Err = fmt.Errorf("unparseable toAmountRaw %q", res.ToAmountRaw)
		return cand, nil
	}

	cand.Raw = raw
	cand.ToAmountWei = toWei
	cand.ToAmount = intent.ReceiveToken.FromWei(toWei)
	cand.GasUnits = res.GasUnits

	if res.Tx.To != "" {
		data, err := decodeHexField(res.Tx.Data)
		if err != nil {
			cand.Reason = quote.ReasonNoRoute
			cand.Err = fmt.Errorf("malformed tx data: %w", err)
			return cand, nil
		}
		value := big.NewInt(0)
		if res.Tx.Value != "" {
			if value, ok = new(big.Int).SetString(res.Tx.Value, 10); !ok {
				cand.Reason = quote.ReasonNoRoute
				cand.Err = fmt.Errorf("unparseable tx value %q", res.Tx.Value)
				return cand, nil
			}
		}
		cand.Tx = &quote.ProposedTx{
			To:      common.HexToAddress(res.Tx.To),
			Data:    data,
			Value:   value,
			ChainID: intent.ChainID,
		}
	}

	if res.Spender != "" {
		spender := common.HexToAddress(res.Spender)
		cand.Spender = &spender
	}

	if res.ProtocolFeeRaw != "" {
		if fee, ok := new(big.Int).SetString(res.ProtocolFeeRaw, 10); ok {
			cand.Fees.ProtocolFee = intent.ReceiveToken.FromWei(fee)
		}
	}
	if a.opts.FeeRate.IsPositive() {
		cand.Fees.ServiceFee = cand.ToAmount.Mul(a.opts.FeeRate)
	}

	return cand, nil
}

// DecodeCallData implements CallDecoder for the aggregator swap entrypoint.
func (a *HTTPAdapter) DecodeCallData(data []byte) (*quote.DecodedCall, error) {
	method := swapABI.Methods["swap"]
	if len(data) < 4 || !bytes.Equal(data[:4], method.ID) {
		return nil, fmt.Errorf("%w: unknown selector", quote.ErrDecodeUnsupported)
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, fmt.Errorf("unpack swap call: %w", err)
	}
	if len(args) != 4 {
		return nil, errors.New("unexpected swap argument count")
	}
	fromToken, ok1 := args[0].(common.Address)
	toToken, ok2 := args[1].(common.Address)
	amount, ok3 := args[2].(*big.Int)
	minReturn, ok4 := args[3].(*big.Int)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return nil, errors.New("unexpected swap argument types")
	}
	return &quote.DecodedCall{
		FromToken:  fromToken,
		ToToken:    toToken,
		Amount:     amount,
		MinReceive: minReturn,
	}, nil
}

// EncodeSwapCallData builds a swap payload in the aggregator encoding.
// Used by tests and fixtures; real payloads come from the source.
func EncodeSwapCallData(fromToken, toToken common.Address, amount, minReturn *big.Int) []byte {
	data, err := swapABI.Pack("swap", fromToken, toToken, amount, minReturn)
	if err != nil {
		panic("pack swap: " + err.Error())
	}
	return data
}

func decodeHexField(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	if !strings.HasPrefix(s, "0x") {
		s = "0x" + s
	}
	return hexutil.Decode(s)
}

func parseHTTPError(sourceID string, status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Description != "" {
			return fmt.Errorf("%s api error (%d): %s", sourceID, status, apiErr.Description)
		}
		if apiErr.Message != "" {
			return fmt.Errorf("%s api error (%d): %s", sourceID, status, apiErr.Message)
		}
		if apiErr.ErrorType != "" {
			return fmt.Errorf("%s api error (%d): %s", sourceID, status, apiErr.ErrorType)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("%s api error (%d): %s", sourceID, status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("%s api error (%d)", sourceID, status)
}

var (
	_ Adapter     = (*HTTPAdapter)(nil)
	_ CallDecoder = (*HTTPAdapter)(nil)
)
