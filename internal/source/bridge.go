package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/rs/zerolog"

	"swapquoter/internal/quote"
)

const routesPath = "/routes"

// BridgeAdapter quotes a cross-chain bridge aggregator: a coarse route
// list first, then one detailed quote per (source, bridge) pair.
type BridgeAdapter struct {
	*HTTPAdapter
}

// NewBridgeAdapter constructs a bridge aggregator adapter.
func NewBridgeAdapter(opts HTTPOptions, logger zerolog.Logger) *BridgeAdapter {
	return &BridgeAdapter{HTTPAdapter: NewHTTPAdapter(opts, logger)}
}

type routesResponse struct {
	Routes []struct {
		BridgeID string `json:"bridgeId"`
	} `json:"routes"`
}

// ListPairs implements BridgeLister.
func (a *BridgeAdapter) ListPairs(ctx context.Context, intent quote.TradeIntent) ([]BridgePair, error) {
	if a.baseURL == "" {
		return nil, errors.New("source base url not configured")
	}

	params := url.Values{}
	params.Set("fromTokenId", intent.PayToken.ID())
	params.Set("toTokenId", intent.ReceiveToken.ID())
	params.Set("fromAmountRaw", intent.PayAmountWei().String())

	endpoint := a.baseURL + routesPath + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, parseHTTPError(a.opts.ID, resp.StatusCode, payload)
	}

	var res routesResponse
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, fmt.Errorf("decode routes: %w", err)
	}

	pairs := make([]BridgePair, 0, len(res.Routes))
	for _, r := range res.Routes {
		if r.BridgeID == "" {
			continue
		}
		pairs = append(pairs, BridgePair{SourceID: a.opts.ID, BridgeID: r.BridgeID})
	}
	return pairs, nil
}

// QuotePair implements BridgeLister.
func (a *BridgeAdapter) QuotePair(ctx context.Context, intent quote.TradeIntent, pair BridgePair) (*quote.Candidate, error) {
	req := quoteRequest{
		FromTokenID:   intent.PayToken.ID(),
		ToTokenID:     intent.ReceiveToken.ID(),
		FromAmountRaw: intent.PayAmountWei().String(),
		UserAddress:   intent.UserAddress.Hex(),
		Slippage:      intent.SlippageFraction().String(),
		FeeRate:       a.opts.FeeRate.String(),
		ChainID:       intent.ChainID,
		BridgeID:      pair.BridgeID,
	}
	payload, raw, err := a.postQuote(ctx, req)
	if err != nil {
		return nil, err
	}
	return a.buildCandidate(intent, pair.BridgeID, payload, raw)
}

var _ BridgeLister = (*BridgeAdapter)(nil)
