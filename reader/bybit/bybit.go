package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	appconfig "arbflow/config"
	"arbflow/internal/symbols"
	"arbflow/logger"
	"arbflow/models"
	"arbflow/reader"

	bybit "github.com/bybit-exchange/bybit.go.api"
)

const (
	name     = "bybit"
	category = "spot"
	// retCodeRateLimited is returned when the request frequency is too high.
	retCodeRateLimited = 10006
	defaultBaseURL     = "https://api.bybit.com"
	maxSpotDepth       = 200
)

// Exchange polls Bybit spot order books over the v5 REST API.
type Exchange struct {
	client *bybit.Client
	log    *logger.Entry
}

type orderBookResult struct {
	Symbol   string     `json:"s"`
	Asks     [][]string `json:"a"`
	Bids     [][]string `json:"b"`
	Ts       int64      `json:"ts"`
	UpdateID int64      `json:"u"`
}

type instrumentsResult struct {
	List []struct {
		Symbol    string `json:"symbol"`
		BaseCoin  string `json:"baseCoin"`
		QuoteCoin string `json:"quoteCoin"`
		Status    string `json:"status"`
	} `json:"list"`
}

func New(cfg appconfig.ExchangeConfig, timeout time.Duration) *Exchange {
	base := strings.TrimRight(cfg.URL, "/")
	if base == "" {
		base = defaultBaseURL
	}

	client := bybit.NewBybitHttpClient("", "", bybit.WithBaseURL(base))
	client.HTTPClient = &http.Client{Timeout: timeout}

	e := &Exchange{
		client: client,
		log:    logger.GetLogger().WithComponent("bybit_exchange"),
	}
	e.log.WithFields(logger.Fields{"base_url": base, "timeout": timeout}).Info("bybit exchange initialized")
	return e
}

func (e *Exchange) Name() string { return name }

func (e *Exchange) Capability() reader.Capability { return reader.PollOnly }

func (e *Exchange) Close() error { return nil }

func (e *Exchange) LoadMarkets(ctx context.Context) ([]string, error) {
	params := map[string]interface{}{"category": category}
	resp, err := e.client.NewUtaBybitServiceWithParams(params).GetInstrumentInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("bybit instruments: %w", err)
	}
	var result instrumentsResult
	if err := decodeResult(resp, &result); err != nil {
		return nil, fmt.Errorf("bybit instruments: %w", err)
	}

	markets := make([]string, 0, len(result.List))
	for _, inst := range result.List {
		if inst.Status != "Trading" {
			continue
		}
		markets = append(markets, symbols.Unified(inst.BaseCoin, inst.QuoteCoin))
	}
	return markets, nil
}

func (e *Exchange) FetchOrderBook(ctx context.Context, market string, limit int) reader.FetchResult {
	if limit > maxSpotDepth {
		limit = maxSpotDepth
	}
	symbol := symbols.ToVenue(name, market)
	params := map[string]interface{}{
		"category": category,
		"symbol":   symbol,
		"limit":    limit,
	}

	start := time.Now()
	resp, err := e.client.NewUtaBybitServiceWithParams(params).GetOrderBookInfo(ctx)
	if err != nil {
		return reader.Classify(name, err)
	}
	logger.LogPerformanceEntry(e.log, "bybit_exchange", "orderbook_request", time.Since(start), logger.Fields{"symbol": symbol})

	var result orderBookResult
	if err := decodeResult(resp, &result); err != nil {
		return reader.Classify(name, err)
	}

	snapshot, err := convertOrderBook(market, result)
	if err != nil {
		return reader.Fatal(err)
	}
	return reader.OK(snapshot)
}

// decodeResult checks the return code and decodes the untyped result.
func decodeResult(resp *bybit.ServerResponse, out interface{}) error {
	if resp == nil {
		return fmt.Errorf("empty response")
	}
	if resp.RetCode == retCodeRateLimited {
		return fmt.Errorf("%w: retCode=%d %s", reader.ErrRateLimited, resp.RetCode, resp.RetMsg)
	}
	if resp.RetCode != 0 {
		return fmt.Errorf("retCode=%d %s", resp.RetCode, resp.RetMsg)
	}
	payload, err := json.Marshal(resp.Result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}

func convertOrderBook(market string, result orderBookResult) (*models.OrderBookSnapshot, error) {
	asks, err := reader.ParseLevels(result.Asks)
	if err != nil {
		return nil, fmt.Errorf("bybit asks: %w", err)
	}
	bids, err := reader.ParseLevels(result.Bids)
	if err != nil {
		return nil, fmt.Errorf("bybit bids: %w", err)
	}
	ts := time.Now().UTC()
	if result.Ts > 0 {
		ts = time.UnixMilli(result.Ts).UTC()
	}
	return &models.OrderBookSnapshot{
		Exchange:     name,
		Symbol:       market,
		Asks:         asks,
		Bids:         bids,
		LastUpdateID: result.UpdateID,
		Timestamp:    ts,
	}, nil
}
