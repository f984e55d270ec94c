package kucoin

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	appconfig "arbflow/config"
	"arbflow/internal/symbols"
	"arbflow/logger"
	"arbflow/models"
	"arbflow/reader"

	api "github.com/Kucoin/kucoin-universal-sdk/sdk/golang/pkg/api"
	spotmarket "github.com/Kucoin/kucoin-universal-sdk/sdk/golang/pkg/generate/spot/market"
	sdktype "github.com/Kucoin/kucoin-universal-sdk/sdk/golang/pkg/types"
)

const (
	name           = "kucoin"
	defaultBaseURL = "https://api.kucoin.com"
)

// Exchange polls KuCoin spot part order books through the universal SDK.
type Exchange struct {
	marketAPI spotmarket.MarketAPI
	log       *logger.Entry
}

func New(cfg appconfig.ExchangeConfig, timeout time.Duration, maxConns int) *Exchange {
	baseURL := strings.TrimRight(cfg.URL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if maxConns <= 0 {
		maxConns = 4
	}

	transportOpt := sdktype.NewTransportOptionBuilder().
		SetMaxIdleConns(maxConns).
		SetMaxIdleConnsPerHost(maxConns).
		SetMaxConnsPerHost(maxConns).
		SetIdleConnTimeout(90 * time.Second).
		SetTimeout(timeout).
		Build()

	option := sdktype.NewClientOptionBuilder().
		WithSpotEndpoint(baseURL).
		WithTransportOption(transportOpt).
		Build()

	client := api.NewClient(option)

	e := &Exchange{
		marketAPI: client.RestService().GetSpotService().GetMarketAPI(),
		log:       logger.GetLogger().WithComponent("kucoin_exchange"),
	}
	e.log.WithFields(logger.Fields{"base_url": baseURL, "timeout": timeout}).Info("kucoin exchange initialized")
	return e
}

func (e *Exchange) Name() string { return name }

func (e *Exchange) Capability() reader.Capability { return reader.PollOnly }

func (e *Exchange) Close() error { return nil }

func (e *Exchange) LoadMarkets(ctx context.Context) ([]string, error) {
	req := spotmarket.NewGetAllSymbolsReqBuilder().Build()
	resp, err := e.marketAPI.GetAllSymbols(req, ctx)
	if err != nil {
		return nil, fmt.Errorf("kucoin symbols: %w", err)
	}
	markets := make([]string, 0, len(resp.Data))
	for _, s := range resp.Data {
		if !s.EnableTrading {
			continue
		}
		markets = append(markets, symbols.Unified(s.BaseCurrency, s.QuoteCurrency))
	}
	return markets, nil
}

// PartSize is the closest part order book KuCoin serves for a level limit.
func PartSize(limit int) string {
	if limit <= 20 {
		return "20"
	}
	return "100"
}

func (e *Exchange) FetchOrderBook(ctx context.Context, market string, limit int) reader.FetchResult {
	symbol := symbols.ToVenue(name, market)
	req := spotmarket.NewGetPartOrderBookReqBuilder().
		SetSymbol(symbol).
		SetSize(PartSize(limit)).
		Build()

	start := time.Now()
	resp, err := e.marketAPI.GetPartOrderBook(req, ctx)
	if err != nil {
		return reader.Classify(name, err)
	}
	logger.LogPerformanceEntry(e.log, "kucoin_exchange", "orderbook_request", time.Since(start), logger.Fields{"symbol": symbol})

	snapshot, err := convertOrderBook(market, resp.Sequence, resp.Time, resp.Asks, resp.Bids)
	if err != nil {
		return reader.Fatal(err)
	}
	return reader.OK(snapshot)
}

func convertOrderBook(market, sequence string, ts int64, rawAsks, rawBids [][]string) (*models.OrderBookSnapshot, error) {
	asks, err := reader.ParseLevels(rawAsks)
	if err != nil {
		return nil, fmt.Errorf("kucoin asks: %w", err)
	}
	bids, err := reader.ParseLevels(rawBids)
	if err != nil {
		return nil, fmt.Errorf("kucoin bids: %w", err)
	}
	seq, _ := strconv.ParseInt(sequence, 10, 64)
	when := time.Now().UTC()
	if ts > 0 {
		when = time.UnixMilli(ts).UTC()
	}
	return &models.OrderBookSnapshot{
		Exchange:     name,
		Symbol:       market,
		Asks:         asks,
		Bids:         bids,
		LastUpdateID: seq,
		Timestamp:    when,
	}, nil
}
