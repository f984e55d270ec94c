package binance

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	appconfig "arbflow/config"
	ratemetrics "arbflow/internal/metrics/rate"
	"arbflow/internal/symbols"
	"arbflow/logger"
	"arbflow/models"
	"arbflow/reader"

	binance "github.com/adshao/go-binance/v2"
)

const name = "binance"

// Exchange reads Binance spot order books, by REST polling or through the
// partial depth websocket stream when the connection is "websocket".
type Exchange struct {
	client     *binance.Client
	capability reader.Capability
	stream     *reader.BookStream
	tracker    *ratemetrics.WSTracker
	log        *logger.Entry

	mu   sync.Mutex
	subs map[string]chan struct{} // market -> stop channel
}

// New builds the adapter from its exchange section.
func New(cfg appconfig.ExchangeConfig, timeout time.Duration) *Exchange {
	client := binance.NewClient("", "")
	client.HTTPClient = &http.Client{Timeout: timeout}
	if cfg.URL != "" {
		client.BaseURL = strings.TrimRight(cfg.URL, "/")
	}
	if cfg.WSURL != "" {
		binance.BaseWsMainURL = strings.TrimRight(cfg.WSURL, "/")
	}

	capability := reader.PollOnly
	if cfg.Connection == appconfig.ConnectionWebsocket {
		capability = reader.PushCapable
	}

	e := &Exchange{
		client:     client,
		capability: capability,
		stream:     reader.NewBookStream(),
		tracker:    ratemetrics.NewWSTracker(),
		log:        logger.GetLogger().WithComponent("binance_exchange"),
		subs:       make(map[string]chan struct{}),
	}

	e.log.WithFields(logger.Fields{
		"connection": capability.String(),
		"base_url":   client.BaseURL,
		"timeout":    timeout,
	}).Info("binance exchange initialized")
	return e
}

func (e *Exchange) Name() string { return name }

func (e *Exchange) Capability() reader.Capability { return e.capability }

// LoadMarkets lists every symbol currently trading.
func (e *Exchange) LoadMarkets(ctx context.Context) ([]string, error) {
	info, err := e.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance exchange info: %w", err)
	}
	markets := make([]string, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		if s.Status != "TRADING" {
			continue
		}
		markets = append(markets, symbols.Unified(s.BaseAsset, s.QuoteAsset))
	}
	return markets, nil
}

// FetchOrderBook requests one depth snapshot.
func (e *Exchange) FetchOrderBook(ctx context.Context, market string, limit int) reader.FetchResult {
	symbol := symbols.ToVenue(name, market)
	start := time.Now()
	resp, err := e.client.NewDepthService().Symbol(symbol).Limit(limit).Do(ctx)
	if err != nil {
		return reader.Classify(name, err)
	}
	logger.LogPerformanceEntry(e.log, "binance_exchange", "depth_request", time.Since(start), logger.Fields{"symbol": symbol})

	snapshot, err := convertDepth(market, resp.LastUpdateID, resp.Asks, resp.Bids)
	if err != nil {
		return reader.Fatal(err)
	}
	return reader.OK(snapshot)
}

func (e *Exchange) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for market, stop := range e.subs {
		close(stop)
		delete(e.subs, market)
	}
	e.stream.Close(reader.ErrStreamClosed)
	return nil
}

func convertDepth(market string, updateID int64, asks []binance.Ask, bids []binance.Bid) (*models.OrderBookSnapshot, error) {
	snapshot := &models.OrderBookSnapshot{
		Exchange:     name,
		Symbol:       market,
		Asks:         make([]models.PriceLevel, 0, len(asks)),
		Bids:         make([]models.PriceLevel, 0, len(bids)),
		LastUpdateID: updateID,
		Timestamp:    time.Now().UTC(),
	}
	for _, a := range asks {
		level, err := reader.ParseLevel(a.Price, a.Quantity)
		if err != nil {
			return nil, fmt.Errorf("binance ask: %w", err)
		}
		snapshot.Asks = append(snapshot.Asks, level)
	}
	for _, b := range bids {
		level, err := reader.ParseLevel(b.Price, b.Quantity)
		if err != nil {
			return nil, fmt.Errorf("binance bid: %w", err)
		}
		snapshot.Bids = append(snapshot.Bids, level)
	}
	return snapshot, nil
}
