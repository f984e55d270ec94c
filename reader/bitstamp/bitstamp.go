package bitstamp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	appconfig "arbflow/config"
	ratemetrics "arbflow/internal/metrics/rate"
	"arbflow/internal/symbols"
	"arbflow/logger"
	"arbflow/models"
	"arbflow/reader"

	"github.com/gorilla/websocket"
)

const (
	name           = "bitstamp"
	defaultBaseURL = "https://www.bitstamp.net"
	defaultWSURL   = "wss://ws.bitstamp.net"
)

// Exchange reads Bitstamp order books from the v2 REST API, or from the
// order_book websocket channels when the connection is "websocket".
type Exchange struct {
	httpClient *http.Client
	baseURL    string
	wsURL      string
	capability reader.Capability
	stream     *reader.BookStream
	tracker    *ratemetrics.WSTracker
	log        *logger.Entry

	mu       sync.Mutex
	conn     *websocket.Conn
	channels map[string]string // channel -> market
}

type orderBookResponse struct {
	Timestamp      string     `json:"timestamp"`
	Microtimestamp string     `json:"microtimestamp"`
	Bids           [][]string `json:"bids"`
	Asks           [][]string `json:"asks"`
}

type pairInfo struct {
	Name      string `json:"name"`
	URLSymbol string `json:"url_symbol"`
	Trading   string `json:"trading"`
}

func New(cfg appconfig.ExchangeConfig, timeout time.Duration) *Exchange {
	baseURL := strings.TrimRight(cfg.URL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	wsURL := cfg.WSURL
	if wsURL == "" {
		wsURL = defaultWSURL
	}

	capability := reader.PollOnly
	if cfg.Connection == appconfig.ConnectionWebsocket {
		capability = reader.PushCapable
	}

	e := &Exchange{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		wsURL:      wsURL,
		capability: capability,
		stream:     reader.NewBookStream(),
		tracker:    ratemetrics.NewWSTracker(),
		log:        logger.GetLogger().WithComponent("bitstamp_exchange"),
	}
	e.log.WithFields(logger.Fields{
		"connection": capability.String(),
		"base_url":   baseURL,
		"timeout":    timeout,
	}).Info("bitstamp exchange initialized")
	return e
}

func (e *Exchange) Name() string { return name }

func (e *Exchange) Capability() reader.Capability { return e.capability }

func (e *Exchange) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	res, err := e.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: status 429 retry after %q", reader.ErrRateLimited, res.Header.Get("Retry-After"))
	}
	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (e *Exchange) LoadMarkets(ctx context.Context) ([]string, error) {
	var pairs []pairInfo
	if err := e.get(ctx, "/api/v2/trading-pairs-info/", &pairs); err != nil {
		return nil, fmt.Errorf("bitstamp pairs: %w", err)
	}
	markets := make([]string, 0, len(pairs))
	for _, p := range pairs {
		if p.Trading != "Enabled" {
			continue
		}
		markets = append(markets, symbols.FromBitstamp(p.Name))
	}
	return markets, nil
}

func (e *Exchange) FetchOrderBook(ctx context.Context, market string, limit int) reader.FetchResult {
	pair := symbols.ToVenue(name, market)
	var resp orderBookResponse
	start := time.Now()
	if err := e.get(ctx, "/api/v2/order_book/"+pair+"/", &resp); err != nil {
		return reader.Classify(name, err)
	}
	logger.LogPerformanceEntry(e.log, "bitstamp_exchange", "orderbook_request", time.Since(start), logger.Fields{"symbol": pair})

	snapshot, err := convertOrderBook(market, resp)
	if err != nil {
		return reader.Fatal(err)
	}
	return reader.OK(snapshot)
}

func convertOrderBook(market string, resp orderBookResponse) (*models.OrderBookSnapshot, error) {
	asks, err := reader.ParseLevels(resp.Asks)
	if err != nil {
		return nil, fmt.Errorf("bitstamp asks: %w", err)
	}
	bids, err := reader.ParseLevels(resp.Bids)
	if err != nil {
		return nil, fmt.Errorf("bitstamp bids: %w", err)
	}

	ts := time.Now().UTC()
	micros, _ := strconv.ParseInt(resp.Microtimestamp, 10, 64)
	if micros > 0 {
		ts = time.UnixMicro(micros).UTC()
	} else if secs, _ := strconv.ParseInt(resp.Timestamp, 10, 64); secs > 0 {
		ts = time.Unix(secs, 0).UTC()
	}

	return &models.OrderBookSnapshot{
		Exchange:     name,
		Symbol:       market,
		Asks:         asks,
		Bids:         bids,
		LastUpdateID: micros,
		Timestamp:    ts,
	}, nil
}
