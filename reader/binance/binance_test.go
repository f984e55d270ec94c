package binance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	appconfig "arbflow/config"
	"arbflow/reader"

	binance "github.com/adshao/go-binance/v2"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/depth", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("symbol") {
		case "BTCGBP":
			w.Write([]byte(`{"lastUpdateId":42,"bids":[["19990.5","0.3"],["19980","1"]],"asks":[["20000","0.2"],["20010.25","2"]]}`))
		default:
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"code":-1003,"msg":"Too many requests."}`))
		}
	})
	mux.HandleFunc("/api/v3/exchangeInfo", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"symbols":[
			{"symbol":"BTCGBP","status":"TRADING","baseAsset":"BTC","quoteAsset":"GBP"},
			{"symbol":"ETHGBP","status":"BREAK","baseAsset":"ETH","quoteAsset":"GBP"}
		]}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchOrderBook(t *testing.T) {
	srv := newTestServer(t)
	ex := New(appconfig.ExchangeConfig{URL: srv.URL}, time.Second)

	res := ex.FetchOrderBook(context.Background(), "BTC/GBP", 100)
	if res.Outcome != reader.OutcomeOK {
		t.Fatalf("unexpected outcome %v: %v", res.Outcome, res.Err)
	}
	snap := res.Snapshot
	if snap.Exchange != "binance" || snap.Symbol != "BTC/GBP" || snap.LastUpdateID != 42 {
		t.Fatalf("unexpected snapshot header: %+v", snap)
	}
	if len(snap.Asks) != 2 || snap.Asks[0].Price != 20000 || snap.Asks[1].Quantity != 2 {
		t.Errorf("unexpected asks: %+v", snap.Asks)
	}
	if len(snap.Bids) != 2 || snap.Bids[0].Price != 19990.5 {
		t.Errorf("unexpected bids: %+v", snap.Bids)
	}
}

func TestFetchOrderBookRateLimited(t *testing.T) {
	srv := newTestServer(t)
	ex := New(appconfig.ExchangeConfig{URL: srv.URL}, time.Second)

	res := ex.FetchOrderBook(context.Background(), "ETH/GBP", 100)
	if res.Outcome != reader.OutcomeRateLimited {
		t.Fatalf("expected rate limited outcome, got %v: %v", res.Outcome, res.Err)
	}
}

func TestLoadMarkets(t *testing.T) {
	srv := newTestServer(t)
	ex := New(appconfig.ExchangeConfig{URL: srv.URL}, time.Second)

	markets, err := ex.LoadMarkets(context.Background())
	if err != nil {
		t.Fatalf("LoadMarkets: %v", err)
	}
	if len(markets) != 1 || markets[0] != "BTC/GBP" {
		t.Fatalf("unexpected markets: %v", markets)
	}
}

func TestCapability(t *testing.T) {
	if New(appconfig.ExchangeConfig{}, time.Second).Capability() != reader.PollOnly {
		t.Errorf("rest connection should poll")
	}
	if New(appconfig.ExchangeConfig{Connection: appconfig.ConnectionWebsocket}, time.Second).Capability() != reader.PushCapable {
		t.Errorf("websocket connection should push")
	}
}

func TestConvertDepthRejectsBadNumbers(t *testing.T) {
	_, err := convertDepth("BTC/GBP", 1, []binance.Ask{{Price: "x", Quantity: "1"}}, nil)
	if err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestDepthLevels(t *testing.T) {
	cases := map[int]string{1: "5", 5: "5", 8: "10", 100: "20"}
	for limit, want := range cases {
		if got := depthLevels(limit); got != want {
			t.Errorf("depthLevels(%d) = %s, want %s", limit, got, want)
		}
	}
}
