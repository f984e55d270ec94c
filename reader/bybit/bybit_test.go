package bybit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	appconfig "arbflow/config"
	"arbflow/reader"

	bybit "github.com/bybit-exchange/bybit.go.api"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v5/market/orderbook", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("symbol") != "BTCGBP" {
			w.Write([]byte(`{"retCode":10006,"retMsg":"Too many visits!","result":{}}`))
			return
		}
		w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{"s":"BTCGBP","a":[["20000","0.2"]],"b":[["19990","0.3"],["19980","1"]],"ts":1700000000000,"u":7}}`))
	})
	mux.HandleFunc("/v5/market/instruments-info", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{"list":[
			{"symbol":"BTCGBP","baseCoin":"BTC","quoteCoin":"GBP","status":"Trading"},
			{"symbol":"ETHGBP","baseCoin":"ETH","quoteCoin":"GBP","status":"PreLaunch"}
		]}}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchOrderBook(t *testing.T) {
	srv := newTestServer(t)
	ex := New(appconfig.ExchangeConfig{URL: srv.URL}, time.Second)

	res := ex.FetchOrderBook(context.Background(), "BTC/GBP", 500)
	if res.Outcome != reader.OutcomeOK {
		t.Fatalf("unexpected outcome %v: %v", res.Outcome, res.Err)
	}
	snap := res.Snapshot
	if snap.LastUpdateID != 7 || !snap.Timestamp.Equal(time.UnixMilli(1700000000000)) {
		t.Errorf("unexpected header: %+v", snap)
	}
	if len(snap.Asks) != 1 || len(snap.Bids) != 2 || snap.Bids[1].Price != 19980 {
		t.Errorf("unexpected levels: %+v %+v", snap.Asks, snap.Bids)
	}
}

func TestFetchOrderBookRateLimited(t *testing.T) {
	srv := newTestServer(t)
	ex := New(appconfig.ExchangeConfig{URL: srv.URL}, time.Second)

	if res := ex.FetchOrderBook(context.Background(), "ETH/GBP", 50); res.Outcome != reader.OutcomeRateLimited {
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

func TestDecodeResultError(t *testing.T) {
	var out orderBookResult
	if err := decodeResult(&bybit.ServerResponse{RetCode: 10001, RetMsg: "params error"}, &out); err == nil {
		t.Fatalf("expected error for non-zero retCode")
	}
}
