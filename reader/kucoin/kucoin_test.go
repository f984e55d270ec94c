package kucoin

import (
	"testing"
	"time"

	appconfig "arbflow/config"
	"arbflow/reader"
)

func TestNew(t *testing.T) {
	ex := New(appconfig.ExchangeConfig{URL: "https://example.com/"}, time.Second, 2)
	if ex == nil || ex.Name() != "kucoin" || ex.Capability() != reader.PollOnly {
		t.Fatalf("unexpected exchange: %+v", ex)
	}
}

func TestConvertOrderBook(t *testing.T) {
	snap, err := convertOrderBook("BTC/EUR", "12345", 1700000000000,
		[][]string{{"20000", "0.5"}, {"20001", "1"}},
		[][]string{{"19999.9", "0.1"}})
	if err != nil {
		t.Fatalf("convertOrderBook: %v", err)
	}
	if snap.Exchange != "kucoin" || snap.Symbol != "BTC/EUR" || snap.LastUpdateID != 12345 {
		t.Errorf("unexpected header: %+v", snap)
	}
	if len(snap.Asks) != 2 || snap.Asks[1].Price != 20001 || len(snap.Bids) != 1 || snap.Bids[0].Quantity != 0.1 {
		t.Errorf("unexpected levels: %+v %+v", snap.Asks, snap.Bids)
	}
	if !snap.Timestamp.Equal(time.UnixMilli(1700000000000)) {
		t.Errorf("unexpected timestamp: %v", snap.Timestamp)
	}

	if _, err := convertOrderBook("BTC/EUR", "", 0, [][]string{{"bad", "1"}}, nil); err == nil {
		t.Errorf("expected parse error")
	}
}

func TestPartSize(t *testing.T) {
	if PartSize(5) != "20" || PartSize(20) != "20" || PartSize(21) != "100" {
		t.Errorf("unexpected part sizes")
	}
}
