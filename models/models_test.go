package models

import (
	"math"
	"strings"
	"testing"
	"time"
)

func TestOpportunityProfit(t *testing.T) {
	o := Opportunity{Market: "BTC/GBP", BuyExchange: "x", SellExchange: "y", Quantity: 0.1, BuyPrice: 20000, SellPrice: 20050}
	if o.Diff() != 50 {
		t.Fatalf("diff = %v, want 50", o.Diff())
	}
	if math.Abs(o.Profit()-0.0025) > 1e-12 {
		t.Fatalf("profit = %v, want 0.0025", o.Profit())
	}
}

func TestFormatFiat(t *testing.T) {
	cases := map[float64]string{
		0:          "0.00",
		12.346:     "12.35",
		1234.5:     "1,234.50",
		42038.45:   "42,038.45",
		-1234567.1: "-1,234,567.10",
	}
	for in, want := range cases {
		if got := FormatFiat(in); got != want {
			t.Errorf("FormatFiat(%v) = %s, want %s", in, got, want)
		}
	}
}

func TestAlertText(t *testing.T) {
	started := time.Date(2021, 6, 1, 12, 0, 0, 0, time.UTC)
	ended := started.Add(90 * time.Second)
	o := Opportunity{Market: "BTC/GBP", BuyExchange: "Kraken", SellExchange: "Bitstamp", Quantity: 0.1, BuyPrice: 20000, SellPrice: 20050}
	a := Alert{Key: "BTC/GBP @0.1", Market: "BTC/GBP", Depth: 0.1, Original: o, Max: o, Started: started}

	if !strings.Contains(a.Text(), "Ended: ongoing") {
		t.Errorf("ongoing alert text missing ongoing marker:\n%s", a.Text())
	}

	a.Ended = &ended
	text := a.Text()
	for _, want := range []string{
		"Market: BTC/GBP",
		"Depth: 0.1 BTC",
		"Buy at: Kraken 20,000.00 GBP",
		"Sell at: Bitstamp 20,050.00 GBP",
		"Profitability: 0.25000%",
		"Potential profit: 5.00 GBP",
		"Duration: 1m30s",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("alert text missing %q:\n%s", want, text)
		}
	}
}

func TestOpportunityTable(t *testing.T) {
	table := OpportunityTable{}
	if got := table.Get("BTC/GBP", 0.1); got != nil {
		t.Fatalf("expected nil for missing key, got %v", got)
	}
	table.Set("BTC/GBP", 0.1, []Opportunity{{Market: "BTC/GBP"}})
	if got := table.Get("BTC/GBP", 0.1); len(got) != 1 {
		t.Fatalf("expected one opportunity, got %d", len(got))
	}
}
