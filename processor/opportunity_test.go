package processor

import (
	"testing"
)

func TestFindOpportunitiesRanking(t *testing.T) {
	asks := map[string]float64{"A": 100, "B": 102}
	bids := map[string]float64{"A": 99, "C": 103}

	ops := FindOpportunities("BTC/GBP", 0.1, asks, bids)
	if len(ops) != 4 {
		t.Fatalf("expected 4 opportunities, got %d", len(ops))
	}

	best := ops[0]
	if best.BuyExchange != "A" || best.SellExchange != "C" {
		t.Fatalf("best route = %s->%s, want A->C", best.BuyExchange, best.SellExchange)
	}
	if !almostEqual(best.Diff(), 3) || !almostEqual(best.Profit(), 0.03) {
		t.Fatalf("best diff/profit = %v/%v, want 3/0.03", best.Diff(), best.Profit())
	}

	for i := 1; i < len(ops); i++ {
		if ops[i-1].Profit() < ops[i].Profit() {
			t.Fatalf("opportunities not sorted at %d: %v < %v", i, ops[i-1].Profit(), ops[i].Profit())
		}
	}
	for _, o := range ops[1:] {
		if o.BuyPrice >= o.SellPrice && o.Profit() > best.Profit() {
			t.Errorf("losing route %s->%s ranked above best", o.BuyExchange, o.SellExchange)
		}
	}

	self := -1
	for i, o := range ops {
		if o.BuyExchange == "A" && o.SellExchange == "A" {
			self = i
		}
	}
	if self <= 0 {
		t.Fatalf("self pair A->A missing or ranked first: %d", self)
	}
	if !almostEqual(ops[self].Diff(), -1) {
		t.Errorf("self pair diff = %v, want -1", ops[self].Diff())
	}
	for _, o := range ops {
		if o.Quantity != 0.1 || o.Market != "BTC/GBP" {
			t.Errorf("opportunity lost market/depth: %+v", o)
		}
	}
}

func TestFindOpportunitiesEmpty(t *testing.T) {
	if ops := FindOpportunities("ETH/EUR", 0.5, nil, map[string]float64{"A": 1}); len(ops) != 0 {
		t.Fatalf("expected no opportunities without asks, got %d", len(ops))
	}
}
