package processor

import (
	"testing"

	"arbflow/models"
)

func TestNormalizeSnapshot(t *testing.T) {
	snap := &models.OrderBookSnapshot{
		Asks: levels(101, 1, 100, 2, 102, 0, 99.5, 0.1),
		Bids: levels(97, 1, 98, 3, 96, -1, 98.5, 0.2),
	}

	NormalizeSnapshot(snap, 2)

	wantAsks := []float64{99.5, 100}
	wantBids := []float64{98.5, 98}
	if len(snap.Asks) != 2 || len(snap.Bids) != 2 {
		t.Fatalf("expected 2 levels per side, got %d asks %d bids", len(snap.Asks), len(snap.Bids))
	}
	for i := range wantAsks {
		if snap.Asks[i].Price != wantAsks[i] {
			t.Errorf("ask[%d] = %v, want %v", i, snap.Asks[i].Price, wantAsks[i])
		}
		if snap.Bids[i].Price != wantBids[i] {
			t.Errorf("bid[%d] = %v, want %v", i, snap.Bids[i].Price, wantBids[i])
		}
	}
}

func TestNormalizeSnapshotNil(t *testing.T) {
	NormalizeSnapshot(nil, 10)
}
