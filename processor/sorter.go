package processor

import (
	"sort"

	"arbflow/models"
)

// NormalizeSnapshot puts a snapshot into the shape the depth walk expects:
// asks ascending, bids descending, empty or negative levels removed, and at
// most limit levels per side when limit is positive. Venues return their
// books mostly sorted already; this guards the ones that do not.
func NormalizeSnapshot(snap *models.OrderBookSnapshot, limit int) {
	if snap == nil {
		return
	}
	snap.Asks = normalizeSide(snap.Asks, models.SideAsk, limit)
	snap.Bids = normalizeSide(snap.Bids, models.SideBid, limit)
}

func normalizeSide(levels []models.PriceLevel, side models.Side, limit int) []models.PriceLevel {
	kept := levels[:0]
	for _, l := range levels {
		if l.Quantity <= 0 || l.Price <= 0 {
			continue
		}
		kept = append(kept, l)
	}

	sort.SliceStable(kept, func(i, j int) bool {
		a, b := kept[i], kept[j]
		// Asks: lowest price first
		if side == models.SideAsk {
			return a.Price < b.Price
		}
		// Bids: highest price first
		return a.Price > b.Price
	})

	if limit > 0 && len(kept) > limit {
		kept = kept[:limit]
	}
	return kept
}
