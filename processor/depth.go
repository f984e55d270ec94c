package processor

import (
	"arbflow/models"
)

// CalculatePriceAtDepths walks one side of an order book, best price first,
// and records the volume weighted average fill price at each target quantity.
//
// A target is reached at the first level where the cumulative quantity is at
// least the target; the running average at that level is recorded as is. The
// walk stops once every target is reached. MaxDepth reports how much quantity
// the sampled book offered up to that point, which is the whole book when some
// target stays unreached.
//
// Asks and bids use the same arithmetic: on the ask side the average rises as
// we buy deeper, on the bid side it falls as we sell deeper.
func CalculatePriceAtDepths(levels []models.PriceLevel, targets []float64) models.DepthResult {
	result := models.DepthResult{Prices: make(map[float64]float64, len(targets))}

	unreached := make([]float64, 0, len(targets))
	seen := make(map[float64]struct{}, len(targets))
	for _, t := range targets {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		unreached = append(unreached, t)
	}

	var inventory, volume float64
	for _, level := range levels {
		if len(unreached) == 0 {
			break
		}

		inventory += level.Quantity
		volume += level.Price * level.Quantity
		if inventory <= 0 {
			continue
		}
		avg := volume / inventory

		remaining := unreached[:0]
		for _, target := range unreached {
			if inventory >= target {
				result.Prices[target] = avg
				continue
			}
			remaining = append(remaining, target)
		}
		unreached = remaining
	}

	result.MaxDepth = inventory
	result.Success = len(unreached) == 0
	return result
}
