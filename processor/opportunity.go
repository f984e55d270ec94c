package processor

import (
	"sort"

	"arbflow/models"
)

// FindOpportunities pairs every venue's ask price against every venue's bid
// price for one market and depth, a venue with itself included, and ranks the
// result from the most to the least profitable.
func FindOpportunities(market string, depth float64, asks, bids map[string]float64) []models.Opportunity {
	askVenues := sortedKeys(asks)
	bidVenues := sortedKeys(bids)

	opportunities := make([]models.Opportunity, 0, len(askVenues)*len(bidVenues))
	for _, buy := range askVenues {
		for _, sell := range bidVenues {
			opportunities = append(opportunities, models.Opportunity{
				Market:       market,
				BuyExchange:  buy,
				SellExchange: sell,
				Quantity:     depth,
				BuyPrice:     asks[buy],
				SellPrice:    bids[sell],
			})
		}
	}

	sort.SliceStable(opportunities, func(i, j int) bool {
		return opportunities[i].Profit() > opportunities[j].Profit()
	})
	return opportunities
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
