package models

import (
	"strings"
	"time"
)

// Side identifies which half of an order book a price belongs to.
type Side string

const (
	// SideAsk holds orders trying to sell the base token at a price.
	SideAsk Side = "ask"
	// SideBid holds orders trying to buy the base token at a price.
	SideBid Side = "bid"
)

// PriceLevel represents a single price level in the orderbook
type PriceLevel struct {
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
}

// OrderBookSnapshot is one fetched order book for a venue and market.
// Asks and Bids are both ordered best price first.
type OrderBookSnapshot struct {
	Exchange     string       `json:"exchange"`
	Symbol       string       `json:"symbol"`
	Asks         []PriceLevel `json:"asks"`
	Bids         []PriceLevel `json:"bids"`
	LastUpdateID int64        `json:"lastUpdateId"`
	Timestamp    time.Time    `json:"timestamp"`
}

// BestAsk returns the top of the ask side, false when the side is empty.
func (s *OrderBookSnapshot) BestAsk() (PriceLevel, bool) {
	if s == nil || len(s.Asks) == 0 {
		return PriceLevel{}, false
	}
	return s.Asks[0], true
}

// BestBid returns the top of the bid side, false when the side is empty.
func (s *OrderBookSnapshot) BestBid() (PriceLevel, bool) {
	if s == nil || len(s.Bids) == 0 {
		return PriceLevel{}, false
	}
	return s.Bids[0], true
}

// SplitMarket splits a unified "BASE/QUOTE" symbol. The quote is empty when
// the symbol has no separator.
func SplitMarket(market string) (base, quote string) {
	parts := strings.SplitN(market, "/", 2)
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], parts[1]
}
