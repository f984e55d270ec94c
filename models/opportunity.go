package models

// Opportunity describes a hypothetical buy on one venue and sell on another
// at a given depth. Fees are ignored.
type Opportunity struct {
	Market       string  `json:"market"`
	BuyExchange  string  `json:"buy_exchange"`
	SellExchange string  `json:"sell_exchange"`
	// Quantity is the market depth this opportunity was measured at.
	Quantity  float64 `json:"quantity"`
	BuyPrice  float64 `json:"buy_price"`
	SellPrice float64 `json:"sell_price"`
}

// Diff is the fiat arbitrage window.
func (o Opportunity) Diff() float64 {
	return o.SellPrice - o.BuyPrice
}

// Profit is the arbitrage profit fraction without fees.
func (o Opportunity) Profit() float64 {
	return (o.SellPrice - o.BuyPrice) / o.BuyPrice
}

// OpportunityTable holds the ranked opportunities of one duty cycle keyed
// by market and depth.
type OpportunityTable map[string]map[float64][]Opportunity

// Get returns the ranked opportunities for a market and depth.
func (t OpportunityTable) Get(market string, depth float64) []Opportunity {
	if t == nil {
		return nil
	}
	return t[market][depth]
}

// Set stores the ranked opportunities for a market and depth.
func (t OpportunityTable) Set(market string, depth float64, opportunities []Opportunity) {
	depths, ok := t[market]
	if !ok {
		depths = make(map[float64][]Opportunity)
		t[market] = depths
	}
	depths[depth] = opportunities
}
