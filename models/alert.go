package models

import (
	"fmt"
	"time"
)

// Alert tracks one arbitrage window. Max ratchets up while the window is
// open and never downgrades.
type Alert struct {
	Key    string  `json:"key"`
	Market string  `json:"market"`
	Depth  float64 `json:"depth"`

	// Original is the opportunity that opened the window.
	Original Opportunity `json:"original"`
	// Max is the most profitable opportunity seen during the window.
	Max Opportunity `json:"max"`

	Started time.Time  `json:"started"`
	Ended   *time.Time `json:"ended,omitempty"`
}

func (a Alert) BaseToken() string {
	base, _ := SplitMarket(a.Market)
	return base
}

func (a Alert) QuoteToken() string {
	_, quote := SplitMarket(a.Market)
	return quote
}

// Duration is the length of a closed window, zero while ongoing.
func (a Alert) Duration() time.Duration {
	if a.Ended == nil {
		return 0
	}
	return a.Ended.Sub(a.Started)
}

// PotentialProfit is the quote amount captured by trading the full depth.
func (a Alert) PotentialProfit() float64 {
	return a.Max.Diff() * a.Max.Quantity
}

// Text renders the alert for chat notifications.
func (a Alert) Text() string {
	ended := "ongoing"
	duration := "---"
	if a.Ended != nil {
		ended = a.Ended.UTC().Format(time.RFC3339)
		duration = a.Duration().Round(time.Millisecond).String()
	}
	quote := a.QuoteToken()
	return fmt.Sprintf(`Market: %s
Depth: %g %s
Buy at: %s %s %s
Sell at: %s %s %s
Arb opportunity: %s %s
Profitability: %.5f%%
Potential profit: %s %s
Started: %s
Ended: %s
Duration: %s`,
		a.Market,
		a.Depth, a.BaseToken(),
		a.Max.BuyExchange, FormatFiat(a.Max.BuyPrice), quote,
		a.Max.SellExchange, FormatFiat(a.Max.SellPrice), quote,
		FormatFiat(a.Max.Diff()), quote,
		a.Max.Profit()*100,
		FormatFiat(a.PotentialProfit()), quote,
		a.Started.UTC().Format(time.RFC3339),
		ended,
		duration,
	)
}

// FormatFiat formats a quote amount with two decimals and thousands separators.
func FormatFiat(v float64) string {
	s := fmt.Sprintf("%.2f", v)
	sign := ""
	if s[0] == '-' {
		sign, s = "-", s[1:]
	}
	intPart, frac := s[:len(s)-3], s[len(s)-3:]
	var out []byte
	for i := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, intPart[i])
	}
	return sign + string(out) + frac
}
