package symbols

import "strings"

// ToVenue converts a unified "BASE/QUOTE" market into the symbol an exchange
// expects on the wire.
//
//	binance  BTC/GBP -> BTCGBP
//	bybit    BTC/GBP -> BTCGBP
//	kucoin   BTC/GBP -> BTC-GBP
//	bitstamp BTC/GBP -> btcgbp
func ToVenue(exchange, market string) string {
	base, quote := split(market)
	switch strings.ToLower(exchange) {
	case "kucoin":
		return base + "-" + quote
	case "bitstamp":
		return strings.ToLower(base + quote)
	default:
		// binance and bybit share the concatenated uppercase form
		return base + quote
	}
}

// Unified builds the "BASE/QUOTE" market from venue asset codes. Assets are
// upper-cased and XBT is mapped to BTC.
func Unified(base, quote string) string {
	return normalizeAsset(base) + "/" + normalizeAsset(quote)
}

// FromBitstamp converts a Bitstamp pair name such as "BTC/GBP" into the
// unified form.
func FromBitstamp(name string) string {
	base, quote := split(name)
	return Unified(base, quote)
}

func normalizeAsset(asset string) string {
	asset = strings.ToUpper(strings.TrimSpace(asset))
	if asset == "XBT" {
		return "BTC"
	}
	return asset
}

func split(market string) (string, string) {
	parts := strings.SplitN(market, "/", 2)
	if len(parts) == 1 {
		return normalizeAsset(parts[0]), ""
	}
	return normalizeAsset(parts[0]), normalizeAsset(parts[1])
}
