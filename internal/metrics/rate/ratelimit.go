package rate

import (
	"fmt"
	"strings"

	"arbflow/logger"
)

// ReportRateLimitExceeded increments the rate limit exceeded counter for the given
// exchange and market and emits the metric to CloudWatch.
func ReportRateLimitExceeded(log *logger.Log, exchange, market string, attempt int) {
	component := fmt.Sprintf("%s_watcher", strings.ToLower(exchange))
	l := log.WithComponent(component)
	fields := logger.Fields{
		"exchange": strings.ToLower(exchange),
		"market":   market,
	}
	l.LogMetric(component, "rate_limit_exceeded", int64(1), "counter", fields)
	fields["attempt"] = attempt
	l.WithFields(fields).Warn("rate limit exceeded")
}

// ReportIPBan increments the IP ban counter for the given exchange and market.
func ReportIPBan(log *logger.Log, exchange, market string) {
	component := fmt.Sprintf("%s_watcher", strings.ToLower(exchange))
	l := log.WithComponent(component)
	fields := logger.Fields{
		"exchange": strings.ToLower(exchange),
		"market":   market,
	}
	l.LogMetric(component, "ip_ban", int64(1), "counter", fields)
	l.WithFields(fields).Error("ip banned")
}

// DetectLimit inspects the message returned from an exchange and determines whether
// it signals a rate limit exceed or an IP ban. The detection logic is customised per
// exchange as each one uses different wording.
func DetectLimit(exchange, msg string) (rateLimit bool, ipBan bool) {
	lowerMsg := strings.ToLower(msg)
	switch strings.ToLower(exchange) {
	case "binance":
		rateLimit = strings.Contains(lowerMsg, "too many requests") || strings.Contains(lowerMsg, "rate limit") || strings.Contains(lowerMsg, "code=-1003")
		ipBan = strings.Contains(lowerMsg, "ip") && strings.Contains(lowerMsg, "ban")
	case "kucoin":
		rateLimit = strings.Contains(lowerMsg, "too many requests") || strings.Contains(lowerMsg, "rate limit") || strings.Contains(lowerMsg, "429000")
		ipBan = strings.Contains(lowerMsg, "ip") && strings.Contains(lowerMsg, "limit") && strings.Contains(lowerMsg, "triggered")
	case "bybit":
		ipBan = strings.Contains(lowerMsg, "ip rate limit") || (strings.Contains(lowerMsg, "ip") && strings.Contains(lowerMsg, "ban"))
		rateLimit = !ipBan && (strings.Contains(lowerMsg, "rate limit") || strings.Contains(lowerMsg, "too many requests") || strings.Contains(lowerMsg, "too many visits") || strings.Contains(lowerMsg, "10006"))
	case "bitstamp":
		rateLimit = strings.Contains(lowerMsg, "too many requests") || strings.Contains(lowerMsg, "rate limit") || strings.Contains(lowerMsg, "status 429")
		ipBan = strings.Contains(lowerMsg, "ip") && strings.Contains(lowerMsg, "ban")
	default:
		rateLimit = strings.Contains(lowerMsg, "rate limit") || strings.Contains(lowerMsg, "too many requests")
		ipBan = strings.Contains(lowerMsg, "ip") && strings.Contains(lowerMsg, "ban")
	}
	return
}
