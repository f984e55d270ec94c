package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"arbflow/logger"
	"arbflow/models"
)

// Reporter logs the ticker feed and the best opportunities of each market at
// most once per interval.
type Reporter struct {
	coordinator *Coordinator
	interval    time.Duration
	last        time.Time
	log         *logger.Entry
}

func NewReporter(c *Coordinator, interval time.Duration) *Reporter {
	return &Reporter{
		coordinator: c,
		interval:    interval,
		log:         logger.GetLogger().WithComponent("reporter"),
	}
}

func (r *Reporter) ObserveCycle(_ context.Context, cycle Cycle) {
	if r.interval <= 0 {
		return
	}
	if !r.last.IsZero() && cycle.At.Sub(r.last) < r.interval {
		return
	}
	r.last = cycle.At
	r.log.Info(r.Render(cycle))
}

// Render formats the report for a cycle.
func (r *Reporter) Render(cycle Cycle) string {
	var b strings.Builder
	fmt.Fprintf(&b, "logged at %s\n", cycle.At.UTC().Format(time.RFC3339))
	for _, market := range r.coordinator.Markets() {
		_, quote := models.SplitMarket(market)
		fmt.Fprintf(&b, "\n%s ticker feed:\n", market)
		for _, w := range r.coordinator.Watchers(market) {
			ask, bid, ok := w.TopOfBook()
			if !ok {
				fmt.Fprintf(&b, "  %s: not yet available\n", w.Exchange())
				continue
			}
			fmt.Fprintf(&b, "  %s: ask %s %s, bid %s %s, spread %s, age %s\n",
				w.Exchange(),
				models.FormatFiat(ask), quote,
				models.FormatFiat(bid), quote,
				models.FormatFiat(ask-bid),
				cycle.At.Sub(w.FetchedAt()).Round(time.Millisecond))
		}
		for _, depth := range r.coordinator.depths[market] {
			opportunities := cycle.Table.Get(market, depth)
			for rank := 0; rank < 2; rank++ {
				if rank >= len(opportunities) {
					fmt.Fprintf(&b, "  #%d @%g: not yet available\n", rank+1, depth)
					continue
				}
				o := opportunities[rank]
				fmt.Fprintf(&b, "  #%d @%g: buy %s %s, sell %s %s, profit %.5f%%\n",
					rank+1, depth,
					o.BuyExchange, models.FormatFiat(o.BuyPrice),
					o.SellExchange, models.FormatFiat(o.SellPrice),
					o.Profit()*100)
			}
		}
	}
	return b.String()
}
