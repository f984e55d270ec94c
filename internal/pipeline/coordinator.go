package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"arbflow/logger"
	"arbflow/models"
	"arbflow/processor"
	"arbflow/reader"
)

// ErrNoWatchers is returned when a configured market has no venue watching it.
var ErrNoWatchers = errors.New("no watchers for market")

// FetchError wraps a watcher failure with the venue and market it came from.
type FetchError struct {
	Exchange string
	Market   string
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s %s: %v", e.Exchange, e.Market, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Options tune how the coordinator reacts to venue failures.
type Options struct {
	// IsolateVenueFailures keeps the loop running when a fetch fails. The
	// failed watcher is invalidated and re-armed on the next cycle.
	IsolateVenueFailures bool
	// Now overrides the cycle clock.
	Now func() time.Time
}

// Cycle is the outcome of one duty cycle.
type Cycle struct {
	At        time.Time
	Table     models.OpportunityTable
	Refreshed []*reader.Watcher
	Failures  []*FetchError
}

// DepthRecords returns the depth prices of every watcher refreshed in the cycle.
func (c Cycle) DepthRecords() []models.DepthRecord {
	records := make([]models.DepthRecord, 0, len(c.Refreshed))
	for _, w := range c.Refreshed {
		asks, bids := w.DepthPrices()
		records = append(records, models.DepthRecord{
			Exchange:  w.Exchange(),
			Market:    w.Market(),
			AskLevels: asks.Prices,
			BidLevels: bids.Prices,
		})
	}
	return records
}

// Observer receives every completed cycle on the coordinator goroutine.
type Observer interface {
	ObserveCycle(ctx context.Context, cycle Cycle)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, cycle Cycle)

func (f ObserverFunc) ObserveCycle(ctx context.Context, cycle Cycle) {
	f(ctx, cycle)
}

type fetchDone struct {
	watcher *reader.Watcher
	err     error
}

// Coordinator drives all watchers. Fetches run concurrently and the cycle
// advances as soon as any one of them completes.
type Coordinator struct {
	watchers  []*reader.Watcher
	byMarket  map[string][]*reader.Watcher
	markets   []string
	depths    map[string][]float64
	opts      Options
	done      chan fetchDone
	inFlight  map[*reader.Watcher]bool
	observers []Observer
	log       *logger.Entry
}

// NewCoordinator groups watchers by market. Every market in depths needs at
// least one watcher.
func NewCoordinator(watchers []*reader.Watcher, depths map[string][]float64, opts Options) (*Coordinator, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}

	byMarket := make(map[string][]*reader.Watcher)
	for _, w := range watchers {
		byMarket[w.Market()] = append(byMarket[w.Market()], w)
	}

	markets := make([]string, 0, len(depths))
	sortedDepths := make(map[string][]float64, len(depths))
	for market, targets := range depths {
		if len(byMarket[market]) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrNoWatchers, market)
		}
		sorted := append([]float64(nil), targets...)
		sort.Float64s(sorted)
		sortedDepths[market] = sorted
		markets = append(markets, market)
	}
	sort.Strings(markets)

	return &Coordinator{
		watchers: watchers,
		byMarket: byMarket,
		markets:  markets,
		depths:   sortedDepths,
		opts:     opts,
		done:     make(chan fetchDone, len(watchers)),
		inFlight: make(map[*reader.Watcher]bool, len(watchers)),
		log:      logger.GetLogger().WithComponent("coordinator"),
	}, nil
}

// Observe registers an observer for completed cycles.
func (c *Coordinator) Observe(o Observer) {
	c.observers = append(c.observers, o)
}

// Watchers returns the watchers of a market.
func (c *Coordinator) Watchers(market string) []*reader.Watcher {
	return c.byMarket[market]
}

// Markets returns the configured markets in sorted order.
func (c *Coordinator) Markets() []string {
	return c.markets
}

// Run loops over duty cycles until ctx is cancelled or a cycle fails.
func (c *Coordinator) Run(ctx context.Context) error {
	c.log.WithFields(logger.Fields{
		"watchers": len(c.watchers),
		"markets":  len(c.markets),
	}).Info("coordinator started")

	for {
		if _, err := c.RunCycle(ctx); err != nil {
			if ctx.Err() != nil {
				c.log.Info("coordinator stopped")
				return nil
			}
			return err
		}
	}
}

// RunCycle arms every idle watcher, waits for the first fetch to finish and
// collects any other finished fetches without blocking. Completed watchers
// are refreshed and the opportunity table is rebuilt.
func (c *Coordinator) RunCycle(ctx context.Context) (Cycle, error) {
	c.arm(ctx)

	var finished []fetchDone
	select {
	case d := <-c.done:
		finished = append(finished, d)
	case <-ctx.Done():
		return Cycle{}, ctx.Err()
	}
drain:
	for {
		select {
		case d := <-c.done:
			finished = append(finished, d)
		default:
			break drain
		}
	}

	cycle := Cycle{At: c.opts.Now()}
	for _, d := range finished {
		delete(c.inFlight, d.watcher)
		if d.err != nil {
			fetchErr := &FetchError{Exchange: d.watcher.Exchange(), Market: d.watcher.Market(), Err: d.err}
			if !c.opts.IsolateVenueFailures || ctx.Err() != nil {
				return cycle, fetchErr
			}
			c.log.WithError(d.err).WithFields(logger.Fields{
				"exchange": fetchErr.Exchange,
				"market":   fetchErr.Market,
			}).Warn("venue fetch failed, isolating")
			d.watcher.Invalidate()
			cycle.Failures = append(cycle.Failures, fetchErr)
			continue
		}
		if d.watcher.Refresh() {
			cycle.Refreshed = append(cycle.Refreshed, d.watcher)
		}
	}

	cycle.Table = c.BuildTable()

	for _, o := range c.observers {
		o.ObserveCycle(ctx, cycle)
	}
	return cycle, nil
}

func (c *Coordinator) arm(ctx context.Context) {
	for _, w := range c.watchers {
		if c.inFlight[w] || w.State() != reader.StateIdle {
			continue
		}
		c.inFlight[w] = true
		go func(w *reader.Watcher) {
			c.done <- fetchDone{watcher: w, err: w.Fetch(ctx)}
		}(w)
	}
}

// BuildTable ranks opportunities for every configured market and depth.
// A venue contributes each side whose book reached the depth.
func (c *Coordinator) BuildTable() models.OpportunityTable {
	table := make(models.OpportunityTable, len(c.markets))
	for _, market := range c.markets {
		watchers := c.byMarket[market]
		for _, depth := range c.depths[market] {
			asks := make(map[string]float64)
			bids := make(map[string]float64)
			for _, w := range watchers {
				if !w.HasData() {
					continue
				}
				askResult, bidResult := w.DepthPrices()
				if p, ok := askResult.Price(depth); ok {
					asks[w.Exchange()] = p
				}
				if p, ok := bidResult.Price(depth); ok {
					bids[w.Exchange()] = p
				}
			}
			table.Set(market, depth, processor.FindOpportunities(market, depth, asks, bids))
		}
	}
	return table
}
