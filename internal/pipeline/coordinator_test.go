package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"arbflow/models"
	"arbflow/reader"
)

// fakeLatency stands in for the network round trip so every armed fetch
// parks and the scheduler gets to run all of them.
const fakeLatency = time.Millisecond

type fakeVenue struct {
	name string
	ask  float64
	bid  float64
	qty  float64

	mu    sync.Mutex
	err   error
	block chan struct{}
	calls int
}

func (f *fakeVenue) Name() string                                  { return f.name }
func (f *fakeVenue) Capability() reader.Capability                 { return reader.PollOnly }
func (f *fakeVenue) LoadMarkets(context.Context) ([]string, error) { return []string{"BTC/GBP"}, nil }
func (f *fakeVenue) Close() error                                  { return nil }

func (f *fakeVenue) FetchOrderBook(ctx context.Context, market string, limit int) reader.FetchResult {
	f.mu.Lock()
	f.calls++
	block, err := f.block, f.err
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return reader.Fatal(ctx.Err())
		}
	} else {
		select {
		case <-time.After(fakeLatency):
		case <-ctx.Done():
			return reader.Fatal(ctx.Err())
		}
	}
	if err != nil {
		return reader.Fatal(err)
	}
	qty := f.qty
	if qty == 0 {
		qty = 10
	}
	return reader.OK(&models.OrderBookSnapshot{
		Exchange: f.name,
		Symbol:   market,
		Asks:     []models.PriceLevel{{Price: f.ask, Quantity: qty}},
		Bids:     []models.PriceLevel{{Price: f.bid, Quantity: qty}},
	})
}

func (f *fakeVenue) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newWatcher(t *testing.T, v *fakeVenue, depths ...float64) *reader.Watcher {
	t.Helper()
	w, err := reader.NewWatcher(v, "BTC/GBP", depths, reader.WatcherOptions{
		Limit: 100,
		Pool:  reader.NewPool(4),
		Sleep: func(context.Context, time.Duration) error { return nil },
	})
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	return w
}

func TestNewCoordinatorRejectsMarketWithoutWatchers(t *testing.T) {
	w := newWatcher(t, &fakeVenue{name: "a", ask: 100, bid: 99}, 1)
	_, err := NewCoordinator([]*reader.Watcher{w}, map[string][]float64{
		"BTC/GBP": {1},
		"ETH/GBP": {1},
	}, Options{})
	if !errors.Is(err, ErrNoWatchers) {
		t.Fatalf("expected ErrNoWatchers, got %v", err)
	}
}

func TestRunCycleBuildsTable(t *testing.T) {
	a := newWatcher(t, &fakeVenue{name: "a", ask: 100, bid: 99}, 1)
	b := newWatcher(t, &fakeVenue{name: "b", ask: 103, bid: 102}, 1)
	c, err := NewCoordinator([]*reader.Watcher{a, b}, map[string][]float64{"BTC/GBP": {1}}, Options{})
	if err != nil {
		t.Fatalf("NewCoordinator: %v", err)
	}

	ctx := context.Background()
	var table models.OpportunityTable
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		cycle, err := c.RunCycle(ctx)
		if err != nil {
			t.Fatalf("RunCycle: %v", err)
		}
		table = cycle.Table
		if len(table.Get("BTC/GBP", 1)) == 4 {
			break
		}
	}

	ops := table.Get("BTC/GBP", 1)
	if len(ops) != 4 {
		t.Fatalf("expected 4 opportunities, got %d", len(ops))
	}
	best := ops[0]
	if best.BuyExchange != "a" || best.SellExchange != "b" {
		t.Fatalf("unexpected best route %s -> %s", best.BuyExchange, best.SellExchange)
	}
	if best.Profit() != 0.02 {
		t.Errorf("expected profit 0.02, got %v", best.Profit())
	}
}

func TestSlowVenueDoesNotBlockCycle(t *testing.T) {
	slow := &fakeVenue{name: "slow", ask: 100, bid: 99, block: make(chan struct{})}
	defer close(slow.block)
	fast := &fakeVenue{name: "fast", ask: 101, bid: 100}

	ws := newWatcher(t, slow, 1)
	wf := newWatcher(t, fast, 1)
	c, err := NewCoordinator([]*reader.Watcher{ws, wf}, map[string][]float64{"BTC/GBP": {1}}, Options{})
	if err != nil {
		t.Fatalf("NewCoordinator: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for i := 0; i < 3; i++ {
		cycle, err := c.RunCycle(ctx)
		if err != nil {
			t.Fatalf("cycle %d: %v", i, err)
		}
		if len(cycle.Refreshed) != 1 || cycle.Refreshed[0] != wf {
			t.Fatalf("cycle %d: expected only the fast watcher refreshed", i)
		}
	}
	if got := slow.callCount(); got > 1 {
		t.Errorf("slow venue should have at most one fetch in flight, got %d", got)
	}
	if n := len(c.BuildTable().Get("BTC/GBP", 1)); n != 1 {
		t.Errorf("expected a self pair from the fast venue only, got %d", n)
	}
}

func TestFetchFailureIsFatalByDefault(t *testing.T) {
	boom := errors.New("connection reset")
	w := newWatcher(t, &fakeVenue{name: "a", err: boom}, 1)
	c, err := NewCoordinator([]*reader.Watcher{w}, map[string][]float64{"BTC/GBP": {1}}, Options{})
	if err != nil {
		t.Fatalf("NewCoordinator: %v", err)
	}

	_, err = c.RunCycle(context.Background())
	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected *FetchError, got %v", err)
	}
	if fetchErr.Exchange != "a" || fetchErr.Market != "BTC/GBP" {
		t.Errorf("unexpected origin %s %s", fetchErr.Exchange, fetchErr.Market)
	}
	if !errors.Is(err, boom) {
		t.Errorf("expected wrapped cause, got %v", err)
	}
}

func TestFetchFailureIsolated(t *testing.T) {
	bad := &fakeVenue{name: "bad", err: errors.New("down")}
	good := &fakeVenue{name: "good", ask: 100, bid: 99}
	wb := newWatcher(t, bad, 1)
	wg := newWatcher(t, good, 1)
	c, err := NewCoordinator([]*reader.Watcher{wb, wg}, map[string][]float64{"BTC/GBP": {1}}, Options{IsolateVenueFailures: true})
	if err != nil {
		t.Fatalf("NewCoordinator: %v", err)
	}

	ctx := context.Background()
	failures := 0
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && (failures < 2 || !wg.HasData()) {
		cycle, err := c.RunCycle(ctx)
		if err != nil {
			t.Fatalf("RunCycle: %v", err)
		}
		failures += len(cycle.Failures)
	}
	if failures < 2 {
		t.Fatalf("expected repeated isolated failures, got %d", failures)
	}
	if !wg.HasData() {
		t.Fatal("healthy venue should keep refreshing")
	}
	if wb.HasData() {
		t.Error("failed watcher should hold no data")
	}
	for _, o := range c.BuildTable().Get("BTC/GBP", 1) {
		if o.BuyExchange == "bad" || o.SellExchange == "bad" {
			t.Fatalf("failed venue contributed %+v", o)
		}
	}
}

func TestBuildTableSkipsUnreachedDepth(t *testing.T) {
	deep := newWatcher(t, &fakeVenue{name: "deep", ask: 100, bid: 99, qty: 5}, 1, 5)
	shallow := newWatcher(t, &fakeVenue{name: "shallow", ask: 98, bid: 101, qty: 1}, 1, 5)
	c, err := NewCoordinator([]*reader.Watcher{deep, shallow}, map[string][]float64{"BTC/GBP": {5, 1}}, Options{})
	if err != nil {
		t.Fatalf("NewCoordinator: %v", err)
	}

	ctx := context.Background()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && !(deep.HasData() && shallow.HasData()) {
		if _, err := c.RunCycle(ctx); err != nil {
			t.Fatalf("RunCycle: %v", err)
		}
	}
	if !deep.HasData() || !shallow.HasData() {
		t.Fatal("both venues should have refreshed")
	}

	table := c.BuildTable()
	if n := len(table.Get("BTC/GBP", 1)); n != 4 {
		t.Errorf("depth 1: expected 4 opportunities, got %d", n)
	}
	atFive := table.Get("BTC/GBP", 5)
	if len(atFive) != 1 {
		t.Fatalf("depth 5: expected only the deep venue, got %d", len(atFive))
	}
	if atFive[0].BuyExchange != "deep" || atFive[0].SellExchange != "deep" {
		t.Errorf("depth 5: unexpected route %+v", atFive[0])
	}
}

func TestObserversReceiveCycles(t *testing.T) {
	w := newWatcher(t, &fakeVenue{name: "a", ask: 100, bid: 99}, 1)
	c, err := NewCoordinator([]*reader.Watcher{w}, map[string][]float64{"BTC/GBP": {1}}, Options{})
	if err != nil {
		t.Fatalf("NewCoordinator: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	seen := 0
	c.Observe(ObserverFunc(func(_ context.Context, cycle Cycle) {
		seen++
		if records := cycle.DepthRecords(); len(records) == 1 && records[0].AskLevels[1] != 100 {
			t.Errorf("unexpected ask level %v", records[0].AskLevels)
		}
		if seen == 3 {
			cancel()
		}
	}))

	if err := c.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if seen < 3 {
		t.Errorf("expected at least 3 cycles, got %d", seen)
	}
}

func TestReporterRender(t *testing.T) {
	a := newWatcher(t, &fakeVenue{name: "a", ask: 100, bid: 99}, 1)
	blocked := &fakeVenue{name: "b", ask: 103, bid: 102, block: make(chan struct{})}
	defer close(blocked.block)
	b := newWatcher(t, blocked, 1)
	c, err := NewCoordinator([]*reader.Watcher{a, b}, map[string][]float64{"BTC/GBP": {1}}, Options{})
	if err != nil {
		t.Fatalf("NewCoordinator: %v", err)
	}
	cycle, err := c.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	out := NewReporter(c, time.Minute).Render(cycle)
	for _, want := range []string{
		"BTC/GBP ticker feed",
		"a: ask 100.00 GBP, bid 99.00 GBP, spread 1.00",
		"b: not yet available",
		"#1 @1: buy a 100.00, sell a 99.00",
		"#2 @1: not yet available",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
}
