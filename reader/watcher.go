package reader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	ratemetrics "arbflow/internal/metrics/rate"
	"arbflow/logger"
	"arbflow/models"
	"arbflow/processor"

	"github.com/jpillora/backoff"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// State is the lifecycle of a watcher's single outstanding fetch.
type State int

const (
	StateIdle State = iota
	StateFetching
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	default:
		return "completed"
	}
}

// ErrFetchInFlight is returned when Fetch is called on a busy watcher.
var ErrFetchInFlight = errors.New("fetch already in flight")

// RetryPolicy bounds the retries of a rate limited fetch.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
}

// DefaultRetryPolicy retries ten times starting at one second, growing by 1.25.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 10, BaseDelay: time.Second, MaxDelay: time.Minute, Multiplier: 1.25}
}

type WatcherOptions struct {
	// Limit is the number of levels requested per side.
	Limit int
	// MinFetchDelay spaces consecutive polling requests.
	MinFetchDelay time.Duration
	Retry         RetryPolicy
	// Pool runs blocking polling calls. Required for polling venues.
	Pool *Pool
	// Breaker, when set, short-circuits fetches while the venue keeps failing.
	Breaker *gobreaker.CircuitBreaker
	// BreakerWait is how long an open breaker holds a fetch before failing it.
	BreakerWait time.Duration
	// Sleep waits between retries. Tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Watcher keeps at most one fetch in flight for a venue and market and holds
// the most recent book and the depth prices derived from it.
type Watcher struct {
	exchange Exchange
	market   string
	depths   []float64
	opts     WatcherOptions
	attempt  func(ctx context.Context) FetchResult
	limiter  *rate.Limiter
	log      *logger.Entry

	mu         sync.RWMutex
	state      State
	generation int
	snapshot   *models.OrderBookSnapshot
	asks       models.DepthResult
	bids       models.DepthResult
	hasData    bool
	lastErr    error
	fetchedAt  time.Time
}

// NewWatcher binds an exchange adapter to one market. Push capable venues
// wait on the stream, everything else polls through the worker pool.
func NewWatcher(ex Exchange, market string, depths []float64, opts WatcherOptions) (*Watcher, error) {
	if opts.Limit <= 0 {
		opts.Limit = 100
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = DefaultRetryPolicy()
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}

	w := &Watcher{
		exchange: ex,
		market:   market,
		depths:   append([]float64(nil), depths...),
		opts:     opts,
		log: logger.GetLogger().WithComponent("watcher").WithFields(logger.Fields{
			"exchange": ex.Name(),
			"market":   market,
		}),
	}

	switch ex.Capability() {
	case PushCapable:
		pusher, ok := ex.(Pusher)
		if !ok {
			return nil, fmt.Errorf("exchange %s is push capable but cannot watch order books", ex.Name())
		}
		w.attempt = func(ctx context.Context) FetchResult {
			return pusher.WatchOrderBook(ctx, market, opts.Limit)
		}
	default:
		poller, ok := ex.(Poller)
		if !ok {
			return nil, fmt.Errorf("exchange %s cannot fetch order books", ex.Name())
		}
		if opts.Pool == nil {
			return nil, fmt.Errorf("exchange %s polls and needs a worker pool", ex.Name())
		}
		if opts.MinFetchDelay > 0 {
			w.limiter = rate.NewLimiter(rate.Every(opts.MinFetchDelay), 1)
		}
		w.attempt = func(ctx context.Context) FetchResult {
			return opts.Pool.Do(ctx, func() FetchResult {
				return poller.FetchOrderBook(ctx, market, opts.Limit)
			})
		}
	}

	return w, nil
}

func (w *Watcher) Exchange() string {
	return w.exchange.Name()
}

func (w *Watcher) Market() string {
	return w.market
}

func (w *Watcher) Depths() []float64 {
	return w.depths
}

func (w *Watcher) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

// Generation counts fetches started so far.
func (w *Watcher) Generation() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.generation
}

// Fetch performs one round trip. It moves the watcher to Fetching, and to
// Completed on success. On failure the watcher returns to Idle and the error
// is returned.
func (w *Watcher) Fetch(ctx context.Context) error {
	w.mu.Lock()
	if w.state == StateFetching {
		w.mu.Unlock()
		return ErrFetchInFlight
	}
	w.state = StateFetching
	w.generation++
	w.mu.Unlock()

	snapshot, err := w.fetch(ctx)

	w.mu.Lock()
	defer w.mu.Unlock()
	if err != nil {
		w.state = StateIdle
		w.lastErr = err
		return err
	}
	w.snapshot = snapshot
	w.fetchedAt = time.Now()
	w.state = StateCompleted
	w.lastErr = nil
	logger.IncrementFetch(w.exchange.Name())
	return nil
}

func (w *Watcher) fetch(ctx context.Context) (*models.OrderBookSnapshot, error) {
	if w.opts.Breaker == nil {
		return w.fetchWithRetry(ctx)
	}

	out, err := w.opts.Breaker.Execute(func() (interface{}, error) {
		return w.fetchWithRetry(ctx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		// Hold the fetch so an open breaker does not spin the coordinator.
		if w.opts.BreakerWait > 0 {
			if serr := w.opts.Sleep(ctx, w.opts.BreakerWait); serr != nil {
				return nil, serr
			}
		}
		return nil, fmt.Errorf("%s circuit open: %w", w.exchange.Name(), err)
	}
	if err != nil {
		return nil, err
	}
	return out.(*models.OrderBookSnapshot), nil
}

func (w *Watcher) fetchWithRetry(ctx context.Context) (*models.OrderBookSnapshot, error) {
	if w.limiter != nil {
		if err := w.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	b := &backoff.Backoff{
		Min:    w.opts.Retry.BaseDelay,
		Max:    w.opts.Retry.MaxDelay,
		Factor: w.opts.Retry.Multiplier,
	}

	for attempt := 1; ; attempt++ {
		res := w.attempt(ctx)
		switch res.Outcome {
		case OutcomeOK:
			if res.Snapshot == nil {
				return nil, fmt.Errorf("%s returned an empty order book", w.exchange.Name())
			}
			processor.NormalizeSnapshot(res.Snapshot, w.opts.Limit)
			return res.Snapshot, nil
		case OutcomeRateLimited:
			ratemetrics.ReportRateLimitExceeded(logger.GetLogger(), w.exchange.Name(), w.market, attempt)
			if attempt >= w.opts.Retry.MaxAttempts {
				return nil, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempt, res.Err)
			}
			delay := b.Duration()
			w.log.WithFields(logger.Fields{"attempt": attempt, "delay": delay.String()}).Debug("retrying rate limited fetch")
			if err := w.opts.Sleep(ctx, delay); err != nil {
				return nil, err
			}
		default:
			if res.Err == nil {
				res.Err = errors.New("fetch failed")
			}
			return nil, res.Err
		}
	}
}

// Refresh recomputes depth prices from a completed fetch and re-arms the
// watcher. It returns false when there was nothing new.
func (w *Watcher) Refresh() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != StateCompleted || w.snapshot == nil {
		return false
	}
	w.asks = processor.CalculatePriceAtDepths(w.snapshot.Asks, w.depths)
	w.bids = processor.CalculatePriceAtDepths(w.snapshot.Bids, w.depths)
	_, hasAsk := w.snapshot.BestAsk()
	_, hasBid := w.snapshot.BestBid()
	w.hasData = hasAsk || hasBid
	w.state = StateIdle
	return true
}

// HasData reports whether a refreshed book is available.
func (w *Watcher) HasData() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.hasData
}

// DepthPrices returns the ask and bid depth results of the last refresh.
func (w *Watcher) DepthPrices() (asks, bids models.DepthResult) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.asks, w.bids
}

// TopOfBook returns the best ask and bid of the last fetched book.
func (w *Watcher) TopOfBook() (ask, bid float64, ok bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	a, okAsk := w.snapshot.BestAsk()
	b, okBid := w.snapshot.BestBid()
	if !okAsk || !okBid {
		return 0, 0, false
	}
	return a.Price, b.Price, true
}

// LastError returns the error of the last failed fetch, nil after a success.
func (w *Watcher) LastError() error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lastErr
}

// FetchedAt is when the last successful fetch completed.
func (w *Watcher) FetchedAt() time.Time {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.fetchedAt
}

// Snapshot returns the last fetched book.
func (w *Watcher) Snapshot() *models.OrderBookSnapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.snapshot
}

// Invalidate drops the data of a venue whose last fetch failed so stale
// prices do not feed later cycles.
func (w *Watcher) Invalidate() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.hasData = false
	w.asks = models.DepthResult{}
	w.bids = models.DepthResult{}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
