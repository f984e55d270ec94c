package reader

import (
	"context"
	"errors"
	"strings"

	ratemetrics "arbflow/internal/metrics/rate"
	"arbflow/models"
)

var (
	// ErrRateLimited marks a transport error the venue signalled as rate limiting.
	ErrRateLimited = errors.New("rate limited")
	// ErrRetriesExhausted is returned once a rate limited fetch ran out of attempts.
	ErrRetriesExhausted = errors.New("rate limit retries exhausted")
	// ErrStreamClosed is returned by push transports whose stream is gone.
	ErrStreamClosed = errors.New("order book stream closed")
)

// Capability tells a watcher how a venue delivers order books.
type Capability int

const (
	// PollOnly venues expose a blocking request/response call.
	PollOnly Capability = iota
	// PushCapable venues stream updates and each fetch waits for the next one.
	PushCapable
)

func (c Capability) String() string {
	if c == PushCapable {
		return "push"
	}
	return "poll"
}

// Outcome tags a single fetch attempt.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeRateLimited
	OutcomeFatal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeRateLimited:
		return "rate_limited"
	default:
		return "fatal"
	}
}

// FetchResult is the typed result of one round trip to a venue.
type FetchResult struct {
	Snapshot *models.OrderBookSnapshot
	Outcome  Outcome
	Err      error
}

func OK(snapshot *models.OrderBookSnapshot) FetchResult {
	return FetchResult{Snapshot: snapshot, Outcome: OutcomeOK}
}

func RateLimited(err error) FetchResult {
	return FetchResult{Outcome: OutcomeRateLimited, Err: err}
}

func Fatal(err error) FetchResult {
	return FetchResult{Outcome: OutcomeFatal, Err: err}
}

// Exchange is a venue adapter. Adapters also implement Poller or Pusher
// matching their Capability.
type Exchange interface {
	Name() string
	Capability() Capability
	// LoadMarkets returns the unified "BASE/QUOTE" symbols the venue trades.
	LoadMarkets(ctx context.Context) ([]string, error)
	Close() error
}

// Poller fetches a fresh order book with a blocking request.
type Poller interface {
	Exchange
	FetchOrderBook(ctx context.Context, market string, limit int) FetchResult
}

// Pusher blocks until the venue pushes the next order book update.
type Pusher interface {
	Exchange
	WatchOrderBook(ctx context.Context, market string, limit int) FetchResult
}

// Classify maps a transport error onto a FetchResult. Context errors and
// errors without rate limit wording are fatal.
func Classify(exchange string, err error) FetchResult {
	if err == nil {
		return Fatal(errors.New("nil error classified"))
	}
	if errors.Is(err, ErrRateLimited) {
		return RateLimited(err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Fatal(err)
	}
	if rateLimit, ipBan := ratemetrics.DetectLimit(exchange, err.Error()); rateLimit && !ipBan {
		return RateLimited(err)
	}
	return Fatal(err)
}

// HasMarket reports whether a venue market list contains the unified symbol.
func HasMarket(markets []string, market string) bool {
	for _, m := range markets {
		if strings.EqualFold(m, market) {
			return true
		}
	}
	return false
}
