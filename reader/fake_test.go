package reader

import (
	"context"
	"sync"
	"sync/atomic"

	"arbflow/models"
)

type fakePoller struct {
	name    string
	mu      sync.Mutex
	results []FetchResult
	calls   int32
	block   chan struct{}
}

func (f *fakePoller) Name() string { return f.name }
func (f *fakePoller) Capability() Capability { return PollOnly }
func (f *fakePoller) LoadMarkets(context.Context) ([]string, error) { return []string{"BTC/GBP"}, nil }
func (f *fakePoller) Close() error { return nil }

func (f *fakePoller) FetchOrderBook(ctx context.Context, market string, limit int) FetchResult {
	atomic.AddInt32(&f.calls, 1)
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return Fatal(ctx.Err())
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.results) == 0 {
		return OK(book(f.name, market))
	}
	res := f.results[0]
	f.results = f.results[1:]
	return res
}

type fakePusher struct {
	name   string
	stream *BookStream
}

func (f *fakePusher) Name() string { return f.name }
func (f *fakePusher) Capability() Capability { return PushCapable }
func (f *fakePusher) LoadMarkets(context.Context) ([]string, error) { return []string{"BTC/GBP"}, nil }
func (f *fakePusher) Close() error { return nil }

func (f *fakePusher) WatchOrderBook(ctx context.Context, market string, limit int) FetchResult {
	return f.stream.Next(ctx, market)
}

func book(exchange, market string) *models.OrderBookSnapshot {
	return &models.OrderBookSnapshot{
		Exchange: exchange,
		Symbol:   market,
		Asks:     []models.PriceLevel{{Price: 100, Quantity: 1}, {Price: 101, Quantity: 1}},
		Bids:     []models.PriceLevel{{Price: 99, Quantity: 1}, {Price: 98, Quantity: 1}},
	}
}
