package reader

import (
	"context"
	"sync"

	"arbflow/models"
)

// BookStream delivers pushed order books to waiting watchers. Each market
// keeps only the latest undelivered result so slow readers never block the
// socket reader.
type BookStream struct {
	mu     sync.Mutex
	slots  map[string]chan FetchResult
	closed error
}

func NewBookStream() *BookStream {
	return &BookStream{slots: make(map[string]chan FetchResult)}
}

func (s *BookStream) slot(market string) chan FetchResult {
	ch, ok := s.slots[market]
	if !ok {
		ch = make(chan FetchResult, 1)
		s.slots[market] = ch
	}
	return ch
}

func (s *BookStream) put(market string, res FetchResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := s.slot(market)
	select {
	case <-ch:
	default:
	}
	ch <- res
}

// Publish replaces any undelivered book for the market.
func (s *BookStream) Publish(market string, snapshot *models.OrderBookSnapshot) {
	s.put(market, OK(snapshot))
}

// Fail hands an error to the next reader of the market.
func (s *BookStream) Fail(market string, err error) {
	s.put(market, Fatal(err))
}

// Close fails every current and future reader with err.
func (s *BookStream) Close(err error) {
	if err == nil {
		err = ErrStreamClosed
	}
	s.mu.Lock()
	s.closed = err
	markets := make([]string, 0, len(s.slots))
	for m := range s.slots {
		markets = append(markets, m)
	}
	s.mu.Unlock()
	for _, m := range markets {
		s.Fail(m, err)
	}
}

// Next waits for the next book of the market.
func (s *BookStream) Next(ctx context.Context, market string) FetchResult {
	s.mu.Lock()
	ch := s.slot(market)
	closed := s.closed
	s.mu.Unlock()

	select {
	case res := <-ch:
		return res
	default:
	}
	if closed != nil {
		return Fatal(closed)
	}

	select {
	case res := <-ch:
		return res
	case <-ctx.Done():
		return Fatal(ctx.Err())
	}
}
