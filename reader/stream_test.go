package reader

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBookStreamLatestWins(t *testing.T) {
	s := NewBookStream()
	first := book("x", "BTC/GBP")
	second := book("x", "BTC/GBP")
	second.LastUpdateID = 2

	s.Publish("BTC/GBP", first)
	s.Publish("BTC/GBP", second)

	res := s.Next(context.Background(), "BTC/GBP")
	if res.Outcome != OutcomeOK || res.Snapshot.LastUpdateID != 2 {
		t.Fatalf("expected latest book, got %+v", res)
	}
}

func TestBookStreamContextCancel(t *testing.T) {
	s := NewBookStream()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	res := s.Next(ctx, "BTC/GBP")
	if res.Outcome != OutcomeFatal || !errors.Is(res.Err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %+v", res)
	}
}

func TestBookStreamClose(t *testing.T) {
	s := NewBookStream()
	s.Close(nil)

	res := s.Next(context.Background(), "ETH/EUR")
	if res.Outcome != OutcomeFatal || !errors.Is(res.Err, ErrStreamClosed) {
		t.Fatalf("expected closed stream, got %+v", res)
	}
}

func TestClassify(t *testing.T) {
	if res := Classify("binance", errors.New("Too many requests")); res.Outcome != OutcomeRateLimited {
		t.Errorf("expected rate limited, got %v", res.Outcome)
	}
	if res := Classify("bybit", errors.New("IP rate limit reached, banned")); res.Outcome != OutcomeFatal {
		t.Errorf("ip bans are fatal, got %v", res.Outcome)
	}
	if res := Classify("kucoin", context.Canceled); res.Outcome != OutcomeFatal {
		t.Errorf("cancellation is fatal, got %v", res.Outcome)
	}
	wrapped := errors.Join(ErrRateLimited, errors.New("429"))
	if res := Classify("bitstamp", wrapped); res.Outcome != OutcomeRateLimited {
		t.Errorf("wrapped sentinel should be rate limited, got %v", res.Outcome)
	}
}

func TestPoolBounds(t *testing.T) {
	p := NewPool(1)
	release := make(chan struct{})
	go p.Do(context.Background(), func() FetchResult {
		<-release
		return OK(nil)
	})
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	res := p.Do(ctx, func() FetchResult { return OK(nil) })
	close(release)
	if res.Outcome != OutcomeFatal {
		t.Fatalf("second call should time out waiting for a slot, got %v", res.Outcome)
	}
}
