package reader

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Pool bounds how many blocking venue calls run at once. It should be at
// least as large as the number of polling venues.
type Pool struct {
	sem  *semaphore.Weighted
	size int
}

func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size)), size: size}
}

func (p *Pool) Size() int {
	return p.size
}

// Do runs fn while holding a worker slot. A cancelled context while waiting
// for a slot is reported as a fatal result.
func (p *Pool) Do(ctx context.Context, fn func() FetchResult) FetchResult {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return Fatal(err)
	}
	defer p.sem.Release(1)
	return fn()
}
