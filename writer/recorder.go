package writer

import (
	"context"
	"sync"

	"arbflow/logger"
	"arbflow/models"
)

// Recorder persists the depth prices of one duty cycle.
type Recorder interface {
	Name() string
	Record(ctx context.Context, timestampMs int64, records []models.DepthRecord) error
}

type QueueStats struct {
	Sent    int64
	Dropped int64
	Failed  int64
}

// Queue hands depth batches to recorders on a worker goroutine. Enqueue
// never blocks; a full buffer drops the batch.
type Queue struct {
	batches   chan models.DepthBatch
	recorders []Recorder

	stats      QueueStats
	statsMutex sync.RWMutex
	wg         sync.WaitGroup
	log        *logger.Entry
}

func NewQueue(bufferSize int, recorders ...Recorder) *Queue {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	q := &Queue{
		batches:   make(chan models.DepthBatch, bufferSize),
		recorders: recorders,
		log:       logger.GetLogger().WithComponent("depth_queue"),
	}
	q.log.WithFields(logger.Fields{
		"buffer_size": bufferSize,
		"recorders":   len(recorders),
	}).Info("depth queue initialized")
	return q
}

// Enqueue offers a batch to the recorders and reports whether it was accepted.
func (q *Queue) Enqueue(ctx context.Context, batch models.DepthBatch) bool {
	if len(batch.Records) == 0 {
		return false
	}
	select {
	case <-ctx.Done():
		return false
	default:
	}
	select {
	case q.batches <- batch:
		q.statsMutex.Lock()
		q.stats.Sent++
		q.statsMutex.Unlock()
		logger.RecordChannelMessage("depth")
		return true
	default:
		q.statsMutex.Lock()
		q.stats.Dropped++
		q.statsMutex.Unlock()
		logger.RecordChannelDrop("depth")
		return false
	}
}

// Start runs the worker until Close is called.
func (q *Queue) Start(ctx context.Context) {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		for batch := range q.batches {
			q.record(ctx, batch)
		}
	}()
}

func (q *Queue) record(ctx context.Context, batch models.DepthBatch) {
	for _, r := range q.recorders {
		if err := r.Record(ctx, batch.TimestampMs, batch.Records); err != nil {
			q.statsMutex.Lock()
			q.stats.Failed++
			q.statsMutex.Unlock()
			q.log.WithError(err).WithFields(logger.Fields{
				"recorder": r.Name(),
				"records":  len(batch.Records),
			}).Warn("depth record failed")
		}
	}
}

// Close stops accepting batches and waits for queued ones to be recorded.
func (q *Queue) Close() {
	close(q.batches)
	q.wg.Wait()
	q.log.WithFields(logger.Fields{"stats": q.Stats()}).Info("depth queue closed")
}

func (q *Queue) Stats() QueueStats {
	q.statsMutex.RLock()
	defer q.statsMutex.RUnlock()
	return q.stats
}
