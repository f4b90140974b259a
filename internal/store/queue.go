package store

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	// FlushInterval is how often pending rows are written out.
	FlushInterval = 500 * time.Millisecond

	// degradedHighWater and degradedLowWater bound the queue: past the high
	// water mark non-critical rows are shed until depth falls below the low
	// water mark.
	degradedHighWater = 1000
	degradedLowWater  = 500
)

// WriteQueue batches request-log rows into single transactions off the
// request path. Safe for concurrent use.
type WriteQueue struct {
	store *Store
	log   *slog.Logger

	mu       sync.Mutex
	pending  []RequestLog
	degraded bool
	shed     int64
}

// NewWriteQueue creates a queue writing into store. log may be nil.
func NewWriteQueue(store *Store, log *slog.Logger) *WriteQueue {
	if log == nil {
		log = slog.Default()
	}
	return &WriteQueue{store: store, log: log}
}

// Enqueue adds one row. critical rows (completed upstream requests) are
// always accepted; non-critical rows (cache hits) are shed in degraded
// mode. Returns whether the row was accepted.
func (q *WriteQueue) Enqueue(row RequestLog, critical bool) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.degraded && !critical {
		q.shed++
		return false
	}
	q.pending = append(q.pending, row)

	if !q.degraded && len(q.pending) > degradedHighWater {
		q.degraded = true
		q.log.Warn("write queue entering degraded mode",
			slog.Int("depth", len(q.pending)))
	}
	return true
}

// Depth returns the number of rows awaiting flush.
func (q *WriteQueue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Degraded reports whether the queue is currently shedding.
func (q *WriteQueue) Degraded() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.degraded
}

// Run flushes on a timer until ctx is cancelled, then drains synchronously.
func (q *WriteQueue) Run(ctx context.Context) error {
	ticker := time.NewTicker(FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			q.Flush(context.Background())
			return nil
		case <-ticker.C:
			q.Flush(ctx)
		}
	}
}

// Flush writes every pending row in one transaction. On failure the batch
// is re-queued in front of anything enqueued meanwhile; write failures
// never surface to clients.
func (q *WriteQueue) Flush(ctx context.Context) {
	q.mu.Lock()
	batch := q.pending
	q.pending = nil
	q.mu.Unlock()

	if len(batch) == 0 {
		q.recoverIfDrained(0)
		return
	}

	if err := q.store.InsertRequests(ctx, batch); err != nil {
		q.log.Error("write queue flush failed",
			slog.Int("rows", len(batch)),
			slog.String("error", err.Error()))
		q.mu.Lock()
		q.pending = append(batch, q.pending...)
		depth := len(q.pending)
		q.mu.Unlock()
		q.recoverIfDrained(depth)
		return
	}
	q.recoverIfDrained(q.Depth())
}

func (q *WriteQueue) recoverIfDrained(depth int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.degraded && depth < degradedLowWater {
		q.degraded = false
		q.log.Info("write queue recovered from degraded mode",
			slog.Int64("rows_shed", q.shed))
		q.shed = 0
	}
}
