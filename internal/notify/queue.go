package notify

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/gyaneshwarpardhi/safewatch/internal/metrics"
	"github.com/gyaneshwarpardhi/safewatch/internal/safety"
	"github.com/gyaneshwarpardhi/safewatch/internal/workerpool"
)

// ErrDispatchQueueFull is returned when a record cannot be queued for
// delivery. The record stays pending in the store.
var ErrDispatchQueueFull = errors.New("dispatch queue full")

const statusDropped = "dropped"

type dispatchJob struct {
	ev  *safety.Event
	rec safety.EscalationRecord
}

// Queue hands records to the wrapped Dispatcher on background workers, so
// callers never wait on a notifier round trip.
type Queue struct {
	next   safety.Dispatcher
	pool   *workerpool.Pool[dispatchJob, struct{}]
	logger *zap.Logger
}

// NewQueue starts workers goroutines delivering through next. Jobs run
// under ctx, not the caller's request context.
func NewQueue(ctx context.Context, next safety.Dispatcher, workers, depth int, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	q := &Queue{next: next, logger: logger}
	q.pool = workerpool.New[dispatchJob, struct{}](ctx, workers, depth,
		func(ctx context.Context, j dispatchJob) (struct{}, error) {
			return struct{}{}, q.next.Dispatch(ctx, j.ev, j.rec)
		},
	)
	return q
}

// Dispatch queues rec without blocking. ev is copied so later changes by
// the caller do not race with delivery.
func (q *Queue) Dispatch(_ context.Context, ev *safety.Event, rec safety.EscalationRecord) error {
	if q.pool.Submit(dispatchJob{ev: ev.Clone(), rec: rec}) {
		return nil
	}
	metrics.Dispatches.WithLabelValues(string(rec.Target), statusDropped).Inc()
	q.logger.Error("dispatch queue full, record left pending",
		zap.String("sos_event_id", ev.ID),
		zap.Int("level", rec.Level),
		zap.String("target", string(rec.Target)),
		zap.Int("queue_cap", q.pool.QueueCap()),
	)
	return fmt.Errorf("%w: sos %s level %d", ErrDispatchQueueFull, ev.ID, rec.Level)
}

// Pending returns how many records wait for a worker.
func (q *Queue) Pending() int { return q.pool.QueueLen() }

// Close stops accepting records and waits for queued ones to be delivered.
func (q *Queue) Close() { q.pool.Drain() }
