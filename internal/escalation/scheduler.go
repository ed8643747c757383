package escalation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/gyaneshwarpardhi/safewatch/internal/metrics"
	"github.com/gyaneshwarpardhi/safewatch/internal/pubsub"
	"github.com/gyaneshwarpardhi/safewatch/internal/safety"
)

const (
	sourceManual = "manual"
	sourceAuto   = "auto"

	casAttempts = 3
)

// Resolver closes events. *sos.Manager satisfies it.
type Resolver interface {
	Resolve(ctx context.Context, id string, falseAlarm bool, notes string) (*safety.Event, error)
}

// Scheduler serializes manual and timed escalation per event.
type Scheduler struct {
	store      safety.Store
	resolver   Resolver
	dispatcher safety.Dispatcher
	publisher  pubsub.Publisher
	clock      safety.Clock
	logger     *zap.Logger

	policy atomic.Pointer[Policy]
	locks  *keyedMutex
}

// Option configures a Scheduler.
type Option func(*Scheduler)

func WithClock(c safety.Clock) Option           { return func(s *Scheduler) { s.clock = c } }
func WithDispatcher(d safety.Dispatcher) Option { return func(s *Scheduler) { s.dispatcher = d } }
func WithPublisher(p pubsub.Publisher) Option   { return func(s *Scheduler) { s.publisher = p } }
func WithLogger(l *zap.Logger) Option           { return func(s *Scheduler) { s.logger = l } }
func WithPolicy(p Policy) Option                { return func(s *Scheduler) { s.policy.Store(&p) } }

func NewScheduler(store safety.Store, resolver Resolver, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:     store,
		resolver:  resolver,
		publisher: pubsub.Noop{},
		clock:     safety.SystemClock{},
		logger:    zap.NewNop(),
		locks:     newKeyedMutex(),
	}
	p := DefaultPolicy()
	s.policy.Store(&p)
	for _, o := range opts {
		o(s)
	}
	return s
}

// SetPolicy swaps the advance policy. Safe to call while sweeping.
func (s *Scheduler) SetPolicy(p Policy) { s.policy.Store(&p) }

// Policy returns the current advance policy.
func (s *Scheduler) Policy() Policy { return *s.policy.Load() }

// Escalate moves the event one level up and returns the new record. The
// record is handed to the dispatcher once the event lock is released.
func (s *Scheduler) Escalate(ctx context.Context, id string) (*safety.EscalationRecord, error) {
	ev, rec, err := s.escalateLocked(ctx, id)
	if err != nil {
		return nil, err
	}
	s.dispatch(ctx, ev, *rec)
	return rec, nil
}

func (s *Scheduler) escalateLocked(ctx context.Context, id string) (*safety.Event, *safety.EscalationRecord, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	for attempt := 0; ; attempt++ {
		ev, err := s.store.GetEvent(ctx, id)
		if err != nil {
			return nil, nil, safety.WrapStorage("get event", err)
		}
		rec, err := s.advance(ctx, ev, sourceManual)
		if errors.Is(err, safety.ErrStale) && attempt+1 < casAttempts {
			continue
		}
		return ev, rec, err
	}
}

// MarkSafe resolves the event at whatever level it has reached.
func (s *Scheduler) MarkSafe(ctx context.Context, id string) (*safety.Event, error) {
	unlock := s.locks.Lock(id)
	defer unlock()
	return s.resolver.Resolve(ctx, id, false, "marked safe by user")
}

// Ladder returns the escalation records written for an event, lowest level first.
func (s *Scheduler) Ladder(ctx context.Context, id string) ([]safety.EscalationRecord, error) {
	recs, err := s.store.ListEscalations(ctx, id)
	if err != nil {
		return nil, safety.WrapStorage("list escalations", err)
	}
	return recs, nil
}

// Sweep advances every active event to the level its age calls for and
// returns the number of records written. Repeated sweeps at the same
// instant write nothing.
func (s *Scheduler) Sweep(ctx context.Context) (int, error) {
	p := s.Policy()
	if !p.AutoAdvance {
		return 0, nil
	}
	events, err := s.store.ListActiveEvents(ctx)
	if err != nil {
		return 0, safety.WrapStorage("list active events", err)
	}
	written := 0
	for _, ev := range events {
		if ctx.Err() != nil {
			return written, ctx.Err()
		}
		written += s.sweepOne(ctx, ev.ID, p)
	}
	return written, nil
}

// committed is a record written under the event lock, waiting for
// dispatch.
type committed struct {
	ev  *safety.Event
	rec safety.EscalationRecord
}

func (s *Scheduler) sweepOne(ctx context.Context, id string, p Policy) int {
	pending := s.sweepLocked(ctx, id, p)
	for _, c := range pending {
		s.dispatch(ctx, c.ev, c.rec)
	}
	return len(pending)
}

func (s *Scheduler) sweepLocked(ctx context.Context, id string, p Policy) []committed {
	unlock := s.locks.Lock(id)
	defer unlock()

	ev, err := s.store.GetEvent(ctx, id)
	if err != nil {
		s.logger.Warn("sweep: event vanished", zap.String("sos_event_id", id), zap.Error(err))
		return nil
	}
	due := p.Due(ev, s.clock.Now())
	var out []committed
	for ev.EscalationLevel < due {
		rec, err := s.advance(ctx, ev, sourceAuto)
		if err != nil {
			if !errors.Is(err, safety.ErrStale) && !errors.Is(err, safety.ErrInvalidTransition) {
				s.logger.Error("sweep: escalation failed", zap.String("sos_event_id", id), zap.Error(err))
			}
			break
		}
		out = append(out, committed{ev: ev.Clone(), rec: *rec})
	}
	return out
}

// dispatch must be called without the event lock held.
func (s *Scheduler) dispatch(ctx context.Context, ev *safety.Event, rec safety.EscalationRecord) {
	if s.dispatcher == nil {
		return
	}
	// Outcome is stored on the record by the dispatcher.
	_ = s.dispatcher.Dispatch(ctx, ev, rec)
}

// Run sweeps every interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.Sweep(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error("escalation sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				s.logger.Debug("escalation sweep", zap.Int("records", n))
			}
		}
	}
}

// advance must be called with the event lock held. On success ev reflects
// the new level.
func (s *Scheduler) advance(ctx context.Context, ev *safety.Event, source string) (*safety.EscalationRecord, error) {
	if ev.Status.Terminal() {
		return nil, fmt.Errorf("%w: event is %s", safety.ErrInvalidTransition, ev.Status)
	}
	if ev.EscalationLevel >= safety.MaxEscalationLevel {
		return nil, safety.ErrMaxEscalationReached
	}

	now := s.clock.Now()
	level := ev.EscalationLevel + 1
	rec := &safety.EscalationRecord{
		SOSEventID: ev.ID,
		Level:      level,
		Target:     TargetFor(level),
		Status:     safety.DispatchPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.AdvanceEscalation(ctx, rec); err != nil {
		return nil, safety.WrapStorage("advance escalation", err)
	}
	ev.EscalationLevel = level
	ev.UpdatedAt = now

	metrics.Escalations.WithLabelValues(strconv.Itoa(level), source).Inc()
	s.logger.Info("sos escalated",
		zap.String("sos_event_id", ev.ID),
		zap.Int("level", level),
		zap.String("target", string(rec.Target)),
		zap.String("source", source),
	)

	u := pubsub.UpdateFor(pubsub.KindEscalation, ev, now)
	u.Target = rec.Target
	if err := s.publisher.Publish(ctx, u); err != nil {
		s.logger.Warn("escalation fan-out failed", zap.String("sos_event_id", ev.ID), zap.Error(err))
	}
	return rec, nil
}
