// Package sos owns the SOS event lifecycle: trigger admission, confidence
// scoring and status transitions.
package sos

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gyaneshwarpardhi/safewatch/internal/geo"
	"github.com/gyaneshwarpardhi/safewatch/internal/identity"
	"github.com/gyaneshwarpardhi/safewatch/internal/metrics"
	"github.com/gyaneshwarpardhi/safewatch/internal/pubsub"
	"github.com/gyaneshwarpardhi/safewatch/internal/safety"
)

// casAttempts bounds retries when a concurrent writer wins the status CAS.
const casAttempts = 3

// TriggerRequest is the caller supplied part of a new event.
type TriggerRequest struct {
	Mode        safety.TriggerMode `json:"trigger_mode"`
	Location    geo.Point          `json:"location"`
	Description string             `json:"description,omitempty"`
}

// Manager creates events and moves them through their lifecycle.
type Manager struct {
	store      safety.Store
	clock      safety.Clock
	publisher  pubsub.Publisher
	dispatcher safety.Dispatcher
	limit      safety.RateLimit
	logger     *zap.Logger
	newID      func() string
}

// Option configures a Manager.
type Option func(*Manager)

func WithClock(c safety.Clock) Option           { return func(m *Manager) { m.clock = c } }
func WithPublisher(p pubsub.Publisher) Option   { return func(m *Manager) { m.publisher = p } }
func WithDispatcher(d safety.Dispatcher) Option { return func(m *Manager) { m.dispatcher = d } }
func WithRateLimit(l safety.RateLimit) Option   { return func(m *Manager) { m.limit = l } }
func WithLogger(l *zap.Logger) Option           { return func(m *Manager) { m.logger = l } }
func WithIDGenerator(fn func() string) Option   { return func(m *Manager) { m.newID = fn } }

// NewManager returns a Manager backed by store.
func NewManager(store safety.Store, opts ...Option) *Manager {
	m := &Manager{
		store:     store,
		clock:     safety.SystemClock{},
		publisher: pubsub.Noop{},
		limit:     safety.DefaultRateLimit,
		logger:    zap.NewNop(),
		newID:     uuid.NewString,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Trigger admits a new SOS event for the caller on ctx.
func (m *Manager) Trigger(ctx context.Context, req TriggerRequest) (*safety.Event, error) {
	who, ok := identity.FromContext(ctx)
	if !ok {
		metrics.SOSRejected.WithLabelValues("unauthenticated").Inc()
		return nil, safety.ErrNotAuthenticated
	}
	if !KnownMode(req.Mode) {
		return nil, fmt.Errorf("%w: unknown trigger mode %q", safety.ErrInvalidInput, req.Mode)
	}
	if !req.Location.Valid() {
		return nil, fmt.Errorf("%w: location out of range", safety.ErrInvalidInput)
	}

	prior, err := m.store.CountFalseAlarms(ctx, who.UserID)
	if err != nil {
		return nil, safety.WrapStorage("count false alarms", err)
	}

	now := m.clock.Now()
	ev := &safety.Event{
		ID:              m.newID(),
		UserID:          who.UserID,
		TriggerMode:     req.Mode,
		Status:          safety.StatusTriggered,
		Priority:        safety.PriorityCritical,
		ConfidenceScore: Confidence(req.Mode, req.Description, prior),
		EscalationLevel: 0,
		Location:        req.Location,
		Description:     req.Description,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	first := &safety.EscalationRecord{
		SOSEventID: ev.ID,
		Level:      0,
		Target:     safety.TargetFamily,
		Status:     safety.DispatchPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := m.store.CreateEvent(ctx, ev, first, m.limit, now); err != nil {
		switch {
		case errors.Is(err, safety.ErrRateLimitExceeded):
			metrics.SOSRejected.WithLabelValues("rate_limit").Inc()
		case errors.Is(err, safety.ErrConflictingActiveEvent):
			metrics.SOSRejected.WithLabelValues("active_event").Inc()
		default:
			metrics.SOSRejected.WithLabelValues("storage").Inc()
		}
		return nil, safety.WrapStorage("create event", err)
	}

	metrics.SOSTriggered.WithLabelValues(string(req.Mode)).Inc()
	m.logger.Info("sos triggered",
		zap.String("sos_event_id", ev.ID),
		zap.String("user_id", ev.UserID),
		zap.String("mode", string(ev.TriggerMode)),
		zap.Int("confidence", ev.ConfidenceScore),
	)
	m.publish(ctx, pubsub.UpdateFor(pubsub.KindTriggered, ev, now))
	if m.dispatcher != nil {
		// Outcome is stored on the record by the dispatcher.
		_ = m.dispatcher.Dispatch(ctx, ev, *first)
	}
	return ev, nil
}

// Get returns the event with id.
func (m *Manager) Get(ctx context.Context, id string) (*safety.Event, error) {
	ev, err := m.store.GetEvent(ctx, id)
	if err != nil {
		return nil, safety.WrapStorage("get event", err)
	}
	return ev, nil
}

// requireResponder admits only officers and the system to responder
// transitions.
func requireResponder(ctx context.Context) error {
	who, ok := identity.FromContext(ctx)
	if !ok {
		return safety.ErrNotAuthenticated
	}
	if !identity.Privileged(who.Role) {
		return fmt.Errorf("%w: role %q cannot act as a responder", safety.ErrForbidden, who.Role)
	}
	return nil
}

// Acknowledge records that officer has seen the event.
func (m *Manager) Acknowledge(ctx context.Context, id, officer string) (*safety.Event, error) {
	if err := requireResponder(ctx); err != nil {
		return nil, err
	}
	return m.transition(ctx, id, safety.StatusAcknowledged, func(ev *safety.Event, now time.Time) {
		ev.OfficerID = officer
		ev.AcknowledgedAt = &now
	})
}

// Respond records that officer is on the way.
func (m *Manager) Respond(ctx context.Context, id, officer string) (*safety.Event, error) {
	if err := requireResponder(ctx); err != nil {
		return nil, err
	}
	return m.transition(ctx, id, safety.StatusResponding, func(ev *safety.Event, now time.Time) {
		if officer != "" {
			ev.OfficerID = officer
		}
		ev.RespondedAt = &now
	})
}

// Verify records that a responder confirmed the situation on scene.
func (m *Manager) Verify(ctx context.Context, id, officer string) (*safety.Event, error) {
	if err := requireResponder(ctx); err != nil {
		return nil, err
	}
	return m.transition(ctx, id, safety.StatusVerified, func(ev *safety.Event, now time.Time) {
		if officer != "" {
			ev.OfficerID = officer
		}
		ev.VerifiedAt = &now
	})
}

// Resolve closes the event as resolved or as a false alarm.
func (m *Manager) Resolve(ctx context.Context, id string, falseAlarm bool, notes string) (*safety.Event, error) {
	to := safety.StatusResolved
	if falseAlarm {
		to = safety.StatusFalseAlarm
	}
	return m.transition(ctx, id, to, func(ev *safety.Event, now time.Time) {
		ev.ResolvedAt = &now
		ev.ResolutionNotes = notes
	})
}

// UpdateStatus is the generic status entry point used by the API.
func (m *Manager) UpdateStatus(ctx context.Context, id string, status safety.Status, officer, notes string) (*safety.Event, error) {
	switch status {
	case safety.StatusAcknowledged:
		return m.Acknowledge(ctx, id, officer)
	case safety.StatusResponding:
		return m.Respond(ctx, id, officer)
	case safety.StatusVerified:
		return m.Verify(ctx, id, officer)
	case safety.StatusResolved:
		return m.Resolve(ctx, id, false, notes)
	case safety.StatusFalseAlarm:
		return m.Resolve(ctx, id, true, notes)
	case safety.StatusTriggered:
		return nil, fmt.Errorf("%w: cannot move back to %s", safety.ErrInvalidTransition, status)
	}
	return nil, fmt.Errorf("%w: unknown status %q", safety.ErrInvalidInput, status)
}

func (m *Manager) transition(ctx context.Context, id string, to safety.Status, apply func(*safety.Event, time.Time)) (*safety.Event, error) {
	for attempt := 0; ; attempt++ {
		ev, err := m.store.GetEvent(ctx, id)
		if err != nil {
			return nil, safety.WrapStorage("get event", err)
		}
		from := ev.Status
		if !CanTransition(from, to) {
			return nil, fmt.Errorf("%w: %s -> %s", safety.ErrInvalidTransition, from, to)
		}

		now := m.clock.Now()
		ev.Status = to
		ev.UpdatedAt = now
		apply(ev, now)

		err = m.store.UpdateEvent(ctx, ev, from)
		if errors.Is(err, safety.ErrStale) && attempt+1 < casAttempts {
			continue
		}
		if errors.Is(err, safety.ErrStale) {
			return nil, fmt.Errorf("%w: concurrent update of %s", safety.ErrInvalidTransition, id)
		}
		if err != nil {
			return nil, safety.WrapStorage("update event", err)
		}

		metrics.SOSTransitions.WithLabelValues(string(to)).Inc()
		m.logger.Info("sos status changed",
			zap.String("sos_event_id", id),
			zap.String("from", string(from)),
			zap.String("to", string(to)),
		)
		m.publish(ctx, pubsub.UpdateFor(pubsub.KindStatus, ev, now))
		return ev, nil
	}
}

func (m *Manager) publish(ctx context.Context, u pubsub.Update) {
	if err := m.publisher.Publish(ctx, u); err != nil {
		m.logger.Warn("status fan-out failed",
			zap.String("sos_event_id", u.EventID),
			zap.String("kind", string(u.Kind)),
			zap.Error(err),
		)
	}
}
