package notify

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/gyaneshwarpardhi/safewatch/internal/metrics"
	"github.com/gyaneshwarpardhi/safewatch/internal/safety"
)

// Service dispatches a record through the registry and stores the outcome
// on the record.
type Service struct {
	registry *Registry
	store    safety.Store
	clock    safety.Clock
	logger   *zap.Logger
}

func NewService(registry *Registry, store safety.Store, clock safety.Clock, logger *zap.Logger) *Service {
	return &Service{registry: registry, store: store, clock: clock, logger: logger}
}

// Dispatch notifies rec.Target and marks the record sent or failed. The
// returned error is the delivery failure, if any.
func (s *Service) Dispatch(ctx context.Context, ev *safety.Event, rec safety.EscalationRecord) error {
	status := safety.DispatchSent
	err := s.deliver(ctx, ev, rec)
	if err != nil {
		status = safety.DispatchFailed
		s.logger.Warn("escalation dispatch failed",
			zap.String("sos_event_id", ev.ID),
			zap.Int("level", rec.Level),
			zap.String("target", string(rec.Target)),
			zap.Error(err),
		)
	}
	metrics.Dispatches.WithLabelValues(string(rec.Target), string(status)).Inc()

	if uerr := s.store.UpdateEscalationStatus(ctx, ev.ID, rec.Level, status, s.clock.Now()); uerr != nil {
		s.logger.Error("failed to record dispatch outcome",
			zap.String("sos_event_id", ev.ID),
			zap.Int("level", rec.Level),
			zap.Error(uerr),
		)
	}
	return err
}

func (s *Service) deliver(ctx context.Context, ev *safety.Event, rec safety.EscalationRecord) error {
	n, err := s.registry.Get(rec.Target)
	if err != nil {
		return err
	}
	if err := n.Notify(ctx, ev, rec); err != nil {
		return fmt.Errorf("notify %s: %w", rec.Target, err)
	}
	return nil
}
