package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/gyaneshwarpardhi/safewatch/internal/safety"
)

// LogNotifier records escalations in the service log. It is the fallback
// for targets with no webhook configured.
type LogNotifier struct {
	target safety.Target
	logger *zap.Logger
}

func NewLogNotifier(target safety.Target, logger *zap.Logger) *LogNotifier {
	return &LogNotifier{target: target, logger: logger}
}

func (l *LogNotifier) Target() safety.Target { return l.target }

func (l *LogNotifier) Notify(_ context.Context, ev *safety.Event, rec safety.EscalationRecord) error {
	l.logger.Info("escalation notice",
		zap.String("target", string(l.target)),
		zap.String("sos_event_id", ev.ID),
		zap.String("user_id", ev.UserID),
		zap.Int("level", rec.Level),
		zap.Float64("lat", ev.Location.Lat),
		zap.Float64("lng", ev.Location.Lng),
	)
	return nil
}
