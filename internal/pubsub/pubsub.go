// Package pubsub fans SOS status changes out to realtime subscribers.
package pubsub

import (
	"context"
	"errors"
	"time"

	"github.com/gyaneshwarpardhi/safewatch/internal/safety"
)

// Kind classifies an Update.
type Kind string

const (
	KindTriggered  Kind = "triggered"
	KindStatus     Kind = "status"
	KindEscalation Kind = "escalation"
)

// Update is the message published for every state change of an event.
type Update struct {
	Kind            Kind          `json:"kind"`
	EventID         string        `json:"event_id"`
	UserID          string        `json:"user_id"`
	Status          safety.Status `json:"status"`
	EscalationLevel int           `json:"escalation_level"`
	Target          safety.Target `json:"target,omitempty"`
	At              time.Time     `json:"at"`
}

// UpdateFor builds an Update from the current state of ev.
func UpdateFor(kind Kind, ev *safety.Event, at time.Time) Update {
	return Update{
		Kind:            kind,
		EventID:         ev.ID,
		UserID:          ev.UserID,
		Status:          ev.Status,
		EscalationLevel: ev.EscalationLevel,
		At:              at,
	}
}

// Publisher delivers updates. Delivery is best effort; callers log errors
// and never roll back the state change that produced the update.
type Publisher interface {
	Publish(ctx context.Context, u Update) error
}

// Noop discards every update.
type Noop struct{}

func (Noop) Publish(context.Context, Update) error { return nil }

// Multi publishes to every member and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, u Update) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, u); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
