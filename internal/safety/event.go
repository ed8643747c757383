package safety

import (
	"time"

	"github.com/gyaneshwarpardhi/safewatch/internal/geo"
)

// Status is the lifecycle state of an SOS event.
type Status string

const (
	StatusTriggered    Status = "triggered"
	StatusAcknowledged Status = "acknowledged"
	StatusResponding   Status = "responding"
	StatusVerified     Status = "verified"
	StatusResolved     Status = "resolved"
	StatusFalseAlarm   Status = "false_alarm"
)

// Terminal reports whether s is absorbing.
func (s Status) Terminal() bool {
	return s == StatusResolved || s == StatusFalseAlarm
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusTriggered, StatusAcknowledged, StatusResponding, StatusVerified, StatusResolved, StatusFalseAlarm:
		return true
	}
	return false
}

// TriggerMode is the mechanism that raised an event.
type TriggerMode string

const (
	ModeButton    TriggerMode = "button"
	ModeShake     TriggerMode = "shake"
	ModePanicWord TriggerMode = "panic_word"
	ModeVolume    TriggerMode = "volume"
	ModeSilent    TriggerMode = "silent"
	// ModeAuto is used when the monitor raises an event from anomaly signals.
	ModeAuto TriggerMode = "auto"
)

// Priority is fixed to critical for every SOS event.
const PriorityCritical = "critical"

// Event is one SOS occurrence, tracked from trigger to resolution.
type Event struct {
	ID              string      `json:"id"`
	UserID          string      `json:"user_id"`
	TriggerMode     TriggerMode `json:"trigger_mode"`
	Status          Status      `json:"status"`
	Priority        string      `json:"priority"`
	ConfidenceScore int         `json:"confidence_score"`
	EscalationLevel int         `json:"escalation_level"`
	Location        geo.Point   `json:"location"`
	Description     string      `json:"description,omitempty"`

	OfficerID       string     `json:"officer_id,omitempty"`
	AcknowledgedAt  *time.Time `json:"acknowledged_at,omitempty"`
	RespondedAt     *time.Time `json:"responded_at,omitempty"`
	VerifiedAt      *time.Time `json:"verified_at,omitempty"`
	ResolutionNotes string     `json:"resolution_notes,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// Active reports whether the event has not reached a terminal status.
func (e *Event) Active() bool { return !e.Status.Terminal() }

// Clone returns a copy safe to hand out of a store.
func (e *Event) Clone() *Event {
	c := *e
	c.AcknowledgedAt = cloneTime(e.AcknowledgedAt)
	c.RespondedAt = cloneTime(e.RespondedAt)
	c.VerifiedAt = cloneTime(e.VerifiedAt)
	c.ResolvedAt = cloneTime(e.ResolvedAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
