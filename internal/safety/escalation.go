package safety

import "time"

// Target is the class of recipient notified at an escalation level.
type Target string

const (
	TargetFamily            Target = "family"
	TargetPolice            Target = "police"
	TargetEmergencyServices Target = "emergency_services"
	TargetEmbassy           Target = "embassy"
)

// MaxEscalationLevel is the top rung of the ladder.
const MaxEscalationLevel = 3

// DispatchStatus tracks delivery of one escalation record.
type DispatchStatus string

const (
	DispatchPending      DispatchStatus = "pending"
	DispatchSent         DispatchStatus = "sent"
	DispatchAcknowledged DispatchStatus = "acknowledged"
	DispatchFailed       DispatchStatus = "failed"
)

// EscalationRecord is written once per level reached.
type EscalationRecord struct {
	SOSEventID string         `json:"sos_event_id"`
	Level      int            `json:"level"`
	Target     Target         `json:"target"`
	Status     DispatchStatus `json:"status"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}
