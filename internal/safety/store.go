package safety

import (
	"context"
	"time"
)

// RateLimit caps triggers per user in a trailing window.
type RateLimit struct {
	Max    int
	Window time.Duration
}

// DefaultRateLimit is 3 triggers per rolling hour.
var DefaultRateLimit = RateLimit{Max: 3, Window: time.Hour}

// Store is the persistence port of the engine. Implementations must make
// CreateEvent a single atomic check-and-insert per user.
type Store interface {
	// CreateEvent enforces limit and the one-active-event rule, then
	// inserts ev together with its first escalation record. It returns
	// ErrRateLimitExceeded or ErrConflictingActiveEvent when rejected.
	CreateEvent(ctx context.Context, ev *Event, first *EscalationRecord, limit RateLimit, now time.Time) error
	GetEvent(ctx context.Context, id string) (*Event, error)
	// UpdateEvent writes ev only if the stored status still equals expect.
	// The escalation level is never written here; AdvanceEscalation owns it.
	UpdateEvent(ctx context.Context, ev *Event, expect Status) error
	// AdvanceEscalation sets the level to rec.Level and inserts rec only if
	// the stored level equals rec.Level-1 and the event is not terminal.
	AdvanceEscalation(ctx context.Context, rec *EscalationRecord) error
	ListEscalations(ctx context.Context, eventID string) ([]EscalationRecord, error)
	UpdateEscalationStatus(ctx context.Context, eventID string, level int, status DispatchStatus, at time.Time) error
	CountFalseAlarms(ctx context.Context, userID string) (int, error)
	ActiveEventForUser(ctx context.Context, userID string) (*Event, error)
	ListActiveEvents(ctx context.Context) ([]*Event, error)
	AddEvidence(ctx context.Context, rec *EvidenceRecord) error
	ListEvidence(ctx context.Context, eventID string) ([]EvidenceRecord, error)
}

// Clock abstracts time for the stateful layer.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// Dispatcher delivers an escalation record to its target class.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev *Event, rec EscalationRecord) error
}
