// Package escalation advances SOS events up the notification ladder,
// either on request or as time passes.
package escalation

import (
	"fmt"
	"time"

	"github.com/gyaneshwarpardhi/safewatch/internal/safety"
)

// Step is one rung of the ladder.
type Step struct {
	Level  int           `json:"level"`
	Target safety.Target `json:"target"`
	Delay  time.Duration `json:"delay"`
}

// DefaultLadder is family, police, emergency services, embassy at 0, 2, 5
// and 10 minutes after the event was raised.
var DefaultLadder = [safety.MaxEscalationLevel + 1]Step{
	{Level: 0, Target: safety.TargetFamily, Delay: 0},
	{Level: 1, Target: safety.TargetPolice, Delay: 2 * time.Minute},
	{Level: 2, Target: safety.TargetEmergencyServices, Delay: 5 * time.Minute},
	{Level: 3, Target: safety.TargetEmbassy, Delay: 10 * time.Minute},
}

// TargetFor returns the recipient class notified at level.
func TargetFor(level int) safety.Target {
	if level < 0 || level > safety.MaxEscalationLevel {
		return ""
	}
	return DefaultLadder[level].Target
}

// Policy governs time driven advancement.
type Policy struct {
	// AutoAdvance enables the sweeper. Manual escalation is always allowed.
	AutoAdvance bool
	// StopOnAcknowledge halts timed advancement once the event leaves
	// the triggered status.
	StopOnAcknowledge bool
	// Delays[i] is the offset from event creation at which level i is due.
	Delays [safety.MaxEscalationLevel + 1]time.Duration
}

// DefaultPolicy advances automatically on the default ladder.
func DefaultPolicy() Policy {
	p := Policy{AutoAdvance: true, StopOnAcknowledge: true}
	for i, s := range DefaultLadder {
		p.Delays[i] = s.Delay
	}
	return p
}

// Validate checks that delays start at zero and never decrease.
func (p Policy) Validate() error {
	if p.Delays[0] != 0 {
		return fmt.Errorf("escalation delay for level 0 must be 0, got %s", p.Delays[0])
	}
	for i := 1; i < len(p.Delays); i++ {
		if p.Delays[i] < p.Delays[i-1] {
			return fmt.Errorf("escalation delay for level %d (%s) is before level %d (%s)",
				i, p.Delays[i], i-1, p.Delays[i-1])
		}
	}
	return nil
}

// Due returns the level ev should have reached at now. It never returns
// less than the current level.
func (p Policy) Due(ev *safety.Event, now time.Time) int {
	if ev.Status.Terminal() {
		return ev.EscalationLevel
	}
	if p.StopOnAcknowledge && ev.Status != safety.StatusTriggered {
		return ev.EscalationLevel
	}
	elapsed := now.Sub(ev.CreatedAt)
	due := 0
	for lvl := 1; lvl <= safety.MaxEscalationLevel; lvl++ {
		if elapsed >= p.Delays[lvl] {
			due = lvl
		}
	}
	if due < ev.EscalationLevel {
		return ev.EscalationLevel
	}
	return due
}
