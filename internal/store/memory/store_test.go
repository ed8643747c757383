package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/safewatch/internal/safety"
)

var t0 = time.Date(2026, 2, 14, 8, 0, 0, 0, time.UTC)

func newEvent(id, user string, at time.Time) *safety.Event {
	return &safety.Event{ID: id, UserID: user, Status: safety.StatusTriggered, CreatedAt: at, UpdatedAt: at}
}

func firstRecord(id string, at time.Time) *safety.EscalationRecord {
	return &safety.EscalationRecord{SOSEventID: id, Level: 0, Target: safety.TargetFamily, Status: safety.DispatchPending, CreatedAt: at}
}

func TestCreateEvent_Admission(t *testing.T) {
	ctx := context.Background()
	s := New()
	limit := safety.RateLimit{Max: 2, Window: time.Hour}

	require.NoError(t, s.CreateEvent(ctx, newEvent("a", "u", t0), firstRecord("a", t0), limit, t0))
	err := s.CreateEvent(ctx, newEvent("b", "u", t0), nil, limit, t0)
	assert.ErrorIs(t, err, safety.ErrConflictingActiveEvent)

	s.events["a"].Status = safety.StatusResolved
	require.NoError(t, s.CreateEvent(ctx, newEvent("b", "u", t0), nil, limit, t0))
	s.events["b"].Status = safety.StatusResolved

	err = s.CreateEvent(ctx, newEvent("c", "u", t0), nil, limit, t0.Add(59*time.Minute))
	assert.ErrorIs(t, err, safety.ErrRateLimitExceeded)

	require.NoError(t, s.CreateEvent(ctx, newEvent("c", "u", t0), nil, limit, t0.Add(time.Hour)))
}

func TestGetEvent_ReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.CreateEvent(ctx, newEvent("a", "u", t0), nil, safety.DefaultRateLimit, t0))

	ev, err := s.GetEvent(ctx, "a")
	require.NoError(t, err)
	ev.Status = safety.StatusResolved

	again, err := s.GetEvent(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, safety.StatusTriggered, again.Status)

	_, err = s.GetEvent(ctx, "missing")
	assert.ErrorIs(t, err, safety.ErrNotFound)
}

func TestUpdateEvent_CompareAndSet(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.CreateEvent(ctx, newEvent("a", "u", t0), nil, safety.DefaultRateLimit, t0))

	ev, _ := s.GetEvent(ctx, "a")
	ev.Status = safety.StatusAcknowledged
	ev.EscalationLevel = 3
	require.NoError(t, s.UpdateEvent(ctx, ev, safety.StatusTriggered))

	stored, _ := s.GetEvent(ctx, "a")
	assert.Equal(t, safety.StatusAcknowledged, stored.Status)
	assert.Equal(t, 0, stored.EscalationLevel, "level is owned by AdvanceEscalation")

	ev.Status = safety.StatusResponding
	assert.ErrorIs(t, s.UpdateEvent(ctx, ev, safety.StatusTriggered), safety.ErrStale)
}

func TestAdvanceEscalation(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.CreateEvent(ctx, newEvent("a", "u", t0), firstRecord("a", t0), safety.DefaultRateLimit, t0))

	rec := &safety.EscalationRecord{SOSEventID: "a", Level: 1, Target: safety.TargetPolice, Status: safety.DispatchPending, CreatedAt: t0}
	require.NoError(t, s.AdvanceEscalation(ctx, rec))
	assert.ErrorIs(t, s.AdvanceEscalation(ctx, rec), safety.ErrStale)

	recs, err := s.ListEscalations(ctx, "a")
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	require.NoError(t, s.UpdateEscalationStatus(ctx, "a", 1, safety.DispatchSent, t0))
	recs, _ = s.ListEscalations(ctx, "a")
	assert.Equal(t, safety.DispatchSent, recs[1].Status)
	assert.ErrorIs(t, s.UpdateEscalationStatus(ctx, "a", 2, safety.DispatchSent, t0), safety.ErrNotFound)

	s.events["a"].Status = safety.StatusFalseAlarm
	next := &safety.EscalationRecord{SOSEventID: "a", Level: 2, CreatedAt: t0}
	assert.ErrorIs(t, s.AdvanceEscalation(ctx, next), safety.ErrInvalidTransition)
}

func TestCountsAndLists(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.CreateEvent(ctx, newEvent("a", "u", t0), nil, safety.DefaultRateLimit, t0))
	s.events["a"].Status = safety.StatusFalseAlarm
	require.NoError(t, s.CreateEvent(ctx, newEvent("b", "u", t0.Add(time.Minute)), nil, safety.DefaultRateLimit, t0))
	require.NoError(t, s.CreateEvent(ctx, newEvent("c", "v", t0), nil, safety.DefaultRateLimit, t0))

	n, err := s.CountFalseAlarms(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	active, err := s.ActiveEventForUser(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, "b", active.ID)

	all, err := s.ListActiveEvents(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "c", all[0].ID)

	require.NoError(t, s.AddEvidence(ctx, &safety.EvidenceRecord{ID: "e1", SOSEventID: "a", Kind: safety.EvidenceLocation}))
	assert.ErrorIs(t, s.AddEvidence(ctx, &safety.EvidenceRecord{ID: "e2", SOSEventID: "zz"}), safety.ErrNotFound)
	ev, err := s.ListEvidence(ctx, "a")
	require.NoError(t, err)
	assert.Len(t, ev, 1)
}
