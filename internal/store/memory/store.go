// Package memory is an in-process safety.Store. A single mutex makes every
// check-and-insert atomic.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gyaneshwarpardhi/safewatch/internal/safety"
)

// Store keeps events, escalation records and evidence in maps.
type Store struct {
	mu          sync.Mutex
	events      map[string]*safety.Event
	escalations map[string][]safety.EscalationRecord
	evidence    map[string][]safety.EvidenceRecord
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		events:      make(map[string]*safety.Event),
		escalations: make(map[string][]safety.EscalationRecord),
		evidence:    make(map[string][]safety.EvidenceRecord),
	}
}

var _ safety.Store = (*Store)(nil)

func (s *Store) CreateEvent(_ context.Context, ev *safety.Event, first *safety.EscalationRecord, limit safety.RateLimit, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	since := now.Add(-limit.Window)
	recent := 0
	var active bool
	for _, e := range s.events {
		if e.UserID != ev.UserID {
			continue
		}
		if e.CreatedAt.After(since) {
			recent++
		}
		if e.Active() {
			active = true
		}
	}
	if limit.Max > 0 && recent >= limit.Max {
		return safety.ErrRateLimitExceeded
	}
	if active {
		return safety.ErrConflictingActiveEvent
	}
	s.events[ev.ID] = ev.Clone()
	if first != nil {
		s.escalations[ev.ID] = append(s.escalations[ev.ID], *first)
	}
	return nil
}

func (s *Store) GetEvent(_ context.Context, id string) (*safety.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[id]
	if !ok {
		return nil, safety.ErrNotFound
	}
	return ev.Clone(), nil
}

func (s *Store) UpdateEvent(_ context.Context, ev *safety.Event, expect safety.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.events[ev.ID]
	if !ok {
		return safety.ErrNotFound
	}
	if cur.Status != expect {
		return safety.ErrStale
	}
	next := ev.Clone()
	next.EscalationLevel = cur.EscalationLevel
	s.events[ev.ID] = next
	return nil
}

func (s *Store) AdvanceEscalation(_ context.Context, rec *safety.EscalationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.events[rec.SOSEventID]
	if !ok {
		return safety.ErrNotFound
	}
	if cur.Status.Terminal() {
		return safety.ErrInvalidTransition
	}
	if cur.EscalationLevel != rec.Level-1 {
		return safety.ErrStale
	}
	cur.EscalationLevel = rec.Level
	cur.UpdatedAt = rec.CreatedAt
	s.escalations[rec.SOSEventID] = append(s.escalations[rec.SOSEventID], *rec)
	return nil
}

func (s *Store) ListEscalations(_ context.Context, eventID string) ([]safety.EscalationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[eventID]; !ok {
		return nil, safety.ErrNotFound
	}
	out := make([]safety.EscalationRecord, len(s.escalations[eventID]))
	copy(out, s.escalations[eventID])
	return out, nil
}

func (s *Store) UpdateEscalationStatus(_ context.Context, eventID string, level int, status safety.DispatchStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs := s.escalations[eventID]
	for i := range recs {
		if recs[i].Level == level {
			recs[i].Status = status
			recs[i].UpdatedAt = at
			return nil
		}
	}
	return safety.ErrNotFound
}

func (s *Store) CountFalseAlarms(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e.UserID == userID && e.Status == safety.StatusFalseAlarm {
			n++
		}
	}
	return n, nil
}

func (s *Store) ActiveEventForUser(_ context.Context, userID string) (*safety.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.events {
		if e.UserID == userID && e.Active() {
			return e.Clone(), nil
		}
	}
	return nil, safety.ErrNotFound
}

func (s *Store) ListActiveEvents(_ context.Context) ([]*safety.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*safety.Event
	for _, e := range s.events {
		if e.Active() {
			out = append(out, e.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) AddEvidence(_ context.Context, rec *safety.EvidenceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[rec.SOSEventID]; !ok {
		return safety.ErrNotFound
	}
	s.evidence[rec.SOSEventID] = append(s.evidence[rec.SOSEventID], *rec)
	return nil
}

func (s *Store) ListEvidence(_ context.Context, eventID string) ([]safety.EvidenceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[eventID]; !ok {
		return nil, safety.ErrNotFound
	}
	out := make([]safety.EvidenceRecord, len(s.evidence[eventID]))
	copy(out, s.evidence[eventID])
	return out, nil
}
