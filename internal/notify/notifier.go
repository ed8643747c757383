// Package notify delivers escalation records to the recipient class of
// their level.
package notify

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/gyaneshwarpardhi/safewatch/internal/safety"
)

// Notifier delivers one escalation record for one target class.
type Notifier interface {
	Target() safety.Target
	Notify(ctx context.Context, ev *safety.Event, rec safety.EscalationRecord) error
}

// Registry maps target classes to notifiers.
// It is safe for concurrent reads; Register should only be called at startup.
type Registry struct {
	mu        sync.RWMutex
	notifiers map[safety.Target]Notifier
}

// NewRegistry creates a Registry holding ns.
func NewRegistry(ns ...Notifier) *Registry {
	r := &Registry{notifiers: make(map[safety.Target]Notifier)}
	for _, n := range ns {
		r.Register(n)
	}
	return r
}

// Register adds a notifier. Panics on duplicate target to surface misconfiguration early.
func (r *Registry) Register(n Notifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.notifiers[n.Target()]; exists {
		panic(fmt.Sprintf("notify registry: duplicate target %q", n.Target()))
	}
	r.notifiers[n.Target()] = n
}

// Get returns the notifier for target.
func (r *Registry) Get(target safety.Target) (Notifier, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.notifiers[target]
	if !ok {
		return nil, fmt.Errorf("no notifier registered for target %q", target)
	}
	return n, nil
}

// Targets returns all registered targets, sorted.
func (r *Registry) Targets() []safety.Target {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]safety.Target, 0, len(r.notifiers))
	for k := range r.notifiers {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
