package sos

import "github.com/gyaneshwarpardhi/safewatch/internal/safety"

var transitions = map[safety.Status][]safety.Status{
	safety.StatusTriggered: {
		safety.StatusAcknowledged, safety.StatusResponding, safety.StatusResolved, safety.StatusFalseAlarm,
	},
	safety.StatusAcknowledged: {
		safety.StatusResponding, safety.StatusResolved, safety.StatusFalseAlarm,
	},
	safety.StatusResponding: {
		safety.StatusVerified, safety.StatusResolved, safety.StatusFalseAlarm,
	},
	safety.StatusVerified: {
		safety.StatusResolved, safety.StatusFalseAlarm,
	},
}

// CanTransition reports whether from -> to is a legal lifecycle step.
// Terminal statuses have no outgoing edges.
func CanTransition(from, to safety.Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
