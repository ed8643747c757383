package sos

import "github.com/gyaneshwarpardhi/safewatch/internal/safety"

var baseConfidence = map[safety.TriggerMode]int{
	safety.ModeButton:    100,
	safety.ModeShake:     95,
	safety.ModePanicWord: 90,
	safety.ModeVolume:    85,
	safety.ModeSilent:    80,
	safety.ModeAuto:      75,
}

const (
	descriptionBonus  = 5
	falseAlarmPenalty = 10
)

// KnownMode reports whether mode can raise an event.
func KnownMode(mode safety.TriggerMode) bool {
	_, ok := baseConfidence[mode]
	return ok
}

// Confidence scores a trigger. The result is always within [0, 100].
func Confidence(mode safety.TriggerMode, description string, priorFalseAlarms int) int {
	score := baseConfidence[mode]
	if description != "" {
		score += descriptionBonus
	}
	score -= falseAlarmPenalty * priorFalseAlarms
	switch {
	case score < 0:
		return 0
	case score > 100:
		return 100
	}
	return score
}
