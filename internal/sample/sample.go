// Package sample defines the location/sensor reading the monitor ingests.
package sample

import (
	"time"

	"github.com/gyaneshwarpardhi/safewatch/internal/anomaly"
	"github.com/gyaneshwarpardhi/safewatch/internal/geo"
)

// Sample is the canonical input model for all incoming device readings.
// Optional fields left nil skip the detectors that need them.
type Sample struct {
	ID             string             `json:"id"`
	UserID         string             `json:"user_id"`
	OccurredAt     time.Time          `json:"occurred_at"`
	ReceivedAt     time.Time          `json:"-"`
	Location       *geo.Point         `json:"location,omitempty"`
	SpeedKmh       *float64           `json:"speed_kmh,omitempty"`
	TravelMode     anomaly.TravelMode `json:"travel_mode,omitempty"`
	BatteryLevel   *float64           `json:"battery_level,omitempty"`
	LastActivityAt *time.Time         `json:"last_activity_at,omitempty"`
	LastGPSFixAt   *time.Time         `json:"last_gps_fix_at,omitempty"`
	// UTCOffsetMinutes shifts OccurredAt into the user's local time for
	// the unusual-hours detector.
	UTCOffsetMinutes *int           `json:"utc_offset_minutes,omitempty"`
	PlannedRoute     []geo.Point    `json:"planned_route,omitempty"`
	Fields           map[string]any `json:"fields,omitempty"` // raw sensor values for custom rules
}

// Snapshot converts the sample into detector input evaluated at now.
func (s *Sample) Snapshot(now time.Time) anomaly.Snapshot {
	snap := anomaly.Snapshot{
		UserID:         s.UserID,
		Now:            now,
		LastActivityAt: s.LastActivityAt,
		Location:       s.Location,
		PlannedRoute:   s.PlannedRoute,
		SpeedKmh:       s.SpeedKmh,
		TravelMode:     s.TravelMode,
		LastGPSFixAt:   s.LastGPSFixAt,
		BatteryLevel:   s.BatteryLevel,
		Fields:         s.Fields,
	}
	if s.UTCOffsetMinutes != nil {
		at := s.OccurredAt
		if at.IsZero() {
			at = now
		}
		local := at.In(time.FixedZone("device", *s.UTCOffsetMinutes*60))
		snap.LocalTime = &local
	}
	return snap
}
