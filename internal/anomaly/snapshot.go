package anomaly

import (
	"time"

	"github.com/gyaneshwarpardhi/safewatch/internal/geo"
)

// Snapshot is the state a detector pass runs against. Nil pointers and
// empty slices mean the input is absent and the matching detector is
// skipped.
type Snapshot struct {
	UserID         string         `json:"user_id"`
	Now            time.Time      `json:"now"`
	LastActivityAt *time.Time     `json:"last_activity_at,omitempty"`
	Location       *geo.Point     `json:"location,omitempty"`
	PlannedRoute   []geo.Point    `json:"planned_route,omitempty"`
	SpeedKmh       *float64       `json:"speed_kmh,omitempty"`
	TravelMode     TravelMode     `json:"travel_mode,omitempty"`
	LastGPSFixAt   *time.Time     `json:"last_gps_fix_at,omitempty"`
	LocalTime      *time.Time     `json:"local_time,omitempty"`
	BatteryLevel   *float64       `json:"battery_level,omitempty"`
	Fields         map[string]any `json:"fields,omitempty"`
}

// Resolve walks a dotted path into Fields. It lets custom rules read
// arbitrary sensor values.
func (s Snapshot) Resolve(path []string) (any, bool) {
	if len(path) == 0 {
		return nil, false
	}
	var cur any = s.Fields
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}
