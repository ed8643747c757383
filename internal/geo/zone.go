package geo

import (
	"errors"
	"fmt"
	"math"
)

// ErrZoneDataInvalid marks a malformed zone shape.
var ErrZoneDataInvalid = errors.New("zone data invalid")

// Kind classifies a zone.
type Kind string

const (
	KindSafe Kind = "safe"
	KindRisk Kind = "risk"
)

// Circle is a center plus radius in meters.
type Circle struct {
	Center       Point   `json:"center" yaml:"center"`
	RadiusMeters float64 `json:"radius_meters" yaml:"radius_meters"`
}

// Zone is a named geofence. Exactly one of Circle or Polygon is set.
type Zone struct {
	ID      string  `json:"id" yaml:"id"`
	Name    string  `json:"name" yaml:"name"`
	Kind    Kind    `json:"kind" yaml:"kind"`
	Circle  *Circle `json:"circle,omitempty" yaml:"circle,omitempty"`
	Polygon []Point `json:"polygon,omitempty" yaml:"polygon,omitempty"`
}

// Contains reports whether p is inside the zone. Malformed zones contain
// nothing.
func (z Zone) Contains(p Point) bool {
	switch {
	case z.Circle != nil && len(z.Polygon) == 0:
		return InCircle(p, z.Circle.Center, z.Circle.RadiusMeters)
	case z.Circle == nil:
		return InPolygon(p, z.Polygon)
	}
	return false
}

// Validate checks the zone shape and returns an error wrapping
// ErrZoneDataInvalid when it is malformed.
func (z Zone) Validate() error {
	if z.ID == "" {
		return fmt.Errorf("%w: id is required", ErrZoneDataInvalid)
	}
	if z.Kind != KindSafe && z.Kind != KindRisk {
		return fmt.Errorf("%w: zone %s: kind must be safe or risk, got %q", ErrZoneDataInvalid, z.ID, z.Kind)
	}
	switch {
	case z.Circle != nil && len(z.Polygon) > 0:
		return fmt.Errorf("%w: zone %s: only one of circle/polygon may be set", ErrZoneDataInvalid, z.ID)
	case z.Circle != nil:
		if !z.Circle.Center.Valid() {
			return fmt.Errorf("%w: zone %s: center out of range", ErrZoneDataInvalid, z.ID)
		}
		if z.Circle.RadiusMeters < 0 || math.IsNaN(z.Circle.RadiusMeters) {
			return fmt.Errorf("%w: zone %s: radius must be >= 0", ErrZoneDataInvalid, z.ID)
		}
	case len(z.Polygon) > 0:
		if len(z.Polygon) < 3 {
			return fmt.Errorf("%w: zone %s: polygon needs at least 3 points, got %d", ErrZoneDataInvalid, z.ID, len(z.Polygon))
		}
		for i, p := range z.Polygon {
			if !p.Valid() {
				return fmt.Errorf("%w: zone %s: polygon[%d] out of range", ErrZoneDataInvalid, z.ID, i)
			}
		}
	default:
		return fmt.Errorf("%w: zone %s: one of circle/polygon must be set", ErrZoneDataInvalid, z.ID)
	}
	return nil
}
