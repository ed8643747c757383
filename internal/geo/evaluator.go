package geo

import "sort"

// DefaultProximityBuffer is the default warning distance outside a risk zone.
const DefaultProximityBuffer = 500.0

// ZoneCheck is the result of testing one point against a zone set.
type ZoneCheck struct {
	InZone     bool   `json:"in_zone"`
	Matched    []Zone `json:"matched_zones"`
	InSafeZone bool   `json:"in_safe_zone"`
	InRiskZone bool   `json:"in_risk_zone"`
}

// CheckZone evaluates every zone independently; overlapping zones may all
// match.
func CheckZone(p Point, zones []Zone) ZoneCheck {
	res := ZoneCheck{Matched: []Zone{}}
	for _, z := range zones {
		if !z.Contains(p) {
			continue
		}
		res.Matched = append(res.Matched, z)
		switch z.Kind {
		case KindSafe:
			res.InSafeZone = true
		case KindRisk:
			res.InRiskZone = true
		}
	}
	res.InZone = len(res.Matched) > 0
	return res
}

// ZoneChange lists zone ids entered and exited between two points.
type ZoneChange struct {
	Entered []string `json:"entered"`
	Exited  []string `json:"exited"`
}

// Changed reports whether any zone was entered or exited.
func (c ZoneChange) Changed() bool { return len(c.Entered)+len(c.Exited) > 0 }

// DetectZoneChange diffs the zone-id sets matched at prev and next.
func DetectZoneChange(prev, next Point, zones []Zone) ZoneChange {
	before := matchedIDs(prev, zones)
	after := matchedIDs(next, zones)
	return ZoneChange{
		Entered: difference(after, before),
		Exited:  difference(before, after),
	}
}

func matchedIDs(p Point, zones []Zone) map[string]struct{} {
	ids := make(map[string]struct{})
	for _, z := range zones {
		if z.Contains(p) {
			ids[z.ID] = struct{}{}
		}
	}
	return ids
}

// difference returns the sorted ids in a but not in b.
func difference(a, b map[string]struct{}) []string {
	out := []string{}
	for id := range a {
		if _, ok := b[id]; !ok {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Warning describes a risk zone the point is approaching.
type Warning struct {
	Zone               Zone    `json:"zone"`
	DistanceToBoundary float64 `json:"distance_to_boundary_meters"`
	DistanceToCenter   float64 `json:"distance_to_center_meters"`
}

// ProximityWarning returns the nearest circular risk zone whose boundary is
// within buffer meters of p while p is still outside it. Polygon zones are
// skipped. A buffer <= 0 uses DefaultProximityBuffer.
func ProximityWarning(p Point, riskZones []Zone, buffer float64) (Warning, bool) {
	if buffer <= 0 {
		buffer = DefaultProximityBuffer
	}
	var (
		best  Warning
		found bool
	)
	for _, z := range riskZones {
		if z.Kind != KindRisk || z.Circle == nil {
			continue
		}
		d := Distance(p, z.Circle.Center)
		r := z.Circle.RadiusMeters
		if d <= r || d > r+buffer {
			continue
		}
		gap := d - r
		if !found || gap < best.DistanceToBoundary {
			best = Warning{Zone: z, DistanceToBoundary: gap, DistanceToCenter: d}
			found = true
		}
	}
	return best, found
}
