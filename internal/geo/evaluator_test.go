package geo_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/safewatch/internal/geo"
)

func circleZone(id string, kind geo.Kind, c geo.Point, r float64) geo.Zone {
	return geo.Zone{ID: id, Name: id, Kind: kind, Circle: &geo.Circle{Center: c, RadiusMeters: r}}
}

func testZones() []geo.Zone {
	return []geo.Zone{
		circleZone("home", geo.KindSafe, paris, 1000),
		circleZone("market", geo.KindRisk, geo.Point{Lat: 48.8606, Lng: 2.3522}, 300),
		{
			ID:   "park",
			Kind: geo.KindSafe,
			Polygon: []geo.Point{
				{Lat: 48.85, Lng: 2.34},
				{Lat: 48.85, Lng: 2.36},
				{Lat: 48.87, Lng: 2.36},
				{Lat: 48.87, Lng: 2.34},
			},
		},
	}
}

func TestCheckZone_Overlapping(t *testing.T) {
	res := geo.CheckZone(geo.Point{Lat: 48.8606, Lng: 2.3522}, testZones())
	assert.True(t, res.InZone)
	assert.True(t, res.InSafeZone)
	assert.True(t, res.InRiskZone)
	assert.Len(t, res.Matched, 3)
}

func TestCheckZone_NoMatch(t *testing.T) {
	res := geo.CheckZone(london, testZones())
	assert.False(t, res.InZone)
	assert.False(t, res.InSafeZone)
	assert.False(t, res.InRiskZone)
	assert.Empty(t, res.Matched)
}

func TestDetectZoneChange(t *testing.T) {
	zones := testZones()
	ch := geo.DetectZoneChange(london, geo.Point{Lat: 48.8606, Lng: 2.3522}, zones)
	assert.Equal(t, []string{"home", "market", "park"}, ch.Entered)
	assert.Empty(t, ch.Exited)

	ch = geo.DetectZoneChange(geo.Point{Lat: 48.8606, Lng: 2.3522}, paris, zones)
	assert.Empty(t, ch.Entered)
	assert.Equal(t, []string{"market"}, ch.Exited)
	assert.True(t, ch.Changed())
}

func TestDetectZoneChange_Disjoint(t *testing.T) {
	zones := testZones()
	points := []geo.Point{paris, london, {Lat: 48.8606, Lng: 2.3522}, {Lat: 48.869, Lng: 2.341}, {Lat: 48.84, Lng: 2.35}}
	for _, a := range points {
		for _, b := range points {
			ch := geo.DetectZoneChange(a, b, zones)
			for _, e := range ch.Entered {
				assert.NotContains(t, ch.Exited, e)
			}
		}
	}
}

func TestProximityWarning(t *testing.T) {
	risk := circleZone("risk", geo.KindRisk, paris, 200)
	// ~333 m north of the center: outside the radius, within the buffer.
	near := geo.Point{Lat: 48.8596, Lng: 2.3522}

	w, ok := geo.ProximityWarning(near, []geo.Zone{risk}, 500)
	require.True(t, ok)
	assert.Equal(t, "risk", w.Zone.ID)
	assert.InDelta(t, 133, w.DistanceToBoundary, 5)

	_, ok = geo.ProximityWarning(paris, []geo.Zone{risk}, 500)
	assert.False(t, ok, "inside the zone is not a proximity warning")

	_, ok = geo.ProximityWarning(london, []geo.Zone{risk}, 500)
	assert.False(t, ok)
}

func TestProximityWarning_PicksNearestAndSkipsPolygons(t *testing.T) {
	p := geo.Point{Lat: 48.8596, Lng: 2.3522}
	zones := []geo.Zone{
		circleZone("far", geo.KindRisk, paris, 100),
		circleZone("close", geo.KindRisk, paris, 300),
		{ID: "poly", Kind: geo.KindRisk, Polygon: []geo.Point{{Lat: 48.86, Lng: 2.35}, {Lat: 48.86, Lng: 2.36}, {Lat: 48.87, Lng: 2.36}}},
		circleZone("safe", geo.KindSafe, paris, 310),
	}
	w, ok := geo.ProximityWarning(p, zones, 0)
	require.True(t, ok)
	assert.Equal(t, "close", w.Zone.ID)
}

func TestZoneValidate(t *testing.T) {
	cases := []struct {
		name    string
		zone    geo.Zone
		wantErr bool
	}{
		{"circle ok", circleZone("a", geo.KindSafe, paris, 10), false},
		{"polygon ok", geo.Zone{ID: "p", Kind: geo.KindRisk, Polygon: []geo.Point{{}, {Lat: 1}, {Lng: 1}}}, false},
		{"no id", geo.Zone{Kind: geo.KindSafe, Circle: &geo.Circle{}}, true},
		{"bad kind", geo.Zone{ID: "x", Kind: "other", Circle: &geo.Circle{}}, true},
		{"no shape", geo.Zone{ID: "x", Kind: geo.KindSafe}, true},
		{"both shapes", geo.Zone{ID: "x", Kind: geo.KindSafe, Circle: &geo.Circle{}, Polygon: []geo.Point{{}, {}, {}}}, true},
		{"negative radius", circleZone("x", geo.KindSafe, paris, -1), true},
		{"short polygon", geo.Zone{ID: "x", Kind: geo.KindSafe, Polygon: []geo.Point{{}, {}}}, true},
		{"bad center", circleZone("x", geo.KindSafe, geo.Point{Lat: 91}, 10), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.zone.Validate()
			if tc.wantErr {
				assert.ErrorIs(t, err, geo.ErrZoneDataInvalid)
				return
			}
			assert.NoError(t, err)
		})
	}
}
