package anomaly_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/safewatch/internal/anomaly"
	"github.com/gyaneshwarpardhi/safewatch/internal/geo"
)

func ptr[T any](v T) *T { return &v }

func TestDetectAll_SkipsAbsentInputs(t *testing.T) {
	sigs := anomaly.DetectAll(anomaly.Snapshot{Now: now}, th)
	assert.Empty(t, sigs)
}

func TestDetectAll_ReturnsOnlyDetected(t *testing.T) {
	s := anomaly.Snapshot{
		Now:            now,
		LastActivityAt: ptr(now.Add(-50 * time.Minute)),
		LastGPSFixAt:   ptr(now.Add(-time.Minute)),
		SpeedKmh:       ptr(3.0),
		TravelMode:     anomaly.ModeWalking,
		BatteryLevel:   ptr(8.0),
		LocalTime:      ptr(time.Date(2026, 1, 1, 3, 0, 0, 0, time.UTC)),
	}
	sigs := anomaly.DetectAll(s, th)

	types := make([]anomaly.Type, 0, len(sigs))
	for _, sig := range sigs {
		assert.True(t, sig.Detected)
		types = append(types, sig.Type)
	}
	assert.ElementsMatch(t, []anomaly.Type{anomaly.TypeInactivity, anomaly.TypeBatteryDrain, anomaly.TypeUnusualHours}, types)
	assert.False(t, anomaly.ShouldTriggerAutoSOS(sigs))
}

func TestShouldTriggerAutoSOS(t *testing.T) {
	s := anomaly.Snapshot{
		Now:          now,
		Location:     &geo.Point{Lat: 1, Lng: 0},
		PlannedRoute: []geo.Point{{Lat: 0, Lng: 0}},
	}
	sigs := anomaly.DetectAll(s, th)
	require.Len(t, sigs, 1)
	assert.Equal(t, anomaly.SeverityCritical, sigs[0].Severity)
	assert.True(t, anomaly.ShouldTriggerAutoSOS(sigs))
	assert.False(t, anomaly.ShouldTriggerAutoSOS(nil))
}

func TestRegistry_DuplicatePanics(t *testing.T) {
	r := anomaly.NewRegistry(anomaly.Builtin(th)...)
	assert.Len(t, r.Names(), 6)
	assert.Panics(t, func() { r.Register(anomaly.Builtin(th)[0]) })

	_, err := r.Get("speed_anomaly")
	assert.NoError(t, err)
	_, err = r.Get("nope")
	assert.Error(t, err)
}

func TestThresholds_WithDefaults(t *testing.T) {
	custom := anomaly.Thresholds{
		InactivityMinutes: 10,
		Speed:             map[anomaly.TravelMode]anomaly.SpeedLimit{"cycling": {MaxKmh: 30, CriticalKmh: 60}},
	}.WithDefaults()

	assert.Equal(t, 10.0, custom.InactivityMinutes)
	assert.Equal(t, 2000.0, custom.RouteDeviationMeters)
	assert.Len(t, custom.Speed, 4)
	assert.Equal(t, 30.0, custom.Speed["cycling"].MaxKmh)
}

func TestSnapshot_Resolve(t *testing.T) {
	s := anomaly.Snapshot{Fields: map[string]any{
		"heart_rate": 120.0,
		"env":        map[string]any{"temp": 40.0},
	}}
	v, ok := s.Resolve([]string{"env", "temp"})
	assert.True(t, ok)
	assert.Equal(t, 40.0, v)

	_, ok = s.Resolve([]string{"heart_rate", "x"})
	assert.False(t, ok)
	_, ok = s.Resolve(nil)
	assert.False(t, ok)
}
