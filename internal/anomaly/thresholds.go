package anomaly

// TravelMode selects the speed ceilings applied to a sample.
type TravelMode string

const (
	ModeWalking TravelMode = "walking"
	ModeDriving TravelMode = "driving"
	ModeTransit TravelMode = "transit"
)

// SpeedLimit is the normal ceiling and the critical ceiling for a mode.
type SpeedLimit struct {
	MaxKmh      float64 `yaml:"max_kmh" json:"max_kmh"`
	CriticalKmh float64 `yaml:"critical_kmh" json:"critical_kmh"`
}

// Thresholds holds the trigger points of the built-in detectors. Severity
// tier boundaries are fixed; only the detection threshold moves.
type Thresholds struct {
	InactivityMinutes    float64                   `yaml:"inactivity_minutes"`
	RouteDeviationMeters float64                   `yaml:"route_deviation_meters"`
	GPSLossMinutes       float64                   `yaml:"gps_loss_minutes"`
	BatteryPercent       float64                   `yaml:"battery_percent"`
	UnusualHourStart     int                       `yaml:"unusual_hour_start"`
	UnusualHourEnd       int                       `yaml:"unusual_hour_end"`
	Speed                map[TravelMode]SpeedLimit `yaml:"speed"`
}

// DefaultThresholds returns the stock detector configuration.
func DefaultThresholds() Thresholds {
	return Thresholds{
		InactivityMinutes:    30,
		RouteDeviationMeters: 2000,
		GPSLossMinutes:       5,
		BatteryPercent:       20,
		UnusualHourStart:     2,
		UnusualHourEnd:       5,
		Speed: map[TravelMode]SpeedLimit{
			ModeWalking: {MaxKmh: 8, CriticalKmh: 15},
			ModeDriving: {MaxKmh: 120, CriticalKmh: 150},
			ModeTransit: {MaxKmh: 100, CriticalKmh: 130},
		},
	}
}

// WithDefaults fills zero fields from DefaultThresholds.
func (t Thresholds) WithDefaults() Thresholds {
	d := DefaultThresholds()
	if t.InactivityMinutes <= 0 {
		t.InactivityMinutes = d.InactivityMinutes
	}
	if t.RouteDeviationMeters <= 0 {
		t.RouteDeviationMeters = d.RouteDeviationMeters
	}
	if t.GPSLossMinutes <= 0 {
		t.GPSLossMinutes = d.GPSLossMinutes
	}
	if t.BatteryPercent <= 0 {
		t.BatteryPercent = d.BatteryPercent
	}
	if t.UnusualHourStart == 0 && t.UnusualHourEnd == 0 {
		t.UnusualHourStart, t.UnusualHourEnd = d.UnusualHourStart, d.UnusualHourEnd
	}
	speed := make(map[TravelMode]SpeedLimit, len(d.Speed))
	for m, l := range d.Speed {
		speed[m] = l
	}
	for m, l := range t.Speed {
		speed[m] = l
	}
	t.Speed = speed
	return t
}
