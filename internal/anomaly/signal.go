// Package anomaly turns a state snapshot into anomaly signals. Detectors are
// pure functions; a signal with Detected=false is the "nothing found" result.
package anomaly

import "time"

// Type identifies the detector that produced a signal.
type Type string

const (
	TypeInactivity     Type = "inactivity"
	TypeRouteDeviation Type = "route_deviation"
	TypeSpeed          Type = "speed_anomaly"
	TypeGPSLoss        Type = "gps_signal_loss"
	TypeUnusualHours   Type = "unusual_hours"
	TypeBatteryDrain   Type = "battery_drain"
	TypeCustomRule     Type = "custom_rule"
)

// Severity is the tier of a detected anomaly.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities; unknown values rank 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool { return s.Rank() > 0 }

// Signal is the output of one detector run.
type Signal struct {
	Type             Type     `json:"type"`
	Detected         bool     `json:"detected"`
	Severity         Severity `json:"severity,omitempty"`
	Description      string   `json:"description,omitempty"`
	ShouldTriggerSOS bool     `json:"should_trigger_sos"`
	Details          Details  `json:"metadata,omitempty"`
}

// notDetected is the explicit empty result for t.
func notDetected(t Type) Signal {
	return Signal{Type: t}
}

// Details is the per-type payload of a signal. The set of implementations
// is closed to this package.
type Details interface {
	anomalyType() Type
}

// InactivityDetails accompanies TypeInactivity.
type InactivityDetails struct {
	InactiveMinutes float64   `json:"inactive_minutes"`
	LastActivityAt  time.Time `json:"last_activity_at"`
}

// RouteDeviationDetails accompanies TypeRouteDeviation.
type RouteDeviationDetails struct {
	DistanceMeters float64 `json:"distance_meters"`
	NearestIndex   int     `json:"nearest_route_index"`
}

// SpeedDetails accompanies TypeSpeed.
type SpeedDetails struct {
	SpeedKmh    float64    `json:"speed_kmh"`
	Mode        TravelMode `json:"mode"`
	MaxKmh      float64    `json:"max_kmh"`
	CriticalKmh float64    `json:"critical_kmh"`
}

// GPSLossDetails accompanies TypeGPSLoss.
type GPSLossDetails struct {
	MinutesWithoutFix float64   `json:"minutes_without_fix"`
	LastFixAt         time.Time `json:"last_fix_at"`
}

// UnusualHoursDetails accompanies TypeUnusualHours.
type UnusualHoursDetails struct {
	Hour int `json:"hour"`
}

// BatteryDetails accompanies TypeBatteryDrain.
type BatteryDetails struct {
	LevelPercent float64 `json:"level_percent"`
}

// RuleDetails accompanies TypeCustomRule.
type RuleDetails struct {
	RuleID     string `json:"rule_id"`
	Expression string `json:"expression"`
}

func (InactivityDetails) anomalyType() Type     { return TypeInactivity }
func (RouteDeviationDetails) anomalyType() Type { return TypeRouteDeviation }
func (SpeedDetails) anomalyType() Type          { return TypeSpeed }
func (GPSLossDetails) anomalyType() Type        { return TypeGPSLoss }
func (UnusualHoursDetails) anomalyType() Type   { return TypeUnusualHours }
func (BatteryDetails) anomalyType() Type        { return TypeBatteryDrain }
func (RuleDetails) anomalyType() Type           { return TypeCustomRule }

// NewRuleSignal builds a detected custom-rule signal. Custom rules never
// request an automatic SOS.
func NewRuleSignal(ruleID, expression string, sev Severity, description string) Signal {
	return Signal{
		Type:        TypeCustomRule,
		Detected:    true,
		Severity:    sev,
		Description: description,
		Details:     RuleDetails{RuleID: ruleID, Expression: expression},
	}
}

// NoRuleSignal is the not-detected result for a custom rule.
func NoRuleSignal() Signal { return notDetected(TypeCustomRule) }
