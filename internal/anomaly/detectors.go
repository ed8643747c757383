package anomaly

import (
	"fmt"
	"time"

	"github.com/gyaneshwarpardhi/safewatch/internal/geo"
)

// Fixed severity tier boundaries.
const (
	inactivityHighMinutes     = 45
	inactivityCriticalMinutes = 60
	routeHighMeters           = 3000
	routeCriticalMeters       = 5000
	gpsHighMinutes            = 10
	gpsCriticalMinutes        = 15
	batteryHighPercent        = 10
	batteryCriticalPercent    = 5
	speedHighFactor           = 1.2
)

// DetectInactivity flags no activity for at least th.InactivityMinutes.
func DetectInactivity(lastActivity, now time.Time, th Thresholds) Signal {
	mins := now.Sub(lastActivity).Minutes()
	if mins < th.InactivityMinutes {
		return notDetected(TypeInactivity)
	}
	sev := SeverityMedium
	switch {
	case mins >= inactivityCriticalMinutes:
		sev = SeverityCritical
	case mins >= inactivityHighMinutes:
		sev = SeverityHigh
	}
	return Signal{
		Type:             TypeInactivity,
		Detected:         true,
		Severity:         sev,
		Description:      fmt.Sprintf("no activity for %.0f minutes", mins),
		ShouldTriggerSOS: sev == SeverityCritical,
		Details:          InactivityDetails{InactiveMinutes: mins, LastActivityAt: lastActivity},
	}
}

// DetectRouteDeviation flags a position at least th.RouteDeviationMeters
// from every planned route point.
func DetectRouteDeviation(current geo.Point, route []geo.Point, th Thresholds) Signal {
	idx, dist := geo.NearestIndex(current, route)
	if idx < 0 || dist < th.RouteDeviationMeters {
		return notDetected(TypeRouteDeviation)
	}
	sev := SeverityMedium
	switch {
	case dist >= routeCriticalMeters:
		sev = SeverityCritical
	case dist >= routeHighMeters:
		sev = SeverityHigh
	}
	return Signal{
		Type:             TypeRouteDeviation,
		Detected:         true,
		Severity:         sev,
		Description:      fmt.Sprintf("%.0f m away from the planned route", dist),
		ShouldTriggerSOS: sev == SeverityCritical,
		Details:          RouteDeviationDetails{DistanceMeters: dist, NearestIndex: idx},
	}
}

// DetectSpeed flags a speed above the ceiling of mode. Unknown modes are
// never flagged.
func DetectSpeed(speedKmh float64, mode TravelMode, th Thresholds) Signal {
	limit, ok := th.Speed[mode]
	if !ok || speedKmh <= limit.MaxKmh {
		return notDetected(TypeSpeed)
	}
	sev := SeverityMedium
	switch {
	case speedKmh > limit.CriticalKmh:
		sev = SeverityCritical
	case speedKmh > limit.MaxKmh*speedHighFactor:
		sev = SeverityHigh
	}
	return Signal{
		Type:             TypeSpeed,
		Detected:         true,
		Severity:         sev,
		Description:      fmt.Sprintf("%.0f km/h exceeds %s limit of %.0f km/h", speedKmh, mode, limit.MaxKmh),
		ShouldTriggerSOS: sev == SeverityCritical,
		Details: SpeedDetails{
			SpeedKmh:    speedKmh,
			Mode:        mode,
			MaxKmh:      limit.MaxKmh,
			CriticalKmh: limit.CriticalKmh,
		},
	}
}

// DetectGPSLoss flags no GPS fix for at least th.GPSLossMinutes.
func DetectGPSLoss(lastFix, now time.Time, th Thresholds) Signal {
	mins := now.Sub(lastFix).Minutes()
	if mins < th.GPSLossMinutes {
		return notDetected(TypeGPSLoss)
	}
	sev := SeverityMedium
	switch {
	case mins >= gpsCriticalMinutes:
		sev = SeverityCritical
	case mins >= gpsHighMinutes:
		sev = SeverityHigh
	}
	return Signal{
		Type:             TypeGPSLoss,
		Detected:         true,
		Severity:         sev,
		Description:      fmt.Sprintf("no GPS fix for %.0f minutes", mins),
		ShouldTriggerSOS: sev == SeverityCritical,
		Details:          GPSLossDetails{MinutesWithoutFix: mins, LastFixAt: lastFix},
	}
}

// DetectUnusualHours flags a local hour in [start, end). It is always
// medium and never triggers an SOS.
func DetectUnusualHours(local time.Time, th Thresholds) Signal {
	h := local.Hour()
	if h < th.UnusualHourStart || h >= th.UnusualHourEnd {
		return notDetected(TypeUnusualHours)
	}
	return Signal{
		Type:        TypeUnusualHours,
		Detected:    true,
		Severity:    SeverityMedium,
		Description: fmt.Sprintf("movement at %02d:%02d local time", h, local.Minute()),
		Details:     UnusualHoursDetails{Hour: h},
	}
}

// DetectBatteryDrain flags a battery level at or below th.BatteryPercent.
// It is informational only.
func DetectBatteryDrain(level float64, th Thresholds) Signal {
	if level > th.BatteryPercent {
		return notDetected(TypeBatteryDrain)
	}
	sev := SeverityMedium
	switch {
	case level <= batteryCriticalPercent:
		sev = SeverityCritical
	case level <= batteryHighPercent:
		sev = SeverityHigh
	}
	return Signal{
		Type:        TypeBatteryDrain,
		Detected:    true,
		Severity:    sev,
		Description: fmt.Sprintf("battery at %.0f%%", level),
		Details:     BatteryDetails{LevelPercent: level},
	}
}
