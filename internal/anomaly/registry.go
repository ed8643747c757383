package anomaly

import (
	"fmt"
	"sort"
	"sync"
)

// Detector inspects a snapshot. The bool result is false when the inputs the
// detector needs are absent.
type Detector interface {
	Name() string
	Detect(s Snapshot) (Signal, bool)
}

// Registry maps detector names to detectors and runs them together.
// It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	detectors map[string]Detector
	order     []string
}

// NewRegistry creates a registry preloaded with ds.
func NewRegistry(ds ...Detector) *Registry {
	r := &Registry{detectors: make(map[string]Detector)}
	for _, d := range ds {
		r.Register(d)
	}
	return r
}

// Register adds a detector. Panics on a duplicate name to surface
// misconfiguration early.
func (r *Registry) Register(d Detector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.detectors[d.Name()]; exists {
		panic(fmt.Sprintf("anomaly registry: duplicate detector %q", d.Name()))
	}
	r.detectors[d.Name()] = d
	r.order = append(r.order, d.Name())
}

// Get returns the detector registered under name.
func (r *Registry) Get(name string) (Detector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.detectors[name]
	if !ok {
		return nil, fmt.Errorf("no detector registered as %q", name)
	}
	return d, nil
}

// Names returns registered detector names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	sort.Strings(out)
	return out
}

// DetectAll runs every detector whose inputs are present, in registration
// order, and returns the detected signals.
func (r *Registry) DetectAll(s Snapshot) []Signal {
	r.mu.RLock()
	ds := make([]Detector, 0, len(r.order))
	for _, name := range r.order {
		ds = append(ds, r.detectors[name])
	}
	r.mu.RUnlock()

	out := []Signal{}
	for _, d := range ds {
		sig, ran := d.Detect(s)
		if ran && sig.Detected {
			out = append(out, sig)
		}
	}
	return out
}

// ShouldTriggerAutoSOS is the logical OR of every signal's ShouldTriggerSOS.
func ShouldTriggerAutoSOS(signals []Signal) bool {
	for _, s := range signals {
		if s.ShouldTriggerSOS {
			return true
		}
	}
	return false
}

// funcDetector adapts a closure to Detector.
type funcDetector struct {
	name string
	fn   func(Snapshot) (Signal, bool)
}

func (f funcDetector) Name() string                     { return f.name }
func (f funcDetector) Detect(s Snapshot) (Signal, bool) { return f.fn(s) }

// Builtin returns the six stock detectors bound to th.
func Builtin(th Thresholds) []Detector {
	th = th.WithDefaults()
	return []Detector{
		funcDetector{string(TypeInactivity), func(s Snapshot) (Signal, bool) {
			if s.LastActivityAt == nil || s.Now.IsZero() {
				return Signal{}, false
			}
			return DetectInactivity(*s.LastActivityAt, s.Now, th), true
		}},
		funcDetector{string(TypeRouteDeviation), func(s Snapshot) (Signal, bool) {
			if s.Location == nil || len(s.PlannedRoute) == 0 {
				return Signal{}, false
			}
			return DetectRouteDeviation(*s.Location, s.PlannedRoute, th), true
		}},
		funcDetector{string(TypeSpeed), func(s Snapshot) (Signal, bool) {
			if s.SpeedKmh == nil || s.TravelMode == "" {
				return Signal{}, false
			}
			return DetectSpeed(*s.SpeedKmh, s.TravelMode, th), true
		}},
		funcDetector{string(TypeGPSLoss), func(s Snapshot) (Signal, bool) {
			if s.LastGPSFixAt == nil || s.Now.IsZero() {
				return Signal{}, false
			}
			return DetectGPSLoss(*s.LastGPSFixAt, s.Now, th), true
		}},
		funcDetector{string(TypeUnusualHours), func(s Snapshot) (Signal, bool) {
			if s.LocalTime == nil {
				return Signal{}, false
			}
			return DetectUnusualHours(*s.LocalTime, th), true
		}},
		funcDetector{string(TypeBatteryDrain), func(s Snapshot) (Signal, bool) {
			if s.BatteryLevel == nil {
				return Signal{}, false
			}
			return DetectBatteryDrain(*s.BatteryLevel, th), true
		}},
	}
}

// DetectAll runs the built-in detectors against s.
func DetectAll(s Snapshot, th Thresholds) []Signal {
	return NewRegistry(Builtin(th)...).DetectAll(s)
}
