package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/gyaneshwarpardhi/safewatch/internal/anomaly"
	"github.com/gyaneshwarpardhi/safewatch/internal/config"
	"github.com/gyaneshwarpardhi/safewatch/internal/geo"
	"github.com/gyaneshwarpardhi/safewatch/internal/identity"
	"github.com/gyaneshwarpardhi/safewatch/internal/metrics"
	"github.com/gyaneshwarpardhi/safewatch/internal/safety"
	"github.com/gyaneshwarpardhi/safewatch/internal/sample"
	"github.com/gyaneshwarpardhi/safewatch/internal/sos"
	"github.com/gyaneshwarpardhi/safewatch/internal/workerpool"
)

// ErrQueueFull is returned when a sample cannot be enqueued.
var ErrQueueFull = errors.New("sample queue full")

const (
	// positionTTL bounds how long a silent user's last fix is kept.
	positionTTL = 24 * time.Hour
	pruneEvery  = 10 * time.Minute
)

// Triggerer raises SOS events. *sos.Manager satisfies it.
type Triggerer interface {
	Trigger(ctx context.Context, req sos.TriggerRequest) (*safety.Event, error)
}

// Result is the outcome of processing a single sample.
type Result struct {
	SampleID       string           `json:"sample_id"`
	UserID         string           `json:"user_id"`
	DurationMs     int64            `json:"duration_ms"`
	Zone           *geo.ZoneCheck   `json:"zone,omitempty"`
	ZoneChange     *geo.ZoneChange  `json:"zone_change,omitempty"`
	Proximity      *geo.Warning     `json:"proximity_warning,omitempty"`
	Signals        []anomaly.Signal `json:"signals"`
	AutoSOS        bool             `json:"auto_sos"`
	Event          *safety.Event    `json:"sos_event,omitempty"`
	AutoSOSSkipped string           `json:"auto_sos_skipped,omitempty"`
	OutOfOrder     bool             `json:"out_of_order,omitempty"`
	Error          string           `json:"error,omitempty"`
}

// Monitor evaluates samples against zones and detectors and raises an
// automatic SOS when a critical anomaly calls for one.
type Monitor struct {
	detectors atomic.Pointer[anomaly.Registry]
	zones     atomic.Pointer[[]geo.Zone]
	trig      Triggerer
	pool      *workerpool.Pool[*sampleWork, *Result]
	conf      *config.EngineConf
	clock     safety.Clock
	logger    *zap.Logger

	mu        sync.Mutex
	lastPos   map[string]position
	lastPrune time.Time
}

// position is the newest known fix for a user. at orders samples, seen
// drives eviction.
type position struct {
	p    geo.Point
	at   time.Time
	seen time.Time
}

type sampleWork struct {
	s       *sample.Sample
	resultC chan *Result
}

// New creates a Monitor using conf and starts the worker pool. trig may be
// nil, which disables automatic SOS.
func New(ctx context.Context, trig Triggerer, reg *anomaly.Registry, zones []geo.Zone, conf config.EngineConf, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Monitor{
		trig:    trig,
		conf:    &conf,
		clock:   safety.SystemClock{},
		logger:  logger,
		lastPos: make(map[string]position),
	}
	m.detectors.Store(reg)
	m.SwapZones(zones)

	m.pool = workerpool.New[*sampleWork, *Result](
		ctx,
		conf.Workers,
		conf.QueueDepth,
		func(ctx context.Context, w *sampleWork) (*Result, error) {
			res := m.Process(ctx, w.s)
			if w.resultC != nil {
				w.resultC <- res
			}
			return res, nil
		},
	)
	return m
}

// SetClock replaces the clock used for time based detectors.
func (m *Monitor) SetClock(c safety.Clock) { m.clock = c }

// SwapDetectors atomically replaces the detector registry (used on hot-reload).
func (m *Monitor) SwapDetectors(reg *anomaly.Registry) {
	m.detectors.Store(reg)
}

// SwapZones atomically replaces the zone set (used on hot-reload).
func (m *Monitor) SwapZones(zones []geo.Zone) {
	cp := append([]geo.Zone(nil), zones...)
	m.zones.Store(&cp)
}

// Zones returns the current zone set.
func (m *Monitor) Zones() []geo.Zone { return *m.zones.Load() }

// Detect runs the current detector registry against snap.
func (m *Monitor) Detect(snap anomaly.Snapshot) []anomaly.Signal {
	return m.detectors.Load().DetectAll(snap)
}

// ProcessSync processes a sample through the queue and waits for its result.
func (m *Monitor) ProcessSync(ctx context.Context, s *sample.Sample) (*Result, error) {
	resultC := make(chan *Result, 1)
	w := &sampleWork{s: s, resultC: resultC}

	if !m.pool.Submit(w) {
		metrics.SamplesDropped.Inc()
		return nil, fmt.Errorf("%w (capacity %d)", ErrQueueFull, m.conf.QueueDepth)
	}
	metrics.SamplesEnqueued.Inc()

	timer := time.NewTimer(m.conf.SampleTimeout)
	defer timer.Stop()
	select {
	case res := <-resultC:
		return res, nil
	case <-timer.C:
		return nil, fmt.Errorf("sample processing timeout after %v", m.conf.SampleTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ProcessAsync enqueues a sample for background processing. Returns false if the queue is full.
func (m *Monitor) ProcessAsync(s *sample.Sample) bool {
	if !m.pool.Submit(&sampleWork{s: s}) {
		metrics.SamplesDropped.Inc()
		return false
	}
	metrics.SamplesEnqueued.Inc()
	return true
}

// QueueUtilization returns queue used / capacity (0-1).
func (m *Monitor) QueueUtilization() float64 {
	if m.pool.QueueCap() == 0 {
		return 0
	}
	u := float64(m.pool.QueueLen()) / float64(m.pool.QueueCap())
	metrics.QueueUtilization.Set(u)
	return u
}

// Process evaluates one sample inline.
func (m *Monitor) Process(ctx context.Context, s *sample.Sample) *Result {
	start := time.Now()
	now := m.clock.Now()
	res := &Result{SampleID: s.ID, UserID: s.UserID}

	if s.Location != nil && s.Location.Valid() {
		loc := *s.Location
		zones := m.Zones()

		zc := geo.CheckZone(loc, zones)
		res.Zone = &zc
		at := s.OccurredAt
		if at.IsZero() {
			at = now
		}
		prev, ok, fresh := m.advancePosition(s.UserID, loc, at, now)
		res.OutOfOrder = !fresh
		if ok {
			if ch := geo.DetectZoneChange(prev, loc, zones); ch.Changed() {
				res.ZoneChange = &ch
				metrics.ZoneTransitions.WithLabelValues("entered").Add(float64(len(ch.Entered)))
				metrics.ZoneTransitions.WithLabelValues("exited").Add(float64(len(ch.Exited)))
			}
		}
		if w, ok := geo.ProximityWarning(loc, zones, m.conf.ProximityBufferMeters); ok {
			res.Proximity = &w
		}
	}

	res.Signals = m.Detect(s.Snapshot(now))
	for _, sig := range res.Signals {
		metrics.AnomaliesDetected.WithLabelValues(string(sig.Type), string(sig.Severity)).Inc()
	}

	if m.conf.AutoSOS && m.trig != nil && anomaly.ShouldTriggerAutoSOS(res.Signals) {
		res.AutoSOS = true
		m.autoSOS(ctx, s, res)
	}

	res.DurationMs = time.Since(start).Milliseconds()
	metrics.SamplesProcessed.Inc()
	metrics.SampleProcessingDuration.Observe(float64(res.DurationMs))
	return res
}

func (m *Monitor) autoSOS(ctx context.Context, s *sample.Sample, res *Result) {
	loc, ok := m.lastPosition(s.UserID)
	if s.Location != nil && s.Location.Valid() {
		loc, ok = *s.Location, true
	}
	if !ok {
		res.AutoSOSSkipped = "no_location"
		return
	}

	var reasons []string
	for _, sig := range res.Signals {
		if sig.ShouldTriggerSOS {
			reasons = append(reasons, sig.Description)
		}
	}
	ctx = identity.WithIdentity(ctx, identity.Identity{UserID: s.UserID, Role: identity.RoleSystem})
	ev, err := m.trig.Trigger(ctx, sos.TriggerRequest{
		Mode:        safety.ModeAuto,
		Location:    loc,
		Description: strings.Join(reasons, "; "),
	})
	switch {
	case errors.Is(err, safety.ErrConflictingActiveEvent):
		res.AutoSOSSkipped = "active_event"
	case errors.Is(err, safety.ErrRateLimitExceeded):
		res.AutoSOSSkipped = "rate_limit"
	case err != nil:
		res.Error = err.Error()
		m.logger.Error("auto sos failed", zap.String("user_id", s.UserID), zap.Error(err))
	default:
		res.Event = ev
		m.logger.Warn("auto sos raised",
			zap.String("user_id", s.UserID),
			zap.String("sos_event_id", ev.ID),
			zap.Strings("reasons", reasons),
		)
	}
}

// advancePosition stores p as the user's latest fix unless a sample with a
// later at was already seen. fresh is false for such late samples, which
// neither move the stored fix nor produce a zone change.
func (m *Monitor) advancePosition(userID string, p geo.Point, at, now time.Time) (prev geo.Point, ok, fresh bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruneLocked(now)

	cur, ok := m.lastPos[userID]
	if ok && at.Before(cur.at) {
		return geo.Point{}, false, false
	}
	m.lastPos[userID] = position{p: p, at: at, seen: now}
	return cur.p, ok, true
}

func (m *Monitor) pruneLocked(now time.Time) {
	if now.Sub(m.lastPrune) < pruneEvery {
		return
	}
	m.lastPrune = now
	for id, pos := range m.lastPos {
		if now.Sub(pos.seen) > positionTTL {
			delete(m.lastPos, id)
		}
	}
}

func (m *Monitor) lastPosition(userID string) (geo.Point, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.lastPos[userID]
	return pos.p, ok
}

// Shutdown drains the pool gracefully.
func (m *Monitor) Shutdown() {
	m.pool.Drain()
}
