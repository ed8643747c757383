package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/netip"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/gyaneshwarpardhi/safewatch/internal/anomaly"
	"github.com/gyaneshwarpardhi/safewatch/internal/engine"
	"github.com/gyaneshwarpardhi/safewatch/internal/escalation"
	"github.com/gyaneshwarpardhi/safewatch/internal/evidence"
	"github.com/gyaneshwarpardhi/safewatch/internal/geo"
	"github.com/gyaneshwarpardhi/safewatch/internal/identity"
	"github.com/gyaneshwarpardhi/safewatch/internal/safety"
	"github.com/gyaneshwarpardhi/safewatch/internal/sample"
	"github.com/gyaneshwarpardhi/safewatch/internal/sos"
)

const (
	maxBatchSize = 100
	maxBodyBytes = 8 << 20
)

// Deps are the collaborators the HTTP layer calls into.
type Deps struct {
	SOS       *sos.Manager
	Escalator *escalation.Scheduler
	Evidence  *evidence.Collector
	Monitor   *engine.Monitor
	Verifier  identity.Verifier
	Clock     safety.Clock
	Logger    *zap.Logger

	// RatePerSecond and Burst size the per-client token bucket. A zero
	// rate disables throttling.
	RatePerSecond float64
	Burst         int

	// TrustedProxies are the peers whose forwarding headers name the
	// client. Empty means every request is keyed by its direct peer.
	TrustedProxies []netip.Prefix
}

// Handler holds all HTTP handler dependencies.
type Handler struct {
	Deps
	mux *http.ServeMux
}

// New creates an HTTP handler and registers all routes.
func New(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Clock == nil {
		d.Clock = safety.SystemClock{}
	}
	h := &Handler{Deps: d, mux: http.NewServeMux()}

	h.mux.HandleFunc("POST /v1/sos", h.triggerSOS)
	h.mux.HandleFunc("GET /v1/sos/{id}", h.getSOS)
	h.mux.HandleFunc("POST /v1/sos/{id}/status", h.updateStatus)
	h.mux.HandleFunc("POST /v1/sos/{id}/escalate", h.escalate)
	h.mux.HandleFunc("POST /v1/sos/{id}/resolve", h.resolve)
	h.mux.HandleFunc("POST /v1/sos/{id}/safe", h.markSafe)
	h.mux.HandleFunc("POST /v1/sos/{id}/evidence", h.saveEvidence)
	h.mux.HandleFunc("GET /v1/sos/{id}/evidence", h.listEvidence)
	h.mux.HandleFunc("POST /v1/zones/check", h.checkZone)
	h.mux.HandleFunc("POST /v1/anomalies/detect", h.detectAnomalies)
	h.mux.HandleFunc("POST /v1/samples", h.ingestSample)
	h.mux.HandleFunc("POST /v1/samples/batch", h.ingestBatch)
	h.mux.HandleFunc("GET /healthz", h.healthz)
	h.mux.HandleFunc("GET /readyz", h.readyz)
	h.mux.Handle("GET /metrics", promhttp.Handler())

	var next http.Handler = h.mux
	next = authMiddleware(d.Verifier, next)
	if d.RatePerSecond > 0 {
		next = newThrottle(d.RatePerSecond, d.Burst, d.TrustedProxies).middleware(next)
	}
	return loggingMiddleware(d.Logger, next)
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidInput, fmt.Sprintf("invalid JSON: %s", err))
		return false
	}
	return true
}

// ownedEvent loads the event and hides it from everyone except its owner
// and privileged roles.
func (h *Handler) ownedEvent(w http.ResponseWriter, r *http.Request) (*safety.Event, bool) {
	ev, err := h.SOS.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return nil, false
	}
	who, _ := identity.FromContext(r.Context())
	if ev.UserID != who.UserID && !identity.Privileged(who.Role) {
		writeError(w, http.StatusNotFound, CodeNotFound, "sos event not found")
		return nil, false
	}
	return ev, true
}

// POST /v1/sos
func (h *Handler) triggerSOS(w http.ResponseWriter, r *http.Request) {
	var req sos.TriggerRequest
	if !decode(w, r, &req) {
		return
	}
	ev, err := h.SOS.Trigger(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ev)
}

type eventView struct {
	Event       *safety.Event             `json:"event"`
	Escalations []safety.EscalationRecord `json:"escalations"`
}

// GET /v1/sos/{id}
func (h *Handler) getSOS(w http.ResponseWriter, r *http.Request) {
	ev, ok := h.ownedEvent(w, r)
	if !ok {
		return
	}
	recs, err := h.Escalator.Ladder(r.Context(), ev.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, eventView{Event: ev, Escalations: recs})
}

type statusRequest struct {
	Status    safety.Status `json:"status"`
	OfficerID string        `json:"officer_id,omitempty"`
	Notes     string        `json:"notes,omitempty"`
}

// POST /v1/sos/{id}/status
func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if !decode(w, r, &req) {
		return
	}
	ev, ok := h.ownedEvent(w, r)
	if !ok {
		return
	}
	if req.OfficerID == "" {
		who, _ := identity.FromContext(r.Context())
		req.OfficerID = who.UserID
	}
	ev, err := h.SOS.UpdateStatus(r.Context(), ev.ID, req.Status, req.OfficerID, req.Notes)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// POST /v1/sos/{id}/escalate
func (h *Handler) escalate(w http.ResponseWriter, r *http.Request) {
	ev, ok := h.ownedEvent(w, r)
	if !ok {
		return
	}
	rec, err := h.Escalator.Escalate(r.Context(), ev.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type resolveRequest struct {
	FalseAlarm bool   `json:"false_alarm"`
	Notes      string `json:"notes,omitempty"`
}

// POST /v1/sos/{id}/resolve
func (h *Handler) resolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if !decode(w, r, &req) {
		return
	}
	ev, ok := h.ownedEvent(w, r)
	if !ok {
		return
	}
	ev, err := h.SOS.Resolve(r.Context(), ev.ID, req.FalseAlarm, req.Notes)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// POST /v1/sos/{id}/safe
func (h *Handler) markSafe(w http.ResponseWriter, r *http.Request) {
	ev, ok := h.ownedEvent(w, r)
	if !ok {
		return
	}
	ev, err := h.Escalator.MarkSafe(r.Context(), ev.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

type evidenceRequest struct {
	Kind safety.EvidenceKind `json:"kind"`
	evidence.Payload
}

// POST /v1/sos/{id}/evidence
func (h *Handler) saveEvidence(w http.ResponseWriter, r *http.Request) {
	var req evidenceRequest
	if !decode(w, r, &req) {
		return
	}
	ev, ok := h.ownedEvent(w, r)
	if !ok {
		return
	}
	rec, err := h.Evidence.Save(r.Context(), ev.ID, req.Kind, req.Payload)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// GET /v1/sos/{id}/evidence?kind=
func (h *Handler) listEvidence(w http.ResponseWriter, r *http.Request) {
	ev, ok := h.ownedEvent(w, r)
	if !ok {
		return
	}
	kind := safety.EvidenceKind(r.URL.Query().Get("kind"))
	out, err := h.Evidence.List(r.Context(), ev.ID, kind)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type zoneCheckRequest struct {
	Point geo.Point `json:"point"`
	// Zones overrides the configured zone set when present.
	Zones []geo.Zone `json:"zones,omitempty"`
	// BufferMeters sizes the proximity warning; zero uses the default.
	BufferMeters float64 `json:"buffer_meters,omitempty"`
}

type zoneCheckResponse struct {
	geo.ZoneCheck
	Proximity *geo.Warning `json:"proximity_warning,omitempty"`
}

// POST /v1/zones/check
func (h *Handler) checkZone(w http.ResponseWriter, r *http.Request) {
	var req zoneCheckRequest
	if !decode(w, r, &req) {
		return
	}
	if !req.Point.Valid() {
		writeError(w, http.StatusBadRequest, CodeInvalidInput, "point out of range")
		return
	}
	zones := req.Zones
	if zones == nil {
		zones = h.Monitor.Zones()
	}
	for _, z := range zones {
		if err := z.Validate(); err != nil {
			writeDomainError(w, err)
			return
		}
	}
	resp := zoneCheckResponse{ZoneCheck: geo.CheckZone(req.Point, zones)}
	if warn, ok := geo.ProximityWarning(req.Point, zones, req.BufferMeters); ok {
		resp.Proximity = &warn
	}
	writeJSON(w, http.StatusOK, resp)
}

type detectResponse struct {
	Signals []anomaly.Signal `json:"signals"`
	AutoSOS bool             `json:"auto_sos_recommended"`
}

// POST /v1/anomalies/detect
func (h *Handler) detectAnomalies(w http.ResponseWriter, r *http.Request) {
	var snap anomaly.Snapshot
	if !decode(w, r, &snap) {
		return
	}
	if snap.Now.IsZero() {
		snap.Now = h.Clock.Now()
	}
	signals := h.Monitor.Detect(snap)
	writeJSON(w, http.StatusOK, detectResponse{
		Signals: signals,
		AutoSOS: anomaly.ShouldTriggerAutoSOS(signals),
	})
}

// prepareSample fills server side fields. Users may only report for
// themselves.
func (h *Handler) prepareSample(r *http.Request, s *sample.Sample, now time.Time) {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	who, _ := identity.FromContext(r.Context())
	if !identity.Privileged(who.Role) || s.UserID == "" {
		s.UserID = who.UserID
	}
	s.ReceivedAt = now
}

// POST /v1/samples
func (h *Handler) ingestSample(w http.ResponseWriter, r *http.Request) {
	var s sample.Sample
	if !decode(w, r, &s) {
		return
	}
	h.prepareSample(r, &s, h.Clock.Now())

	res, err := h.Monitor.ProcessSync(r.Context(), &s)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// POST /v1/samples/batch
func (h *Handler) ingestBatch(w http.ResponseWriter, r *http.Request) {
	var samples []*sample.Sample
	if !decode(w, r, &samples) {
		return
	}
	if len(samples) == 0 {
		writeError(w, http.StatusBadRequest, CodeInvalidInput, "batch must contain at least one sample")
		return
	}
	if len(samples) > maxBatchSize {
		writeError(w, http.StatusBadRequest, CodeInvalidInput, fmt.Sprintf("batch size %d exceeds max %d", len(samples), maxBatchSize))
		return
	}

	now := h.Clock.Now()
	queued := 0
	for _, s := range samples {
		if s == nil {
			continue
		}
		h.prepareSample(r, s, now)
		if h.Monitor.ProcessAsync(s) {
			queued++
		}
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id":   uuid.New().String(),
		"total":    len(samples),
		"queued":   queued,
		"rejected": len(samples) - queued,
	})
}

// GET /healthz
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /readyz returns 503 once the sample queue is more than 80% full.
func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	util := h.Monitor.QueueUtilization()
	if util > 0.8 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":            "overloaded",
			"queue_utilization": util,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":            "ready",
		"queue_utilization": util,
	})
}
