package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/safewatch/internal/anomaly"
	"github.com/gyaneshwarpardhi/safewatch/internal/config"
	"github.com/gyaneshwarpardhi/safewatch/internal/engine"
	"github.com/gyaneshwarpardhi/safewatch/internal/escalation"
	"github.com/gyaneshwarpardhi/safewatch/internal/evidence"
	"github.com/gyaneshwarpardhi/safewatch/internal/geo"
	"github.com/gyaneshwarpardhi/safewatch/internal/identity"
	"github.com/gyaneshwarpardhi/safewatch/internal/safety"
	"github.com/gyaneshwarpardhi/safewatch/internal/safety/safetytest"
	"github.com/gyaneshwarpardhi/safewatch/internal/sos"
	"github.com/gyaneshwarpardhi/safewatch/internal/store/memory"
)

var t0 = time.Date(2026, 8, 20, 14, 0, 0, 0, time.UTC)

var hotel = geo.Zone{ID: "hotel", Kind: geo.KindSafe, Circle: &geo.Circle{Center: geo.Point{Lat: 48.86, Lng: 2.34}, RadiusMeters: 100}}

type testServer struct {
	handler  http.Handler
	verifier *identity.JWTVerifier
}

func newTestServer(t *testing.T, rate float64, burst int) *testServer {
	t.Helper()
	st := memory.New()
	clock := safetytest.NewClock(t0)
	mgr := sos.NewManager(st, sos.WithClock(clock))
	sched := escalation.NewScheduler(st, mgr, escalation.WithClock(clock))
	coll := evidence.NewCollector(st, nil, clock, nil)
	mon := engine.New(context.Background(), mgr,
		anomaly.NewRegistry(anomaly.Builtin(anomaly.DefaultThresholds())...),
		[]geo.Zone{hotel},
		config.EngineConf{Workers: 1, QueueDepth: 4, SampleTimeout: time.Second, ProximityBufferMeters: 500},
		nil,
	)
	mon.SetClock(clock)
	t.Cleanup(mon.Shutdown)

	v := identity.NewJWTVerifier("test-secret", "safewatch")
	return &testServer{
		handler: New(Deps{
			SOS:           mgr,
			Escalator:     sched,
			Evidence:      coll,
			Monitor:       mon,
			Verifier:      v,
			Clock:         clock,
			RatePerSecond: rate,
			Burst:         burst,
		}),
		verifier: v,
	}
}

func (s *testServer) do(t *testing.T, method, path, user string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if user != "" {
		role := identity.RoleUser
		if user == "officer-1" {
			role = identity.RoleOfficer
		}
		tok, err := s.verifier.Issue(identity.Identity{UserID: user, Role: role}, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func (s *testServer) trigger(t *testing.T, user string) *safety.Event {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/v1/sos", user, sos.TriggerRequest{
		Mode:     safety.ModeButton,
		Location: geo.Point{Lat: 48.86, Lng: 2.34},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[*safety.Event](t, rec)
}

func assertCode(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	assert.Equal(t, status, rec.Code, rec.Body.String())
	assert.Equal(t, code, decodeBody[errorResponse](t, rec).Code)
}

func TestProbesArePublic(t *testing.T) {
	s := newTestServer(t, 0, 0)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/healthz", "", nil).Code)

	rec := s.do(t, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", decodeBody[map[string]interface{}](t, rec)["status"])
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(t, 0, 0)
	assertCode(t, s.do(t, http.MethodPost, "/v1/sos", "", map[string]string{}), http.StatusUnauthorized, CodeNotAuthenticated)

	req := httptest.NewRequest(http.MethodGet, "/v1/sos/x", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assertCode(t, rec, http.StatusUnauthorized, CodeNotAuthenticated)
}

func TestTriggerAndGet(t *testing.T) {
	s := newTestServer(t, 0, 0)
	ev := s.trigger(t, "u1")
	assert.Equal(t, safety.StatusTriggered, ev.Status)
	assert.Equal(t, 100, ev.ConfidenceScore)

	rec := s.do(t, http.MethodGet, "/v1/sos/"+ev.ID, "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	view := decodeBody[eventView](t, rec)
	assert.Equal(t, ev.ID, view.Event.ID)
	require.Len(t, view.Escalations, 1)
	assert.Equal(t, safety.TargetFamily, view.Escalations[0].Target)

	assertCode(t, s.do(t, http.MethodGet, "/v1/sos/"+ev.ID, "u2", nil), http.StatusNotFound, CodeNotFound)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/v1/sos/"+ev.ID, "officer-1", nil).Code)
	assertCode(t, s.do(t, http.MethodGet, "/v1/sos/missing", "u1", nil), http.StatusNotFound, CodeNotFound)
}

func TestTriggerRejections(t *testing.T) {
	s := newTestServer(t, 0, 0)

	rec := s.do(t, http.MethodPost, "/v1/sos", "u1", map[string]interface{}{"trigger_mode": "telepathy", "location": geo.Point{Lat: 1, Lng: 1}})
	assertCode(t, rec, http.StatusBadRequest, CodeInvalidInput)

	rec = s.do(t, http.MethodPost, "/v1/sos", "u1", "{")
	assertCode(t, rec, http.StatusBadRequest, CodeInvalidInput)

	ev := s.trigger(t, "u1")
	rec = s.do(t, http.MethodPost, "/v1/sos", "u1", sos.TriggerRequest{Mode: safety.ModeShake, Location: geo.Point{Lat: 1, Lng: 1}})
	assertCode(t, rec, http.StatusConflict, CodeActiveEvent)

	for i := 0; i < 2; i++ {
		require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/v1/sos/"+ev.ID+"/resolve", "u1", resolveRequest{}).Code)
		ev = s.trigger(t, "u1")
	}
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/v1/sos/"+ev.ID+"/resolve", "u1", resolveRequest{}).Code)

	rec = s.do(t, http.MethodPost, "/v1/sos", "u1", sos.TriggerRequest{Mode: safety.ModeButton, Location: geo.Point{Lat: 1, Lng: 1}})
	assertCode(t, rec, http.StatusTooManyRequests, CodeRateLimited)
}

func TestStatusLifecycle(t *testing.T) {
	s := newTestServer(t, 0, 0)
	ev := s.trigger(t, "u1")
	path := "/v1/sos/" + ev.ID + "/status"

	rec := s.do(t, http.MethodPost, path, "officer-1", statusRequest{Status: safety.StatusAcknowledged})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decodeBody[*safety.Event](t, rec)
	assert.Equal(t, safety.StatusAcknowledged, got.Status)
	assert.Equal(t, "officer-1", got.OfficerID)
	assert.NotNil(t, got.AcknowledgedAt)

	rec = s.do(t, http.MethodPost, path, "officer-1", statusRequest{Status: safety.StatusTriggered})
	assertCode(t, rec, http.StatusConflict, CodeInvalidTransition)

	rec = s.do(t, http.MethodPost, path, "officer-1", statusRequest{Status: "teleported"})
	assertCode(t, rec, http.StatusBadRequest, CodeInvalidInput)

	rec = s.do(t, http.MethodPost, "/v1/sos/"+ev.ID+"/resolve", "officer-1", resolveRequest{FalseAlarm: true, Notes: "pocket press"})
	require.Equal(t, http.StatusOK, rec.Code)
	got = decodeBody[*safety.Event](t, rec)
	assert.Equal(t, safety.StatusFalseAlarm, got.Status)
	assert.Equal(t, "pocket press", got.ResolutionNotes)

	rec = s.do(t, http.MethodPost, path, "officer-1", statusRequest{Status: safety.StatusResponding})
	assertCode(t, rec, http.StatusConflict, CodeInvalidTransition)
}

func TestOwnerCannotActAsResponder(t *testing.T) {
	s := newTestServer(t, 0, 0)
	ev := s.trigger(t, "alice")
	path := "/v1/sos/" + ev.ID + "/status"

	for _, st := range []safety.Status{safety.StatusAcknowledged, safety.StatusResponding, safety.StatusVerified} {
		rec := s.do(t, http.MethodPost, path, "alice", statusRequest{Status: st})
		assertCode(t, rec, http.StatusForbidden, CodeForbidden)
	}

	rec := s.do(t, http.MethodGet, "/v1/sos/"+ev.ID, "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	view := decodeBody[eventView](t, rec)
	assert.Equal(t, safety.StatusTriggered, view.Event.Status)
	assert.Empty(t, view.Event.OfficerID)

	// Other users still cannot see the event at all.
	rec = s.do(t, http.MethodGet, "/v1/sos/"+ev.ID, "mallory", nil)
	assertCode(t, rec, http.StatusNotFound, CodeNotFound)

	// Officers can read any event.
	rec = s.do(t, http.MethodGet, "/v1/sos/"+ev.ID, "officer-1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUnknownRoleRejected(t *testing.T) {
	s := newTestServer(t, 0, 0)
	ev := s.trigger(t, "alice")

	tok, err := s.verifier.Issue(identity.Identity{UserID: "root", Role: "admin"}, time.Hour)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/v1/sos/"+ev.ID, nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assertCode(t, rec, http.StatusUnauthorized, CodeNotAuthenticated)
}

func TestEscalateToMaxThenMarkSafe(t *testing.T) {
	s := newTestServer(t, 0, 0)
	ev := s.trigger(t, "u1")
	path := "/v1/sos/" + ev.ID + "/escalate"

	targets := []safety.Target{safety.TargetPolice, safety.TargetEmergencyServices, safety.TargetEmbassy}
	for i, want := range targets {
		rec := s.do(t, http.MethodPost, path, "u1", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		got := decodeBody[safety.EscalationRecord](t, rec)
		assert.Equal(t, i+1, got.Level)
		assert.Equal(t, want, got.Target)
	}
	assertCode(t, s.do(t, http.MethodPost, path, "u1", nil), http.StatusConflict, CodeMaxEscalation)

	rec := s.do(t, http.MethodPost, "/v1/sos/"+ev.ID+"/safe", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody[*safety.Event](t, rec)
	assert.Equal(t, safety.StatusResolved, got.Status)
	assert.Equal(t, "marked safe by user", got.ResolutionNotes)

	assertCode(t, s.do(t, http.MethodPost, path, "u1", nil), http.StatusConflict, CodeInvalidTransition)
}

func TestEvidence(t *testing.T) {
	s := newTestServer(t, 0, 0)
	ev := s.trigger(t, "u1")
	path := "/v1/sos/" + ev.ID + "/evidence"

	rec := s.do(t, http.MethodPost, path, "u1", map[string]interface{}{"kind": "location", "metadata": map[string]string{"accuracy": "5m"}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "inline://location", decodeBody[safety.EvidenceRecord](t, rec).StorageRef)

	rec = s.do(t, http.MethodPost, path, "u1", map[string]interface{}{"kind": "photo", "storage_ref": "s3://bucket/p1.jpg"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	assertCode(t, s.do(t, http.MethodPost, path, "u1", map[string]interface{}{"kind": "photo"}), http.StatusBadRequest, CodeInvalidInput)
	assertCode(t, s.do(t, http.MethodPost, path, "u1", map[string]interface{}{"kind": "smell"}), http.StatusBadRequest, CodeInvalidInput)

	// No blob store is configured, so inline bytes cannot be uploaded.
	rec = s.do(t, http.MethodPost, path, "u1", map[string]interface{}{"kind": "audio", "data": []byte("RIFF")})
	assertCode(t, rec, http.StatusBadGateway, CodeEvidenceUpload)

	rec = s.do(t, http.MethodGet, path, "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	all := decodeBody[evidence.Listing](t, rec)
	assert.Equal(t, 2, all.Total)
	assert.Equal(t, 1, all.Counts[safety.EvidencePhoto])
	assert.Equal(t, 0, all.Counts[safety.EvidenceAudio])

	rec = s.do(t, http.MethodGet, path+"?kind=photo", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	photos := decodeBody[evidence.Listing](t, rec)
	require.Len(t, photos.Records, 1)
	assert.Equal(t, "s3://bucket/p1.jpg", photos.Records[0].StorageRef)
	assert.Equal(t, 1, photos.Counts[safety.EvidenceLocation])
}

func TestCheckZone(t *testing.T) {
	s := newTestServer(t, 0, 0)

	rec := s.do(t, http.MethodPost, "/v1/zones/check", "u1", zoneCheckRequest{Point: geo.Point{Lat: 48.86, Lng: 2.34}})
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody[map[string]interface{}](t, rec)
	assert.Equal(t, true, got["in_zone"])
	assert.Equal(t, true, got["in_safe_zone"])

	bad := geo.Zone{ID: "tri", Kind: geo.KindRisk, Polygon: []geo.Point{{Lat: 1, Lng: 1}, {Lat: 2, Lng: 2}}}
	rec = s.do(t, http.MethodPost, "/v1/zones/check", "u1", zoneCheckRequest{Point: geo.Point{Lat: 1, Lng: 1}, Zones: []geo.Zone{bad}})
	assertCode(t, rec, http.StatusUnprocessableEntity, CodeZoneDataInvalid)

	rec = s.do(t, http.MethodPost, "/v1/zones/check", "u1", zoneCheckRequest{Point: geo.Point{Lat: 91, Lng: 0}})
	assertCode(t, rec, http.StatusBadRequest, CodeInvalidInput)
}

func TestDetectAnomalies(t *testing.T) {
	s := newTestServer(t, 0, 0)
	battery := 5.0
	rec := s.do(t, http.MethodPost, "/v1/anomalies/detect", "u1", anomaly.Snapshot{BatteryLevel: &battery})
	require.Equal(t, http.StatusOK, rec.Code)

	got := decodeBody[struct {
		Signals []struct {
			Type     string `json:"type"`
			Severity string `json:"severity"`
		} `json:"signals"`
		AutoSOS bool `json:"auto_sos_recommended"`
	}](t, rec)
	require.Len(t, got.Signals, 1)
	assert.Equal(t, string(anomaly.TypeBatteryDrain), got.Signals[0].Type)
	assert.Equal(t, string(anomaly.SeverityCritical), got.Signals[0].Severity)
	assert.False(t, got.AutoSOS, "battery drain is informational")
}

func TestIngestSample(t *testing.T) {
	s := newTestServer(t, 0, 0)
	rec := s.do(t, http.MethodPost, "/v1/samples", "u1", map[string]interface{}{
		"user_id":  "someone-else",
		"location": geo.Point{Lat: 48.86, Lng: 2.34},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decodeBody[engine.Result](t, rec)
	assert.NotEmpty(t, res.SampleID)
	assert.Equal(t, "u1", res.UserID, "users report only for themselves")
	require.NotNil(t, res.Zone)
	assert.True(t, res.Zone.InSafeZone)

	rec = s.do(t, http.MethodPost, "/v1/samples/batch", "u1", []map[string]interface{}{{"id": "a"}, {"id": "b"}})
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.EqualValues(t, 2, decodeBody[map[string]interface{}](t, rec)["total"])

	assertCode(t, s.do(t, http.MethodPost, "/v1/samples/batch", "u1", []interface{}{}), http.StatusBadRequest, CodeInvalidInput)
}

func TestThrottle(t *testing.T) {
	s := newTestServer(t, 0.001, 1)
	assert.NotEqual(t, http.StatusTooManyRequests, s.do(t, http.MethodGet, "/v1/sos/x", "u1", nil).Code)
	assertCode(t, s.do(t, http.MethodGet, "/v1/sos/x", "u1", nil), http.StatusTooManyRequests, CodeThrottled)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/healthz", "", nil).Code)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{safety.ErrNotAuthenticated, http.StatusUnauthorized, CodeNotAuthenticated},
		{safety.ErrForbidden, http.StatusForbidden, CodeForbidden},
		{safety.ErrRateLimitExceeded, http.StatusTooManyRequests, CodeRateLimited},
		{safety.ErrConflictingActiveEvent, http.StatusConflict, CodeActiveEvent},
		{safety.ErrInvalidTransition, http.StatusConflict, CodeInvalidTransition},
		{safety.ErrMaxEscalationReached, http.StatusConflict, CodeMaxEscalation},
		{safety.ErrZoneDataInvalid, http.StatusUnprocessableEntity, CodeZoneDataInvalid},
		{safety.ErrEvidenceUploadFailed, http.StatusBadGateway, CodeEvidenceUpload},
		{safety.ErrNotFound, http.StatusNotFound, CodeNotFound},
		{safety.ErrInvalidInput, http.StatusBadRequest, CodeInvalidInput},
		{engine.ErrQueueFull, http.StatusTooManyRequests, CodeQueueFull},
		{safety.WrapStorage("get event", errors.New("connection refused")), http.StatusServiceUnavailable, CodeStorage},
		{errors.New("boom"), http.StatusInternalServerError, CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			status, code := classify(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, code)
		})
	}
}
