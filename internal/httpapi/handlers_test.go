// v2
// internal/httpapi/handlers_test.go
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"moldsense/internal/identity"
	"moldsense/internal/monitor"
	"moldsense/internal/predict"
	"moldsense/internal/storage"
)

type nullSink struct{ count int }

func (s *nullSink) Broadcast(context.Context, monitor.LiveUpdate) int {
	s.count++
	return 1
}

type memWriter struct {
	entries []monitor.LogEntry
	fail    bool
}

func (m *memWriter) CreateLogEntry(_ context.Context, sourceID string, r monitor.Reading) (monitor.LogEntry, error) {
	if m.fail {
		return monitor.LogEntry{}, context.DeadlineExceeded
	}
	entry := monitor.LogEntry{
		ID:          "entry-1",
		SourceID:    sourceID,
		Temperature: r.Temperature,
		Humidity:    r.Humidity,
		Timestamp:   r.ObservedAt,
	}
	m.entries = append(m.entries, entry)
	return entry, nil
}

type stubPredictor struct {
	result predict.Result
	err    error
}

func (s *stubPredictor) AssessReadings(context.Context, string, []monitor.Reading) (predict.Result, error) {
	return s.result, s.err
}

func (s *stubPredictor) AssessHistory(context.Context, string) (predict.Result, error) {
	return s.result, s.err
}

type stubAuth struct {
	session identity.Session
	err     error
}

func (s *stubAuth) SignUp(context.Context, string, string, string) (identity.Session, error) {
	return s.session, s.err
}

func (s *stubAuth) SignIn(context.Context, string, string) (identity.Session, error) {
	return s.session, s.err
}

func (s *stubAuth) Refresh(context.Context, string) (identity.Session, error) {
	return s.session, s.err
}

type memHistory struct {
	logs  []storage.LogRecord
	preds []storage.PredictionRecord
	users []storage.UserRecord
}

func (m *memHistory) ListLogEntries(context.Context, string, int) ([]storage.LogRecord, error) {
	return m.logs, nil
}

func (m *memHistory) ListPredictions(context.Context, string, int) ([]storage.PredictionRecord, error) {
	return m.preds, nil
}

func (m *memHistory) UpsertUser(_ context.Context, rec storage.UserRecord) error {
	m.users = append(m.users, rec)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	router  http.Handler
	sink    *nullSink
	writer  *memWriter
	history *memHistory
}

func newFixture(t *testing.T, verifier identity.Verifier) *fixture {
	t.Helper()
	sink := &nullSink{}
	writer := &memWriter{}
	history := &memHistory{}
	logger := testLogger()

	pipeline := monitor.NewPipeline(monitor.NewStateStore(), sink, writer, logger)
	h := &Handlers{
		Pipeline:  pipeline,
		History:   history,
		Predictor: &stubPredictor{result: predict.Result{Conclusion: "dry", GrowthScore: 1, RiskLevel: "low"}},
		Auth:      &stubAuth{session: identity.Session{UserID: "u1", IDToken: "tok"}},
		Log:       logger,
	}
	health := NewHealthState()
	health.SetReady(true)
	router := NewRouter(logger, health, h, RouterConfig{Verifier: verifier})
	return &fixture{router: router, sink: sink, writer: writer, history: history}
}

func doJSON(t *testing.T, router http.Handler, method, path string, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestIngestReadingPersistsFirstReading(t *testing.T) {
	f := newFixture(t, nil)

	rec := doJSON(t, f.router, "POST", "/api/temperature/data", `{"temperature":25.5,"humidity":60}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Success bool `json:"success"`
		Data    struct {
			Broadcasted int    `json:"broadcasted"`
			LogSaved    bool   `json:"logSaved"`
			SaveReason  string `json:"saveReason"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Success || !resp.Data.LogSaved {
		t.Fatalf("first reading not persisted: %s", rec.Body.String())
	}
	if resp.Data.SaveReason != "interval_elapsed" {
		t.Fatalf("saveReason = %q", resp.Data.SaveReason)
	}
	if resp.Data.Broadcasted != 1 {
		t.Fatalf("broadcasted = %d", resp.Data.Broadcasted)
	}
	if len(f.writer.entries) != 1 {
		t.Fatalf("writer has %d entries", len(f.writer.entries))
	}
}

func TestIngestReadingValidation(t *testing.T) {
	f := newFixture(t, nil)

	cases := []string{
		`{"humidity":60}`,
		`{"temperature":25}`,
		`{"temperature":"25","humidity":60}`,
	}
	for _, body := range cases {
		rec := doJSON(t, f.router, "POST", "/api/temperature/data", body, nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %s: status = %d", body, rec.Code)
		}
	}
	if f.sink.count != 0 {
		t.Fatalf("rejected readings were broadcast: %d", f.sink.count)
	}
}

func TestUpdateConfigAndState(t *testing.T) {
	f := newFixture(t, nil)

	rec := doJSON(t, f.router, "POST", "/api/temperature/config", `{"threshold":2.5,"saveIntervalMinutes":10}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("config status = %d body=%s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, f.router, "GET", "/api/temperature/state", "", nil)
	var resp struct {
		State struct {
			Threshold      float64 `json:"threshold"`
			SaveIntervalMs int64   `json:"saveIntervalMs"`
		} `json:"state"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.State.Threshold != 2.5 {
		t.Fatalf("threshold = %v", resp.State.Threshold)
	}
	if resp.State.SaveIntervalMs != int64(10*time.Minute/time.Millisecond) {
		t.Fatalf("saveIntervalMs = %v", resp.State.SaveIntervalMs)
	}
}

func TestUpdateConfigRejectsNonPositive(t *testing.T) {
	f := newFixture(t, nil)

	for _, body := range []string{`{"threshold":0}`, `{"threshold":-2}`, `{"saveIntervalMinutes":0}`} {
		rec := doJSON(t, f.router, "POST", "/api/temperature/config", body, nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %s: status = %d", body, rec.Code)
		}
	}
}

func TestResetClearsObservations(t *testing.T) {
	f := newFixture(t, nil)

	doJSON(t, f.router, "POST", "/api/temperature/data", `{"temperature":25,"humidity":60}`, nil)
	rec := doJSON(t, f.router, "POST", "/api/temperature/reset", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("reset status = %d", rec.Code)
	}

	// The next reading behaves like the first ever seen.
	rec = doJSON(t, f.router, "POST", "/api/temperature/data", `{"temperature":25.1,"humidity":60}`, nil)
	var resp struct {
		Data struct {
			LogSaved   bool   `json:"logSaved"`
			SaveReason string `json:"saveReason"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Data.LogSaved || resp.Data.SaveReason != "interval_elapsed" {
		t.Fatalf("post-reset reading not treated as first: %s", rec.Body.String())
	}
}

func TestPredictEndpoint(t *testing.T) {
	f := newFixture(t, nil)

	rec := doJSON(t, f.router, "POST", "/api/predict", `{"logs":[{"temperature":28,"humidity":75}]}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	var result predict.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.RiskLevel != "low" {
		t.Fatalf("riskLevel = %q", result.RiskLevel)
	}

	rec = doJSON(t, f.router, "POST", "/api/predict", `{"logs":[]}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty logs status = %d", rec.Code)
	}
}

func TestAuthGate(t *testing.T) {
	verifier := identity.NewStaticVerifier()
	verifier.Grant("good-token", identity.Principal{UserID: "u1", Email: "a@example.com", Name: "Anna"})
	f := newFixture(t, verifier)

	rec := doJSON(t, f.router, "GET", "/api/temperature/state", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status = %d", rec.Code)
	}

	rec = doJSON(t, f.router, "GET", "/api/temperature/state", "", map[string]string{"Authorization": "Bearer bad"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("bad token: status = %d", rec.Code)
	}

	rec = doJSON(t, f.router, "GET", "/api/temperature/state", "", map[string]string{"Authorization": "Bearer good-token"})
	if rec.Code != http.StatusOK {
		t.Fatalf("good token: status = %d body=%s", rec.Code, rec.Body.String())
	}
	var resp struct {
		SourceID string `json:"sourceId"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.SourceID != "u1" {
		t.Fatalf("sourceId = %q, want caller uid", resp.SourceID)
	}
}

func TestIngestRecordsAuthenticatedCaller(t *testing.T) {
	verifier := identity.NewStaticVerifier()
	verifier.Grant("tok", identity.Principal{UserID: "u1", Email: "a@example.com", Name: "Anna"})
	f := newFixture(t, verifier)

	rec := doJSON(t, f.router, "POST", "/api/temperature/data", `{"temperature":25,"humidity":60}`,
		map[string]string{"Authorization": "Bearer tok"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(f.history.users) != 1 || f.history.users[0].ID != "u1" {
		t.Fatalf("caller not recorded: %+v", f.history.users)
	}
	if f.writer.entries[0].SourceID != "u1" {
		t.Fatalf("entry source = %q, want caller uid", f.writer.entries[0].SourceID)
	}
}

func TestAuthEndpointsOpenWithGateEnabled(t *testing.T) {
	verifier := identity.NewStaticVerifier()
	f := newFixture(t, verifier)

	rec := doJSON(t, f.router, "POST", "/api/auth/login", `{"email":"a@example.com","password":"pw"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("login behind gate: status = %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestLoginValidation(t *testing.T) {
	f := newFixture(t, nil)

	rec := doJSON(t, f.router, "POST", "/api/auth/login", `{"email":"a@example.com"}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestHealthEndpoints(t *testing.T) {
	f := newFixture(t, nil)

	rec := doJSON(t, f.router, "GET", "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d", rec.Code)
	}
	rec = doJSON(t, f.router, "GET", "/health/ready", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("ready status = %d", rec.Code)
	}
}

func TestReadinessFlipsDuringDrain(t *testing.T) {
	health := NewHealthState()
	probe := healthReadyHandler(health)

	rec := httptest.NewRecorder()
	probe(rec, httptest.NewRequest("GET", "/health/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("fresh state should not be ready: %d", rec.Code)
	}

	health.SetReady(true)
	rec = httptest.NewRecorder()
	probe(rec, httptest.NewRequest("GET", "/health/ready", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("ready status = %d", rec.Code)
	}

	health.SetReady(false)
	rec = httptest.NewRecorder()
	probe(rec, httptest.NewRequest("GET", "/health/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("draining state should not be ready: %d", rec.Code)
	}
}

func TestUnknownRoute(t *testing.T) {
	f := newFixture(t, nil)
	rec := doJSON(t, f.router, "GET", "/nope", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}
