// v2
// internal/httpapi/handlers.go
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"moldsense/internal/apperr"
	"moldsense/internal/identity"
	"moldsense/internal/monitor"
	"moldsense/internal/predict"
	"moldsense/internal/storage"
)

// Pacing between items when replaying bulk or simulated feeds, emulating a
// live sensor stream.
const (
	bulkPace     = 100 * time.Millisecond
	simulatePace = 200 * time.Millisecond
)

const defaultSourceID = "default"

// HistoryStore is the slice of the datastore the HTTP layer reads from.
type HistoryStore interface {
	ListLogEntries(ctx context.Context, sourceID string, limit int) ([]storage.LogRecord, error)
	ListPredictions(ctx context.Context, sourceID string, limit int) ([]storage.PredictionRecord, error)
	UpsertUser(ctx context.Context, rec storage.UserRecord) error
}

// Predictor produces mold-risk assessments.
type Predictor interface {
	AssessReadings(ctx context.Context, sourceID string, readings []monitor.Reading) (predict.Result, error)
	AssessHistory(ctx context.Context, sourceID string) (predict.Result, error)
}

// Authenticator exposes the account operations proxied to the identity
// provider.
type Authenticator interface {
	SignUp(ctx context.Context, email, password, name string) (identity.Session, error)
	SignIn(ctx context.Context, email, password string) (identity.Session, error)
	Refresh(ctx context.Context, refreshToken string) (identity.Session, error)
}

// Handlers bundles dependencies for HTTP endpoints.
type Handlers struct {
	Pipeline  *monitor.Pipeline
	History   HistoryStore
	Predictor Predictor
	Auth      Authenticator
	Log       *slog.Logger
}

// sourceID resolves the state identity for a request: the authenticated
// caller's uid when present, otherwise an explicit sourceId query parameter,
// otherwise the shared default.
func (h *Handlers) sourceID(r *http.Request) string {
	if p, ok := PrincipalFrom(r.Context()); ok && p.UserID != "" {
		return p.UserID
	}
	if id := r.URL.Query().Get("sourceId"); id != "" {
		return id
	}
	return defaultSourceID
}

// recordCaller mirrors the authenticated account into the users table on
// first sight. Failures are logged and do not block ingestion.
func (h *Handlers) recordCaller(ctx context.Context, r *http.Request) {
	if h.History == nil {
		return
	}
	p, ok := PrincipalFrom(r.Context())
	if !ok || p.Email == "" {
		return
	}
	err := h.History.UpsertUser(ctx, storage.UserRecord{
		ID:    p.UserID,
		Email: p.Email,
		Name:  p.Name,
	})
	if err != nil {
		h.Log.Error("user_upsert_failed", slog.String("uid", p.UserID), slog.Any("err", err))
	}
}

func decodeBody(r *http.Request, dst any) error {
	err := json.NewDecoder(r.Body).Decode(dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// readingInput is one temperature/humidity pair from a request body.
// Pointers distinguish absent fields from zero values.
type readingInput struct {
	Temperature *float64 `json:"temperature"`
	Humidity    *float64 `json:"humidity"`
}

func (in readingInput) reading() (monitor.Reading, error) {
	if in.Temperature == nil || in.Humidity == nil {
		return monitor.Reading{}, apperr.New(apperr.KindInvalidInput,
			"body must contain numeric 'temperature' and 'humidity'")
	}
	return monitor.Reading{Temperature: *in.Temperature, Humidity: *in.Humidity}, nil
}

// IngestReading handles POST /api/temperature/data.
func (h *Handlers) IngestReading(w http.ResponseWriter, r *http.Request) {
	var in readingInput
	if err := decodeBody(r, &in); err != nil {
		writeError(h.Log, w, "invalid request body", apperr.Wrap(err, apperr.KindInvalidInput, "temperature and humidity must be numbers"))
		return
	}
	reading, err := in.reading()
	if err != nil {
		writeError(h.Log, w, "incomplete reading", err)
		return
	}

	h.recordCaller(r.Context(), r)

	outcome, err := h.Pipeline.Ingest(r.Context(), h.sourceID(r), reading)
	if err != nil {
		writeError(h.Log, w, "failed to process reading", err)
		return
	}

	message := "reading accepted and pushed to live subscribers"
	if outcome.Persisted {
		message = "reading accepted and saved to log (" + string(outcome.PersistReason) + ")"
	}
	writeJSON(h.Log, w, http.StatusOK, map[string]any{
		"success": true,
		"message": message,
		"data":    outcome,
	})
}

type batchItemResponse struct {
	Index   int              `json:"index"`
	Outcome *monitor.Outcome `json:"outcome,omitempty"`
	Error   string           `json:"error,omitempty"`
}

// IngestBulk handles POST /api/temperature/bulk. Items that fail are
// reported in their slot while the rest of the batch continues.
func (h *Handlers) IngestBulk(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Data []readingInput `json:"data"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(h.Log, w, "invalid request body", apperr.Wrap(err, apperr.KindInvalidInput, "body must contain an array 'data'"))
		return
	}
	if len(body.Data) == 0 {
		writeError(h.Log, w, "invalid request body", apperr.New(apperr.KindInvalidInput, "body must contain a non-empty array 'data'"))
		return
	}

	readings := make([]monitor.Reading, 0, len(body.Data))
	for _, in := range body.Data {
		reading, err := in.reading()
		if err != nil {
			writeError(h.Log, w, "incomplete reading in batch", err)
			return
		}
		readings = append(readings, reading)
	}

	h.recordCaller(r.Context(), r)

	items := h.Pipeline.RunBatch(r.Context(), h.sourceID(r), readings, bulkPace)
	results := make([]batchItemResponse, 0, len(items))
	processed := 0
	for _, item := range items {
		res := batchItemResponse{Index: item.Index, Outcome: item.Outcome}
		if item.Err != nil {
			res.Error = apperr.DetailOf(item.Err)
		} else {
			processed++
		}
		results = append(results, res)
	}

	writeJSON(h.Log, w, http.StatusOK, map[string]any{
		"success": true,
		"message": strconv.Itoa(processed) + " readings processed",
		"results": results,
	})
}

// SimulateFeed handles POST /api/temperature/simulate.
func (h *Handlers) SimulateFeed(w http.ResponseWriter, r *http.Request) {
	body := struct {
		Count        *int     `json:"count"`
		BaseTemp     *float64 `json:"baseTemp"`
		BaseHumidity *float64 `json:"baseHumidity"`
		IncludeSpike *bool    `json:"includeSpike"`
	}{}
	if err := decodeBody(r, &body); err != nil {
		writeError(h.Log, w, "invalid request body", apperr.Wrap(err, apperr.KindInvalidInput, "simulation parameters must be numbers"))
		return
	}

	spec := monitor.SimulationSpec{
		Count:           5,
		BaseTemperature: 28,
		BaseHumidity:    70,
		IncludeSpike:    true,
	}
	if body.Count != nil {
		if *body.Count <= 0 {
			writeError(h.Log, w, "invalid simulation", apperr.New(apperr.KindInvalidInput, "count must be a positive integer"))
			return
		}
		spec.Count = *body.Count
	}
	if body.BaseTemp != nil {
		spec.BaseTemperature = *body.BaseTemp
	}
	if body.BaseHumidity != nil {
		spec.BaseHumidity = *body.BaseHumidity
	}
	if body.IncludeSpike != nil {
		spec.IncludeSpike = *body.IncludeSpike
	}

	h.recordCaller(r.Context(), r)

	items, summary := h.Pipeline.Simulate(r.Context(), h.sourceID(r), spec, simulatePace)
	writeJSON(h.Log, w, http.StatusOK, map[string]any{
		"success": true,
		"message": "simulation finished: " + strconv.Itoa(summary.TotalProcessed) + " processed, " +
			strconv.Itoa(summary.TotalSaved) + " saved, " +
			strconv.Itoa(summary.SpikeDetected) + " spike detected",
		"summary": summary,
		"results": items,
	})
}

// GetState handles GET /api/temperature/state.
func (h *Handlers) GetState(w http.ResponseWriter, r *http.Request) {
	sourceID := h.sourceID(r)
	writeJSON(h.Log, w, http.StatusOK, map[string]any{
		"success":  true,
		"sourceId": sourceID,
		"state":    h.Pipeline.States().Snapshot(sourceID),
	})
}

// UpdateConfig handles POST /api/temperature/config. Each provided field is
// validated and applied independently.
func (h *Handlers) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Threshold           *float64 `json:"threshold"`
		SaveIntervalMinutes *float64 `json:"saveIntervalMinutes"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(h.Log, w, "invalid request body", apperr.Wrap(err, apperr.KindInvalidInput, "threshold and saveIntervalMinutes must be numbers"))
		return
	}

	sourceID := h.sourceID(r)
	states := h.Pipeline.States()
	updated := map[string]float64{}

	if body.Threshold != nil {
		if err := states.SetThreshold(sourceID, *body.Threshold); err != nil {
			writeError(h.Log, w, "invalid configuration", err)
			return
		}
		updated["threshold"] = *body.Threshold
	}
	if body.SaveIntervalMinutes != nil {
		if err := states.SetInterval(sourceID, *body.SaveIntervalMinutes); err != nil {
			writeError(h.Log, w, "invalid configuration", err)
			return
		}
		updated["saveIntervalMinutes"] = *body.SaveIntervalMinutes
	}

	writeJSON(h.Log, w, http.StatusOK, map[string]any{
		"success":      true,
		"message":      "configuration updated",
		"updated":      updated,
		"currentState": states.Snapshot(sourceID),
	})
}

// ResetState handles POST /api/temperature/reset.
func (h *Handlers) ResetState(w http.ResponseWriter, r *http.Request) {
	sourceID := h.sourceID(r)
	state := h.Pipeline.States().Reset(sourceID)
	h.Log.Info("state_reset", slog.String("source", sourceID))
	writeJSON(h.Log, w, http.StatusOK, map[string]any{
		"success": true,
		"message": "state reset",
		"state":   state,
	})
}

// historyLimit parses an optional limit query parameter.
func historyLimit(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

// ListLogs handles GET /api/temperature/history.
func (h *Handlers) ListLogs(w http.ResponseWriter, r *http.Request) {
	if h.History == nil {
		writeError(h.Log, w, "history unavailable", apperr.New(apperr.KindInternal, "no datastore configured"))
		return
	}
	logs, err := h.History.ListLogEntries(r.Context(), h.sourceID(r), historyLimit(r, 100))
	if err != nil {
		writeError(h.Log, w, "failed to load history", err)
		return
	}
	writeJSON(h.Log, w, http.StatusOK, map[string]any{
		"success": true,
		"count":   len(logs),
		"logs":    logs,
	})
}

// Predict handles POST /api/predict, assessing readings supplied in the body.
func (h *Handlers) Predict(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Logs []readingInput `json:"logs"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(h.Log, w, "invalid request body", apperr.Wrap(err, apperr.KindInvalidInput, "body must contain an array 'logs'"))
		return
	}
	if len(body.Logs) == 0 {
		writeError(h.Log, w, "invalid request body", apperr.New(apperr.KindInvalidInput, "body must contain a non-empty array 'logs'"))
		return
	}

	readings := make([]monitor.Reading, 0, len(body.Logs))
	for _, in := range body.Logs {
		reading, err := in.reading()
		if err != nil {
			writeError(h.Log, w, "incomplete reading in logs", err)
			return
		}
		readings = append(readings, reading)
	}

	result, err := h.Predictor.AssessReadings(r.Context(), h.sourceID(r), readings)
	if err != nil {
		writeError(h.Log, w, "failed to generate assessment", err)
		return
	}
	writeJSON(h.Log, w, http.StatusOK, result)
}

// PredictFromHistory handles GET /api/predict/from-history, assessing the
// source's persisted readings.
func (h *Handlers) PredictFromHistory(w http.ResponseWriter, r *http.Request) {
	result, err := h.Predictor.AssessHistory(r.Context(), h.sourceID(r))
	if err != nil {
		writeError(h.Log, w, "failed to generate assessment", err)
		return
	}
	writeJSON(h.Log, w, http.StatusOK, result)
}

// ListPredictions handles GET /api/predict/history.
func (h *Handlers) ListPredictions(w http.ResponseWriter, r *http.Request) {
	if h.History == nil {
		writeError(h.Log, w, "history unavailable", apperr.New(apperr.KindInternal, "no datastore configured"))
		return
	}
	preds, err := h.History.ListPredictions(r.Context(), h.sourceID(r), historyLimit(r, 20))
	if err != nil {
		writeError(h.Log, w, "failed to load predictions", err)
		return
	}
	writeJSON(h.Log, w, http.StatusOK, map[string]any{
		"success":     true,
		"count":       len(preds),
		"predictions": preds,
	})
}

// Register handles POST /api/auth/register.
func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Name     string `json:"name"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(h.Log, w, "invalid request body", apperr.Wrap(err, apperr.KindInvalidInput, "malformed JSON"))
		return
	}
	if body.Email == "" || body.Password == "" || body.Name == "" {
		writeError(h.Log, w, "registration failed",
			apperr.New(apperr.KindInvalidInput, "email, password and name cannot be empty"))
		return
	}

	session, err := h.Auth.SignUp(r.Context(), body.Email, body.Password, body.Name)
	if err != nil {
		writeError(h.Log, w, "registration failed", err)
		return
	}
	if h.History != nil {
		if err := h.History.UpsertUser(r.Context(), storage.UserRecord{
			ID:    session.UserID,
			Email: session.Email,
			Name:  body.Name,
		}); err != nil {
			h.Log.Error("user_upsert_failed", slog.String("uid", session.UserID), slog.Any("err", err))
		}
	}
	writeJSON(h.Log, w, http.StatusCreated, map[string]any{
		"message": "user successfully registered",
		"user":    session,
	})
}

// Login handles POST /api/auth/login.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(h.Log, w, "invalid request body", apperr.Wrap(err, apperr.KindInvalidInput, "malformed JSON"))
		return
	}
	if body.Email == "" || body.Password == "" {
		writeError(h.Log, w, "login failed",
			apperr.New(apperr.KindInvalidInput, "email and password must be provided"))
		return
	}

	session, err := h.Auth.SignIn(r.Context(), body.Email, body.Password)
	if err != nil {
		writeError(h.Log, w, "login failed", err)
		return
	}
	writeJSON(h.Log, w, http.StatusOK, map[string]any{
		"message":      "login successful",
		"uid":          session.UserID,
		"idToken":      session.IDToken,
		"refreshToken": session.RefreshToken,
		"expiresIn":    session.ExpiresIn,
	})
}

// RefreshToken handles POST /api/auth/refresh.
func (h *Handlers) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(h.Log, w, "invalid request body", apperr.Wrap(err, apperr.KindInvalidInput, "malformed JSON"))
		return
	}
	if body.RefreshToken == "" {
		writeError(h.Log, w, "refresh failed",
			apperr.New(apperr.KindInvalidInput, "refreshToken must be provided"))
		return
	}

	session, err := h.Auth.Refresh(r.Context(), body.RefreshToken)
	if err != nil {
		writeError(h.Log, w, "refresh failed", err)
		return
	}
	writeJSON(h.Log, w, http.StatusOK, map[string]any{
		"message":      "token refreshed",
		"uid":          session.UserID,
		"idToken":      session.IDToken,
		"refreshToken": session.RefreshToken,
		"expiresIn":    session.ExpiresIn,
	})
}
