// v2
// internal/predict/service.go

// Package predict turns persisted reading history into a structured mold-risk
// assessment via a generative model.
package predict

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"moldsense/internal/apperr"
	"moldsense/internal/genai"
	"moldsense/internal/metrics"
	"moldsense/internal/monitor"
	"moldsense/internal/storage"
)

// UpdateTypePrediction labels live updates carrying a finished assessment.
const UpdateTypePrediction = "PREDICTION_RESULT"

// Result is the structured verdict parsed from the model output.
type Result struct {
	Conclusion  string `json:"conclusion"`
	GrowthScore int    `json:"growthScore"`
	RiskLevel   string `json:"riskLevel"`
	Advice      string `json:"advice"`
	Rationale   string `json:"rationale"`
}

// validate rejects verdicts that do not match the requested schema.
func (r Result) validate() error {
	if r.Conclusion == "" {
		return fmt.Errorf("missing conclusion")
	}
	if r.GrowthScore < 0 || r.GrowthScore > 10 {
		return fmt.Errorf("growthScore %d outside 0..10", r.GrowthScore)
	}
	switch r.RiskLevel {
	case "low", "medium", "high":
	default:
		return fmt.Errorf("riskLevel %q not one of low, medium, high", r.RiskLevel)
	}
	return nil
}

// History reads stored observations and persists finished assessments.
type History interface {
	RecentReadings(ctx context.Context, sourceID string, limit int) ([]monitor.Reading, error)
	SavePrediction(ctx context.Context, rec *storage.PredictionRecord) error
}

// Service orchestrates one assessment: prompt, completion, parse, persist,
// broadcast.
type Service struct {
	completer genai.Completer
	history   History
	sink      monitor.Broadcaster
	log       *slog.Logger
}

// NewService wires a Service. history and sink may be nil, disabling
// persistence and live fan-out respectively.
func NewService(completer genai.Completer, history History, sink monitor.Broadcaster, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{
		completer: completer,
		history:   history,
		sink:      sink,
		log:       logger.With(slog.String("component", "prediction")),
	}
}

// historyLimit bounds how many stored readings feed one prompt.
const historyLimit = 50

// AssessReadings runs one assessment over the supplied readings. The reading
// list must be non-empty.
func (s *Service) AssessReadings(ctx context.Context, sourceID string, readings []monitor.Reading) (Result, error) {
	if len(readings) == 0 {
		metrics.ObservePrediction("empty_history")
		return Result{}, apperr.New(apperr.KindEmptyHistory, "no readings to assess")
	}

	raw, err := s.completer.Complete(ctx, systemInstruction, buildPrompt(readings))
	if err != nil {
		metrics.ObservePrediction("completion_error")
		return Result{}, fmt.Errorf("generate assessment: %w", err)
	}

	result, err := parseResult(raw)
	if err != nil {
		metrics.ObservePrediction("parse_error")
		return Result{}, err
	}

	if s.history != nil {
		rec := &storage.PredictionRecord{
			SourceID:    sourceID,
			Conclusion:  result.Conclusion,
			GrowthScore: result.GrowthScore,
			RiskLevel:   result.RiskLevel,
			Advice:      result.Advice,
			Rationale:   result.Rationale,
			RawResponse: raw,
		}
		if err := s.history.SavePrediction(ctx, rec); err != nil {
			// The verdict is still usable; record the failure and move on.
			s.log.Error("prediction_persist_failed", slog.Any("err", err))
		}
	}

	if s.sink != nil {
		s.sink.Broadcast(ctx, monitor.LiveUpdate{
			Type:     UpdateTypePrediction,
			SourceID: sourceID,
			Data:     result,
		})
	}

	metrics.ObservePrediction(result.RiskLevel)
	s.log.Info("prediction_complete",
		slog.String("source_id", sourceID),
		slog.String("risk_level", result.RiskLevel),
		slog.Int("growth_score", result.GrowthScore),
	)
	return result, nil
}

// AssessHistory loads the source's persisted readings and assesses them.
func (s *Service) AssessHistory(ctx context.Context, sourceID string) (Result, error) {
	if s.history == nil {
		return Result{}, apperr.New(apperr.KindInternal, "no history store configured")
	}
	readings, err := s.history.RecentReadings(ctx, sourceID, historyLimit)
	if err != nil {
		return Result{}, err
	}
	return s.AssessReadings(ctx, sourceID, readings)
}

// parseResult extracts and validates the JSON verdict from raw model output.
// Failures carry the classification-parse kind so the API layer can surface
// the raw text for debugging.
func parseResult(raw string) (Result, error) {
	extracted := genai.ExtractJSON(raw)
	if extracted == "" {
		return Result{}, apperr.New(apperr.KindClassificationParse,
			fmt.Sprintf("no JSON object in model output: %s", clip(raw)))
	}
	var result Result
	if err := json.Unmarshal([]byte(extracted), &result); err != nil {
		return Result{}, apperr.Wrap(err, apperr.KindClassificationParse,
			fmt.Sprintf("model output is not valid JSON: %s", clip(raw)))
	}
	if err := result.validate(); err != nil {
		return Result{}, apperr.Wrap(err, apperr.KindClassificationParse, "model output failed validation")
	}
	return result, nil
}

func clip(s string) string {
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
