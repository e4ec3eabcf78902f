// v1
// dev/integration_sanity/main.go
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"time"
)

type ingestResponse struct {
	Success bool          `json:"success"`
	Message string        `json:"message"`
	Data    ingestOutcome `json:"data"`
}

type ingestOutcome struct {
	Broadcasted int    `json:"broadcasted"`
	LogSaved    bool   `json:"logSaved"`
	SaveReason  string `json:"saveReason"`
}

type stateResponse struct {
	Success  bool      `json:"success"`
	SourceID string    `json:"sourceId"`
	State    stateView `json:"state"`
}

type stateView struct {
	LastTemperature *float64 `json:"lastTemperature"`
	LastHumidity    *float64 `json:"lastHumidity"`
	Threshold       float64  `json:"threshold"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	logger, file, err := buildLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = file.Close()
	}()

	if err := run(ctx, logger); err != nil {
		logger.Error("integration_sanity_failed", slog.Any("err", err))
		os.Exit(1)
	}
	logger.Info("integration_sanity_complete")
}

func run(ctx context.Context, logger *slog.Logger) error {
	if _, err := os.Stat("docker-compose.yml"); err != nil {
		return fmt.Errorf("docker-compose.yml not found: %w", err)
	}

	if err := ensureServices(ctx, logger); err != nil {
		return err
	}

	if err := waitForHTTP(ctx, logger, "http://localhost:3000/health/ready", 2*time.Minute, 5*time.Second); err != nil {
		return fmt.Errorf("moldsense readiness: %w", err)
	}

	sourceID := "sanity-001"
	logSince := time.Now().UTC()

	// A fresh source has no baseline, so the first reading always persists.
	first, err := postReading(ctx, logger, sourceID, 24.5, 61.0)
	if err != nil {
		return err
	}
	if !first.Data.LogSaved || first.Data.SaveReason != "interval_elapsed" {
		return fmt.Errorf("first reading not persisted as expected: %+v", first.Data)
	}

	// A +10°C jump clears any sane threshold and must persist as a spike.
	spike, err := postReading(ctx, logger, sourceID, 34.5, 63.0)
	if err != nil {
		return err
	}
	if !spike.Data.LogSaved || spike.Data.SaveReason != "spike_detected" {
		return fmt.Errorf("spike reading not persisted as expected: %+v", spike.Data)
	}

	if err := verifyState(ctx, logger, sourceID, 34.5); err != nil {
		return err
	}

	if err := resetState(ctx, logger, sourceID); err != nil {
		return err
	}

	if err := ensureNoWriteFailures(ctx, logger, logSince, "moldsense"); err != nil {
		return err
	}

	return nil
}

func ensureServices(ctx context.Context, logger *slog.Logger) error {
	logger.Info("starting_services")
	cmd := exec.CommandContext(ctx, "docker", "compose", "up", "-d", "moldsense")
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("docker compose up: %w", err)
	}
	logger.Info("services_started")
	return nil
}

func waitForHTTP(ctx context.Context, logger *slog.Logger, url string, timeout, interval time.Duration) error {
	client := &http.Client{Timeout: 5 * time.Second}
	deadline := time.Now().Add(timeout)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if time.Now().After(deadline) {
			return errors.New("timeout waiting for http endpoint")
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}

		resp, err := client.Do(req)
		if err == nil && resp.StatusCode == http.StatusOK {
			_ = resp.Body.Close()
			logger.Info("http_endpoint_ready", slog.String("url", url))
			return nil
		}
		if resp != nil {
			_ = resp.Body.Close()
		}

		logger.Info("http_endpoint_wait", slog.String("url", url))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

func postReading(ctx context.Context, logger *slog.Logger, sourceID string, temperature, humidity float64) (ingestResponse, error) {
	var out ingestResponse
	body, err := json.Marshal(map[string]float64{
		"temperature": temperature,
		"humidity":    humidity,
	})
	if err != nil {
		return out, fmt.Errorf("marshal reading: %w", err)
	}

	url := "http://localhost:3000/api/temperature/data?sourceId=" + sourceID
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return out, fmt.Errorf("build ingest request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return out, fmt.Errorf("ingest request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return out, fmt.Errorf("ingest status %d: %s", resp.StatusCode, raw)
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("decode ingest response: %w", err)
	}
	logger.Info("reading_accepted",
		slog.String("sourceId", sourceID),
		slog.Float64("temperature", temperature),
		slog.Bool("logSaved", out.Data.LogSaved),
		slog.String("saveReason", out.Data.SaveReason),
	)
	return out, nil
}

func verifyState(ctx context.Context, logger *slog.Logger, sourceID string, expectedTemp float64) error {
	url := "http://localhost:3000/api/temperature/state?sourceId=" + sourceID
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build state request: %w", err)
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("state request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("state status %d", resp.StatusCode)
	}

	var payload stateResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("decode state response: %w", err)
	}
	if payload.SourceID != sourceID {
		return fmt.Errorf("unexpected sourceId %q", payload.SourceID)
	}
	if payload.State.LastTemperature == nil {
		return errors.New("state has no last temperature")
	}
	if math.Abs(*payload.State.LastTemperature-expectedTemp) > 0.0001 {
		return fmt.Errorf("last temperature mismatch: got %.4f want %.4f", *payload.State.LastTemperature, expectedTemp)
	}
	logger.Info("state_verified",
		slog.String("sourceId", sourceID),
		slog.Float64("lastTemperature", *payload.State.LastTemperature),
	)
	return nil
}

func resetState(ctx context.Context, logger *slog.Logger, sourceID string) error {
	url := "http://localhost:3000/api/temperature/reset?sourceId=" + sourceID
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return fmt.Errorf("build reset request: %w", err)
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("reset request: %w", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("reset status %d", resp.StatusCode)
	}
	logger.Info("state_reset", slog.String("sourceId", sourceID))
	return nil
}

func ensureNoWriteFailures(ctx context.Context, logger *slog.Logger, since time.Time, service string) error {
	sinceValue := since.Format(time.RFC3339)
	logger.Info("checking_logs", slog.String("service", service), slog.String("since", sinceValue))
	cmd := exec.CommandContext(ctx, "docker", "compose", "logs", "--no-color", "--since", sinceValue, service)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("docker compose logs %s: %w", service, err)
	}

	if bytes.Contains(bytes.ToLower(output), []byte("log_write_failed")) {
		return fmt.Errorf("found 'log_write_failed' in %s logs", service)
	}
	logger.Info("logs_clean", slog.String("service", service))
	return nil
}

func buildLogger() (*slog.Logger, *os.File, error) {
	path := filepath.Join("logs", "dev", "moldsense-integration.log")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create log directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}

	handler := slog.NewJSONHandler(io.MultiWriter(os.Stdout, file), &slog.HandlerOptions{Level: slog.LevelInfo})
	logger := slog.New(handler)
	logger.Info("logger_initialized", slog.String("log_path", path))
	return logger, file, nil
}
