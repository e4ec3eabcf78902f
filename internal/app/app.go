// v3
// internal/app/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"log/slog"

	"moldsense/internal/config"
	"moldsense/internal/genai"
	"moldsense/internal/httpapi"
	"moldsense/internal/hub"
	"moldsense/internal/identity"
	"moldsense/internal/monitor"
	"moldsense/internal/mqttingest"
	"moldsense/internal/predict"
	"moldsense/internal/storage"
	"moldsense/internal/stream"
)

// Application wires configuration, logging, persistence, the ingestion
// pipeline, live broadcasting, and graceful shutdown handling for the
// monitoring service.
type Application struct {
	cfg     config.Config
	logger  *slog.Logger
	logFile *os.File
	server  *http.Server
	health  *httpapi.HealthState
	store   *storage.Store
	live    *hub.Hub
	kafka   *stream.KafkaSink
	bridge  *mqttingest.Bridge
}

// New prepares a fully wired service instance using the supplied
// configuration. It validates basic settings, ensures the log directory
// exists, opens the datastore, and assembles the HTTP router.
func New(cfg config.Config) (*Application, error) {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		return nil, errors.New("listen address cannot be empty")
	}
	logPath := filepath.Clean(cfg.LogFilePath)
	if logPath == "" {
		return nil, errors.New("log file path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	lf, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	logger := newLogger(lf)
	health := httpapi.NewHealthState()

	dsCfg, err := storage.LoadConfig(cfg.DatastorePath)
	if err != nil {
		_ = lf.Close()
		return nil, fmt.Errorf("load datastore config: %w", err)
	}
	store, err := storage.Open(dsCfg, logger.With(slog.String("component", "storage")))
	if err != nil {
		_ = lf.Close()
		return nil, fmt.Errorf("open datastore: %w", err)
	}
	logger.Info("datastore_ready", slog.String("driver", dsCfg.Driver))

	states := monitor.NewStateStoreWithDefaults(cfg.ThresholdDegrees, cfg.PersistInterval)

	live := hub.New(logger.With(slog.String("component", "live_hub")))
	var sink monitor.Broadcaster = live
	var kafkaSink *stream.KafkaSink
	if cfg.KafkaEnabled {
		kafkaSink = stream.NewKafkaSink(stream.KafkaConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaLiveTopic,
		}, logger.With(slog.String("component", "kafka_mirror")))
		sink = stream.Multicast{live, kafkaSink}
		logger.Info("kafka_mirror_enabled",
			slog.String("topic", cfg.KafkaLiveTopic),
			slog.String("brokers", strings.Join(cfg.KafkaBrokers, ",")),
		)
	}

	pipeline := monitor.NewPipeline(states, sink, store,
		logger.With(slog.String("component", "pipeline")))

	completer := genai.NewClient(genai.Config{
		BaseURL: cfg.GenAIBaseURL,
		APIKey:  cfg.GenAIAPIKey,
		Model:   cfg.GenAIModel,
		Timeout: cfg.GenAITimeout,
	}, logger.With(slog.String("component", "genai")))
	predictor := predict.NewService(completer, store, sink,
		logger.With(slog.String("component", "predict")))

	idClient := identity.NewClient(identity.ClientConfig{
		BaseURL:  cfg.IdentityBaseURL,
		TokenURL: cfg.IdentityTokenURL,
		APIKey:   cfg.IdentityAPIKey,
	}, logger.With(slog.String("component", "identity")))
	var verifier identity.Verifier
	if cfg.AuthRequired {
		verifier = idClient
	}
	logger.Info("auth_gate", slog.Bool("required", cfg.AuthRequired))

	handlers := &httpapi.Handlers{
		Pipeline:  pipeline,
		History:   store,
		Predictor: predictor,
		Auth:      idClient,
		Log:       logger,
	}
	router := httpapi.NewRouter(logger, health, handlers, httpapi.RouterConfig{
		Verifier:    verifier,
		LiveHandler: live.HandleConnection,
	})
	server := httpapi.NewServer(cfg, router)

	var bridge *mqttingest.Bridge
	if cfg.MQTTEnabled {
		bridge = mqttingest.New(mqttingest.Config{
			BrokerURL: cfg.MQTTBrokerURL,
			Topic:     cfg.MQTTTopic,
		}, pipeline, logger.With(slog.String("component", "mqtt_bridge")))
	}

	return &Application{
		cfg:     cfg,
		logger:  logger,
		logFile: lf,
		server:  server,
		health:  health,
		store:   store,
		live:    live,
		kafka:   kafkaSink,
		bridge:  bridge,
	}, nil
}

// Logger exposes the configured slog logger so callers (such as main)
// can emit structured logs after initialization.
func (a *Application) Logger() *slog.Logger {
	return a.logger
}

// Run blocks until the context is cancelled or the HTTP server
// terminates unexpectedly. It manages readiness probes and graceful
// shutdown behaviour.
func (a *Application) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go a.live.Run(ctx)

	if a.bridge != nil {
		if err := a.bridge.Start(ctx); err != nil {
			return fmt.Errorf("mqtt bridge start: %w", err)
		}
		a.logger.Info("mqtt_bridge_started",
			slog.String("broker", a.cfg.MQTTBrokerURL),
			slog.String("topic", a.cfg.MQTTTopic),
		)
	}

	httpCh := make(chan error, 1)
	go func() {
		a.health.SetReady(true)
		a.logger.Info("http_server_listen", slog.String("address", a.cfg.ListenAddress))
		err := a.server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpCh <- err
			return
		}
		httpCh <- err
	}()

	var httpErr error
	for {
		select {
		case err := <-httpCh:
			httpErr = err
			httpCh = nil
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("http_server_error", slog.Any("err", err))
			} else {
				a.logger.Info("server_closed")
			}
			cancel()
		case <-ctx.Done():
			a.logger.Info("shutdown_signal")
			a.health.SetReady(false)
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
			if err := a.server.Shutdown(shutdownCtx); err != nil {
				if !errors.Is(err, context.Canceled) {
					a.logger.Error("server_shutdown_failed", slog.Any("err", err))
					if httpErr == nil {
						httpErr = fmt.Errorf("shutdown: %w", err)
					}
				}
			}
			shutdownCancel()

			if httpCh != nil {
				if err := <-httpCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
					a.logger.Error("server_shutdown_error", slog.Any("err", err))
					if httpErr == nil {
						httpErr = err
					}
				}
			}

			if httpErr != nil && !errors.Is(httpErr, http.ErrServerClosed) {
				return httpErr
			}
			a.logger.Info("shutdown_complete")
			return nil
		}
	}
}

// Close flushes and closes resources owned by the application instance.
func (a *Application) Close() error {
	if a.bridge != nil {
		a.bridge.Stop()
		a.bridge = nil
	}
	if a.kafka != nil {
		if err := a.kafka.Close(); err != nil {
			a.logger.Warn("kafka_mirror_close_failed", slog.Any("err", err))
		}
		a.kafka = nil
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			return err
		}
		a.store = nil
	}
	if a.logFile == nil {
		return nil
	}
	if err := a.logFile.Close(); err != nil {
		return err
	}
	a.logFile = nil
	return nil
}
