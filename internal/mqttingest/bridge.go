// v2
// internal/mqttingest/bridge.go

// Package mqttingest subscribes to a sensor topic on an MQTT broker and
// feeds each reading through the ingestion pipeline, so hardware sensors and
// the HTTP API share one processing path.
package mqttingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"moldsense/internal/monitor"
)

// Config points the bridge at a broker and topic. Topic may contain MQTT
// wildcards; the source id is taken from the payload, falling back to
// DefaultSourceID.
type Config struct {
	BrokerURL       string
	Topic           string
	ClientID        string
	DefaultSourceID string
	ConnectTimeout  time.Duration
}

// sensorMessage is the payload published by field sensors.
type sensorMessage struct {
	SourceID    string  `json:"sourceId"`
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	Timestamp   string  `json:"timestamp"`
}

// Bridge owns the broker connection. Start connects and subscribes; Stop
// disconnects.
type Bridge struct {
	cfg      Config
	pipeline *monitor.Pipeline
	client   mqtt.Client
	log      *slog.Logger
}

func New(cfg Config, pipeline *monitor.Pipeline, logger *slog.Logger) *Bridge {
	if cfg.ClientID == "" {
		cfg.ClientID = "moldsense-ingest"
	}
	if cfg.DefaultSourceID == "" {
		cfg.DefaultSourceID = "mqtt"
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Bridge{
		cfg:      cfg,
		pipeline: pipeline,
		log:      logger.With(slog.String("component", "mqtt_bridge")),
	}
}

// Start connects to the broker and subscribes. The subscription survives
// broker restarts via paho's auto-reconnect.
func (b *Bridge) Start(ctx context.Context) error {
	opts := mqtt.NewClientOptions().
		AddBroker(b.cfg.BrokerURL).
		SetClientID(b.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(b.cfg.ConnectTimeout).
		SetOnConnectHandler(func(c mqtt.Client) {
			if token := c.Subscribe(b.cfg.Topic, 1, b.handleMessage); token.Wait() && token.Error() != nil {
				b.log.Error("mqtt_subscribe_failed", slog.Any("err", token.Error()))
				return
			}
			b.log.Info("mqtt_subscribed", slog.String("topic", b.cfg.Topic))
		})

	b.client = mqtt.NewClient(opts)
	token := b.client.Connect()
	if !token.WaitTimeout(b.cfg.ConnectTimeout) {
		return fmt.Errorf("mqtt connect to %s timed out", b.cfg.BrokerURL)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}

	go func() {
		<-ctx.Done()
		b.Stop()
	}()
	return nil
}

// handleMessage decodes one sensor payload and runs it through the pipeline.
// Malformed payloads are logged and dropped; a pipeline error is a reading
// that reached the service but could not be persisted, also logged here.
func (b *Bridge) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	var payload sensorMessage
	if err := json.Unmarshal(msg.Payload(), &payload); err != nil {
		b.log.Warn("mqtt_payload_invalid",
			slog.String("topic", msg.Topic()),
			slog.Any("err", err),
		)
		return
	}

	sourceID := payload.SourceID
	if sourceID == "" {
		sourceID = b.cfg.DefaultSourceID
	}
	observedAt := time.Now()
	if payload.Timestamp != "" {
		if ts, err := time.Parse(time.RFC3339, payload.Timestamp); err == nil {
			observedAt = ts
		}
	}

	reading := monitor.Reading{
		Temperature: payload.Temperature,
		Humidity:    payload.Humidity,
		ObservedAt:  observedAt,
	}
	if _, err := b.pipeline.Ingest(context.Background(), sourceID, reading); err != nil {
		b.log.Error("mqtt_ingest_failed",
			slog.String("source_id", sourceID),
			slog.Any("err", err),
		)
	}
}

func (b *Bridge) Stop() {
	if b.client != nil && b.client.IsConnected() {
		b.client.Disconnect(250)
	}
}
