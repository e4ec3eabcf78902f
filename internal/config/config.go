// v2
// internal/config/config.go
package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config captures all runtime settings required by the monitoring service.
// Values can be provided by environment variables, a properties file, or
// fall back to sensible defaults so the service can boot with minimal setup.
type Config struct {
	// ListenAddress defines the TCP address used by the HTTP server.
	ListenAddress string
	// LogFilePath is the absolute or relative path to the log file.
	LogFilePath string
	// HTTPReadTimeout bounds the time to read incoming requests.
	HTTPReadTimeout time.Duration
	// HTTPWriteTimeout bounds the time to write responses.
	HTTPWriteTimeout time.Duration
	// ShutdownTimeout limits graceful shutdown attempts.
	ShutdownTimeout time.Duration
	// PropertiesPath records the path used to load property values.
	PropertiesPath string

	// DatastorePath points at the YAML file selecting the database driver.
	// Empty means the built-in SQLite default.
	DatastorePath string

	// ThresholdDegrees is the default spike threshold for new sources.
	ThresholdDegrees float64
	// PersistInterval is the default save interval for new sources.
	PersistInterval time.Duration

	// GenAIAPIKey authenticates against the generative-language API.
	GenAIAPIKey string
	// GenAIBaseURL overrides the API endpoint, mainly for tests.
	GenAIBaseURL string
	// GenAIModel selects the completion model.
	GenAIModel string
	// GenAITimeout bounds one completion request.
	GenAITimeout time.Duration

	// AuthRequired gates the API behind bearer-token verification.
	AuthRequired bool
	// IdentityAPIKey authenticates against the identity provider.
	IdentityAPIKey string
	// IdentityBaseURL overrides the identity endpoint, mainly for tests.
	IdentityBaseURL string
	// IdentityTokenURL overrides the token-refresh endpoint.
	IdentityTokenURL string

	// KafkaEnabled mirrors live updates onto a Kafka topic.
	KafkaEnabled bool
	// KafkaBrokers lists the bootstrap brokers for the live-update mirror.
	KafkaBrokers []string
	// KafkaLiveTopic names the topic carrying mirrored live updates.
	KafkaLiveTopic string

	// MQTTEnabled bridges a sensor topic into the ingestion pipeline.
	MQTTEnabled bool
	// MQTTBrokerURL is the broker address, e.g. tcp://mosquitto:1883.
	MQTTBrokerURL string
	// MQTTTopic is the sensor topic to subscribe to.
	MQTTTopic string
}

const (
	defaultListenAddress   = ":3000"
	defaultLogFile         = "logs/moldsense.log"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 15 * time.Second
	defaultShutdown        = 5 * time.Second
	defaultPropsPath       = "moldsense.properties"
	defaultThreshold       = 5.0
	defaultPersistInterval = 30 * time.Minute
	defaultGenAIModel      = "gemini-2.0-flash"
	defaultGenAITimeout    = 60 * time.Second
	defaultKafkaBrokers    = "kafka:9092"
	defaultKafkaLiveTopic  = "moldsense.live"
	defaultMQTTBroker      = "tcp://mosquitto:1883"
	defaultMQTTTopic       = "sensors/readings"
)

// Load resolves configuration by layering defaults, an optional properties
// file, and finally environment variables. The properties file location can
// be overridden with MOLDSENSE_PROPERTIES_PATH.
func Load() (Config, error) {
	cfg := Config{
		ListenAddress:    defaultListenAddress,
		LogFilePath:      filepath.Clean(defaultLogFile),
		HTTPReadTimeout:  defaultReadTimeout,
		HTTPWriteTimeout: defaultWriteTimeout,
		ShutdownTimeout:  defaultShutdown,
		ThresholdDegrees: defaultThreshold,
		PersistInterval:  defaultPersistInterval,
		GenAIModel:       defaultGenAIModel,
		GenAITimeout:     defaultGenAITimeout,
		KafkaBrokers:     splitAndTrim(defaultKafkaBrokers),
		KafkaLiveTopic:   defaultKafkaLiveTopic,
		MQTTBrokerURL:    defaultMQTTBroker,
		MQTTTopic:        defaultMQTTTopic,
	}

	propsPath := strings.TrimSpace(os.Getenv("MOLDSENSE_PROPERTIES_PATH"))
	if propsPath == "" {
		propsPath = defaultPropsPath
	}
	cfg.PropertiesPath = propsPath

	if err := applyProperties(&cfg, propsPath); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return Config{}, err
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func applyProperties(cfg *Config, path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() {
		// Close errors are ignored because configuration loading has
		// already completed and there is no logger available at this
		// stage of initialization.
		_ = f.Close()
	}()

	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" || strings.HasPrefix(raw, "#") || strings.HasPrefix(raw, ";") {
			continue
		}
		parts := strings.SplitN(raw, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid properties entry on line %d", line)
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if err := setProperty(cfg, key, value); err != nil {
			return fmt.Errorf("property %s: %w", key, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read properties: %w", err)
	}
	return nil
}

func setProperty(cfg *Config, key, value string) error {
	switch key {
	case "listen_address":
		if value == "" {
			return errors.New("listen_address cannot be empty")
		}
		cfg.ListenAddress = value
	case "log_path":
		if value == "" {
			return errors.New("log_path cannot be empty")
		}
		cfg.LogFilePath = filepath.Clean(value)
	case "http_read_timeout_ms":
		d, err := parsePositiveMillis(value)
		if err != nil {
			return err
		}
		cfg.HTTPReadTimeout = d
	case "http_write_timeout_ms":
		d, err := parsePositiveMillis(value)
		if err != nil {
			return err
		}
		cfg.HTTPWriteTimeout = d
	case "shutdown_timeout_ms":
		d, err := parsePositiveMillis(value)
		if err != nil {
			return err
		}
		cfg.ShutdownTimeout = d
	case "datastore_path":
		cfg.DatastorePath = filepath.Clean(value)
	case "threshold_degrees":
		t, err := parsePositiveFloat(value)
		if err != nil {
			return err
		}
		cfg.ThresholdDegrees = t
	case "persist_interval_minutes":
		m, err := parsePositiveFloat(value)
		if err != nil {
			return err
		}
		cfg.PersistInterval = time.Duration(m * float64(time.Minute))
	case "genai_api_key":
		cfg.GenAIAPIKey = value
	case "genai_base_url":
		cfg.GenAIBaseURL = value
	case "genai_model":
		if value == "" {
			return errors.New("genai_model cannot be empty")
		}
		cfg.GenAIModel = value
	case "genai_timeout_ms":
		d, err := parsePositiveMillis(value)
		if err != nil {
			return err
		}
		cfg.GenAITimeout = d
	case "auth_required":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid auth_required: %w", err)
		}
		cfg.AuthRequired = b
	case "identity_api_key":
		cfg.IdentityAPIKey = value
	case "identity_base_url":
		cfg.IdentityBaseURL = value
	case "identity_token_url":
		cfg.IdentityTokenURL = value
	case "kafka_enabled":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid kafka_enabled: %w", err)
		}
		cfg.KafkaEnabled = b
	case "kafka_brokers":
		brokers := splitAndTrim(value)
		if len(brokers) == 0 {
			return errors.New("kafka_brokers cannot be empty")
		}
		cfg.KafkaBrokers = brokers
	case "kafka_live_topic":
		if value == "" {
			return errors.New("kafka_live_topic cannot be empty")
		}
		cfg.KafkaLiveTopic = value
	case "mqtt_enabled":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid mqtt_enabled: %w", err)
		}
		cfg.MQTTEnabled = b
	case "mqtt_broker_url":
		if value == "" {
			return errors.New("mqtt_broker_url cannot be empty")
		}
		cfg.MQTTBrokerURL = value
	case "mqtt_topic":
		if value == "" {
			return errors.New("mqtt_topic cannot be empty")
		}
		cfg.MQTTTopic = value
	default:
		// Unknown keys are ignored to keep the loader forward-compatible.
	}
	return nil
}

func applyEnv(cfg *Config) error {
	if v, ok := lookupEnvTrimmed("MOLDSENSE_LISTEN_ADDRESS"); ok {
		if v == "" {
			return errors.New("MOLDSENSE_LISTEN_ADDRESS cannot be empty")
		}
		cfg.ListenAddress = v
	}
	if v, ok := lookupEnvTrimmed("MOLDSENSE_LOG_PATH"); ok {
		if v == "" {
			return errors.New("MOLDSENSE_LOG_PATH cannot be empty")
		}
		cfg.LogFilePath = filepath.Clean(v)
	}
	if v, ok := lookupEnvTrimmed("MOLDSENSE_HTTP_READ_TIMEOUT_MS"); ok {
		d, err := parsePositiveMillis(v)
		if err != nil {
			return fmt.Errorf("MOLDSENSE_HTTP_READ_TIMEOUT_MS: %w", err)
		}
		cfg.HTTPReadTimeout = d
	}
	if v, ok := lookupEnvTrimmed("MOLDSENSE_HTTP_WRITE_TIMEOUT_MS"); ok {
		d, err := parsePositiveMillis(v)
		if err != nil {
			return fmt.Errorf("MOLDSENSE_HTTP_WRITE_TIMEOUT_MS: %w", err)
		}
		cfg.HTTPWriteTimeout = d
	}
	if v, ok := lookupEnvTrimmed("MOLDSENSE_SHUTDOWN_TIMEOUT_MS"); ok {
		d, err := parsePositiveMillis(v)
		if err != nil {
			return fmt.Errorf("MOLDSENSE_SHUTDOWN_TIMEOUT_MS: %w", err)
		}
		cfg.ShutdownTimeout = d
	}
	if v, ok := lookupEnvTrimmed("MOLDSENSE_DATASTORE_PATH"); ok {
		cfg.DatastorePath = filepath.Clean(v)
	}
	if v, ok := lookupEnvTrimmed("MOLDSENSE_THRESHOLD_DEGREES"); ok {
		t, err := parsePositiveFloat(v)
		if err != nil {
			return fmt.Errorf("MOLDSENSE_THRESHOLD_DEGREES: %w", err)
		}
		cfg.ThresholdDegrees = t
	}
	if v, ok := lookupEnvTrimmed("MOLDSENSE_PERSIST_INTERVAL_MINUTES"); ok {
		m, err := parsePositiveFloat(v)
		if err != nil {
			return fmt.Errorf("MOLDSENSE_PERSIST_INTERVAL_MINUTES: %w", err)
		}
		cfg.PersistInterval = time.Duration(m * float64(time.Minute))
	}
	if v, ok := lookupEnvTrimmed("MOLDSENSE_GENAI_API_KEY"); ok {
		cfg.GenAIAPIKey = v
	} else if v, ok := lookupEnvTrimmed("API_KEY"); ok {
		cfg.GenAIAPIKey = v
	}
	if v, ok := lookupEnvTrimmed("MOLDSENSE_GENAI_BASE_URL"); ok {
		cfg.GenAIBaseURL = v
	}
	if v, ok := lookupEnvTrimmed("MOLDSENSE_GENAI_MODEL"); ok {
		if v == "" {
			return errors.New("MOLDSENSE_GENAI_MODEL cannot be empty")
		}
		cfg.GenAIModel = v
	}
	if v, ok := lookupEnvTrimmed("MOLDSENSE_AUTH_REQUIRED"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("MOLDSENSE_AUTH_REQUIRED: %w", err)
		}
		cfg.AuthRequired = b
	}
	if v, ok := lookupEnvTrimmed("MOLDSENSE_IDENTITY_API_KEY"); ok {
		cfg.IdentityAPIKey = v
	} else if v, ok := lookupEnvTrimmed("FIREBASE_API_KEY"); ok {
		cfg.IdentityAPIKey = v
	}
	if v, ok := lookupEnvTrimmed("MOLDSENSE_IDENTITY_BASE_URL"); ok {
		cfg.IdentityBaseURL = v
	}
	if v, ok := lookupEnvTrimmed("MOLDSENSE_IDENTITY_TOKEN_URL"); ok {
		cfg.IdentityTokenURL = v
	}
	if v, ok := lookupEnvTrimmed("MOLDSENSE_KAFKA_ENABLED"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("MOLDSENSE_KAFKA_ENABLED: %w", err)
		}
		cfg.KafkaEnabled = b
	}
	if v, ok := lookupEnvTrimmed("MOLDSENSE_KAFKA_BROKERS"); ok {
		brokers := splitAndTrim(v)
		if len(brokers) == 0 {
			return errors.New("MOLDSENSE_KAFKA_BROKERS cannot be empty")
		}
		cfg.KafkaBrokers = brokers
	} else if v, ok := lookupEnvTrimmed("KAFKA_BROKERS"); ok {
		brokers := splitAndTrim(v)
		if len(brokers) == 0 {
			return errors.New("KAFKA_BROKERS cannot be empty")
		}
		cfg.KafkaBrokers = brokers
	}
	if v, ok := lookupEnvTrimmed("MOLDSENSE_KAFKA_LIVE_TOPIC"); ok {
		if v == "" {
			return errors.New("MOLDSENSE_KAFKA_LIVE_TOPIC cannot be empty")
		}
		cfg.KafkaLiveTopic = v
	}
	if v, ok := lookupEnvTrimmed("MOLDSENSE_MQTT_ENABLED"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("MOLDSENSE_MQTT_ENABLED: %w", err)
		}
		cfg.MQTTEnabled = b
	}
	if v, ok := lookupEnvTrimmed("MOLDSENSE_MQTT_BROKER_URL"); ok {
		if v == "" {
			return errors.New("MOLDSENSE_MQTT_BROKER_URL cannot be empty")
		}
		cfg.MQTTBrokerURL = v
	}
	if v, ok := lookupEnvTrimmed("MOLDSENSE_MQTT_TOPIC"); ok {
		if v == "" {
			return errors.New("MOLDSENSE_MQTT_TOPIC cannot be empty")
		}
		cfg.MQTTTopic = v
	}
	return nil
}

func lookupEnvTrimmed(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func splitAndTrim(raw string) []string {
	fields := strings.Split(raw, ",")
	out := make([]string, 0, len(fields))
	for _, field := range fields {
		trimmed := strings.TrimSpace(field)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parsePositiveMillis(v string) (time.Duration, error) {
	if strings.TrimSpace(v) == "" {
		return 0, errors.New("value cannot be empty")
	}
	ms, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid integer: %w", err)
	}
	if ms <= 0 {
		return 0, errors.New("value must be greater than zero")
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func parsePositiveFloat(v string) (float64, error) {
	if strings.TrimSpace(v) == "" {
		return 0, errors.New("value cannot be empty")
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number: %w", err)
	}
	if f <= 0 {
		return 0, errors.New("value must be greater than zero")
	}
	return f, nil
}
