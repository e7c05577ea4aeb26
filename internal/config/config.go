package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	ServiceName string
	ServicePort int
	Database    DatabaseConfig
	RabbitMQ    RabbitMQConfig
	Validation  ValidationConfig
	Anomaly     AnomalyConfig
	Notifier    NotifierConfig
	WebSocket   WebSocketConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL             string
	MaxConns        int32
	MaxConnIdleTime time.Duration
}

// RabbitMQConfig holds RabbitMQ connection and queue settings
type RabbitMQConfig struct {
	URL               string
	ConnectionName    string
	IngestExchange    string
	IngestQueue       string
	IngestRoutingKey  string
	EventsExchange    string
	AnomalyRoutingKey string
	DLQQueue          string
	PrefetchCount     int
}

// ValidationConfig holds validation settings
type ValidationConfig struct {
	TimestampToleranceMinutes int
}

// AnomalyConfig holds anomaly detection settings
type AnomalyConfig struct {
	WindowCapacity  int
	MinDataPoints   int
	MaxKeys         int
	Trees           int
	Contamination   float64
	Seed            int64
	HighThreshold   float64
	MediumThreshold float64
	// ExpectedRanges is "sensor=min:max" pairs separated by ';'.
	ExpectedRanges string
}

// NotifierConfig holds the detection loop settings
type NotifierConfig struct {
	Interval      time.Duration
	RecentLimit   int
	MaxConcurrent int
	CycleTimeout  time.Duration
}

// WebSocketConfig holds per-connection transport settings
type WebSocketConfig struct {
	SendBuffer     int
	MaxMessageSize int64
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		ServiceName: getEnv("SERVICE_NAME", "machine-telemetry-worker"),
		ServicePort: getEnvAsInt("SERVICE_PORT", 8081),
		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxConns:        int32(getEnvAsInt("DATABASE_MAX_CONNS", 10)),
			MaxConnIdleTime: getEnvAsDuration("DATABASE_MAX_CONN_IDLE_TIME", 5*time.Minute),
		},
		RabbitMQ: RabbitMQConfig{
			URL:               getEnv("RABBITMQ_URL", ""),
			ConnectionName:    getEnv("RABBITMQ_CONNECTION_NAME", "machine-telemetry-worker"),
			IngestExchange:    getEnv("RABBITMQ_INGEST_EXCHANGE", "telemetry.ingest.exchange"),
			IngestQueue:       getEnv("RABBITMQ_INGEST_QUEUE", "telemetry.ingest.queue"),
			IngestRoutingKey:  getEnv("RABBITMQ_INGEST_ROUTING_KEY", "sensor.reading.raw"),
			EventsExchange:    getEnv("RABBITMQ_EVENTS_EXCHANGE", "telemetry.events.exchange"),
			AnomalyRoutingKey: getEnv("RABBITMQ_ANOMALY_ROUTING_KEY", "machine.anomaly.detected"),
			DLQQueue:          getEnv("RABBITMQ_DLQ_QUEUE", "telemetry.ingest.dlq"),
			PrefetchCount:     getEnvAsInt("RABBITMQ_PREFETCH", 10),
		},
		Validation: ValidationConfig{
			TimestampToleranceMinutes: getEnvAsInt("VALIDATION_TIMESTAMP_TOLERANCE_MINUTES", 10080),
		},
		Anomaly: AnomalyConfig{
			WindowCapacity:  getEnvAsInt("ANOMALY_WINDOW_CAPACITY", 100),
			MinDataPoints:   getEnvAsInt("ANOMALY_MIN_DATA_POINTS", 10),
			MaxKeys:         getEnvAsInt("ANOMALY_MAX_KEYS", 10000),
			Trees:           getEnvAsInt("ANOMALY_TREES", 100),
			Contamination:   getEnvAsFloat("ANOMALY_CONTAMINATION", 0.1),
			Seed:            int64(getEnvAsInt("ANOMALY_SEED", 42)),
			HighThreshold:   getEnvAsFloat("ANOMALY_SEVERITY_HIGH", -0.5),
			MediumThreshold: getEnvAsFloat("ANOMALY_SEVERITY_MEDIUM", -0.2),
			ExpectedRanges:  getEnv("ANOMALY_EXPECTED_RANGES", ""),
		},
		Notifier: NotifierConfig{
			Interval:      getEnvAsDuration("NOTIFIER_INTERVAL", 5*time.Second),
			RecentLimit:   getEnvAsInt("NOTIFIER_RECENT_LIMIT", 10),
			MaxConcurrent: getEnvAsInt("NOTIFIER_MAX_CONCURRENT", 16),
			CycleTimeout:  getEnvAsDuration("NOTIFIER_CYCLE_TIMEOUT", 4*time.Second),
		},
		WebSocket: WebSocketConfig{
			SendBuffer:     getEnvAsInt("WS_SEND_BUFFER", 256),
			MaxMessageSize: int64(getEnvAsInt("WS_MAX_MESSAGE_SIZE", 4096)),
		},
	}

	// Validate required fields
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required but not set in environment variables")
	}
	if cfg.RabbitMQ.URL == "" {
		return nil, fmt.Errorf("RABBITMQ_URL is required but not set in environment variables")
	}
	if cfg.Anomaly.MinDataPoints > cfg.Anomaly.WindowCapacity {
		return nil, fmt.Errorf("ANOMALY_MIN_DATA_POINTS (%d) must not exceed ANOMALY_WINDOW_CAPACITY (%d)",
			cfg.Anomaly.MinDataPoints, cfg.Anomaly.WindowCapacity)
	}
	if cfg.Anomaly.HighThreshold > cfg.Anomaly.MediumThreshold {
		return nil, fmt.Errorf("ANOMALY_SEVERITY_HIGH must be lower than ANOMALY_SEVERITY_MEDIUM")
	}
	if _, err := ParseRanges(cfg.Anomaly.ExpectedRanges); err != nil {
		return nil, fmt.Errorf("invalid ANOMALY_EXPECTED_RANGES: %w", err)
	}

	return cfg, nil
}

// Range is a [Min, Max] pair parsed from configuration
type Range struct {
	Min float64
	Max float64
}

// ParseRanges parses "temperature=20:60;vibration=0.1:0.5" into a map keyed by
// lower-cased sensor type. An empty string yields an empty map.
func ParseRanges(raw string) (map[string]Range, error) {
	ranges := make(map[string]Range)
	for _, entry := range strings.Split(raw, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, bounds, ok := strings.Cut(entry, "=")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("entry %q: expected sensor=min:max", entry)
		}
		lo, hi, ok := strings.Cut(bounds, ":")
		if !ok {
			return nil, fmt.Errorf("entry %q: expected min:max", entry)
		}
		minValue, err := strconv.ParseFloat(strings.TrimSpace(lo), 64)
		if err != nil {
			return nil, fmt.Errorf("entry %q: invalid min: %w", entry, err)
		}
		maxValue, err := strconv.ParseFloat(strings.TrimSpace(hi), 64)
		if err != nil {
			return nil, fmt.Errorf("entry %q: invalid max: %w", entry, err)
		}
		if minValue > maxValue {
			return nil, fmt.Errorf("entry %q: min greater than max", entry)
		}
		ranges[strings.ToLower(strings.TrimSpace(name))] = Range{Min: minValue, Max: maxValue}
	}
	return ranges, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil || value <= 0 {
		return defaultValue
	}
	return value
}
