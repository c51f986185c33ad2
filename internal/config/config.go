// Package config loads service configuration from environment variables.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Configuration holds all runtime configuration for both services.
type Configuration struct {
	Service       ServiceConfig
	Recall        RecallConfig
	Store         StoreConfig
	Relay         RelayConfig
	Kafka         KafkaConfig
	Observability ObservabilityConfig
}

// ServiceConfig identifies the service and its listen addresses.
type ServiceConfig struct {
	Principal string
	HTTPPort  string
}

// RecallConfig configures the remote recording service client.
type RecallConfig struct {
	BaseURL            string
	APIKey             string
	WebhookURL         string
	RecordingAttempts  int
	RecordingInterval  time.Duration
	ArtifactRounds     int
	ArtifactInterval   time.Duration
	RequestTimeout     time.Duration
}

// StoreConfig selects and configures the keyed store.
type StoreConfig struct {
	Driver string // "sqlite" or "memory"
	Path   string
}

// RelayConfig configures the broadcast relay and the push path to it.
type RelayConfig struct {
	Port    string
	PushURL string
}

// KafkaConfig configures the integration-event publisher.
type KafkaConfig struct {
	Enabled         bool
	Brokers         []string
	TopicTranscript string
	TopicSession    string
	Principal       string
}

// ObservabilityConfig configures logging and the metrics server.
type ObservabilityConfig struct {
	LogLevel    string
	MetricsPort string
}

// Load reads configuration from the environment, falling back to defaults
// for missing or invalid values.
func Load() *Configuration {
	principal := envOrDefault("SERVICE_PRINCIPAL", "svc-recording-ingress")

	return &Configuration{
		Service: ServiceConfig{
			Principal: principal,
			HTTPPort:  envOrDefault("HTTP_PORT", "3000"),
		},
		Recall: RecallConfig{
			BaseURL:           envOrDefault("RECALL_API_BASE", "https://us-east-1.recall.ai/api/v1"),
			APIKey:            envOrDefault("RECALL_API_KEY", ""),
			WebhookURL:        envOrDefault("RECALL_WEBHOOK_URL", ""),
			RecordingAttempts: envOrDefaultInt("RECALL_RECORDING_ATTEMPTS", 20),
			RecordingInterval: envOrDefaultDuration("RECALL_RECORDING_INTERVAL", 3*time.Second),
			ArtifactRounds:    envOrDefaultInt("RECALL_ARTIFACT_ROUNDS", 10),
			ArtifactInterval:  envOrDefaultDuration("RECALL_ARTIFACT_INTERVAL", 5*time.Second),
			RequestTimeout:    envOrDefaultDuration("RECALL_REQUEST_TIMEOUT", 30*time.Second),
		},
		Store: StoreConfig{
			Driver: envOrDefault("STORE_DRIVER", "sqlite"),
			Path:   envOrDefault("STORE_PATH", "ingress.db"),
		},
		Relay: RelayConfig{
			Port:    envOrDefault("RELAY_PORT", "4000"),
			PushURL: envOrDefault("RELAY_PUSH_URL", "http://localhost:4000/send"),
		},
		Kafka: KafkaConfig{
			Enabled:         envOrDefaultBool("KAFKA_ENABLED", false),
			Brokers:         envOrDefaultList("KAFKA_BROKERS", nil),
			TopicTranscript: envOrDefault("KAFKA_TOPIC_TRANSCRIPT", "meeting.transcript.fragment"),
			TopicSession:    envOrDefault("KAFKA_TOPIC_SESSION", "meeting.session.updated"),
			Principal:       envOrDefault("KAFKA_PRINCIPAL", principal),
		},
		Observability: ObservabilityConfig{
			LogLevel:    envOrDefault("LOG_LEVEL", "info"),
			MetricsPort: envOrDefault("METRICS_PORT", "9090"),
		},
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envOrDefaultBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(strings.ToLower(v))
	if err != nil {
		return def
	}
	return b
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func envOrDefaultList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
