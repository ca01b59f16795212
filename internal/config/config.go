package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds runtime settings for the ticket service.
type Config struct {
	HTTPAddr string

	// Redis backs the waiting queue, the gate counter and the lock.
	RedisURL      string
	QueueKey      string
	GateKey       string
	Threshold     int64
	CounterTTL    time.Duration
	ReentryPolicy string

	// Distributed lock timings for batch admission.
	LockWait  time.Duration
	LockLease time.Duration

	// Kafka topics for admission events and deferred requests.
	KafkaBrokers  string
	ConsumerGroup string
	AdmittedTopic string
	RequestsTopic string
	DLQTopic      string

	// Replay target and retry budget for deferred requests.
	ReplayBaseURL string
	MaxRetries    int
	RetryBackoff  time.Duration

	// Admission cadence.
	AdmitInterval  time.Duration
	BatchSize      int64
	ReportInterval time.Duration

	// Request tail: wait estimate inputs for issued tickets.
	AvgProcessingSeconds int64

	// Dead-letter archive and fallback dump. Both optional.
	PostgresDSN   string
	SkipMigrate   bool
	MinIOEndpoint string
	MinIOAccess   string
	MinIOSecret   string
	MinIOBucket   string
	MinIOPrefix   string
	MinIOSSL      bool

	// CORS for the admin surface. Empty origins disable it.
	CORSOrigins     []string
	CORSMethods     []string
	CORSHeaders     []string
	CORSCredentials bool
	CORSMaxAge      int

	ServiceName  string
	Environment  string
	SettingsPath string
}

// FromEnv loads configuration with sensible defaults.
func FromEnv() Config {
	return Config{
		HTTPAddr: getenv("HTTP_ADDR", ":8080"),

		RedisURL:      getenv("REDIS_URL", "redis://localhost:6379/0"),
		QueueKey:      getenv("QUEUE_KEY", "user-queue"),
		GateKey:       getenv("GATE_KEY", "current_requests_count"),
		Threshold:     getenvInt64("CONCURRENCY_THRESHOLD", 100),
		CounterTTL:    getenvDuration("COUNTER_TTL", 5*time.Minute),
		ReentryPolicy: getenv("REENTRY_POLICY", "keep"),

		LockWait:  getenvDuration("LOCK_WAIT", 10*time.Second),
		LockLease: getenvDuration("LOCK_LEASE", 5*time.Second),

		KafkaBrokers:  getenv("KAFKA_BROKERS", "localhost:9092"),
		ConsumerGroup: getenv("CONSUMER_GROUP", "ticket-service"),
		AdmittedTopic: getenv("ADMITTED_TOPIC", "user-admitted-topic"),
		RequestsTopic: getenv("REQUESTS_TOPIC", "queue-backpressure-requests"),
		DLQTopic:      getenv("DLQ_TOPIC", "queue-backpressure-requests-dlq"),

		ReplayBaseURL: getenv("REPLAY_BASE_URL", "http://localhost:8080"),
		MaxRetries:    getenvInt("MAX_RETRIES", 3),
		RetryBackoff:  getenvDuration("RETRY_BACKOFF", time.Second),

		AdmitInterval:  getenvDuration("ADMIT_INTERVAL", time.Second),
		BatchSize:      getenvInt64("BATCH_SIZE", 10),
		ReportInterval: getenvDuration("REPORT_INTERVAL", 30*time.Second),

		AvgProcessingSeconds: getenvInt64("AVG_PROCESSING_SECONDS", 5),

		PostgresDSN:   getenv("POSTGRES_DSN", ""),
		SkipMigrate:   getenv("SKIP_MIGRATE", "") != "",
		MinIOEndpoint: getenv("MINIO_ENDPOINT", ""),
		MinIOAccess:   getenv("MINIO_ACCESS_KEY", ""),
		MinIOSecret:   getenv("MINIO_SECRET_KEY", ""),
		MinIOBucket:   getenv("MINIO_BUCKET", ""),
		MinIOPrefix:   getenv("MINIO_PREFIX", ""),
		MinIOSSL:      getenv("MINIO_SSL", "") != "",

		CORSOrigins:     splitNonEmpty(getenv("CORS_ORIGINS", "")),
		CORSMethods:     splitNonEmpty(getenv("CORS_METHODS", "")),
		CORSHeaders:     splitNonEmpty(getenv("CORS_HEADERS", "")),
		CORSCredentials: getenv("CORS_CREDENTIALS", "") != "",
		CORSMaxAge:      getenvInt("CORS_MAX_AGE", 0),

		ServiceName:  getenv("SERVICE_NAME", "ticket-service"),
		Environment:  getenv("ENVIRONMENT", "dev"),
		SettingsPath: getenv("SETTINGS_PATH", ""),
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getenvInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
