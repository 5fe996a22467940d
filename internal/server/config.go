// Package server assembles the HTTP surface: configuration, routing and
// middleware around the engine's handlers.
package server

import (
	"os"
	"strconv"
	"time"
)

// Config holds server configuration from environment variables.
type Config struct {
	Port        string
	Concurrency int

	// RateLimit caps queue admissions per second; zero disables it.
	RateLimit      float64
	RateLimitBurst int

	RescheduleOnFailure bool

	// NatsURL enables the event forwarder when non-empty.
	NatsURL string

	OTelEnabled  bool
	OTelEndpoint string

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// LoadConfig reads configuration from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		Port:                getEnv("AGENTD_PORT", "8080"),
		Concurrency:         getEnvInt("AGENTD_CONCURRENCY", 5),
		RateLimit:           getEnvFloat("AGENTD_RATE_LIMIT", 0),
		RateLimitBurst:      getEnvInt("AGENTD_RATE_LIMIT_BURST", 1),
		RescheduleOnFailure: getEnvBool("AGENTD_RESCHEDULE_ON_FAILURE", false),
		NatsURL:             getEnv("AGENTD_NATS_URL", ""),
		OTelEnabled:         getEnvBool("AGENTD_OTEL_ENABLED", false),
		OTelEndpoint:        getEnv("AGENTD_OTEL_ENDPOINT", "localhost:4317"),
		ReadTimeout:         getEnvDuration("AGENTD_READ_TIMEOUT", 10*time.Second),
		WriteTimeout:        getEnvDuration("AGENTD_WRITE_TIMEOUT", 30*time.Second),
		IdleTimeout:         getEnvDuration("AGENTD_IDLE_TIMEOUT", 120*time.Second),
		ShutdownTimeout:     getEnvDuration("AGENTD_SHUTDOWN_TIMEOUT", 15*time.Second),
	}
}

func getEnv(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
