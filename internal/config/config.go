// Package config loads runtime settings from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/example/gatortaxi/internal/ride/domain"
)

// Config holds every setting of the CLI and the HTTP server.
type Config struct {
	OutputFile      string
	Capacity        int
	HaltOnDuplicate bool
	HTTPAddr        string
	LogLevel        string
	TraceEnabled    bool
	RedisAddr       string
	JournalKey      string
	JournalMax      int
	NATSURL         string
	EventsSubject   string
	JWTSecret       string
	ReadRPS         float64
	ReadBurst       float64
	WriteRPS        float64
	WriteBurst      float64
	IdempotencyTTL  time.Duration
}

// Load reads the configuration, falling back to defaults for unset or
// unparsable values.
func Load() Config {
	return Config{
		OutputFile:      getenv("GATOR_OUTPUT_FILE", "output.txt"),
		Capacity:        parseIntEnv("GATOR_CAPACITY", domain.DefaultCapacity),
		HaltOnDuplicate: parseBoolEnv("GATOR_HALT_ON_DUPLICATE", true),
		HTTPAddr:        getenv("GATOR_HTTP_ADDR", ":8080"),
		LogLevel:        getenv("GATOR_LOG_LEVEL", "info"),
		TraceEnabled:    parseBoolEnv("GATOR_TRACE", false),
		RedisAddr:       os.Getenv("REDIS_ADDR"),
		JournalKey:      os.Getenv("GATOR_JOURNAL_KEY"),
		JournalMax:      parseIntEnv("GATOR_JOURNAL_MAX", 1000),
		NATSURL:         os.Getenv("NATS_URL"),
		EventsSubject:   getenv("GATOR_EVENTS_SUBJECT", "ride.events"),
		JWTSecret:       os.Getenv("JWT_SECRET"),
		ReadRPS:         parseFloatEnv("RATE_READ_RPS", 50),
		ReadBurst:       parseFloatEnv("RATE_READ_BURST", 100),
		WriteRPS:        parseFloatEnv("RATE_WRITE_RPS", 10),
		WriteBurst:      parseFloatEnv("RATE_WRITE_BURST", 20),
		IdempotencyTTL:  parseDurationEnv("GATOR_IDEMPOTENCY_TTL", 24*time.Hour),
	}
}

func getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func parseIntEnv(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && parsed > 0 {
			return parsed
		}
	}
	return fallback
}

func parseBoolEnv(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return parsed
		}
	}
	return fallback
}

func parseFloatEnv(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && parsed >= 0 {
			return parsed
		}
	}
	return fallback
}

func parseDurationEnv(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if parsed, err := time.ParseDuration(strings.TrimSpace(v)); err == nil && parsed > 0 {
			return parsed
		}
	}
	return fallback
}
