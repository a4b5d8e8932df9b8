package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port        string
	DatabaseURL string
	RedisAddr   string
	NATSURL     string

	TherapyTypes []string

	GeneralVisitDuration time.Duration
	TherapyVisitDuration time.Duration
	CacheTTL             time.Duration
	StoreTimeout         time.Duration
	RetryMaxTries        int

	RateLimitPerMinute       int
	RateLimitBurst           int
	ClinicRateLimitPerMinute int
	ClinicRateLimitBurst     int
}

func Load() Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	return Config{
		Port:        port,
		DatabaseURL: os.Getenv("DB_DSN"),
		RedisAddr:   os.Getenv("REDIS_ADDR"),
		NATSURL:     os.Getenv("NATS_URL"),

		TherapyTypes: readStringList("THERAPY_TYPES"),

		GeneralVisitDuration: readDurationMinutes("GENERAL_VISIT_MINUTES", 15),
		TherapyVisitDuration: readDurationMinutes("THERAPY_VISIT_MINUTES", 30),
		CacheTTL:             readDurationSeconds("QUEUE_CACHE_TTL_SECONDS", 30),
		StoreTimeout:         readDurationSeconds("STORE_TIMEOUT_SECONDS", 5),
		RetryMaxTries:        readInt("STORE_RETRY_MAX_TRIES", 3),

		RateLimitPerMinute:       readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:           readInt("RATE_LIMIT_BURST", 30),
		ClinicRateLimitPerMinute: readInt("CLINIC_RATE_LIMIT_PER_MIN", 600),
		ClinicRateLimitBurst:     readInt("CLINIC_RATE_LIMIT_BURST", 120),
	}
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readDurationMinutes(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Minute
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func readStringList(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	var values []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			values = append(values, part)
		}
	}
	return values
}
