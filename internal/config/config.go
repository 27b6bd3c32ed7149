package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig captures all tunable parameters for the consensus
// service processes. Values are primarily loaded from environment
// variables with sane defaults so the binaries can run locally without
// excessive setup.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RedisAddr          string
	RedisPassword      string
	ReputationCacheTTL time.Duration

	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroup   string

	PGDSN string

	// GraceOffset is how long after a ride's event time the ride becomes
	// eligible for a survey. The product has run with both 24h and 15m;
	// it is deliberately a config value, not a constant.
	GraceOffset    time.Duration
	DeadlineWindow time.Duration
	ReminderAfter  time.Duration
	SweepInterval  time.Duration

	LogLevel      string
	RunMigrations bool
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:           ":8080",
		ReadTimeout:        5 * time.Second,
		WriteTimeout:       10 * time.Second,
		IdleTimeout:        120 * time.Second,
		ShutdownTimeout:    15 * time.Second,
		ReputationCacheTTL: 5 * time.Minute,
		KafkaTopic:         "ride-notifications",
		KafkaGroup:         "ride-consensus-notifier",
		GraceOffset:        24 * time.Hour,
		DeadlineWindow:     48 * time.Hour,
		ReminderAfter:      24 * time.Hour,
		SweepInterval:      10 * time.Minute,
		LogLevel:           "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setDurationFromEnv(&cfg.ReputationCacheTTL, "REPUTATION_CACHE_TTL", &errs)

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")
	setStringFromEnv(&cfg.KafkaGroup, "KAFKA_GROUP")

	cfg.PGDSN = os.Getenv("PG_DSN")

	setDurationFromEnv(&cfg.GraceOffset, "SURVEY_GRACE_OFFSET", &errs)
	setDurationFromEnv(&cfg.DeadlineWindow, "SURVEY_DEADLINE_WINDOW", &errs)
	setDurationFromEnv(&cfg.ReminderAfter, "SURVEY_REMINDER_AFTER", &errs)
	setDurationFromEnv(&cfg.SweepInterval, "SURVEY_SWEEP_INTERVAL", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	if cfg.DeadlineWindow <= 0 {
		errs = append(errs, fmt.Errorf("SURVEY_DEADLINE_WINDOW must be > 0"))
	}
	if cfg.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("SURVEY_SWEEP_INTERVAL must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
