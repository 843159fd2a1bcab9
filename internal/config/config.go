package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type StoreBackend string

const (
	BackendPostgres StoreBackend = "postgres"
	BackendRedis    StoreBackend = "redis"
	BackendMemory   StoreBackend = "memory"
)

const defaultLineTZ = "Africa/Algiers"

type Config struct {
	StoreBackend      StoreBackend
	DatabaseURL       string
	RedisURL          string
	NATSURL           string
	NATSSubjectPrefix string
	LogNATSSubjects   bool
	MetricsAddr       string
	HTTPAddr          string
	Location          *time.Location
	TimetablePath     string
	StoreTimeout      time.Duration
	VoteRetries       int
	LogLevel          slog.Level
	LogFormat         string
}

func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := &Config{}

	switch b := StoreBackend(strings.ToLower(getenvDefault("STORE_BACKEND", string(BackendPostgres)))); b {
	case BackendPostgres, BackendRedis, BackendMemory:
		cfg.StoreBackend = b
	default:
		return nil, fmt.Errorf("invalid STORE_BACKEND: %q", b)
	}

	// Database URL: prefer DATABASE_URL / PG_DSN, else build from PG* vars
	cfg.DatabaseURL = firstNonEmpty(
		os.Getenv("DATABASE_URL"),
		os.Getenv("PG_DSN"),
	)
	if cfg.DatabaseURL == "" {
		host := getenvDefault("PGHOST", "127.0.0.1")
		port := getenvDefault("PGPORT", "5432")
		user := getenvDefault("PGUSER", "postgres")
		pass := os.Getenv("PGPASSWORD")
		db := getenvDefault("PGDATABASE", "railsight")
		sslmode := getenvDefault("PGSSLMODE", "disable")
		if pass != "" {
			cfg.DatabaseURL = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", urlEscape(user), urlEscape(pass), host, port, db, sslmode)
		} else {
			cfg.DatabaseURL = fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=%s", urlEscape(user), host, port, db, sslmode)
		}
	}

	cfg.RedisURL = getenvDefault("REDIS_URL", "redis://127.0.0.1:6379/0")

	// Empty NATS_URL disables event publishing.
	cfg.NATSURL = strings.TrimSpace(os.Getenv("NATS_URL"))
	cfg.NATSSubjectPrefix = strings.Trim(getenvDefault("NATS_SUBJECT_PREFIX", "railsight.reports"), ".")
	cfg.LogNATSSubjects = parseBool(os.Getenv("LOG_NATS_SUBJECTS"))

	// Metrics listen address (e.g., ":9102"). Empty disables the metrics server.
	cfg.MetricsAddr = os.Getenv("METRICS_ADDR")
	cfg.HTTPAddr = getenvDefault("HTTP_ADDR", ":8080")

	// Line time zone; the process TZ is only a fallback.
	tzName := firstNonEmpty(os.Getenv("LINE_TZ"), os.Getenv("TZ"), defaultLineTZ)
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		return nil, fmt.Errorf("invalid LINE_TZ: %v", err)
	}
	cfg.Location = loc

	// Empty uses the embedded timetable.
	cfg.TimetablePath = os.Getenv("TIMETABLE_PATH")

	if v := os.Getenv("STORE_TIMEOUT_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms <= 0 {
			return nil, fmt.Errorf("invalid STORE_TIMEOUT_MS: %q", v)
		}
		cfg.StoreTimeout = time.Duration(ms) * time.Millisecond
	} else {
		cfg.StoreTimeout = 3 * time.Second
	}

	if v := os.Getenv("VOTE_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid VOTE_RETRIES: %q", v)
		}
		cfg.VoteRetries = n
	} else {
		cfg.VoteRetries = 3
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(v)); err != nil {
			return nil, fmt.Errorf("invalid LOG_LEVEL: %q", v)
		}
	}
	switch f := strings.ToLower(getenvDefault("LOG_FORMAT", "text")); f {
	case "text", "json":
		cfg.LogFormat = f
	default:
		return nil, fmt.Errorf("invalid LOG_FORMAT: %q", f)
	}

	return cfg, nil
}

// NewLogger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func (c *Config) NewLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.LogLevel}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	}
	return false
}

func urlEscape(s string) string {
	// Minimal escape for DSN user/pass with special chars
	r := strings.NewReplacer("@", "%40", ":", "%3A", "/", "%2F", "?", "%3F", "#", "%23")
	return r.Replace(s)
}
