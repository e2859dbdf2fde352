package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	DatabaseURL    string
	HTTPAddr       string
	Location       *time.Location
	LogLevel       string
	Env            string // dev|prod
	SentryDSN      string
	TelegramToken  string // empty disables parent notifications
	ScanTimeout    time.Duration
	ImportDir      string // where uploaded workbooks are spooled
	ReconcileEvery time.Duration
}

func Load() (*Config, error) {
	tz := getenv("TZ", "Europe/Moscow")
	loc, err := time.LoadLocation(tz)
	if err != nil {
		loc = time.Local
	}

	scanTimeout, err := parseDuration(getenv("SCAN_TIMEOUT", "5s"))
	if err != nil {
		return nil, fmt.Errorf("SCAN_TIMEOUT: %w", err)
	}
	reconcile, err := parseDuration(getenv("OCCUPANCY_RECONCILE_EVERY", "24h"))
	if err != nil {
		return nil, fmt.Errorf("OCCUPANCY_RECONCILE_EVERY: %w", err)
	}

	cfg := &Config{
		DatabaseURL:    mustEnv("DATABASE_URL"),
		HTTPAddr:       getenv("HTTP_ADDR", ":8080"),
		Location:       loc,
		LogLevel:       getenv("LOG_LEVEL", "info"),
		Env:            getenv("ENV", "dev"),
		SentryDSN:      os.Getenv("SENTRY_DSN"),
		TelegramToken:  os.Getenv("TELEGRAM_TOKEN"),
		ScanTimeout:    scanTimeout,
		ImportDir:      getenv("IMPORT_DIR", "/tmp/attendance-imports"),
		ReconcileEvery: reconcile,
	}
	return cfg, nil
}

func mustEnv(k string) string {
	v := os.Getenv(k)
	if v == "" {
		panic("required env " + k + " is empty")
	}
	return v
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func parseDuration(s string) (time.Duration, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(s)
}
