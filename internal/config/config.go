// Package config loads runtime settings from the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the memory subsystem.
type Config struct {
	// DBPath locates the embedded SQLite database. Ignored when
	// DatabaseURL selects the postgres backend.
	DBPath      string
	DatabaseURL string

	MetricsNamespace string

	// Default window parameters, overridable per request.
	WindowMaxSize      int
	WindowTimeWindow   time.Duration
	WindowMinRelevance float64

	// Entries older than this are eligible for consolidation.
	ConsolidateOlderThan time.Duration
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		DBPath:               envOrDefault("STRAND_MEMORY_DB", defaultDBPath()),
		DatabaseURL:          strings.TrimSpace(os.Getenv("DATABASE_URL")),
		MetricsNamespace:     envOrDefault("STRAND_MEMORY_METRICS_NAMESPACE", "strand_memory"),
		WindowMaxSize:        10,
		WindowTimeWindow:     30 * 24 * time.Hour,
		WindowMinRelevance:   0.2,
		ConsolidateOlderThan: 30 * 24 * time.Hour,
	}

	var err error
	cfg.WindowMaxSize, err = intFromEnv("STRAND_MEMORY_WINDOW_MAX_SIZE", cfg.WindowMaxSize)
	if err != nil {
		return Config{}, err
	}
	cfg.WindowTimeWindow, err = durationFromEnv("STRAND_MEMORY_WINDOW_TIME_WINDOW", cfg.WindowTimeWindow)
	if err != nil {
		return Config{}, err
	}
	cfg.WindowMinRelevance, err = floatFromEnv("STRAND_MEMORY_WINDOW_MIN_RELEVANCE", cfg.WindowMinRelevance)
	if err != nil {
		return Config{}, err
	}
	cfg.ConsolidateOlderThan, err = durationFromEnv("STRAND_MEMORY_CONSOLIDATE_OLDER_THAN", cfg.ConsolidateOlderThan)
	if err != nil {
		return Config{}, err
	}

	if cfg.WindowMaxSize <= 0 {
		return Config{}, fmt.Errorf("STRAND_MEMORY_WINDOW_MAX_SIZE must be positive")
	}
	if cfg.WindowMinRelevance < 0 || cfg.WindowMinRelevance > 1 {
		return Config{}, fmt.Errorf("STRAND_MEMORY_WINDOW_MIN_RELEVANCE must be in [0,1]")
	}
	if cfg.ConsolidateOlderThan <= 0 {
		return Config{}, fmt.Errorf("STRAND_MEMORY_CONSOLIDATE_OLDER_THAN must be positive")
	}
	return cfg, nil
}

func defaultDBPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".strand-memory", "memory.db")
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}
