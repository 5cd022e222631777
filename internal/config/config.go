// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds the application configuration.
type Config struct {
	DatabasePath       string
	ListenAddr         string
	ScraperURL         string
	QueueURL           string
	QueueName          string
	WindowDays         int
	NotifyDelaySeconds int
	StoreTimeoutSecs   int
	ScrapeConcurrency  int
	LogLevel           string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	scraperURL := os.Getenv("SCRAPER_URL")
	if scraperURL == "" {
		return nil, fmt.Errorf("SCRAPER_URL is required")
	}
	queueURL := os.Getenv("QUEUE_URL")
	if queueURL == "" {
		return nil, fmt.Errorf("QUEUE_URL is required")
	}

	cfg := &Config{
		DatabasePath: envOrDefault("DATABASE_PATH", "./data/rank_tracker.db"),
		ListenAddr:   envOrDefault("LISTEN_ADDR", ":8080"),
		ScraperURL:   scraperURL,
		QueueURL:     queueURL,
		QueueName:    envOrDefault("QUEUE_NAME", "rank-reports"),
		LogLevel:     envOrDefault("LOG_LEVEL", "info"),
	}

	var err error
	if cfg.WindowDays, err = envOrDefaultInt("WINDOW_DAYS", 30); err != nil {
		return nil, err
	}
	if cfg.WindowDays < 0 {
		return nil, fmt.Errorf("WINDOW_DAYS must not be negative")
	}
	if cfg.NotifyDelaySeconds, err = envOrDefaultInt("NOTIFY_DELAY_SECONDS", 5); err != nil {
		return nil, err
	}
	if cfg.StoreTimeoutSecs, err = envOrDefaultInt("STORE_TIMEOUT_SECONDS", 5); err != nil {
		return nil, err
	}
	if cfg.ScrapeConcurrency, err = envOrDefaultInt("SCRAPE_CONCURRENCY", 4); err != nil {
		return nil, err
	}

	return cfg, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}
