package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port      string
	ProjectID string

	RulesPath   string
	TargetsPath string

	GeminiAPIKey string
	GeminiModel  string

	ProxyBaseURL    string
	ProxyAPIKey     string
	ProxyRatePerSec float64

	Workers      int
	BrowserSlots int

	ItemTimeout     time.Duration
	PageLoadTimeout time.Duration
	SettleTimeout   time.Duration

	// Thresholds are fractions: 0.25 means a 25% move. Zero is a valid,
	// intentionally strict setting that sends every change to review.
	IncreaseThreshold float64
	DecreaseThreshold float64
	MinPlausiblePrice float64

	SelectorMaxMisses int
	MaxStoredRecords  int

	UserAgent string
}

func Load() (*Config, error) {
	cfg := &Config{
		Port:              getEnv("PORT", "8080"),
		ProjectID:         os.Getenv("GOOGLE_CLOUD_PROJECT"),
		RulesPath:         getEnv("RULES_CONFIG_PATH", "config/rules.json"),
		TargetsPath:       getEnv("TARGETS_PATH", "config/targets.json"),
		GeminiAPIKey:      os.Getenv("GEMINI_API_KEY"),
		GeminiModel:       getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
		ProxyBaseURL:      os.Getenv("RENDER_PROXY_URL"),
		ProxyAPIKey:       os.Getenv("RENDER_PROXY_KEY"),
		UserAgent:         getEnv("SCRAPE_USER_AGENT", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"),
		ProxyRatePerSec:   1.0,
		Workers:           8,
		BrowserSlots:      2,
		ItemTimeout:       2 * time.Minute,
		PageLoadTimeout:   30 * time.Second,
		SettleTimeout:     10 * time.Second,
		IncreaseThreshold: 0.30,
		DecreaseThreshold: 0.50,
		MinPlausiblePrice: 0.50,
		SelectorMaxMisses: 3,
		MaxStoredRecords:  5000,
	}

	if cfg.ProjectID == "" {
		slog.Warn("GOOGLE_CLOUD_PROJECT not set, extraction state will not be persisted")
	}
	if cfg.GeminiAPIKey == "" {
		slog.Warn("GEMINI_API_KEY not set, completion fallback will be disabled")
	}
	if cfg.ProxyBaseURL == "" {
		slog.Warn("RENDER_PROXY_URL not set, fetches escalate straight to a local browser session")
	}

	var err error
	if cfg.Workers, err = intEnv("BATCH_WORKERS", cfg.Workers); err != nil {
		return nil, err
	}
	if cfg.BrowserSlots, err = intEnv("BROWSER_SLOTS", cfg.BrowserSlots); err != nil {
		return nil, err
	}
	if cfg.SelectorMaxMisses, err = intEnv("SELECTOR_MAX_MISSES", cfg.SelectorMaxMisses); err != nil {
		return nil, err
	}
	if cfg.MaxStoredRecords, err = intEnv("MAX_STORED_RECORDS", cfg.MaxStoredRecords); err != nil {
		return nil, err
	}
	if cfg.ItemTimeout, err = durationEnv("ITEM_TIMEOUT", cfg.ItemTimeout); err != nil {
		return nil, err
	}
	if cfg.PageLoadTimeout, err = durationEnv("PAGE_LOAD_TIMEOUT", cfg.PageLoadTimeout); err != nil {
		return nil, err
	}
	if cfg.SettleTimeout, err = durationEnv("SETTLE_TIMEOUT", cfg.SettleTimeout); err != nil {
		return nil, err
	}
	if cfg.IncreaseThreshold, err = floatEnv("INCREASE_THRESHOLD", cfg.IncreaseThreshold); err != nil {
		return nil, err
	}
	if cfg.DecreaseThreshold, err = floatEnv("DECREASE_THRESHOLD", cfg.DecreaseThreshold); err != nil {
		return nil, err
	}
	if cfg.MinPlausiblePrice, err = floatEnv("MIN_PLAUSIBLE_PRICE", cfg.MinPlausiblePrice); err != nil {
		return nil, err
	}
	if cfg.ProxyRatePerSec, err = floatEnv("RENDER_PROXY_RATE", cfg.ProxyRatePerSec); err != nil {
		return nil, err
	}

	if cfg.Workers < 1 {
		return nil, fmt.Errorf("BATCH_WORKERS must be at least 1, got %d", cfg.Workers)
	}
	if cfg.BrowserSlots < 1 {
		return nil, fmt.Errorf("BROWSER_SLOTS must be at least 1, got %d", cfg.BrowserSlots)
	}
	if cfg.BrowserSlots > cfg.Workers {
		cfg.BrowserSlots = cfg.Workers
	}
	if cfg.IncreaseThreshold < 0 || cfg.DecreaseThreshold < 0 {
		return nil, fmt.Errorf("thresholds must be non-negative")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func intEnv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return parsed, nil
}

func floatEnv(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return parsed, nil
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return parsed, nil
}
