package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds all triage assistant configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	LogLevel string `json:"log_level"`
	DBPath   string `json:"db_path"`
	TempDir  string `json:"temp_dir"`

	InferenceBaseURL string `json:"inference_base_url"`
	InferenceAPIKey  string `json:"inference_api_key"`
	InferenceModel   string `json:"inference_model"`

	TrackerTransport string   `json:"tracker_transport"`
	TrackerCommand   string   `json:"tracker_command"`
	TrackerArgs      []string `json:"tracker_args"`
	TrackerURL       string   `json:"tracker_url"`

	SessionTTLMinutes int    `json:"session_ttl_minutes"`
	FilterExpr        string `json:"filter_expr"`

	SweepCron          string `json:"sweep_cron"`
	EventRetentionDays int    `json:"event_retention_days"`
}

func defaultConfig() Config {
	return Config{
		LogLevel:           "info",
		DBPath:             "file:" + filepath.Join(triageDir(), "triage.db"),
		TempDir:            os.TempDir(),
		InferenceBaseURL:   "https://api.openai.com/v1",
		InferenceModel:     "gpt-4o",
		TrackerTransport:   "stdio",
		SessionTTLMinutes:  45,
		SweepCron:          "0 3 * * *",
		EventRetentionDays: 7,
	}
}

func triageDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".triage"
	}
	return filepath.Join(home, ".triage")
}

func settingsPath() string {
	return filepath.Join(triageDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("TRIAGE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("TRIAGE_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("TRIAGE_TEMP_DIR"); v != "" {
		cfg.TempDir = v
	}
	if v := os.Getenv("TRIAGE_INFERENCE_BASE_URL"); v != "" {
		cfg.InferenceBaseURL = v
	}
	if v := os.Getenv("TRIAGE_INFERENCE_API_KEY"); v != "" {
		cfg.InferenceAPIKey = v
	}
	if v := os.Getenv("TRIAGE_INFERENCE_MODEL"); v != "" {
		cfg.InferenceModel = v
	}
	if v := os.Getenv("TRIAGE_TRACKER_TRANSPORT"); v != "" {
		cfg.TrackerTransport = v
	}
	if v := os.Getenv("TRIAGE_TRACKER_COMMAND"); v != "" {
		cfg.TrackerCommand = v
	}
	if v := os.Getenv("TRIAGE_TRACKER_ARGS"); v != "" {
		cfg.TrackerArgs = strings.Fields(v)
	}
	if v := os.Getenv("TRIAGE_TRACKER_URL"); v != "" {
		cfg.TrackerURL = v
	}
	if v := os.Getenv("TRIAGE_SESSION_TTL_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SessionTTLMinutes = n
		}
	}
	if v := os.Getenv("TRIAGE_FILTER_EXPR"); v != "" {
		cfg.FilterExpr = v
	}
	if v := os.Getenv("TRIAGE_SWEEP_CRON"); v != "" {
		cfg.SweepCron = v
	}
	if v := os.Getenv("TRIAGE_EVENT_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.EventRetentionDays = n
		}
	}

	return cfg
}

func (c Config) sessionTTL() time.Duration {
	return time.Duration(c.SessionTTLMinutes) * time.Minute
}

func (c Config) eventRetention() time.Duration {
	return time.Duration(c.EventRetentionDays) * 24 * time.Hour
}
