package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all artifactflow server configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DBPath            string `json:"db_path"`
	LogLevel          string `json:"log_level"`
	WorkflowTimeoutMs int    `json:"workflow_timeout_ms"`
	RenderTimeoutMs   int    `json:"render_timeout_ms"`
	RenderConcurrency int    `json:"render_concurrency"`
	MaxRetries        int    `json:"max_retries"`
	JanitorSchedule   string `json:"janitor_schedule"`
}

func defaultConfig() Config {
	return Config{
		LogLevel:          "info",
		WorkflowTimeoutMs: 60_000,
		RenderTimeoutMs:   30_000,
		RenderConcurrency: 4,
		MaxRetries:        3,
	}
}

func artifactflowDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".artifactflow"
	}
	return filepath.Join(home, ".artifactflow")
}

func settingsPath() string {
	return filepath.Join(artifactflowDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("ARTIFACTFLOW_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("ARTIFACTFLOW_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("ARTIFACTFLOW_WORKFLOW_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.WorkflowTimeoutMs = n
		}
	}
	if v := os.Getenv("ARTIFACTFLOW_RENDER_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RenderTimeoutMs = n
		}
	}
	if v := os.Getenv("ARTIFACTFLOW_RENDER_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RenderConcurrency = n
		}
	}
	if v := os.Getenv("ARTIFACTFLOW_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxRetries = n
		}
	}
	if v := os.Getenv("ARTIFACTFLOW_JANITOR_SCHEDULE"); v != "" {
		cfg.JanitorSchedule = v
	}

	return cfg
}

func (c Config) workflowTimeout() time.Duration {
	return time.Duration(c.WorkflowTimeoutMs) * time.Millisecond
}

func (c Config) renderTimeout() time.Duration {
	return time.Duration(c.RenderTimeoutMs) * time.Millisecond
}
