package config

import "time"

// Config holds all runtime configuration for the pipeline. It is built once
// in main from flags/environment and passed by reference into constructors;
// nothing reads configuration ambiently.
type Config struct {
	// HTTP
	Addr     string
	AuthUser string
	AuthPass string

	// Persistence
	DBPath      string
	QueueDBPath string
	StoragePath string

	// Vision provider selection
	Provider     string // "ollama", "gemini" or "claude"
	OllamaURL    string
	OllamaModel  string
	GeminiAPIKey string
	GeminiModel  string
	ClaudeAPIKey string
	ClaudeModel  string

	// Worker
	Concurrency  int
	ParseTimeout time.Duration

	// External-call rate limit shared across all workers
	RateLimit  int
	RateWindow time.Duration

	// Queue retry policy and retention
	MaxAttempts     int
	BackoffBase     time.Duration
	RetainCompleted int
	RetainFailed    int
}

// Default returns a Config populated with the documented defaults. Flag
// parsing in main overrides individual fields.
func Default() *Config {
	return &Config{
		Addr:            ":8080",
		DBPath:          "receiptpipe.db",
		QueueDBPath:     "receiptpipe-queue.db",
		StoragePath:     "./receipts",
		Provider:        "gemini",
		OllamaURL:       "http://localhost:11434",
		OllamaModel:     "llava",
		GeminiModel:     "gemini-2.5-pro",
		ClaudeModel:     "claude-sonnet-4-20250514",
		Concurrency:     5,
		ParseTimeout:    45 * time.Second,
		RateLimit:       10,
		RateWindow:      60 * time.Second,
		MaxAttempts:     3,
		BackoffBase:     2000 * time.Millisecond,
		RetainCompleted: 100,
		RetainFailed:    50,
	}
}
