package vision

import (
	"context"
	"fmt"
	"net/http"

	"github.com/snapwise/receiptpipe/internal/config"
)

// Provider is a single vision-capable model backend. Generate sends a PNG
// image plus a prompt and returns the model's raw text output.
type Provider interface {
	Generate(ctx context.Context, png []byte, prompt string) (string, error)
	Name() string
	Close() error
}

// NewProvider selects a provider implementation from configuration.
func NewProvider(cfg *config.Config) (Provider, error) {
	switch cfg.Provider {
	case "ollama":
		return NewOllama(cfg.OllamaURL, cfg.OllamaModel)
	case "gemini":
		return NewGemini(cfg.GeminiAPIKey, cfg.GeminiModel)
	case "claude":
		return NewClaude(cfg.ClaudeAPIKey, cfg.ClaudeModel)
	default:
		return nil, fmt.Errorf("unknown vision provider %q", cfg.Provider)
	}
}

// classifyStatus maps a provider HTTP status to the error taxonomy:
// authentication and configuration problems are fatal, everything else is
// left retryable.
func classifyStatus(status int, err error) error {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return NewFatalError(err)
	case http.StatusNotFound:
		// Wrong model name or endpoint is a configuration problem.
		return NewFatalError(err)
	default:
		return err
	}
}
