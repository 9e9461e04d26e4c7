package vision

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Claude is a cloud provider backed by the Anthropic API.
type Claude struct {
	client anthropic.Client
	model  string
}

// NewClaude creates a Claude provider.
func NewClaude(apiKey string, modelName string) (*Claude, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic api key is required")
	}
	if modelName == "" {
		modelName = "claude-sonnet-4-20250514"
	}

	return &Claude{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  modelName,
	}, nil
}

// Generate sends the image and prompt as a single user message.
func (c *Claude) Generate(ctx context.Context, png []byte, prompt string) (string, error) {
	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: 4096,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(
				anthropic.NewImageBlockBase64("image/png", base64.StdEncoding.EncodeToString(png)),
				anthropic.NewTextBlock(prompt),
			),
		},
	})
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return "", classifyStatus(apiErr.StatusCode, fmt.Errorf("anthropic API error: %w", err))
		}
		return "", fmt.Errorf("calling anthropic API: %w", err)
	}

	var responseText strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			responseText.WriteString(block.Text)
		}
	}
	if responseText.Len() == 0 {
		return "", ErrEmptyResponse
	}
	return responseText.String(), nil
}

// Name returns the provider name.
func (c *Claude) Name() string {
	return "claude"
}

// Close is a no-op, the SDK client holds no connections.
func (c *Claude) Close() error {
	return nil
}
