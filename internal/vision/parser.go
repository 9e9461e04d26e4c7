package vision

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"
)

// maxModelCalls bounds the corrective-retry loop: one initial call plus one
// repair call per Parse invocation.
const maxModelCalls = 2

// Parser drives a Provider and guarantees its output satisfies the
// ParsedReceipt schema. A response that fails validation is never returned;
// the model is re-prompted with the concrete problem, and if the repaired
// response still fails, the caller gets ErrMalformedOutput.
type Parser struct {
	provider Provider
	validate *validator.Validate
}

// NewParser wraps a provider with schema validation and corrective retry.
func NewParser(provider Provider) *Parser {
	return &Parser{
		provider: provider,
		validate: validator.New(),
	}
}

// Parse extracts a validated ParsedReceipt from a PNG image.
func (p *Parser) Parse(ctx context.Context, png []byte) (*ParsedReceipt, error) {
	prompt := receiptPrompt
	var lastProblem string

	for call := 1; call <= maxModelCalls; call++ {
		text, err := p.provider.Generate(ctx, png, prompt)
		if err != nil {
			// Provider errors (network, auth, timeout) surface directly;
			// the corrective retry is only for malformed output.
			return nil, err
		}

		parsed, perr := decodeModelOutput(text)
		if perr == nil {
			verr := p.validate.Struct(parsed)
			if verr == nil {
				return parsed, nil
			}
			perr = fmt.Errorf("%w: %v", ErrMalformedOutput, verr)
		}

		lastProblem = perr.Error()
		slog.Warn("Model output failed validation",
			"provider", p.provider.Name(),
			"call", call,
			"problem", lastProblem,
		)
		prompt = fmt.Sprintf(correctivePrompt, lastProblem)
	}

	return nil, fmt.Errorf("%w after %d model calls: %s", ErrMalformedOutput, maxModelCalls, lastProblem)
}

// Close releases the underlying provider.
func (p *Parser) Close() error {
	return p.provider.Close()
}
