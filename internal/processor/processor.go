package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/snapwise/receiptpipe/internal/vision"
)

// ReceiptParser turns normalized PNG bytes into a validated receipt.
type ReceiptParser interface {
	Parse(ctx context.Context, png []byte) (*vision.ParsedReceipt, error)
}

// Processor orchestrates preprocessing and the parser invocation,
// independent of any queueing concern.
type Processor struct {
	parser  ReceiptParser
	timeout time.Duration
}

// New creates a Processor enforcing the given parse timeout.
func New(parser ReceiptParser, timeout time.Duration) *Processor {
	return &Processor{
		parser:  parser,
		timeout: timeout,
	}
}

// Process normalizes raw upload bytes and runs the vision parse under the
// configured timeout. An image that cannot be decoded at all is fatal; a
// timed-out parse is retryable.
func (p *Processor) Process(ctx context.Context, data []byte, contentType string) (*vision.ParsedReceipt, error) {
	if len(data) == 0 {
		return nil, vision.NewFatalError(errors.New("empty image payload"))
	}

	png, err := prepareImage(data, contentType)
	if err != nil {
		return nil, vision.NewFatalError(fmt.Errorf("invalid image payload: %w", err))
	}

	parseCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	parsed, err := p.parser.Parse(parseCtx, png)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(parseCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("parse timed out after %s: %w", p.timeout, err)
		}
		return nil, err
	}
	return parsed, nil
}
