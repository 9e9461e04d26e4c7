package vision

import "errors"

var (
	// ErrMalformedOutput is returned when the model response still fails
	// schema or number-format validation after the corrective retry. It is
	// retryable at the worker level: a fresh attempt may produce valid
	// output.
	ErrMalformedOutput = errors.New("model output failed validation")

	// ErrEmptyResponse is returned when the provider produced no usable
	// text at all.
	ErrEmptyResponse = errors.New("empty response from model")
)

// FatalError wraps authentication and configuration failures. They must not
// consume the worker's retry budget.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return "fatal: " + e.Err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// NewFatalError wraps err as non-retryable.
func NewFatalError(err error) error {
	return &FatalError{Err: err}
}

// IsFatal reports whether err is an authentication/configuration failure
// that should fail the job immediately.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
