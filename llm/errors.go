package llm

import (
	"errors"
	"fmt"
)

// TransientError indicates a failure that may succeed on retry, such as
// rate limits, timeouts, or server errors.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient error: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps an error as transient.
func NewTransientError(err error) *TransientError {
	return &TransientError{Err: err}
}

// FatalError indicates a failure that will not succeed on retry, such as
// authentication failures or malformed requests.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal error: %v", e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// NewFatalError wraps an error as fatal.
func NewFatalError(err error) *FatalError {
	return &FatalError{Err: err}
}

// IsTransient reports whether err is or wraps a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsFatal reports whether err is or wraps a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// GenerationError carries the raw model response alongside the failure so
// callers can salvage partially usable output from a failed parse.
type GenerationError struct {
	Op          string
	RawResponse string
	Err         error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// NewGenerationError creates a GenerationError for the given operation.
func NewGenerationError(op, raw string, err error) *GenerationError {
	return &GenerationError{Op: op, RawResponse: raw, Err: err}
}

// maxUnwrapDepth bounds error-chain traversal against cyclic Unwrap chains.
const maxUnwrapDepth = 5

// RawResponseFromError walks the error chain looking for a GenerationError
// and returns its raw response. Returns "" when none is found.
func RawResponseFromError(err error) string {
	for i := 0; i < maxUnwrapDepth && err != nil; i++ {
		var ge *GenerationError
		if errors.As(err, &ge) {
			return ge.RawResponse
		}
		err = errors.Unwrap(err)
	}
	return ""
}
