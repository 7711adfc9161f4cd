package parse

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedMessage means an expected field or delimiter is missing.
	// The message should be skipped.
	ErrMalformedMessage = errors.New("malformed message")

	// ErrOversizedSnapshot rejects book snapshots with more levels than the
	// configured sanity limit.
	ErrOversizedSnapshot = errors.New("oversized snapshot")

	// ErrKeyNotFound is returned when a positional key search exhausts the
	// fragment. It is a kind of ErrMalformedMessage.
	ErrKeyNotFound = fmt.Errorf("%w: key not found", ErrMalformedMessage)
)

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrMalformedMessage}, args...)...)
}
