package model

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedPayload reports a payload with a required field missing or
	// of the wrong shape. Operations that fail with it leave the cache
	// exactly as it was.
	ErrMalformedPayload = errors.New("malformed payload")

	// ErrDuplicateBotIdentity reports a second attempt to establish the
	// client's own account in the same process.
	ErrDuplicateBotIdentity = errors.New("bot identity already established")
)

// malformedf wraps ErrMalformedPayload with field context so callers can
// match the sentinel with errors.Is while logs keep the detail.
func malformedf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedPayload, fmt.Sprintf(format, args...))
}
