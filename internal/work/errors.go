package work

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("work not found")
	ErrStoreUnavailable = errors.New("work store unavailable")
)

// ValidationError reports a malformed Request.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid work request: %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
