package openlibrary

import (
	"errors"
	"fmt"
)

// Resolver errors render fixed message text. The strings are part of the
// external contract: clients surface them verbatim. All resolver errors are
// terminal for the request; there is no automatic retry.
var (
	ErrInvalidURL      = errors.New("Invalid URL")
	ErrInvalidResponse = errors.New("Invalid response")
	ErrEmptyResponse   = errors.New("No data returned")
)

// NetworkError wraps a transport failure.
type NetworkError struct {
	Cause error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("Network error: %v", e.Cause)
}

func (e *NetworkError) Unwrap() error { return e.Cause }

// BadStatusError reports a non-2xx HTTP status.
type BadStatusError struct {
	Code int
}

func (e *BadStatusError) Error() string {
	return fmt.Sprintf("Bad status code: %d", e.Code)
}

// DecodeError reports a JSON shape mismatch. The rendered message is fixed;
// the cause is retained for logs only.
type DecodeError struct {
	Cause error
}

func (e *DecodeError) Error() string { return "Error decoding book data" }

func (e *DecodeError) Unwrap() error { return e.Cause }

// NotFoundError reports an empty result set for a lookup key.
type NotFoundError struct {
	Key string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("No books found for ISBN %s", e.Key)
}

// IsNotFound reports whether err is a zero-results lookup failure.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
