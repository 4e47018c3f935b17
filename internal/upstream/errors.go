package upstream

import (
	"errors"
	"fmt"
)

var (
	ErrUnavailable       = errors.New("upstream unavailable")
	ErrMalformedResponse = errors.New("malformed upstream response")
	ErrSensorNotFound    = errors.New("sensor not found")
)

// StatusError is a non-2xx reply. Detail carries the upstream "detail" field
// when the body had one.
type StatusError struct {
	Code   int
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("upstream returned status %d", e.Code)
	}
	return fmt.Sprintf("upstream returned status %d: %s", e.Code, e.Detail)
}

func (e *StatusError) Unwrap() error {
	return ErrUnavailable
}

func malformed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrMalformedResponse, fmt.Sprintf(format, args...))
}
