package request

import "errors"

var (
	// ErrTimeout is returned when no matching response arrived in time.
	ErrTimeout = errors.New("request: timed out waiting for response")
	// ErrFailed is returned alongside a *FailInfo when the server answered
	// on the failure pattern.
	ErrFailed = errors.New("request: server reported failure")
	// ErrMalformedResponse is returned when a response's arguments do not
	// have the expected shape.
	ErrMalformedResponse = errors.New("request: malformed response")
)
