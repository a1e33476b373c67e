package encoding

import (
	"errors"
	"fmt"
)

// Error classes surfaced by the decision engine and the orchestrator.
var (
	// ErrValidation marks malformed requests, parameters or headers.
	ErrValidation = errors.New("invalid request")

	// ErrResourceAcquisition marks failures mounting an ISO or opening a live stream.
	ErrResourceAcquisition = errors.New("resource acquisition failed")

	// ErrProcessStart marks failures spawning the encoder.
	ErrProcessStart = errors.New("encoder failed to start")

	// ErrRuntimeProcessFailure marks an encoder that exited with a non-zero code.
	ErrRuntimeProcessFailure = errors.New("encoder exited with failure")

	// ErrThrottleControl marks a failure pausing or resuming the encoder.
	ErrThrottleControl = errors.New("throttle control failed")

	// ErrItemNotFound indicates the library does not know the requested item.
	ErrItemNotFound = errors.New("item not found")

	// ErrMediaSourceNotFound indicates no playable media source matched.
	ErrMediaSourceNotFound = errors.New("media source not found")
)

// ValidationError describes a single invalid request field.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field %s: %s", e.Field, e.Message)
}

// Unwrap lets errors.Is match ErrValidation.
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
