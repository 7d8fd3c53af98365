package errors

import (
	"errors"
)

// Sentinel errors for different categories
var (
	// ErrToolConnection - tool process failed to start or handshake (fatal to the request)
	ErrToolConnection = errors.New("tool connection failed")

	// ErrToolInvocation - a single tool call failed (fed back to the model as an error result)
	ErrToolInvocation = errors.New("tool invocation failed")

	// ErrModelProvider - the streaming model call failed (fatal to the request)
	ErrModelProvider = errors.New("model provider error")

	// ErrMalformedFrame - a stream frame could not be decoded (client skips the frame)
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrMaxRoundsExceeded - the model kept requesting tools past the round ceiling
	ErrMaxRoundsExceeded = errors.New("max rounds exceeded")

	// ErrInvalidInput - invalid input (rejected before any stream is opened)
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound - resource not found
	ErrNotFound = errors.New("not found")

	// ErrTransient - transient error (timeouts, dropped connections)
	ErrTransient = errors.New("transient error")

	// ErrInternal - internal error
	ErrInternal = errors.New("internal error")
)
