package errors

import (
	"context"
	"errors"
	"fmt"
)

// Category returns the error category name for an error, used as a structured log field.
func Category(err error) string {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrToolConnection):
		return "ErrToolConnection"
	case errors.Is(err, ErrToolInvocation):
		return "ErrToolInvocation"
	case errors.Is(err, ErrModelProvider):
		return "ErrModelProvider"
	case errors.Is(err, ErrMalformedFrame):
		return "ErrMalformedFrame"
	case errors.Is(err, ErrMaxRoundsExceeded):
		return "ErrMaxRoundsExceeded"
	case errors.Is(err, ErrInvalidInput):
		return "ErrInvalidInput"
	case errors.Is(err, ErrNotFound):
		return "ErrNotFound"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrTransient):
		return "ErrTransient"
	case errors.Is(err, ErrInternal):
		return "ErrInternal"
	default:
		return "Unknown"
	}
}

// IsFatal reports whether an error ends the request instead of being fed back to the model.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrToolInvocation) || errors.Is(err, ErrMalformedFrame) {
		return false
	}
	return true
}

// Wrap wraps an error with context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}

	return fmt.Errorf("%s: %w", message, err)
}

// WrapWithCategory wraps an error with a specific category while keeping the cause in the chain
func WrapWithCategory(err error, message string, category error) error {
	if err == nil {
		return nil
	}

	return fmt.Errorf("%s: %w: %w", message, category, err)
}

// InvalidInput wraps error as invalid input
func InvalidInput(message string) error {
	return fmt.Errorf("%s: %w", message, ErrInvalidInput)
}

// NotFound wraps error as not found
func NotFound(message string) error {
	return fmt.Errorf("%s: %w", message, ErrNotFound)
}

// Internal wraps error as internal
func Internal(message string) error {
	return fmt.Errorf("%s: %w", message, ErrInternal)
}

// ToolConnection wraps a cause as a tool connection failure
func ToolConnection(err error, message string) error {
	return WrapWithCategory(err, message, ErrToolConnection)
}

// ToolInvocation wraps a cause as a tool invocation failure
func ToolInvocation(err error, message string) error {
	return WrapWithCategory(err, message, ErrToolInvocation)
}

// ModelProvider wraps a cause as a model provider failure
func ModelProvider(err error, message string) error {
	return WrapWithCategory(err, message, ErrModelProvider)
}
