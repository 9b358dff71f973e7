package models

import (
	"errors"
	"fmt"
)

// ErrValidation represents a validation error with field and message.
type ErrValidation struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e ErrValidation) Error() string {
	return fmt.Sprintf("validation error on field %s: %s", e.Field, e.Message)
}

// Common validation errors for models.
var (
	// ErrKeyRequired indicates a recording without a correlation key.
	ErrKeyRequired = errors.New("key is required")

	// ErrTitleRequired indicates a required title field is empty.
	ErrTitleRequired = errors.New("title is required")

	// ErrSourceRequired indicates a recording without a channel or URL.
	ErrSourceRequired = errors.New("source is required")

	// ErrInvalidStatus indicates an unknown recording status.
	ErrInvalidStatus = errors.New("invalid recording status")

	// ErrRecordingNotFound indicates a recording was not found.
	ErrRecordingNotFound = errors.New("recording not found")
)
