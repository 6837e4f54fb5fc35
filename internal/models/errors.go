package models

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError represents a rejected input value
type ValidationError struct {
	Field   string
	Value   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// IsTransient returns false as validation errors are permanent
func (e *ValidationError) IsTransient() bool {
	return false
}

// NotFoundError represents an absent period, profile or catalog. Absent
// periods are expected and handled as "start fresh".
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

func (e *NotFoundError) IsTransient() bool {
	return false
}

// PersistenceError wraps a failed backend call
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// IsTransient returns true: the next auto-save cycle retries
func (e *PersistenceError) IsTransient() bool {
	return true
}

// ParseError reports a bulk import that could not be applied
type ParseError struct {
	Message        string
	UnmatchedCount int
	Sample         []string
}

// maxParseErrorSample bounds the names echoed back to the user
const maxParseErrorSample = 5

func NewParseError(message string, unmatched []string) *ParseError {
	sample := unmatched
	if len(sample) > maxParseErrorSample {
		sample = sample[:maxParseErrorSample]
	}
	return &ParseError{
		Message:        message,
		UnmatchedCount: len(unmatched),
		Sample:         append([]string(nil), sample...),
	}
}

func (e *ParseError) Error() string {
	if e.UnmatchedCount == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s (%d unmatched: %s)", e.Message, e.UnmatchedCount, strings.Join(e.Sample, ", "))
}

func (e *ParseError) IsTransient() bool {
	return false
}

// IsNotFound reports whether err wraps a NotFoundError
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsValidation reports whether err wraps a ValidationError
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
