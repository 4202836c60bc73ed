package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the retrieval pipeline stages.
var (
	// ErrEmbeddingUnavailable means every credential was exhausted or the
	// provider rejected the input permanently. A partial or zero vector is
	// never returned in its place.
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")

	// ErrNotConnected means Search was called before a successful Connect.
	ErrNotConnected = errors.New("vector store not connected")

	// ErrCollectionNotFound means the target collection does not exist.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrDimensionMismatch means a query vector does not match the
	// collection's configured dimension.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrSearchFailed means the similarity search failed after retry.
	ErrSearchFailed = errors.New("similarity search failed")

	// ErrReportWriteFailed means the consolidated report could not be
	// persisted.
	ErrReportWriteFailed = errors.New("report write failed")

	// ErrInvalidQuery marks a query that failed validation.
	ErrInvalidQuery = errors.New("invalid query")
)

// ValidationError wraps a sentinel with the offending field.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}
