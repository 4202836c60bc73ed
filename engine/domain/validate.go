package domain

import "strings"

// MaxQueryLen caps query text so a single oversized chunk cannot blow up
// provider payloads.
const MaxQueryLen = 8192

// ValidateQuery checks that a query carries the fields the pipeline
// depends on: non-empty text and an originating file path for grouping.
func ValidateQuery(q Query) error {
	if strings.TrimSpace(q.Text) == "" {
		return NewValidationError("text", q.Text, ErrInvalidQuery)
	}
	if len(q.Text) > MaxQueryLen {
		return NewValidationError("text", q.Text[:32]+"...", ErrInvalidQuery)
	}
	if q.FilePath == "" {
		return NewValidationError("file_path", q.FilePath, ErrInvalidQuery)
	}
	return nil
}
