package domain

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateQuery(t *testing.T) {
	tests := []struct {
		name    string
		q       Query
		wantErr bool
	}{
		{"valid", Query{Text: "eval(user_input)", ChunkID: "c1", FilePath: "app/views.py"}, false},
		{"empty text", Query{Text: "", FilePath: "a.py"}, true},
		{"whitespace text", Query{Text: "   \n\t", FilePath: "a.py"}, true},
		{"missing file path", Query{Text: "os.system(cmd)"}, true},
		{"oversized text", Query{Text: strings.Repeat("x", MaxQueryLen+1), FilePath: "a.py"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateQuery(tt.q)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateQuery() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidQuery) {
				t.Errorf("error does not wrap ErrInvalidQuery: %v", err)
			}
		})
	}
}

func TestValidationErrorUnwrap(t *testing.T) {
	err := NewValidationError("text", "", ErrInvalidQuery)
	if !errors.Is(err, ErrInvalidQuery) {
		t.Error("expected errors.Is to match the wrapped sentinel")
	}
	if !strings.Contains(err.Error(), "text") {
		t.Errorf("error message missing field: %s", err.Error())
	}
}
