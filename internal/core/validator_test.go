package core

import (
	"errors"
	"testing"

	"estatecrm/internal/types"
)

type sampleRequest struct {
	Title  string `validate:"required"`
	Email  string `validate:"omitempty,email"`
	Action string `validate:"required,oneof=read archive delete"`
}

// TestStructPassesValidInput verifies a conforming struct yields no error.
func TestStructPassesValidInput(t *testing.T) {
	v := NewValidator()

	err := v.Struct(sampleRequest{Title: "hello", Email: "a@b.co", Action: "read"})
	if err != nil {
		t.Fatalf("expected valid input to pass, got: %v", err)
	}
}

// TestStructReportsViolatingFields verifies violations map to a validation
// AppError naming each field.
func TestStructReportsViolatingFields(t *testing.T) {
	v := NewValidator()

	err := v.Struct(sampleRequest{Email: "not-an-email", Action: "purge"})

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected an AppError, got %v", err)
	}
	if appErr.Code != types.ErrCodeValidationMissingField {
		t.Errorf("code = %q, want %q", appErr.Code, types.ErrCodeValidationMissingField)
	}

	fields, ok := appErr.Details["fields"].(map[string]any)
	if !ok {
		t.Fatalf("details = %v, want a fields map", appErr.Details)
	}
	for _, name := range []string{"Title", "Email", "Action"} {
		if _, present := fields[name]; !present {
			t.Errorf("fields %v missing violation for %s", fields, name)
		}
	}
}
