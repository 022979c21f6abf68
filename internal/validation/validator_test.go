package validation

import (
	"errors"
	"testing"
)

type signupForm struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
	Role     string `json:"user_type" validate:"omitempty,oneof=farmer expert"`
}

func TestValidateReportsFieldsByJSONName(t *testing.T) {
	err := New().Validate(signupForm{Email: "not-an-email", Password: "short", Role: "pirate"})
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected validation error, got %v", err)
	}
	var validationErr *Error
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected *Error, got %T", err)
	}
	expected := map[string]string{
		"email":     "must be a valid email address",
		"password":  "must be at least 8 characters",
		"user_type": "must be one of: farmer expert",
	}
	for field, message := range expected {
		if validationErr.Fields[field] != message {
			t.Fatalf("field %s: expected %q, got %q", field, message, validationErr.Fields[field])
		}
	}
}

func TestValidateAcceptsValidInput(t *testing.T) {
	if err := New().Validate(signupForm{Email: "farmer@example.com", Password: "password123"}); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
}
