package keyfs

import (
	"errors"
	"strings"
	"testing"
)

func TestPathError(t *testing.T) {
	err := newPathError("write", "/f", ErrAccessDenied)

	if got := err.Error(); got != "write /f: no key registered for path" {
		t.Errorf("Error() = %q", got)
	}
	if !errors.Is(err, ErrAccessDenied) {
		t.Error("errors.Is does not see the sentinel")
	}
	if !IsAccessDenied(err) || IsNotFound(err) {
		t.Error("classification helpers disagree with the wrapped sentinel")
	}
}

func TestPathErrorWrapsValidation(t *testing.T) {
	err := newPathError("getattr", "rel", ValidatePath("rel"))

	if !errors.Is(err, ErrInvalidPath) {
		t.Error("errors.Is(err, ErrInvalidPath) = false")
	}
	if !IsValidationError(err) {
		t.Error("IsValidationError = false")
	}
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Field != "path" {
		t.Errorf("ValidationError = %+v, want Field %q", ve, "path")
	}
}

func TestValidationErrorMessage(t *testing.T) {
	tests := []struct {
		err  *ValidationError
		want string
	}{
		{&ValidationError{Field: "key", Message: "too short"}, "validation error: key: too short"},
		{&ValidationError{Message: "bad"}, "validation error: bad"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}

func TestEncryptionError(t *testing.T) {
	err := newEncryptionError("decrypt", ErrInvalidCiphertext)

	if !strings.HasPrefix(err.Error(), "decrypt error: ") {
		t.Errorf("Error() = %q", err.Error())
	}
	if !errors.Is(err, ErrInvalidCiphertext) {
		t.Error("errors.Is does not see the sentinel")
	}
	if IsValidationError(err) {
		t.Error("encryption error classified as validation error")
	}
}
