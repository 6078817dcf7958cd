package keyfs

import (
	"fmt"
	"path"
)

// ValidateKey checks that a key is exactly KeySize bytes.
func ValidateKey(key []byte) error {
	if len(key) != KeySize {
		return &ValidationError{
			Field:   "key",
			Value:   len(key),
			Message: fmt.Sprintf("invalid key size: got %d bytes, expected %d bytes", len(key), KeySize),
			Err:     ErrInvalidKeyLength,
		}
	}
	return nil
}

// ValidatePath checks that p is absolute and already in cleaned form.
func ValidatePath(p string) error {
	if p == "" {
		return &ValidationError{
			Field:   "path",
			Message: "path cannot be empty",
			Err:     ErrInvalidPath,
		}
	}
	if p[0] != '/' {
		return &ValidationError{
			Field:   "path",
			Value:   p,
			Message: "path must be absolute",
			Err:     ErrInvalidPath,
		}
	}
	if path.Clean(p) != p {
		return &ValidationError{
			Field:   "path",
			Value:   p,
			Message: fmt.Sprintf("path is not clean (want %q)", path.Clean(p)),
			Err:     ErrInvalidPath,
		}
	}
	return nil
}

// ValidateOffset checks that a file offset is not negative
func ValidateOffset(offset int64, name string) error {
	if offset < 0 {
		return &ValidationError{
			Field:   name,
			Value:   offset,
			Message: "offset cannot be negative",
			Err:     ErrNegativeOffset,
		}
	}
	return nil
}
