package keyfs

import (
	"errors"
	"fmt"
)

// Sentinel errors returned (wrapped in a *PathError) by filesystem operations.
// Callers test for them with errors.Is.
var (
	// ErrNotFound is returned when a path is absent where it is required.
	ErrNotFound = errors.New("no such file or directory")
	// ErrAccessDenied is returned for content operations on a path without a key.
	ErrAccessDenied = errors.New("no key registered for path")
	// ErrInvalidKeyLength is returned when a key is not exactly KeySize bytes.
	ErrInvalidKeyLength = errors.New("encryption key must be 32 bytes (256 bits) long")

	ErrInvalidPath       = errors.New("invalid path")
	ErrExist             = errors.New("file exists")
	ErrNotDirectory      = errors.New("not a directory")
	ErrIsDirectory       = errors.New("is a directory")
	ErrNotEmpty          = errors.New("directory not empty")
	ErrRootBusy          = errors.New("root directory cannot be removed")
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
	ErrNegativeOffset    = errors.New("negative offset not allowed")
	ErrFileTooLarge      = errors.New("file too large")
	ErrClosed            = errors.New("filesystem is closed")
)

// PathError records a failed filesystem operation and the path it was applied to.
type PathError struct {
	Op   string // "getattr", "write", "mkdir", ...
	Path string
	Err  error
}

func (e *PathError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PathError) Unwrap() error {
	return e.Err
}

// ValidationError represents an argument that failed validation
type ValidationError struct {
	Field   string // The field or parameter that failed validation
	Value   any    // The invalid value
	Message string // Human-readable error message
	Err     error  // Underlying sentinel, if any
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// EncryptionError represents an encryption or decryption failure
type EncryptionError struct {
	Operation string // "encrypt" or "decrypt"
	Message   string
	Err       error
}

func (e *EncryptionError) Error() string {
	return fmt.Sprintf("%s error: %s", e.Operation, e.Message)
}

func (e *EncryptionError) Unwrap() error {
	return e.Err
}

func newPathError(op, path string, err error) error {
	return &PathError{Op: op, Path: path, Err: err}
}

func newEncryptionError(operation string, err error) error {
	return &EncryptionError{
		Operation: operation,
		Message:   err.Error(),
		Err:       err,
	}
}

// IsNotFound reports whether err is, or wraps, ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAccessDenied reports whether err is, or wraps, ErrAccessDenied.
func IsAccessDenied(err error) bool {
	return errors.Is(err, ErrAccessDenied)
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsEncryptionError checks if an error is an encryption error
func IsEncryptionError(err error) bool {
	var ee *EncryptionError
	return errors.As(err, &ee)
}
