package common

import (
	"errors"
	"fmt"
)

// Sentinels shared by the stores, the service and the HTTP layer. Match them
// with errors.Is; the transport maps each family to one status code.
var (
	ErrInternal     = errors.New("internal error")
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrConflict     = errors.New("conflict")
	ErrBadRequest   = errors.New("bad request")

	ErrNoteNotFound = fmt.Errorf("note %w", ErrNotFound)
	ErrFileNotFound = fmt.Errorf("file %w", ErrNotFound)
	// ErrJobNotFound means the note was never submitted for extraction.
	ErrJobNotFound = fmt.Errorf("job %w", ErrNotFound)

	ErrValidation = errors.New("validation error")
)

// ValidationError rejects a single request field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

func IsForbidden(err error) bool {
	return errors.Is(err, ErrForbidden)
}

// IsValidation also matches errors a remote API rejected as bad requests.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrBadRequest)
}
