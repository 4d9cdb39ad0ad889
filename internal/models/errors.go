package models

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrNotFound — талон с таким номером не существует.
	ErrNotFound = errors.New("ticket not found")

	// ErrInvalidState — переход недопустим из текущего состояния талона.
	ErrInvalidState = errors.New("invalid ticket state for this transition")

	// ErrConflict — конкурирующая мутация обогнала нас; операция ретраится
	// диспетчером ограниченное число раз.
	ErrConflict = errors.New("concurrent modification conflict")
)

// ValidationError rejects bad input before any state change happens.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s %s", e.Field, e.Msg)
}

func NewValidationError(field, msg string) *ValidationError {
	return &ValidationError{Field: field, Msg: msg}
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
