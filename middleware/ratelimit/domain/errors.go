package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrStoreUnavailable: counter store inacessível ou timeout.
	ErrStoreUnavailable = errors.New("counter store unavailable")
	// ErrUnknownLimiter: nome de propósito inexistente (erro de programação).
	ErrUnknownLimiter = errors.New("unknown limiter")
	// ErrBypassResolution: falha ao resolver metadados do subject.
	ErrBypassResolution = errors.New("bypass resolution failed")
	// ErrConsistencyMismatch: o inspector encontrou divergência.
	ErrConsistencyMismatch = errors.New("consistency mismatch")
	ErrInvalidSubject      = errors.New("invalid subject")
	// ErrMemberCollision: o membro gerado já existia no sorted set.
	ErrMemberCollision   = errors.New("token member collision")
	ErrInvalidDefinition = errors.New("invalid limiter definition")
)

func IsStoreUnavailable(err error) bool { return errors.Is(err, ErrStoreUnavailable) }

// ValidationError aponta o campo inválido de uma definição.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidDefinition }

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}
