package model

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound возвращается, если агентство, пополнение или бронирование не существует.
	ErrNotFound = errors.New("not found")
	// ErrForbidden возвращается при нарушении проверки роли или владельца записи.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidInput возвращается при некорректных входных данных.
	ErrInvalidInput = errors.New("invalid input")
	// ErrTransient обозначает временный сбой хранилища; вызывающая сторона может повторить запрос.
	ErrTransient = errors.New("transient store failure")
	// ErrConflict обозначает конфликт параллельного изменения баланса.
	ErrConflict = fmt.Errorf("concurrent modification: %w", ErrTransient)
)

// InputError указывает поле, не прошедшее проверку.
type InputError struct {
	Field  string
	Reason string
}

// NewInputError создаёт ошибку валидации для указанного поля.
func NewInputError(field, reason string) *InputError {
	return &InputError{Field: field, Reason: reason}
}

func (e *InputError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *InputError) Unwrap() error {
	return ErrInvalidInput
}

// IsRetryable сообщает, имеет ли смысл повторить операцию.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient)
}
