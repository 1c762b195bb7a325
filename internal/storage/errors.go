package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is matched by every *NotFoundError.
	ErrNotFound = errors.New("message not found")
	// ErrInvalidTransition означає заборонений перехід статусу.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// StorageError wraps a failure of the underlying database.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// NotFoundError is returned when a message does not exist or is not in the
// state the operation requires (for example answering a question twice).
type NotFoundError struct {
	ID     uint
	Reason string
}

func (e *NotFoundError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("message %d not found", e.ID)
	}
	return fmt.Sprintf("message %d not found: %s", e.ID, e.Reason)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// wrap загортає помилку БД у StorageError, залишаючи доменні помилки як є.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var nf *NotFoundError
	if errors.As(err, &nf) || errors.Is(err, ErrInvalidTransition) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}
