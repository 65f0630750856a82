package database

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a subscriber or payment attempt does not exist.
var ErrNotFound = errors.New("database: record not found")

// PersistenceError wraps a failed storage operation. Callers must surface it
// instead of reporting success.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("database: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func persistErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PersistenceError
	if errors.As(err, &pe) || errors.Is(err, ErrNotFound) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}
