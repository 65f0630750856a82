package payment

import (
	"errors"
	"fmt"
)

var (
	// ErrGatewayUnavailable is transient: retry later, never read it as "not paid".
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	// ErrGatewayRejected is permanent for this attempt.
	ErrGatewayRejected = errors.New("payment gateway rejected the request")
	// ErrInvalidAmount means the processor refused to quote the amount.
	ErrInvalidAmount = errors.New("payment gateway rejected the amount")
)

// GatewayError is the error result of every gateway call. errors.Is matches
// its Kind.
type GatewayError struct {
	Kind   error
	Op     string
	Status int
	Detail string
	Err    error
}

func (e *GatewayError) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Op, e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status: %d)", e.Status)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *GatewayError) Is(target error) bool {
	return target == e.Kind
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

func unavailable(op string, status int, err error) *GatewayError {
	return &GatewayError{Kind: ErrGatewayUnavailable, Op: op, Status: status, Err: err}
}
