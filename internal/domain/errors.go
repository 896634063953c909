package domain

import "fmt"

// Error types for consistent error handling across the fiscal pipeline.

// ErrNotFound indicates a resource was not found.
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrValidation indicates a validation error (bad input).
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error on '%s': %s", e.Field, e.Message)
}

// ErrAuthorityUnavailable indicates the fiscal authority could not be reached
// or did not answer within the deadline.
type ErrAuthorityUnavailable struct {
	Operation string
	Timeout   bool
	Err       error
}

func (e *ErrAuthorityUnavailable) Error() string {
	if e.Timeout {
		return fmt.Sprintf("fiscal authority timed out [%s]: %v", e.Operation, e.Err)
	}
	return fmt.Sprintf("fiscal authority unreachable [%s]: %v", e.Operation, e.Err)
}

func (e *ErrAuthorityUnavailable) Unwrap() error {
	return e.Err
}

// ErrAuthorityRejected indicates the authority answered and refused the request.
type ErrAuthorityRejected struct {
	Operation string
	Code      string
	Reason    string
}

func (e *ErrAuthorityRejected) Error() string {
	return fmt.Sprintf("fiscal authority rejected [%s] cStat=%s: %s", e.Operation, e.Code, e.Reason)
}

// ErrMalformedResponse indicates the authority answered something we cannot use.
type ErrMalformedResponse struct {
	Operation string
	Err       error
}

func (e *ErrMalformedResponse) Error() string {
	return fmt.Sprintf("malformed fiscal authority response [%s]: %v", e.Operation, e.Err)
}

func (e *ErrMalformedResponse) Unwrap() error {
	return e.Err
}

// ErrCircuitOpen indicates the circuit breaker is open.
type ErrCircuitOpen struct {
	Service string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("circuit breaker open for service: %s", e.Service)
}

// ErrQueue indicates the contingency store failed.
type ErrQueue struct {
	Op  string
	Err error
}

func (e *ErrQueue) Error() string {
	return fmt.Sprintf("contingency queue %s: %v", e.Op, e.Err)
}

func (e *ErrQueue) Unwrap() error {
	return e.Err
}

// ErrUnsupported indicates the active fiscal model lacks a capability.
type ErrUnsupported struct {
	Capability string
}

func (e *ErrUnsupported) Error() string {
	return fmt.Sprintf("operation not supported by the fiscal model: %s", e.Capability)
}
