package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across packages. Coordinators translate every
// lower-level failure into one of these kinds before it crosses into
// engine-visible state.
var (
	ErrNotFound            = errors.New("not found")
	ErrAlreadyExists       = errors.New("already exists")
	ErrPairActive          = errors.New("pair already has an active trade")
	ErrQueueFull           = errors.New("opportunity queue full")
	ErrExpired             = errors.New("opportunity expired")
	ErrCancelled           = errors.New("trade cancelled")
	ErrCancelTooLate       = errors.New("cancel rejected: buy leg already confirmed")
	ErrNonceNotAllocated   = errors.New("nonce was not allocated")
	ErrNonceBroadcast      = errors.New("nonce may already be broadcast")
	ErrConfirmationTimeout = errors.New("confirmation timed out")
)

// ValidationError marks malformed or stale input. It is discarded, never
// retried.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Reason
}

// RiskRejection is a policy decision from the risk gate. It is final for the
// opportunity: logged, never retried.
type RiskRejection struct {
	Severity RiskSeverity
	Factors  []RiskFactor
}

func (e *RiskRejection) Error() string {
	return fmt.Sprintf("risk rejected (severity=%s, %d factors)", e.Severity, len(e.Factors))
}

// NetworkError wraps an RPC failure that is retryable with bounded backoff.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network: %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// ExecutionErrorKind distinguishes the two on-chain failure modes of a
// two-leg trade.
type ExecutionErrorKind string

const (
	// ExecBuyFailed aborts the trade with no position held.
	ExecBuyFailed ExecutionErrorKind = "buy_failed"
	// ExecSellFailedUnresolved is fatal for the trade but not for the
	// system: the buy leg confirmed and inventory is held.
	ExecSellFailedUnresolved ExecutionErrorKind = "sell_failed_unresolved"
)

// ExecutionError is a failed on-chain leg.
type ExecutionError struct {
	Kind   ExecutionErrorKind
	TxHash string
	Err    error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution: %s (tx=%s): %v", e.Kind, e.TxHash, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is a transient network failure.
func IsRetryable(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}
