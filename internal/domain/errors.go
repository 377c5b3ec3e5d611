package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrRateLimited  = errors.New("rate limited")
	ErrUnauthorized = errors.New("unauthorized")
	ErrLockHeld     = errors.New("lock already held")
	ErrCircuitOpen  = errors.New("circuit breaker open")
	ErrModeMismatch = errors.New("snapshot mode mismatch")
	ErrLoopPaused   = errors.New("trading loop paused")
)

// ValidationError reports malformed input rejected before any state mutation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// Validation is shorthand for building a *ValidationError.
func Validation(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// InsufficientFundsError reports a failed cash check.
type InsufficientFundsError struct {
	Symbol    string
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds for %s: required %s, available %s",
		e.Symbol, e.Required.StringFixed(2), e.Available.StringFixed(2))
}

// Risk limit identifiers carried by RiskLimitError.
const (
	LimitMaxPositions        = "max_positions"
	LimitSectorConcentration = "sector_concentration"
	LimitCorrelationConflict = "correlation_conflict"
)

// RiskLimitError reports a position, sector or correlation cap violation.
type RiskLimitError struct {
	Limit  string
	Symbol string
	Detail string
}

func (e *RiskLimitError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("risk limit %s: %s", e.Limit, e.Symbol)
	}
	return fmt.Sprintf("risk limit %s: %s: %s", e.Limit, e.Symbol, e.Detail)
}

// GatewayTimeoutError reports an order that was not confirmed before its
// deadline. The ledger is left untouched; the caller must reconcile.
type GatewayTimeoutError struct {
	OrderID string
	Timeout time.Duration
	// CancelErr is set when the follow-up cancel also failed.
	CancelErr error
}

func (e *GatewayTimeoutError) Error() string {
	if e.CancelErr != nil {
		return fmt.Sprintf("order %s not filled within %s (cancel failed: %v)", e.OrderID, e.Timeout, e.CancelErr)
	}
	return fmt.Sprintf("order %s not filled within %s", e.OrderID, e.Timeout)
}

// TransientIOError wraps a network or broker failure that may succeed on
// retry (timeouts, 5xx, 429). The circuit breaker counts these.
type TransientIOError struct {
	Op  string
	Err error
}

func (e *TransientIOError) Error() string {
	return fmt.Sprintf("transient io: %s: %v", e.Op, e.Err)
}

func (e *TransientIOError) Unwrap() error { return e.Err }

// Transient wraps err as a *TransientIOError unless it is nil.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientIOError{Op: op, Err: err}
}

// IsTransient reports whether err is eligible for bounded retry.
func IsTransient(err error) bool {
	var te *TransientIOError
	return errors.As(err, &te)
}

// Rejection reasons that do not originate from an error type.
const (
	ReasonCooldown      = "cooldown"
	ReasonLowConfidence = "low_confidence"
	ReasonMaxPositions  = "max_positions"
	ReasonRankedOut     = "ranked_out"
)

// RejectReason maps err to the structured reason string shown to operators.
func RejectReason(err error) string {
	if err == nil {
		return ""
	}
	var (
		ve  *ValidationError
		ife *InsufficientFundsError
		rle *RiskLimitError
		gte *GatewayTimeoutError
		tie *TransientIOError
	)
	switch {
	case errors.As(err, &ve):
		return "validation"
	case errors.As(err, &ife):
		return "insufficient_funds"
	case errors.As(err, &rle):
		return "risk_limit:" + rle.Limit
	case errors.As(err, &gte):
		return "gateway_timeout"
	case errors.Is(err, ErrCircuitOpen):
		return "circuit_open"
	case errors.As(err, &tie):
		return "transient_io"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "error"
	}
}
