package helpers

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"market-relay/src/logger"

	"github.com/cenkalti/backoff/v5"
)

// -----------------------------------------------------------------------------
// Custom Error Types
// -----------------------------------------------------------------------------

type RelayError struct {
	Message string
	Cause   error
}

func (e *RelayError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *RelayError) Unwrap() error {
	return e.Cause
}

// Validation reasons
const (
	ReasonQuantityTooSmall     = "quantity-too-small"
	ReasonLeverageTooHigh      = "leverage-too-high"
	ReasonPositionLimitReached = "position-limit-reached"
	ReasonInvalidRequest       = "invalid-request"
	ReasonMarketUnavailable    = "market-data-unavailable"
)

// ValidationError is a rejected request. Nothing was mutated.
type ValidationError struct {
	RelayError
	Reason string
}

type NotFoundError struct {
	RelayError
	Kind string
	ID   string
}

type OwnershipError struct {
	RelayError
	Kind string
	ID   string
}

type InsufficientBalanceError struct{ RelayError }
type InvalidStateError struct{ RelayError }
type UpstreamTransientError struct{ RelayError }
type InternalUnexpectedError struct{ RelayError }

// -----------------------------------------------------------------------------

func NewValidationError(reason, format string, args ...interface{}) *ValidationError {
	return &ValidationError{RelayError: RelayError{Message: fmt.Sprintf(format, args...)}, Reason: reason}
}

func NewNotFoundError(kind, id string) *NotFoundError {
	return &NotFoundError{RelayError: RelayError{Message: kind + " not found"}, Kind: kind, ID: id}
}

func NewOwnershipError(kind, id string) *OwnershipError {
	return &OwnershipError{RelayError: RelayError{Message: kind + " does not belong to user"}, Kind: kind, ID: id}
}

func NewInsufficientBalanceError(required, available string) *InsufficientBalanceError {
	return &InsufficientBalanceError{RelayError{Message: fmt.Sprintf("Insufficient balance: required %s, available %s", required, available)}}
}

func NewInvalidStateError(format string, args ...interface{}) *InvalidStateError {
	return &InvalidStateError{RelayError{Message: fmt.Sprintf(format, args...)}}
}

func NewUpstreamTransientError(message string, cause error) *UpstreamTransientError {
	return &UpstreamTransientError{RelayError{Message: message, Cause: cause}}
}

func NewInternalUnexpectedError(message string, cause error) *InternalUnexpectedError {
	return &InternalUnexpectedError{RelayError{Message: message, Cause: cause}}
}

// -----------------------------------------------------------------------------

// IsNotFound covers both a missing record and one owned by someone else; callers
// that present a single "not found" to end users use this.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	var own *OwnershipError
	return errors.As(err, &nf) || errors.As(err, &own)
}

// -----------------------------------------------------------------------------
// Retry Logic
// -----------------------------------------------------------------------------

// RetryWithBackoff runs fn up to maxRetries+1 times with exponential backoff
// starting at baseDelay. Wrap an error with backoff.Permanent to stop early.
func RetryWithBackoff[T any](
	ctx context.Context,
	operation string,
	maxRetries int,
	baseDelay time.Duration,
	log *logger.Logger,
	fn func() (T, error),
) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = baseDelay
	b.MaxInterval = 30 * baseDelay

	attempt := 0
	return backoff.Retry(ctx, func() (T, error) {
		attempt++
		return fn()
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(maxRetries+1)),
		backoff.WithNotify(func(err error, next time.Duration) {
			if log != nil {
				log.Warning("Attempt %d/%d failed for %s: %v. Retrying in %v", attempt, maxRetries+1, operation, err, next)
			}
		}),
	)
}

// -----------------------------------------------------------------------------
// Error Handler
// -----------------------------------------------------------------------------

// ErrorHandler isolates faults in background loops. A panic inside Guard becomes
// an InternalUnexpectedError instead of killing the loop.
type ErrorHandler struct {
	Logger     *logger.Logger
	errorCount atomic.Int64
}

func NewErrorHandler(log *logger.Logger) *ErrorHandler {
	if log == nil {
		log = logger.NewLogger(nil, "ErrorHandler")
	}
	return &ErrorHandler{Logger: log}
}

// -----------------------------------------------------------------------------

func (e *ErrorHandler) ErrorCount() int64 {
	return e.errorCount.Load()
}

// -----------------------------------------------------------------------------

// Guard runs fn, logging and counting any returned error or recovered panic.
func (e *ErrorHandler) Guard(operation string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = NewInternalUnexpectedError(fmt.Sprintf("panic in %s", operation), fmt.Errorf("%v", r))
			e.Logger.Debug("%s stack: %s", operation, debug.Stack())
		}
		if err != nil {
			e.errorCount.Add(1)
			e.Logger.Error("Error in %s: %v", operation, err)
		}
	}()
	return fn()
}
