package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorClass represents the classification of an error for retry and recovery logic.
type ErrorClass string

const (
	// ErrorClassTransient indicates a temporary failure that may succeed on retry.
	// Examples: venue timeouts, stale block references, underpriced fees.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassThrottled indicates rate limiting by the venue.
	// Should be retried with a longer backoff.
	ErrorClassThrottled ErrorClass = "throttled"

	// ErrorClassConflict indicates a state conflict at the venue, such as
	// a nonce or position already being modified.
	ErrorClassConflict ErrorClass = "conflict"

	// ErrorClassPermanent indicates a non-recoverable error.
	// Examples: invalid parameters, cyclic dependencies, reverted operations.
	ErrorClassPermanent ErrorClass = "permanent"
)

// EngineError represents a classified error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification for retry logic.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// OperationID is the operation that caused the error, if applicable.
	OperationID string `json:"operation_id,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if e.OperationID != "" {
		msg = fmt.Sprintf("%s (operation=%s)", msg, e.OperationID)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %s", msg, e.Err.Error())
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
// Two engine errors match when class and code agree.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// Recoverable reports whether the error is eligible for retry.
func (e *EngineError) Recoverable() bool {
	return e.Class == ErrorClassTransient || e.Class == ErrorClassThrottled || e.Class == ErrorClassConflict
}

// ErrorClass returns the class as a plain string for metric labels.
func (e *EngineError) ErrorClass() string {
	return string(e.Class)
}

// ErrorCode returns the code for metric labels.
func (e *EngineError) ErrorCode() string {
	return e.Code
}

// NewTransientError creates a new transient error.
func NewTransientError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassTransient,
		Message: message,
		Err:     err,
	}
}

// NewThrottledError creates a new throttled error.
func NewThrottledError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassThrottled,
		Message: message,
		Err:     err,
	}
}

// NewConflictError creates a new conflict error.
func NewConflictError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassConflict,
		Message: message,
		Err:     err,
	}
}

// NewPermanentError creates a new permanent error.
func NewPermanentError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassPermanent,
		Message: message,
		Err:     err,
	}
}

// WithOperation adds operation context to an error.
func (e *EngineError) WithOperation(operationID string) *EngineError {
	e.OperationID = operationID
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// IsTransient returns true if the error is classified as transient.
func IsTransient(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassTransient
	}
	return false
}

// IsThrottled returns true if the error is classified as throttled.
func IsThrottled(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassThrottled
	}
	return false
}

// IsConflict returns true if the error is classified as a conflict.
func IsConflict(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassConflict
	}
	return false
}

// IsPermanent returns true if the error is classified as permanent.
func IsPermanent(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassPermanent
	}
	return false
}

// IsRetryable returns true if the error can be retried.
// Transient, throttled, and conflict errors are retryable.
func IsRetryable(err error) bool {
	return IsTransient(err) || IsThrottled(err) || IsConflict(err)
}

// Error codes.
const (
	ErrCodeValidation         = "VALIDATION_ERROR"
	ErrCodeDuplicateOperation = "DUPLICATE_OPERATION"
	ErrCodeNoOperations       = "NO_OPERATIONS"
	ErrCodeCyclicDependency   = "CYCLIC_DEPENDENCY"
	ErrCodeUnknownDependency  = "UNKNOWN_DEPENDENCY"
	ErrCodePolicyDenied       = "POLICY_DENIED"
	ErrCodeExecutionFailed    = "EXECUTION_FAILED"
	ErrCodeTimeout            = "TIMEOUT"
	ErrCodeRateLimited        = "RATE_LIMITED"
	ErrCodeInsufficientFee    = "INSUFFICIENT_FEE"
	ErrCodeStaleBlock         = "STALE_BLOCK"
	ErrCodeConflict           = "CONFLICT"
	ErrCodeDependencyFailed   = "DEPENDENCY_FAILED"
	ErrCodeDeadlock           = "DEADLOCK"
	ErrCodeCancelled          = "CANCELLED"
	ErrCodeRollbackFailed     = "ROLLBACK_FAILED"
	ErrCodePlanConsumed       = "PLAN_CONSUMED"
	ErrCodeInternal           = "INTERNAL_ERROR"
)

// Sentinel errors for errors.Is checks against planning and execution failures.
var (
	ErrValidation        = &EngineError{Class: ErrorClassPermanent, Code: ErrCodeValidation}
	ErrCyclicDependency  = &EngineError{Class: ErrorClassPermanent, Code: ErrCodeCyclicDependency}
	ErrUnknownDependency = &EngineError{Class: ErrorClassPermanent, Code: ErrCodeUnknownDependency}
	ErrPolicyDenied      = &EngineError{Class: ErrorClassPermanent, Code: ErrCodePolicyDenied}
	ErrDeadlock          = &EngineError{Class: ErrorClassPermanent, Code: ErrCodeDeadlock}
	ErrPlanConsumed      = &EngineError{Class: ErrorClassPermanent, Code: ErrCodePlanConsumed}
)

// failureSignature maps a set of message fragments to a recoverable class.
type failureSignature struct {
	fragments []string
	class     ErrorClass
	code      string
}

// recoverableSignatures is the fixed set of known transient venue failures.
var recoverableSignatures = []failureSignature{
	{
		fragments: []string{"timeout", "timed out", "deadline exceeded"},
		class:     ErrorClassTransient,
		code:      ErrCodeTimeout,
	},
	{
		fragments: []string{"rate limit", "too many requests", "429"},
		class:     ErrorClassThrottled,
		code:      ErrCodeRateLimited,
	},
	{
		fragments: []string{"insufficient fee", "fee too low", "underpriced", "insufficient priority", "max priority fee"},
		class:     ErrorClassTransient,
		code:      ErrCodeInsufficientFee,
	},
	{
		fragments: []string{"stale block", "block not found", "unknown block", "header not found"},
		class:     ErrorClassTransient,
		code:      ErrCodeStaleBlock,
	},
}

// Classify converts an arbitrary executor error into a classified EngineError.
// Errors that are already classified keep their class; context deadlines are
// timeouts; everything else is matched against the known transient signatures
// and falls back to a permanent execution failure.
func Classify(err error) *EngineError {
	if err == nil {
		return nil
	}

	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return engineErr
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return NewTransientError("operation timed out", err).WithCode(ErrCodeTimeout)
	}

	msg := strings.ToLower(err.Error())
	for _, sig := range recoverableSignatures {
		for _, fragment := range sig.fragments {
			if strings.Contains(msg, fragment) {
				return &EngineError{
					Class:   sig.class,
					Message: "recoverable venue failure",
					Code:    sig.code,
					Err:     err,
				}
			}
		}
	}

	return NewPermanentError("execution failed", err).WithCode(ErrCodeExecutionFailed)
}
