package core

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors for handling decisions.
type ErrorCategory string

const (
	ErrCatValidation ErrorCategory = "validation" // Invalid input or configuration
	ErrCatExecution  ErrorCategory = "execution"  // Runtime failure
	ErrCatTimeout    ErrorCategory = "timeout"    // Operation timed out
	ErrCatRateLimit  ErrorCategory = "rate_limit" // Provider rate limited
	ErrCatProvider   ErrorCategory = "provider"   // Provider unavailable/rejected
	ErrCatState      ErrorCategory = "state"      // State corruption/conflict
	ErrCatNotFound   ErrorCategory = "not_found"  // Resource not found
	ErrCatBudget     ErrorCategory = "budget"     // Cost limit exceeded
	ErrCatInternal   ErrorCategory = "internal"   // Unexpected internal error
)

// DomainError is a structured error from the engine.
type DomainError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Retryable bool
	Cause     error
	Details   map[string]any
}

func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (%v)", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is matches on category and code.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Category == t.Category && e.Code == t.Code
}

// WithCause wraps an underlying error.
func (e *DomainError) WithCause(cause error) *DomainError {
	e.Cause = cause
	return e
}

// WithDetail adds contextual information.
func (e *DomainError) WithDetail(key string, value any) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// ErrValidation creates a validation error.
func ErrValidation(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatValidation,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// ErrExecution creates a runtime execution error.
func ErrExecution(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatExecution,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// ErrTimeout creates a timeout error.
func ErrTimeout(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatTimeout,
		Code:      "TIMEOUT",
		Message:   message,
		Retryable: true,
	}
}

// ErrRateLimit creates a retryable rate-limit error.
func ErrRateLimit(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatRateLimit,
		Code:      "RATE_LIMITED",
		Message:   message,
		Retryable: true,
	}
}

// ErrProviderUnavailable creates a retryable provider-unavailable error.
func ErrProviderUnavailable(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatProvider,
		Code:      "PROVIDER_UNAVAILABLE",
		Message:   message,
		Retryable: true,
	}
}

// ErrProvider creates a non-retryable provider error.
func ErrProvider(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatProvider,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// ErrState creates a state error.
func ErrState(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatState,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// ErrNotFound creates a not-found error.
func ErrNotFound(resource, id string) *DomainError {
	return &DomainError{
		Category:  ErrCatNotFound,
		Code:      "NOT_FOUND",
		Message:   fmt.Sprintf("%s not found: %s", resource, id),
		Retryable: false,
	}
}

// ErrCostLimitExceeded creates an error when the run cost limit is reached.
func ErrCostLimitExceeded(current, limit float64) *DomainError {
	return &DomainError{
		Category:  ErrCatBudget,
		Code:      CodeCostLimitExceeded,
		Message:   fmt.Sprintf("run cost $%.4f exceeds limit $%.2f", current, limit),
		Retryable: false,
		Details: map[string]any{
			"current_cost": current,
			"limit":        limit,
		},
	}
}

// ErrNoModel creates the configuration error for an agent without a model.
func ErrNoModel(agentName string) *DomainError {
	return &DomainError{
		Category:  ErrCatValidation,
		Code:      CodeNoModel,
		Message:   fmt.Sprintf("agent %q has no LLM model configured", agentName),
		Retryable: false,
	}
}

// IsRetryable reports whether an error should be retried.
func IsRetryable(err error) bool {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Retryable
	}
	return false
}

// GetCategory extracts the error category.
func GetCategory(err error) ErrorCategory {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Category
	}
	return ErrCatInternal
}

// IsCategory checks if an error belongs to a category.
func IsCategory(err error, cat ErrorCategory) bool {
	return GetCategory(err) == cat
}

// Predefined error codes.
const (
	CodeRunNotFound       = "RUN_NOT_FOUND"
	CodeStageNotFound     = "STAGE_NOT_FOUND"
	CodeInvalidState      = "INVALID_STATE"
	CodeRunTerminal       = "RUN_TERMINAL"
	CodeNoModel           = "NO_MODEL_CONFIGURED"
	CodeNoTeamMembers     = "NO_TEAM_MEMBERS"
	CodeCostLimitExceeded = "COST_LIMIT_EXCEEDED"
	CodeStageCrashed      = "STAGE_CRASHED"
	CodeToolUnknown       = "TOOL_UNKNOWN"
	CodeRunTimeout        = "RUN_TIMEOUT"
)
