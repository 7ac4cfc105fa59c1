// Package errors provides the error taxonomy shared by the parser, dispatcher,
// store and tool surface. Errors carry a stable code plus an optional hint for
// the person at the terminal.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode represents standardized error categories
type ErrorCode string

const (
	// Parse errors
	ErrCodeUnterminatedQuote ErrorCode = "PARSE_UNTERMINATED_QUOTE"
	ErrCodeMissingCommand    ErrorCode = "PARSE_MISSING_COMMAND"

	// Dispatch errors
	ErrCodeHandlerFailed ErrorCode = "HANDLER_FAILED"
	ErrCodeForwardFailed ErrorCode = "COMMAND_FORWARD_FAILED"
	ErrCodeQueueFull     ErrorCode = "COMMAND_QUEUE_FULL"
	ErrCodeShuttingDown  ErrorCode = "SHUTTING_DOWN"

	// Session errors
	ErrCodeSessionNotFound     ErrorCode = "SESSION_NOT_FOUND"
	ErrCodeSessionLimitReached ErrorCode = "SESSION_LIMIT_REACHED"

	// Filesystem errors
	ErrCodeFileNotFound ErrorCode = "FILE_NOT_FOUND"
	ErrCodeInvalidPath  ErrorCode = "INVALID_PATH"

	// Validation errors
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"

	// Storage errors
	ErrCodeDatabaseError ErrorCode = "DATABASE_ERROR"

	// Internal errors
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// TerminalError is the standardized error type for the application
type TerminalError struct {
	Code       ErrorCode      `json:"code"`
	Message    string         `json:"message"`
	Details    string         `json:"details,omitempty"`
	Context    map[string]any `json:"context,omitempty"`
	Cause      error          `json:"-"`
	Retryable  bool           `json:"retryable"`
	Suggestion string         `json:"suggestion,omitempty"`
}

// Error implements the error interface
func (e *TerminalError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap allows errors.Is and errors.As to work with the underlying cause
func (e *TerminalError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error
func (e *TerminalError) WithContext(key string, value any) *TerminalError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithSuggestion adds a suggestion for the user
func (e *TerminalError) WithSuggestion(suggestion string) *TerminalError {
	e.Suggestion = suggestion
	return e
}

// WithDetails adds detailed information
func (e *TerminalError) WithDetails(details string) *TerminalError {
	e.Details = details
	return e
}

// New creates a new TerminalError
func New(code ErrorCode, message string) *TerminalError {
	return &TerminalError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(cause error, code ErrorCode, message string) *TerminalError {
	return &TerminalError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Is checks if the error matches the given error code
func Is(err error, code ErrorCode) bool {
	var termErr *TerminalError
	if errors.As(err, &termErr) {
		return termErr.Code == code
	}
	return false
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	var termErr *TerminalError
	if errors.As(err, &termErr) {
		return termErr.Code
	}
	return ErrCodeInternal
}

// IsRetryable checks if the error is retryable
func IsRetryable(err error) bool {
	var termErr *TerminalError
	if errors.As(err, &termErr) {
		return termErr.Retryable
	}
	return false
}

// UserMessage renders err as a single terminal line without the code prefix.
// The suggestion, when present, follows in parentheses.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var termErr *TerminalError
	if !errors.As(err, &termErr) {
		return "error: " + err.Error()
	}

	var b strings.Builder
	b.WriteString("error: ")
	b.WriteString(termErr.Message)
	if termErr.Cause != nil {
		b.WriteString(": ")
		b.WriteString(termErr.Cause.Error())
	}
	if termErr.Suggestion != "" {
		b.WriteString(" (")
		b.WriteString(termErr.Suggestion)
		b.WriteString(")")
	}
	return b.String()
}

// --- Convenience constructors for common errors ---

// UnterminatedQuote reports a quote opened at column with no closing match
func UnterminatedQuote(quote rune, column int) *TerminalError {
	return New(ErrCodeUnterminatedQuote, fmt.Sprintf("unterminated %c quote at column %d", quote, column)).
		WithContext("column", column).
		WithSuggestion("Close the quote or escape it with a backslash")
}

// MissingCommand reports a line made only of flags
func MissingCommand() *TerminalError {
	return New(ErrCodeMissingCommand, "no command name before flags").
		WithSuggestion("Type help to list built-in commands")
}

// SessionNotFound creates a session not found error
func SessionNotFound(sessionID string) *TerminalError {
	return New(ErrCodeSessionNotFound, fmt.Sprintf("session not found: %s", sessionID)).
		WithContext("session_id", sessionID).
		WithSuggestion("Use list_sessions to see available sessions")
}

// HandlerFailed wraps a built-in handler failure
func HandlerFailed(cause error, command string) *TerminalError {
	return Wrap(cause, ErrCodeHandlerFailed, fmt.Sprintf("%s failed", command)).
		WithContext("command", command)
}

// ForwardFailed wraps a failure to hand a line to the shell
func ForwardFailed(cause error, sessionID string) *TerminalError {
	err := Wrap(cause, ErrCodeForwardFailed, "could not forward command to shell").
		WithContext("session_id", sessionID)
	err.Retryable = true
	return err
}

// QueueFull reports a session whose command queue is at capacity
func QueueFull(sessionID string, size int) *TerminalError {
	err := New(ErrCodeQueueFull, fmt.Sprintf("command queue full (%d pending)", size)).
		WithContext("session_id", sessionID).
		WithSuggestion("Wait for running commands to finish")
	err.Retryable = true
	return err
}

// ShuttingDown reports work refused because a component is closing
func ShuttingDown(component string) *TerminalError {
	return New(ErrCodeShuttingDown, fmt.Sprintf("%s is shutting down", component))
}

// FileNotFound creates a file not found error
func FileNotFound(path string) *TerminalError {
	return New(ErrCodeFileNotFound, fmt.Sprintf("no such file: %s", path)).
		WithContext("path", path)
}

// InvalidPath creates an invalid path error
func InvalidPath(path, reason string) *TerminalError {
	return New(ErrCodeInvalidPath, fmt.Sprintf("%s: %s", reason, path)).
		WithContext("path", path)
}

// InvalidInput creates an invalid input error
func InvalidInput(field, reason string) *TerminalError {
	return New(ErrCodeInvalidInput, fmt.Sprintf("invalid input for %s: %s", field, reason)).
		WithContext("field", field)
}

// DatabaseError creates a database error
func DatabaseError(cause error, operation string) *TerminalError {
	return Wrap(cause, ErrCodeDatabaseError, fmt.Sprintf("database operation failed: %s", operation)).
		WithContext("operation", operation).
		WithSuggestion("Check database connection and try again")
}

// InternalError creates an internal error
func InternalError(cause error, details string) *TerminalError {
	return Wrap(cause, ErrCodeInternal, "internal error occurred").
		WithDetails(details).
		WithSuggestion("Please report this issue if it persists")
}
