package errors

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorCategory represents different categories of errors
type ErrorCategory string

const (
	CategoryFormat     ErrorCategory = "format"
	CategoryValidation ErrorCategory = "validation"
	CategoryRemote     ErrorCategory = "remote"
	CategorySession    ErrorCategory = "session"
	CategoryNotFound   ErrorCategory = "not_found"
	CategoryInternal   ErrorCategory = "internal"
)

// ErrorCode represents specific error codes within categories
type ErrorCode string

const (
	// Format errors
	CodeInvalidFormat ErrorCode = "invalid_format"
	CodeMissingColumn ErrorCode = "missing_column"
	CodeNoRecords     ErrorCode = "no_records"

	// Validation errors
	CodeInvalidAmount   ErrorCode = "invalid_amount"
	CodeInvalidDate     ErrorCode = "invalid_date"
	CodeMissingArgument ErrorCode = "missing_argument"

	// Remote errors
	CodeRemoteTransient ErrorCode = "remote_transient"
	CodeRemoteWrite     ErrorCode = "remote_write"
	CodeRemoteFault     ErrorCode = "remote_fault"
	CodeAuthExpired     ErrorCode = "auth_expired"

	// Session errors
	CodeSessionExists     ErrorCode = "session_exists"
	CodeInvalidTransition ErrorCode = "invalid_transition"

	// Not-found errors
	CodeSessionNotFound ErrorCode = "session_not_found"
	CodeAccountNotFound ErrorCode = "account_not_found"

	// Internal errors
	CodeUnexpectedError ErrorCode = "unexpected_error"
)

// QBError is the base error type for all application errors
type QBError struct {
	Category   ErrorCategory     `json:"category"`
	Code       ErrorCode         `json:"code"`
	Message    string            `json:"message"`
	Suggestion string            `json:"suggestion,omitempty"`
	Context    Context           `json:"context,omitempty"`
	Cause      error             `json:"-"`
	StackTrace errors.StackTrace `json:"-"`
}

// Context provides additional information about the error
type Context map[string]interface{}

// Error implements the error interface
func (e *QBError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("%s (suggestion: %s)", e.Message, e.Suggestion)
	}
	return e.Message
}

// Unwrap returns the underlying cause error
func (e *QBError) Unwrap() error {
	return e.Cause
}

// GetExitCode maps the error category to the documented CLI exit codes:
// 1 for remote-API failures, 4 for missing resources, 5 for unusable input.
func (e *QBError) GetExitCode() int {
	switch e.Category {
	case CategoryRemote:
		return 1
	case CategoryNotFound:
		return 4
	case CategoryFormat, CategoryValidation, CategorySession:
		return 5
	default:
		return 1
	}
}

// IsRetryable reports whether the operation that produced the error may be
// safely retried. Only transient read failures qualify; write failures must
// go back through the dedup guard before any retry.
func (e *QBError) IsRetryable() bool {
	return e.Code == CodeRemoteTransient
}

// WithContext adds context information to the error
func (e *QBError) WithContext(key string, value interface{}) *QBError {
	if e.Context == nil {
		e.Context = make(Context)
	}
	e.Context[key] = value
	return e
}

// WithSuggestion adds a suggestion for fixing the error
func (e *QBError) WithSuggestion(suggestion string) *QBError {
	e.Suggestion = suggestion
	return e
}

// New creates a new QBError
func New(category ErrorCategory, code ErrorCode, message string) *QBError {
	return &QBError{
		Category:   category,
		Code:       code,
		Message:    message,
		StackTrace: errors.New("").(stackTracer).StackTrace(),
	}
}

// Wrap wraps an existing error with QBError context
func Wrap(err error, category ErrorCategory, code ErrorCode, message string) *QBError {
	if err == nil {
		return nil
	}

	return &QBError{
		Category:   category,
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: errors.WithStack(err).(stackTracer).StackTrace(),
	}
}

// stackTracer interface for extracting stack traces
type stackTracer interface {
	StackTrace() errors.StackTrace
}

// Specific error constructors

// FormatError creates a statement-parsing error
func FormatError(code ErrorCode, file string, detail string, err error) *QBError {
	var message string
	var suggestion string

	switch code {
	case CodeInvalidFormat:
		message = fmt.Sprintf("unparseable statement file %s: %s", file, detail)
		suggestion = "check that the file is a valid OFX/QFX/QBO or CSV statement"
	case CodeMissingColumn:
		message = fmt.Sprintf("missing required column '%s' in file %s", detail, file)
		suggestion = "pass the column names with --date-col, --amount-col and --desc-col"
	case CodeNoRecords:
		message = fmt.Sprintf("no valid transactions in file %s", file)
		suggestion = "verify the file contains statement transactions in the expected format"
	default:
		message = fmt.Sprintf("format error in file %s: %s", file, detail)
		suggestion = "check the statement file format"
	}

	var result *QBError
	if err != nil {
		result = Wrap(err, CategoryFormat, code, message)
	} else {
		result = New(CategoryFormat, code, message)
	}

	return result.
		WithSuggestion(suggestion).
		WithContext("file", file)
}

// ValidationError creates a CLI-argument validation error
func ValidationError(code ErrorCode, field string, value interface{}, err error) *QBError {
	var message string
	var suggestion string

	switch code {
	case CodeInvalidAmount:
		message = fmt.Sprintf("invalid amount in '%s': %v", field, value)
		suggestion = "amounts must be decimal numbers without currency symbols (e.g. '1234.56')"
	case CodeInvalidDate:
		message = fmt.Sprintf("invalid date in '%s': %v", field, value)
		suggestion = "use the YYYY-MM-DD date format"
	case CodeMissingArgument:
		message = fmt.Sprintf("required argument '%s' is missing", field)
		suggestion = "provide a value for this argument"
	default:
		message = fmt.Sprintf("invalid value for '%s': %v", field, value)
		suggestion = "check the argument value and format"
	}

	var result *QBError
	if err != nil {
		result = Wrap(err, CategoryValidation, code, message)
	} else {
		result = New(CategoryValidation, code, message)
	}

	return result.
		WithSuggestion(suggestion).
		WithContext("field", field).
		WithContext("value", value)
}

// RemoteError creates a ledger-API error
func RemoteError(code ErrorCode, operation string, err error) *QBError {
	var message string
	var suggestion string

	switch code {
	case CodeRemoteTransient:
		message = fmt.Sprintf("transient remote failure during %s", operation)
		suggestion = "the request is retried automatically; check connectivity if it persists"
	case CodeRemoteWrite:
		message = fmt.Sprintf("failed to create transaction during %s", operation)
		suggestion = "re-run the import; the dedup guard prevents duplicate creation"
	case CodeAuthExpired:
		message = fmt.Sprintf("authorization expired during %s", operation)
		suggestion = "refresh the OAuth token and try again"
	default:
		message = fmt.Sprintf("remote API error during %s", operation)
		suggestion = "check the account ID and API credentials"
	}

	var result *QBError
	if err != nil {
		result = Wrap(err, CategoryRemote, code, message)
	} else {
		result = New(CategoryRemote, code, message)
	}

	return result.
		WithSuggestion(suggestion).
		WithContext("operation", operation)
}

// SessionError creates a reconciliation-session state error
func SessionError(code ErrorCode, accountID string, detail string) *QBError {
	var message string
	var suggestion string

	switch code {
	case CodeSessionExists:
		message = fmt.Sprintf("a reconciliation session already exists for account %s (%s)", accountID, detail)
		suggestion = "finish or reset the existing session before starting a new one"
	case CodeInvalidTransition:
		message = fmt.Sprintf("invalid session transition for account %s: %s", accountID, detail)
		suggestion = "run 'qb reconcile status' to inspect the current session state"
	default:
		message = fmt.Sprintf("session error for account %s: %s", accountID, detail)
		suggestion = "run 'qb reconcile status' to inspect the current session state"
	}

	return New(CategorySession, code, message).
		WithSuggestion(suggestion).
		WithContext("account_id", accountID)
}

// NotFoundError creates a missing-resource error
func NotFoundError(code ErrorCode, resource string, key string) *QBError {
	message := fmt.Sprintf("%s not found: %s", resource, key)
	suggestion := "check the identifier and try again"
	if code == CodeSessionNotFound {
		suggestion = "start a session first with 'qb reconcile start'"
	}

	return New(CategoryNotFound, code, message).
		WithSuggestion(suggestion).
		WithContext(resource, key)
}

// InternalError creates an internal error
func InternalError(operation string, err error) *QBError {
	result := Wrap(err, CategoryInternal, CodeUnexpectedError,
		fmt.Sprintf("unexpected error during %s", operation))
	if result == nil {
		result = New(CategoryInternal, CodeUnexpectedError,
			fmt.Sprintf("unexpected error during %s", operation))
	}
	return result.
		WithSuggestion("this is likely a bug - please report it with the error details").
		WithContext("operation", operation)
}

// Utility functions

// IsQBError checks if an error is a QBError
func IsQBError(err error) bool {
	_, ok := err.(*QBError)
	return ok
}

// AsQBError extracts a QBError from an error chain
func AsQBError(err error) (*QBError, bool) {
	var qbErr *QBError
	if errors.As(err, &qbErr) {
		return qbErr, true
	}
	return nil, false
}

// WrapIfNeeded wraps an error if it's not already a QBError
func WrapIfNeeded(err error, category ErrorCategory, code ErrorCode, message string) *QBError {
	if err == nil {
		return nil
	}

	if qbErr, ok := AsQBError(err); ok {
		return qbErr
	}

	return Wrap(err, category, code, message)
}

// ExitCode returns the exit code for any error: QBErrors map by category,
// everything else is treated as a generic failure.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if qbErr, ok := AsQBError(err); ok {
		return qbErr.GetExitCode()
	}
	return 1
}
