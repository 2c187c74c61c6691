package errors

import (
	"errors"
	"fmt"
)

// AppError is the structured error carried from use cases to transports.
// Details must never contain decrypted storage paths.
type AppError struct {
	Code    int    // Business error code
	Message string // Human-readable message from the code table
	Err     error  // Underlying cause (optional)
	Details string // Additional context (optional)
}

func (e *AppError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("[%d] %s: %v", e.Code, e.Message, e.Err)
	case e.Details != "":
		return fmt.Sprintf("[%d] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Kind returns the taxonomy kind for this error
func (e *AppError) Kind() Kind {
	return GetKind(e.Code)
}

// HTTPStatus returns the HTTP status code for this error
func (e *AppError) HTTPStatus() int {
	return GetHTTPStatus(e.Code)
}

func firstDetail(details []string) string {
	if len(details) > 0 {
		return details[0]
	}
	return ""
}

// as finds the outermost AppError in err's chain
func as(err error) (*AppError, bool) {
	var appErr *AppError
	ok := errors.As(err, &appErr)
	return appErr, ok
}

// New creates an AppError for code with optional details
func New(code int, details ...string) *AppError {
	return &AppError{Code: code, Message: GetMessage(code), Details: firstDetail(details)}
}

// Wrap attaches code to err. An err that already carries a code keeps it;
// non-empty details then replace the existing details on a copy.
func Wrap(err error, code int, details ...string) *AppError {
	if err == nil {
		return nil
	}
	detail := firstDetail(details)
	if appErr, ok := as(err); ok {
		if detail == "" {
			return appErr
		}
		cp := *appErr
		cp.Details = detail
		return &cp
	}
	return &AppError{Code: code, Message: GetMessage(code), Err: err, Details: detail}
}

// Wrapf wraps an error with formatted details
func Wrapf(err error, code int, format string, args ...interface{}) *AppError {
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

// NewBackendError wraps an adapter failure with the backend identity attached
func NewBackendError(err error, backend, nodeID, op string) *AppError {
	return &AppError{
		Code:    ErrBackendFailure,
		Message: GetMessage(ErrBackendFailure),
		Err:     err,
		Details: fmt.Sprintf("%s %s on node %s", backend, op, nodeID),
	}
}

// Is checks if err is an AppError with the given code
func Is(err error, code int) bool {
	appErr, ok := as(err)
	return ok && appErr.Code == code
}

// KindOf returns the taxonomy kind of err; non-AppError values are KindInternal
func KindOf(err error) Kind {
	if appErr, ok := as(err); ok {
		return appErr.Kind()
	}
	return KindInternal
}

// IsKind reports whether err belongs to the given taxonomy kind
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// ExtractCode returns the code carried by err, ErrInternalServer otherwise
func ExtractCode(err error) int {
	if appErr, ok := as(err); ok {
		return appErr.Code
	}
	return ErrInternalServer
}

// GetDetails returns the details of err, falling back to the cause text
func GetDetails(err error) string {
	if err == nil {
		return ""
	}
	if appErr, ok := as(err); ok {
		if appErr.Details != "" {
			return appErr.Details
		}
		if appErr.Err != nil {
			return appErr.Err.Error()
		}
		return ""
	}
	return err.Error()
}
