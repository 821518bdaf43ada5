package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a Focus error code.
type ErrorCode string

const (
	ErrInvalidRequest   ErrorCode = "INVALID_REQUEST"   // 400
	ErrNotFound         ErrorCode = "NOT_FOUND"         // 404
	ErrParse            ErrorCode = "PARSE_ERROR"       // 422
	ErrValidation       ErrorCode = "VALIDATION_ERROR"  // 422
	ErrCapture          ErrorCode = "CAPTURE_ERROR"     // 500
	ErrAnalysisFailed   ErrorCode = "ANALYSIS_FAILED"   // 502
	ErrAnalysisProvider ErrorCode = "ANALYSIS_PROVIDER" // 502 (transient, retried)
	ErrStorage          ErrorCode = "STORAGE_ERROR"     // 500
	ErrMaintenance      ErrorCode = "MAINTENANCE_ERROR" // 500
	ErrInternal         ErrorCode = "INTERNAL"          // 500
)

// FocusError represents a structured error with code, status, and details.
type FocusError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
	Err     error
}

// Error implements the error interface.
func (e *FocusError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *FocusError) Unwrap() error {
	return e.Err
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *FocusError {
	return &FocusError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewNotFound creates a 404 error for a missing record.
func NewNotFound(identifier string) *FocusError {
	return &FocusError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("not found: %s", identifier),
		Details: map[string]any{"identifier": identifier},
	}
}

// NewCaptureNotFound creates a 404 error for a capture file that is not on disk.
func NewCaptureNotFound(path string, err error) *FocusError {
	return &FocusError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("capture file not found: %s", path),
		Details: map[string]any{"path": path},
		Err:     err,
	}
}

// NewCapture creates an error for a failed or unreadable capture.
func NewCapture(path string, err error) *FocusError {
	msg := "capture failed"
	if err != nil {
		msg = fmt.Sprintf("capture failed: %v", err)
	}
	return &FocusError{
		Code:    ErrCapture,
		Status:  500,
		Message: msg,
		Details: map[string]any{"path": path},
		Err:     err,
	}
}

// NewParse creates an error for a response that is not valid JSON.
func NewParse(err error) *FocusError {
	msg := "response is not valid JSON"
	if err != nil {
		msg = fmt.Sprintf("response is not valid JSON: %v", err)
	}
	return &FocusError{
		Code:    ErrParse,
		Status:  422,
		Message: msg,
		Err:     err,
	}
}

// NewValidation creates an error for a response that does not match the annotation shape.
func NewValidation(msg string, problems []string) *FocusError {
	e := &FocusError{
		Code:    ErrValidation,
		Status:  422,
		Message: msg,
	}
	if len(problems) > 0 {
		e.Details = map[string]any{"problems": problems}
	}
	return e
}

// NewAnalysisProvider wraps a failure from the image-understanding service.
func NewAnalysisProvider(err error) *FocusError {
	return &FocusError{
		Code:    ErrAnalysisProvider,
		Status:  502,
		Message: fmt.Sprintf("analysis provider call failed: %v", err),
		Err:     err,
	}
}

// NewAnalysisFailed creates a terminal error once retries are exhausted.
func NewAnalysisFailed(attempts int, err error) *FocusError {
	return &FocusError{
		Code:    ErrAnalysisFailed,
		Status:  502,
		Message: fmt.Sprintf("analysis failed after %d attempts: %v", attempts, err),
		Details: map[string]any{"attempts": attempts},
		Err:     err,
	}
}

// NewStorage creates an error for a failed transaction or integrity violation.
func NewStorage(op string, err error) *FocusError {
	return &FocusError{
		Code:    ErrStorage,
		Status:  500,
		Message: fmt.Sprintf("%s: %v", op, err),
		Details: map[string]any{"op": op},
		Err:     err,
	}
}

// NewMaintenance creates an error for a failed cleanup or optimize pass.
func NewMaintenance(op string, err error) *FocusError {
	return &FocusError{
		Code:    ErrMaintenance,
		Status:  500,
		Message: fmt.Sprintf("%s: %v", op, err),
		Details: map[string]any{"op": op},
		Err:     err,
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *FocusError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &FocusError{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
		Err:     err,
	}
}

// As returns the outermost FocusError in err's chain.
func As(err error) (*FocusError, bool) {
	var fErr *FocusError
	if stderrors.As(err, &fErr) {
		return fErr, true
	}
	return nil, false
}

// Is checks if err (or anything it wraps) is a FocusError with the given code.
func Is(err error, code ErrorCode) bool {
	var fErr *FocusError
	for err != nil {
		if !stderrors.As(err, &fErr) {
			return false
		}
		if fErr.Code == code {
			return true
		}
		err = fErr.Err
	}
	return false
}

// IsRetryable reports whether an analysis failure is transient.
// Parse failures and provider failures are retried; validation failures are not.
func IsRetryable(err error) bool {
	var fErr *FocusError
	if !stderrors.As(err, &fErr) {
		return err != nil
	}
	switch fErr.Code {
	case ErrParse, ErrAnalysisProvider:
		return true
	default:
		return false
	}
}
