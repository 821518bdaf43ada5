package errors

import (
	stderrors "errors"
	"fmt"
	"os"
	"testing"
)

func TestFocusError_Error(t *testing.T) {
	err := &FocusError{
		Code:    ErrNotFound,
		Status:  404,
		Message: "snapshot not found",
	}

	expected := "NOT_FOUND: snapshot not found"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestNewInvalidRequest(t *testing.T) {
	err := NewInvalidRequest("days must be positive")

	if err.Code != ErrInvalidRequest {
		t.Errorf("Code = %q, want %q", err.Code, ErrInvalidRequest)
	}
	if err.Status != 400 {
		t.Errorf("Status = %d, want 400", err.Status)
	}
	if err.Message != "days must be positive" {
		t.Errorf("Message = %q, want %q", err.Message, "days must be positive")
	}
}

func TestNewCaptureNotFound(t *testing.T) {
	err := NewCaptureNotFound("/tmp/capture_1.png", os.ErrNotExist)

	if err.Code != ErrNotFound {
		t.Errorf("Code = %q, want %q", err.Code, ErrNotFound)
	}
	if err.Details["path"] != "/tmp/capture_1.png" {
		t.Errorf("Details[path] = %v", err.Details["path"])
	}
	if !stderrors.Is(err, os.ErrNotExist) {
		t.Errorf("expected wrapped os.ErrNotExist")
	}
}

func TestNewValidation_Problems(t *testing.T) {
	err := NewValidation("annotation is incomplete", []string{"missing summary"})

	if err.Status != 422 {
		t.Errorf("Status = %d, want 422", err.Status)
	}
	problems, ok := err.Details["problems"].([]string)
	if !ok || len(problems) != 1 {
		t.Fatalf("Details[problems] = %v", err.Details["problems"])
	}

	if NewValidation("bad", nil).Details != nil {
		t.Errorf("expected nil details without problems")
	}
}

func TestNewAnalysisFailed(t *testing.T) {
	cause := NewParse(fmt.Errorf("unexpected end of JSON input"))
	err := NewAnalysisFailed(3, cause)

	if err.Details["attempts"] != 3 {
		t.Errorf("Details[attempts] = %v, want 3", err.Details["attempts"])
	}
	if !Is(err, ErrAnalysisFailed) {
		t.Errorf("Is(ErrAnalysisFailed) = false")
	}
	if !Is(err, ErrParse) {
		t.Errorf("Is(ErrParse) = false, want true through the wrapped cause")
	}
}

func TestNewInternal_NilErr(t *testing.T) {
	err := NewInternal(nil)
	if err.Message != "internal error" {
		t.Errorf("Message = %q, want %q", err.Message, "internal error")
	}
}

func TestIs(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code ErrorCode
		want bool
	}{
		{"matching code", NewNotFound("x"), ErrNotFound, true},
		{"different code", NewNotFound("x"), ErrStorage, false},
		{"wrapped with fmt", fmt.Errorf("store: %w", NewStorage("insert", nil)), ErrStorage, true},
		{"plain error", fmt.Errorf("boom"), ErrInternal, false},
		{"nil", nil, ErrInternal, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Is(tt.err, tt.code); got != tt.want {
				t.Errorf("Is() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"parse", NewParse(nil), true},
		{"provider", NewAnalysisProvider(fmt.Errorf("503")), true},
		{"validation", NewValidation("missing context", nil), false},
		{"storage", NewStorage("insert", nil), false},
		{"plain error", fmt.Errorf("connection reset"), true},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAs(t *testing.T) {
	wrapped := fmt.Errorf("batch: %w", NewStorage("insert snapshot", os.ErrPermission))
	fErr, ok := As(wrapped)
	if !ok {
		t.Fatal("As() did not find the wrapped FocusError")
	}
	if fErr.Code != ErrStorage {
		t.Errorf("Code = %s, want %s", fErr.Code, ErrStorage)
	}

	if _, ok := As(stderrors.New("plain")); ok {
		t.Error("As() found a FocusError in a plain error")
	}
}
