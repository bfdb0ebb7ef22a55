package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *AppError
		want string
	}{
		{
			name: "error without cause",
			err:  &AppError{Code: ErrCodeNotFound, Message: "job not found"},
			want: "job not found",
		},
		{
			name: "error with cause",
			err: &AppError{
				Code:    ErrCodeUnavailable,
				Message: "enqueue job",
				Cause:   errors.New("queue full"),
			},
			want: "enqueue job: queue full",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("AppError.Error() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("underlying error")
	err := Wrap(cause, ErrCodeInternal, "wrapped error")

	if !errors.Is(err, cause) {
		t.Errorf("errors.Is(%v, cause) = false, want true", err)
	}
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		name    string
		err     *AppError
		code    ErrorCode
		message string
	}{
		{"NotFound", NotFound("job not found"), ErrCodeNotFound, "job not found"},
		{"NotFoundf", NotFoundf("job %s not found", "abc"), ErrCodeNotFound, "job abc not found"},
		{"Conflict", Conflict("job finished"), ErrCodeConflict, "job finished"},
		{"Conflictf", Conflictf("job %s finished", "abc"), ErrCodeConflict, "job abc finished"},
		{"Validation", Validation("bad input"), ErrCodeValidation, "bad input"},
		{"Validationf", Validationf("bad %s", "moca"), ErrCodeValidation, "bad moca"},
		{"Internal", Internal("boom"), ErrCodeInternal, "boom"},
		{"Unavailable", Unavailable("queue full"), ErrCodeUnavailable, "queue full"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.code {
				t.Errorf("%s().Code = %v, want %v", tt.name, tt.err.Code, tt.code)
			}
			if tt.err.Message != tt.message {
				t.Errorf("%s().Message = %v, want %v", tt.name, tt.err.Message, tt.message)
			}
		})
	}
}

func TestValidationField(t *testing.T) {
	err := ValidationField("moca", "invalid JSON")
	if GetField(err) != "moca" {
		t.Errorf("GetField() = %v, want moca", GetField(err))
	}
	if !IsValidation(err) {
		t.Error("IsValidation() = false, want true")
	}
}

func TestWrap_Nil(t *testing.T) {
	if Wrap(nil, ErrCodeInternal, "ignored") != nil {
		t.Error("Wrap(nil) should return nil")
	}
}

func TestPredicates_ThroughWrapping(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"not found", NotFound("x"), IsNotFound},
		{"conflict", Conflict("x"), IsConflict},
		{"validation", Validation("x"), IsValidation},
		{"internal", Internal("x"), IsInternal},
		{"timeout", &AppError{Code: ErrCodeTimeout, Message: "x"}, IsTimeout},
		{"canceled", &AppError{Code: ErrCodeCanceled, Message: "x"}, IsCanceled},
		{"unavailable", Unavailable("x"), IsUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("outer: %w", tt.err)
			if !tt.check(wrapped) {
				t.Errorf("predicate failed for wrapped %s error", tt.name)
			}
			if tt.check(errors.New("plain")) {
				t.Errorf("predicate matched a plain error for %s", tt.name)
			}
		})
	}
}

func TestGetCode(t *testing.T) {
	if got := GetCode(Wrapf(errors.New("x"), ErrCodeTimeout, "lookup %d", 1)); got != ErrCodeTimeout {
		t.Errorf("GetCode() = %v, want %v", got, ErrCodeTimeout)
	}
	if got := GetCode(errors.New("plain")); got != "" {
		t.Errorf("GetCode(plain) = %v, want empty", got)
	}
}
