package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{name: "coded error", err: NotFound("workflow", "w-1"), want: ErrCodeNotFound},
		{name: "wrapped coded error", err: fmt.Errorf("outer: %w", Conflict("busy")), want: ErrCodeConflict},
		{name: "plain error defaults to internal", err: stderrors.New("boom"), want: ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CodeOf(tt.err); got != tt.want {
				t.Errorf("CodeOf() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIs(t *testing.T) {
	err := InvalidInput("steps", "definition has no steps")

	if !Is(err, ErrCodeInvalidInput) {
		t.Error("Is() = false for matching code")
	}
	if Is(err, ErrCodeNotFound) {
		t.Error("Is() = true for non-matching code")
	}
	if Is(stderrors.New("boom"), ErrCodeInternal) {
		t.Error("Is() = true for uncoded error")
	}
}

func TestUnwrap(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := Internal(cause, "failed to load definition")

	if !stderrors.Is(err, cause) {
		t.Error("errors.Is() failed to find the wrapped cause")
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{InvalidInput("f", "r"), http.StatusBadRequest},
		{Unauthorized("no"), http.StatusUnauthorized},
		{Forbidden("no"), http.StatusForbidden},
		{NotFound("r", "id"), http.StatusNotFound},
		{Conflict("busy"), http.StatusConflict},
		{stderrors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := HTTPStatus(tt.err); got != tt.want {
			t.Errorf("HTTPStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
