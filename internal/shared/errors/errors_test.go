package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError(t *testing.T) {
	t.Run("message only", func(t *testing.T) {
		err := NewAppError("BAD_REQUEST", "missing field", http.StatusBadRequest, nil)
		assert.Equal(t, "missing field", err.Error())
	})

	t.Run("wraps the cause", func(t *testing.T) {
		cause := errors.New("disk full")
		err := Internal("could not save", cause)
		assert.ErrorIs(t, err, cause)
		assert.Contains(t, err.Error(), "disk full")
	})

	t.Run("constructors set status codes", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, Unauthorized("").StatusCode)
		assert.Equal(t, http.StatusBadRequest, BadRequest("x").StatusCode)
		assert.Equal(t, http.StatusUnprocessableEntity, ValidationError("x").StatusCode)
		assert.Equal(t, http.StatusInternalServerError, Internal("x", nil).StatusCode)
		assert.Equal(t, http.StatusServiceUnavailable, ServiceUnavailable("x", nil).StatusCode)
	})
}

func TestGetStatusCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"app error", ValidationError("x"), http.StatusUnprocessableEntity},
		{"wrapped app error", fmt.Errorf("outer: %w", Unauthorized("")), http.StatusUnauthorized},
		{"not found", ErrNotFound, http.StatusNotFound},
		{"quota exceeded", ErrQuotaExceeded, http.StatusPaymentRequired},
		{"rate limited", ErrRateLimited, http.StatusTooManyRequests},
		{"service unavailable", ErrServiceUnavailable, http.StatusServiceUnavailable},
		{"unknown", errors.New("mystery"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, GetStatusCode(tt.err))
		})
	}
}
