package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTypeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorType
	}{
		{name: "integrity", err: Integrity("patch base mismatch", "a", "b"), want: ErrorTypeIntegrity},
		{name: "range", err: Range("entry out of range"), want: ErrorTypeRange},
		{name: "wrapped conflict", err: fmt.Errorf("pushing: %w", Conflict("diverged", nil)), want: ErrorTypeConflict},
		{name: "plain error", err: stderrors.New("boom"), want: ErrorTypeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TypeOf(tt.err))
			assert.True(t, IsType(tt.err, tt.want) || tt.want == ErrorTypeInternal)
		})
	}
}

func TestIsTypeThroughCause(t *testing.T) {
	inner := Transport("remote unreachable", 0, stderrors.New("dial tcp"))
	outer := Wrap(ErrorTypeConfig, "lfs push", inner)

	assert.True(t, IsType(outer, ErrorTypeConfig))
	assert.True(t, IsType(outer, ErrorTypeTransport))
	assert.False(t, IsType(outer, ErrorTypeIntegrity))
	assert.False(t, IsType(nil, ErrorTypeConfig))
}

func TestErrorsIs(t *testing.T) {
	err := fmt.Errorf("apply: %w", Integrity("result hash mismatch", "x", "y"))
	assert.True(t, stderrors.Is(err, &Error{Type: ErrorTypeIntegrity}))
	assert.False(t, stderrors.Is(err, &Error{Type: ErrorTypeRange}))
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, StatusCode(NotFound("branch main not found")))
	assert.Equal(t, http.StatusConflict, StatusCode(Conflict("exists", nil)))
	assert.Equal(t, http.StatusInternalServerError, StatusCode(stderrors.New("x")))
}

func TestErrorMessage(t *testing.T) {
	err := Transport("POST /lfs/upload", http.StatusBadGateway, stderrors.New("unexpected status: 502"))
	assert.Equal(t, "POST /lfs/upload: unexpected status: 502", err.Error())
	assert.Equal(t, map[string]int{"status": 502}, err.Details)
}
