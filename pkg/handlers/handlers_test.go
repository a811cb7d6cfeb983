package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAsAppErrorUnwrapsChain(t *testing.T) {
	inner := NotFoundError("killmail not found")
	wrapped := fmt.Errorf("fetching: %w", inner)

	appErr := AsAppError(wrapped)
	assert.Equal(t, ErrorTypeNotFound, appErr.Type)
	assert.Equal(t, http.StatusNotFound, appErr.Code)
}

func TestAsAppErrorWrapsUnknownAsInternal(t *testing.T) {
	appErr := AsAppError(errors.New("boom"))
	assert.Equal(t, ErrorTypeInternal, appErr.Type)
	assert.Equal(t, http.StatusInternalServerError, appErr.Code)
}

func TestRetryable(t *testing.T) {
	assert.True(t, TransportError("upstream reset", nil).Retryable())
	assert.True(t, RateLimitError("slow down", time.Second).Retryable())
	assert.False(t, ValidationError("bad input").Retryable())
	assert.False(t, NotFoundError("missing").Retryable())
}

func TestErrorResponseWritesEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	ErrorResponse(rec, ValidationError("system_id is required"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var envelope ErrorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, string(ErrorTypeValidation), envelope.Error.Type)
	assert.Equal(t, "system_id is required", envelope.Error.Message)
	assert.False(t, envelope.Timestamp.IsZero())
}
