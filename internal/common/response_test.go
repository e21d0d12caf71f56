package common

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWriteErrorRendersAppError(t *testing.T) {
	cause := errors.New("rate feed down")
	err := NewAppError("INVALID_RATE", "exchange rate unavailable", http.StatusServiceUnavailable, cause).
		WithRetryAfter(30 * time.Second)

	rr := httptest.NewRecorder()
	WriteError(rr, err)

	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	require.Equal(t, "30", rr.Header().Get("Retry-After"))
	var body struct {
		Error ErrorBody `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, "INVALID_RATE", body.Error.Code)
	require.Equal(t, "exchange rate unavailable", body.Error.Message)
	require.ErrorIs(t, err, cause)
}

func TestWriteErrorHidesUnknownErrors(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteError(rr, errors.New("secret detail"))
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.NotContains(t, rr.Body.String(), "secret detail")
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.7:5555"
	require.Equal(t, "198.51.100.7", ClientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.1, 10.0.0.1")
	require.Equal(t, "203.0.113.1", ClientIP(req))
}
