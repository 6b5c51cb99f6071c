package httpserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/pscheid92/plantpulse/internal/platform/errors"
)

const testRemoteAddr = "10.0.0.7:41000"

func limitedRequest(t *testing.T, e *echo.Echo, handler echo.HandlerFunc, remoteAddr string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.RemoteAddr = remoteAddr
	rec := httptest.NewRecorder()
	require.NoError(t, handler(e.NewContext(req, rec)))
	return rec
}

func okHandler(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func TestRateLimiter_AllowsBurst(t *testing.T) {
	e := echo.New()
	handler := newRateLimiter(10, 3)(okHandler)

	for range 3 {
		rec := limitedRequest(t, e, handler, testRemoteAddr)
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestRateLimiter_DeniesBeyondBurst(t *testing.T) {
	e := echo.New()
	handler := newRateLimiter(0.1, 1)(okHandler)

	rec := limitedRequest(t, e, handler, testRemoteAddr)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = limitedRequest(t, e, handler, testRemoteAddr)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "10", rec.Header().Get("Retry-After"))

	var resp apperrors.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "too many connection attempts", resp.Error)
	assert.Equal(t, apperrors.TypeRateLimited, resp.Type)
	assert.Equal(t, 10.0, resp.Context["retry_after_seconds"])
}

func TestRetryAfterSeconds(t *testing.T) {
	tests := []struct {
		rate float64
		want int
	}{
		{5, 1},
		{1, 1},
		{0.5, 2},
		{0.3, 4},
		{0, 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, retryAfterSeconds(tt.rate), "rate %v", tt.rate)
	}
}

func TestRateLimiter_PerClientIP(t *testing.T) {
	e := echo.New()
	handler := newRateLimiter(0.01, 1)(okHandler)

	assert.Equal(t, http.StatusOK, limitedRequest(t, e, handler, testRemoteAddr).Code)
	assert.Equal(t, http.StatusOK, limitedRequest(t, e, handler, "10.0.0.8:41000").Code)
	assert.Equal(t, http.StatusTooManyRequests, limitedRequest(t, e, handler, testRemoteAddr).Code)
}
