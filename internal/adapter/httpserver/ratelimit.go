package httpserver

import (
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	apperrors "github.com/pscheid92/plantpulse/internal/platform/errors"
)

// idleLimiterExpiry drops a client's bucket after it has been quiet this long.
const idleLimiterExpiry = 5 * time.Minute

// retryAfterSeconds is the wait until the next token, rounded up to whole
// seconds and at least 1.
func retryAfterSeconds(perSecond float64) int {
	if perSecond <= 0 || perSecond >= 1 {
		return 1
	}
	return int(math.Ceil(1 / perSecond))
}

// newRateLimiter throttles viewer connection attempts per client IP with a
// token bucket. A denied attempt gets a structured 429 and a Retry-After header.
func newRateLimiter(perSecond float64, burst int) echo.MiddlewareFunc {
	retryAfter := retryAfterSeconds(perSecond)

	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(perSecond),
			Burst:     burst,
			ExpiresIn: idleLimiterExpiry,
		}),
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		DenyHandler: func(c echo.Context, clientIP string, _ error) error {
			slog.WarnContext(c.Request().Context(), "Viewer connection throttled", "client_ip", clientIP)

			denied := apperrors.RateLimitedError("too many connection attempts").
				WithField("retry_after_seconds", retryAfter)
			c.Response().Header().Set("Retry-After", strconv.Itoa(retryAfter))
			return c.JSON(denied.HTTPStatus(), denied.ToResponse())
		},
	})
}
