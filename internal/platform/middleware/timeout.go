package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
)

// RequestTimeout sets a context deadline on each incoming request. The
// handler runs on the request goroutine and is expected to honour the
// deadline; when it returns an error after the deadline passed, a 503 with a
// JSON error body is written instead. Paths matching one of skipPrefixes are
// left untouched so they can apply their own budget.
func RequestTimeout(timeout time.Duration, skipPrefixes ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			path := c.Request().URL.Path
			for _, p := range skipPrefixes {
				if strings.HasPrefix(path, p) {
					return next(c)
				}
			}

			ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)
			if err == nil || !errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return err
			}
			var he *echo.HTTPError
			if errors.As(err, &he) && !errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return timeoutError(c)
		}
	}
}

func timeoutError(c echo.Context) error {
	if !c.Response().Committed {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"error": "Request processing exceeded the allowed time limit",
		})
	}
	return nil
}
