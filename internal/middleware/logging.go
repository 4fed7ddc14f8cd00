// Package middleware provides Echo middleware for logging, metrics, rate limiting
// and header hygiene.
package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
)

// RuleContextKey is the echo context key under which the gateway stores the
// prefix of the rule that handled the request.
const RuleContextKey = "gateway.rule"

// RequestLogger returns an Echo middleware that writes one access log line per
// request. Forwarded requests carry the matched rule prefix; 4xx answers log at
// warn and 5xx at error.
func RequestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			req := c.Request()
			res := c.Response()

			attrs := []slog.Attr{
				slog.String("method", req.Method),
				slog.String("path", req.URL.Path),
				slog.Int("status", res.Status),
				slog.Int64("duration_ms", time.Since(start).Milliseconds()),
				slog.String("request_id", res.Header().Get(echo.HeaderXRequestID)),
				slog.String("remote_ip", c.RealIP()),
				slog.Int64("bytes_out", res.Size),
			}
			if rule, ok := c.Get(RuleContextKey).(string); ok {
				attrs = append(attrs, slog.String("rule", rule))
			}
			logger.LogAttrs(context.Background(), levelFor(res.Status), "request", attrs...)

			return err
		}
	}
}

func levelFor(status int) slog.Level {
	switch {
	case status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}
