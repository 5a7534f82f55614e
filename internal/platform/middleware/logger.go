package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/hl7-engine/internal/platform/db"
)

// Logger emits one structured line per request, tagged with the request id
// and the tenant the request resolved to. Errors log at error level with the
// same fields so a failing feed can be filtered by tenant alone.
func Logger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			rid, _ := c.Get("request_id").(string)

			err := next(c)

			evt := logger.Info()
			if err != nil {
				evt = logger.Error().Err(err)
			}
			// The tenant middleware swaps the request context in, so the
			// tenant is only readable after the handler ran.
			if tenant := db.TenantFromContext(c.Request().Context()); tenant != "" {
				evt = evt.Str("tenant", tenant)
			}
			evt.
				Str("request_id", rid).
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Int("status", c.Response().Status).
				Int64("bytes_out", c.Response().Size).
				Dur("latency", time.Since(start)).
				Str("remote_ip", c.RealIP()).
				Msg("http request")

			return err
		}
	}
}
