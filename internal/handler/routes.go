// Package handler contains the HTTP surface: the forwarding gateway and the
// local health, status and metrics routes.
package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"datajud-gateway/internal/config"
	"datajud-gateway/internal/metrics"
	"datajud-gateway/internal/middleware"
)

// RegisterRoutes wires the gateway and local route handlers onto the Echo instance.
// The gateway runs as middleware so that every path it matches is forwarded and
// every other path falls through to the router.
func RegisterRoutes(e *echo.Echo, cfg *config.Config, m *metrics.Metrics, gw *Gateway, health *HealthHandler) {
	e.Use(gw.Middleware())

	local := middleware.SecurityHeaders()
	e.GET("/healthz", health.Healthz, local)
	e.GET("/proxy/status", health.Status, local)

	if cfg.Metrics.Enabled && m != nil {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})), local)
	}
}
