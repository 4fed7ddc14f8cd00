package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"regexp"

	"github.com/labstack/echo/v4"

	"datajud-gateway/internal/middleware"
	"datajud-gateway/internal/model"
	"datajud-gateway/internal/service"
)

// ProxyErrorPrefix starts the body of every failed-forward response.
const ProxyErrorPrefix = "Proxy error: "

// secretParamPattern matches credential-like query parameters in logged URLs.
var secretParamPattern = regexp.MustCompile(`(?i)((?:api_?key|key|token)=)[^&\s"]+`)

// errorWriter is what the gateway needs from a transport to report a failed
// forward. Implementations decide whether a response can still be written.
type errorWriter interface {
	CanWriteHeader() bool
	WriteHeader(code int, contentType string)
	End(body string) error
}

// echoErrorWriter adapts an echo.Context to errorWriter.
type echoErrorWriter struct {
	c echo.Context
}

func (w echoErrorWriter) CanWriteHeader() bool {
	return !w.c.Response().Committed && w.c.Request().Context().Err() == nil
}

func (w echoErrorWriter) WriteHeader(code int, contentType string) {
	w.c.Response().Header().Set(echo.HeaderContentType, contentType)
	w.c.Response().WriteHeader(code)
}

func (w echoErrorWriter) End(body string) error {
	_, err := io.WriteString(w.c.Response(), body)
	return err
}

// Gateway routes requests matching a forwarding rule to the upstream origin and
// relays the response. Other requests pass through untouched.
type Gateway struct {
	service *service.Gateway
	logger  *slog.Logger
}

// NewGateway creates a Gateway handler.
func NewGateway(svc *service.Gateway, logger *slog.Logger) *Gateway {
	return &Gateway{
		service: svc,
		logger:  logger.With("component", "gateway_handler"),
	}
}

// Middleware intercepts matched requests before routing reaches local handlers.
func (g *Gateway) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			rule, ok := g.service.Match(c.Request().URL.EscapedPath())
			if !ok {
				return next(c)
			}
			return g.Handle(c, rule)
		}
	}
}

// Handle forwards the request under rule and streams the response back.
func (g *Gateway) Handle(c echo.Context, rule model.ForwardRule) error {
	req := c.Request()
	c.Set(middleware.RuleContextKey, rule.Prefix)

	pr := &model.ProxyRequest{
		Ctx:           req.Context(),
		Method:        req.Method,
		Path:          req.URL.Path,
		RawPath:       req.URL.RawPath,
		RawQuery:      req.URL.RawQuery,
		Header:        req.Header,
		Body:          req.Body,
		ContentLength: req.ContentLength,
	}

	resp, err := g.service.Forward(pr, rule)
	if err != nil {
		return g.writeError(echoErrorWriter{c}, req.Context(), err)
	}
	defer func() { _ = resp.Body.Close() }()

	dst := c.Response().Header()
	for key, vals := range resp.Header {
		dst[key] = append([]string(nil), vals...)
	}
	c.Response().WriteHeader(resp.StatusCode)

	// The status line is already sent; a failure here leaves the caller with a
	// truncated body and is only logged.
	if _, err := io.Copy(c.Response(), resp.Body); err != nil {
		g.logger.Error("streaming response body",
			"err", err,
			"path", req.URL.Path,
		)
	}

	return nil
}

func (g *Gateway) writeError(w errorWriter, ctx context.Context, err error) error {
	var uerr *service.UpstreamError
	if !errors.As(err, &uerr) {
		uerr = &service.UpstreamError{Err: err}
	}

	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		g.logger.Debug("caller disconnected before upstream answered",
			"upstream_url", redact(uerr.URL),
		)
		return nil
	}

	g.logger.Error("proxy error",
		"err", uerr.Cause(),
		"upstream_url", redact(uerr.URL),
	)

	if !w.CanWriteHeader() {
		return nil
	}
	w.WriteHeader(http.StatusInternalServerError, echo.MIMETextPlainCharsetUTF8)
	if err := w.End(ProxyErrorPrefix + uerr.Cause()); err != nil {
		g.logger.Debug("writing proxy error body", "err", err)
	}
	return nil
}

// redact masks credential-like query parameter values.
func redact(u string) string {
	return secretParamPattern.ReplaceAllString(u, "${1}[REDACTED]")
}
