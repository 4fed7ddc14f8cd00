// Package aiclient bootstraps the generative AI client. Bootstrap never fails
// loudly: every outcome, including a panic inside the SDK, is returned as a Result.
package aiclient

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"datajud-gateway/internal/metrics"
)

// Constructor builds a client handle from a credential. It must not perform a
// round-trip to the remote service.
type Constructor func(ctx context.Context, credential string) (*genai.Client, error)

// Factory produces independent client handles. It holds no handle itself and
// never reads the environment; the credential always comes from the caller.
type Factory struct {
	construct Constructor
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// Option configures a Factory.
type Option func(*Factory)

// WithConstructor replaces the SDK constructor.
func WithConstructor(c Constructor) Option {
	return func(f *Factory) {
		f.construct = c
	}
}

// WithHTTPClient sets the HTTP client handed to the SDK.
func WithHTTPClient(hc *http.Client) Option {
	return func(f *Factory) {
		f.construct = GeminiConstructor(hc)
	}
}

// WithMetrics records bootstrap outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(f *Factory) {
		f.metrics = m
	}
}

// GeminiConstructor returns a Constructor for the Gemini API backend.
// hc may be nil to use the SDK default.
func GeminiConstructor(hc *http.Client) Constructor {
	return func(ctx context.Context, credential string) (*genai.Client, error) {
		return genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:     credential,
			Backend:    genai.BackendGeminiAPI,
			HTTPClient: hc,
		})
	}
}

// NewFactory creates a Factory using the Gemini SDK unless overridden.
func NewFactory(logger *slog.Logger, opts ...Option) *Factory {
	f := &Factory{
		construct: GeminiConstructor(nil),
		logger:    logger.With("component", "ai_client"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Bootstrap returns a ready client for credential, or the reason none is
// available. An empty or blank credential short-circuits without I/O.
func (f *Factory) Bootstrap(ctx context.Context, credential string) Result {
	res := f.bootstrap(ctx, credential)
	if f.metrics != nil {
		f.metrics.AIBootstraps.WithLabelValues(res.Reason().String()).Inc()
	}
	return res
}

func (f *Factory) bootstrap(ctx context.Context, credential string) (res Result) {
	if strings.TrimSpace(credential) == "" {
		f.logger.Error("ai client unavailable: no credential configured")
		return missingCredential()
	}

	defer func() {
		if r := recover(); r != nil {
			detail := fmt.Sprint(r)
			f.logger.Error("ai client initialization panicked", "detail", detail)
			res = initFailed(detail, nil)
		}
	}()

	c, err := f.construct(ctx, credential)
	if err != nil {
		f.logger.Error("ai client initialization failed", "err", err)
		return initFailed(err.Error(), err)
	}
	if c == nil {
		f.logger.Error("ai client initialization failed", "err", "constructor returned no client")
		return initFailed("constructor returned no client", nil)
	}

	f.logger.Info("ai client ready")
	return ready(c)
}
