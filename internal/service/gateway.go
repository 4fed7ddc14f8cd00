// Package service implements the core forwarding logic of the gateway.
package service

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"datajud-gateway/internal/client"
	"datajud-gateway/internal/config"
	"datajud-gateway/internal/model"
)

// UpstreamError is a transport-level failure while forwarding: the upstream could
// not be reached or did not answer in time. No response was received.
type UpstreamError struct {
	URL string // effective upstream URL
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("forward to %s: %v", e.URL, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Cause returns the message of the underlying failure, without the request
// method and URL that net/http adds around it.
func (e *UpstreamError) Cause() string {
	err := e.Err
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = urlErr.Err
	}
	return err.Error()
}

// Doer sends an outbound request. *client.UpstreamClient implements it.
type Doer interface {
	Do(req *http.Request) (*model.ProxyResponse, error)
}

var _ Doer = (*client.UpstreamClient)(nil)

// Gateway matches inbound paths against an ordered, immutable rule table and
// forwards matched requests to the rule's upstream origin.
type Gateway struct {
	rules  []model.ForwardRule
	client Doer
	logger *slog.Logger
}

// NewGateway builds the rule table from configuration.
func NewGateway(c *client.UpstreamClient, cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	rules, err := BuildRules(cfg.Gateway.Rules)
	if err != nil {
		return nil, err
	}
	return newGateway(c, rules, logger), nil
}

// NewGatewayWithRules creates a Gateway from prebuilt rules. Rules are not
// re-validated; tests use it to point at plain-HTTP httptest servers.
func NewGatewayWithRules(d Doer, rules []model.ForwardRule, logger *slog.Logger) *Gateway {
	return newGateway(d, rules, logger)
}

func newGateway(d Doer, rules []model.ForwardRule, logger *slog.Logger) *Gateway {
	return &Gateway{
		rules:  append([]model.ForwardRule(nil), rules...),
		client: d,
		logger: logger.With("component", "gateway"),
	}
}

// BuildRules converts configured rules into ForwardRules, preserving order.
func BuildRules(rcs []config.RuleConfig) ([]model.ForwardRule, error) {
	rules := make([]model.ForwardRule, 0, len(rcs))
	for i, rc := range rcs {
		if rc.Prefix == "" {
			return nil, fmt.Errorf("rule %d: empty prefix", i)
		}
		u, err := url.Parse(rc.Upstream)
		if err != nil {
			return nil, fmt.Errorf("rule %d: parse upstream: %w", i, err)
		}
		if u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("rule %d: upstream %q is not an absolute URL", i, rc.Upstream)
		}
		rules = append(rules, model.ForwardRule{
			Prefix:   rc.Prefix,
			Upstream: &url.URL{Scheme: u.Scheme, Host: u.Host},
		})
	}
	return rules, nil
}

// Rules returns a copy of the rule table.
func (g *Gateway) Rules() []model.ForwardRule {
	return append([]model.ForwardRule(nil), g.rules...)
}

// Match returns the first rule whose prefix is a literal prefix of path.
func (g *Gateway) Match(path string) (model.ForwardRule, bool) {
	for _, r := range g.rules {
		if strings.HasPrefix(path, r.Prefix) {
			return r, true
		}
	}
	return model.ForwardRule{}, false
}

// UpstreamURL returns the outbound URL for pr under rule: the upstream origin
// followed by the inbound path and query exactly as received.
func UpstreamURL(pr *model.ProxyRequest, rule model.ForwardRule) *url.URL {
	return &url.URL{
		Scheme:   rule.Upstream.Scheme,
		Host:     rule.Upstream.Host,
		Path:     pr.Path,
		RawPath:  pr.RawPath,
		RawQuery: pr.RawQuery,
	}
}

// Forward sends pr to the rule's upstream and returns the response unmodified.
// The caller is responsible for closing the response body.
//
// All inbound headers are forwarded; Host is set to the upstream host. A transport
// failure is returned as *UpstreamError. There is exactly one attempt.
func (g *Gateway) Forward(pr *model.ProxyRequest, rule model.ForwardRule) (*model.ProxyResponse, error) {
	target := UpstreamURL(pr, rule)

	req, err := http.NewRequestWithContext(pr.Ctx, pr.Method, target.String(), pr.Body)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header = pr.Header.Clone()
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	req.Header.Del("Host")
	req.Host = rule.Upstream.Host
	if pr.Body != nil && pr.Body != http.NoBody {
		req.ContentLength = pr.ContentLength
	}

	g.logger.Debug("forwarding request",
		"method", pr.Method,
		"rule", rule.Prefix,
		"upstream_url", target.String(),
	)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, &UpstreamError{URL: target.String(), Err: unwrapClient(err)}
	}
	return resp, nil
}

// unwrapClient strips the client's own "upstream request:" wrapping so the
// UpstreamError carries the transport error itself.
func unwrapClient(err error) error {
	if inner := errors.Unwrap(err); inner != nil {
		return inner
	}
	return err
}
