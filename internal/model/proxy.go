// Package model defines shared types for the gateway and its callers.
package model

import (
	"context"
	"io"
	"net/http"
	"net/url"
)

// ForwardRule routes requests whose path starts with Prefix to Upstream.
// Rules are built once at startup and never mutated.
type ForwardRule struct {
	Prefix   string
	Upstream *url.URL // origin only: scheme and host
}

// ProxyRequest is an inbound request captured for forwarding upstream.
type ProxyRequest struct {
	Ctx           context.Context
	Method        string
	Path          string
	RawPath       string // escaped form when it differs from Path, as in url.URL
	RawQuery      string
	Header        http.Header
	Body          io.ReadCloser
	ContentLength int64
}

// EscapedPath returns the path as received on the wire.
func (pr *ProxyRequest) EscapedPath() string {
	u := url.URL{Path: pr.Path, RawPath: pr.RawPath}
	return u.EscapedPath()
}

// ProxyResponse represents the upstream response to be streamed back.
type ProxyResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}
