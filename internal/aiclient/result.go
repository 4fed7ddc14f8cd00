package aiclient

import (
	"errors"
	"fmt"

	"google.golang.org/genai"
)

// ErrMissingCredential is reported when bootstrap is called without a credential.
var ErrMissingCredential = errors.New("aiclient: missing credential")

// Reason explains why a Result is not ready.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonMissingCredential
	ReasonInitializationFailed
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "ready"
	case ReasonMissingCredential:
		return "missing_credential"
	case ReasonInitializationFailed:
		return "initialization_failed"
	default:
		return fmt.Sprintf("reason(%d)", int(r))
	}
}

// InitError wraps a failure raised while constructing the client.
type InitError struct {
	Detail string
	Err    error // nil when construction panicked
}

func (e *InitError) Error() string {
	return "aiclient: initialization failed: " + e.Detail
}

func (e *InitError) Unwrap() error { return e.Err }

// Result is the outcome of a bootstrap: either a ready client, or the reason
// no client is available. The zero value is not ready.
type Result struct {
	client *genai.Client
	reason Reason
	err    error
}

func ready(c *genai.Client) Result {
	return Result{client: c, reason: ReasonNone}
}

func missingCredential() Result {
	return Result{reason: ReasonMissingCredential, err: ErrMissingCredential}
}

func initFailed(detail string, err error) Result {
	return Result{reason: ReasonInitializationFailed, err: &InitError{Detail: detail, Err: err}}
}

// Ready reports whether a client handle is available.
func (r Result) Ready() bool {
	return r.client != nil
}

// Client returns the handle and whether it is available.
func (r Result) Client() (*genai.Client, bool) {
	return r.client, r.client != nil
}

// Reason returns ReasonNone for a ready result.
func (r Result) Reason() Reason {
	if r.client == nil && r.reason == ReasonNone {
		return ReasonMissingCredential
	}
	return r.reason
}

// Err returns ErrMissingCredential or an *InitError, or nil when ready.
func (r Result) Err() error {
	if r.client == nil && r.err == nil {
		return ErrMissingCredential
	}
	return r.err
}

// Detail returns the underlying failure description, empty when ready.
func (r Result) Detail() string {
	var ie *InitError
	if errors.As(r.err, &ie) {
		return ie.Detail
	}
	if err := r.Err(); err != nil {
		return err.Error()
	}
	return ""
}
