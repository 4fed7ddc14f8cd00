package aiclient

import (
	"context"
	"sync"
)

// Source hands out AI client results.
type Source interface {
	Get(ctx context.Context) Result
}

// Holder caches a ready client for one credential so callers reuse the handle.
// It is owned by whoever builds it; there is no package-level instance.
// Unavailable results are not cached, so a later Get tries again.
type Holder struct {
	factory    *Factory
	credential string

	mu     sync.Mutex
	cached Result
	last   Result
	tried  bool
}

var _ Source = (*Holder)(nil)

// NewHolder creates an empty Holder.
func NewHolder(f *Factory, credential string) *Holder {
	return &Holder{factory: f, credential: credential}
}

// Get returns the cached client, bootstrapping it on first use.
func (h *Holder) Get(ctx context.Context) Result {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cached.Ready() {
		return h.cached
	}
	res := h.factory.Bootstrap(ctx, h.credential)
	h.last, h.tried = res, true
	if res.Ready() {
		h.cached = res
	}
	return res
}

// Last returns the most recent result without bootstrapping. ok is false
// before the first Get.
func (h *Holder) Last() (res Result, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cached.Ready() {
		return h.cached, true
	}
	return h.last, h.tried
}

// Reset drops the cached client.
func (h *Holder) Reset() {
	h.mu.Lock()
	h.cached = Result{}
	h.last, h.tried = Result{}, false
	h.mu.Unlock()
}
