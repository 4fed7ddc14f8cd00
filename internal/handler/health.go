package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"datajud-gateway/internal/aiclient"
	"datajud-gateway/internal/service"
)

// Version is a string type for dependency injection of the build version.
type Version string

// aiStatus reports the last AI client bootstrap without triggering a new one.
type aiStatus interface {
	Last() (aiclient.Result, bool)
}

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	gateway *service.Gateway
	ai      aiStatus
	version Version
}

// NewHealthHandler creates a HealthHandler. ai may be nil when no AI client is wired.
func NewHealthHandler(gw *service.Gateway, ai *aiclient.Holder, v Version) *HealthHandler {
	if ai == nil {
		return &HealthHandler{gateway: gw, version: v}
	}
	return &HealthHandler{gateway: gw, ai: ai, version: v}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

type ruleStatus struct {
	Prefix   string `json:"prefix"`
	Upstream string `json:"upstream"`
}

type statusResponse struct {
	Status   string       `json:"status"`
	Version  string       `json:"version"`
	Rules    []ruleStatus `json:"rules"`
	AIClient string       `json:"ai_client"`
}

// Status returns gateway status: configured rules and AI client availability.
func (h *HealthHandler) Status(c echo.Context) error {
	resp := statusResponse{
		Status:   "ok",
		Version:  string(h.version),
		Rules:    []ruleStatus{},
		AIClient: "disabled",
	}
	if h.gateway != nil {
		for _, r := range h.gateway.Rules() {
			resp.Rules = append(resp.Rules, ruleStatus{Prefix: r.Prefix, Upstream: r.Upstream.String()})
		}
	}
	if h.ai != nil {
		resp.AIClient = "not_bootstrapped"
		if res, ok := h.ai.Last(); ok {
			resp.AIClient = res.Reason().String()
		}
	}
	return c.JSON(http.StatusOK, resp)
}
