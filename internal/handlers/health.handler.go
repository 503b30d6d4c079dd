package handlers

import (
	"context"
	"time"

	"github.com/fasthttp/router"
	xhttp "github.com/nimasrn/deposit-gateway/pkg/http"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	checks  map[string]Pinger
	details func() interface{}
	timeout time.Duration
}

func RegisterHealthRoutes(e *router.Group, h *HealthHandler) {
	e.GET("/health", h.GetHealth)
}

// NewHealthHandler reports healthy only while every named dependency answers
// a ping. details, if set, is included in the body as is.
func NewHealthHandler(checks map[string]Pinger, details func() interface{}) *HealthHandler {
	return &HealthHandler{
		checks:  checks,
		details: details,
		timeout: 2 * time.Second,
	}
}

type healthResponse struct {
	Status  string            `json:"status"`
	Checks  map[string]string `json:"checks"`
	Details interface{}       `json:"details,omitempty"`
}

func (h *HealthHandler) GetHealth(ctx *xhttp.RequestCtx) {
	c, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	resp := healthResponse{Status: "ok", Checks: make(map[string]string, len(h.checks))}
	status := xhttp.StatusOK
	for name, p := range h.checks {
		if err := p.Ping(c); err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
			status = xhttp.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	if h.details != nil {
		resp.Details = h.details()
	}

	writeJSON(ctx, status, resp)
}
