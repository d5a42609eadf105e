package handler

import (
	"context"
	"net/http"
)

// StatusProvider assembles the runtime snapshot of the pipeline.
type StatusProvider interface {
	Status(ctx context.Context) any
}

// StatusHandler serves the fetcher, engine and executor state for the
// dashboard.
type StatusHandler struct {
	provider StatusProvider
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(provider StatusProvider) *StatusHandler {
	return &StatusHandler{provider: provider}
}

// GetStatus responds with the current pipeline status.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.provider.Status(r.Context()))
}
