package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/cryptoquant/internal/domain"
)

// StrategyEngine is the runtime control surface of the strategy engine.
type StrategyEngine interface {
	ActiveName() string
	Status() domain.StrategyStatus
	Params() (domain.StrategyParams, error)
	SetParams(ctx context.Context, params domain.StrategyParams) error
	Start() error
	Stop()
	Pause()
	Resume() error
	RecentSignals(limit int) []domain.Signal
}

// StrategyHandler serves strategy parameter and run-state endpoints. When
// configs is non-nil, accepted parameter sets are persisted.
type StrategyHandler struct {
	engine  StrategyEngine
	configs domain.StrategyConfigStore
	logger  *slog.Logger
}

// NewStrategyHandler creates a StrategyHandler. configs may be nil.
func NewStrategyHandler(engine StrategyEngine, configs domain.StrategyConfigStore, logger *slog.Logger) *StrategyHandler {
	return &StrategyHandler{
		engine:  engine,
		configs: configs,
		logger:  logger,
	}
}

type strategyResponse struct {
	Strategy string                 `json:"strategy"`
	Status   domain.StrategyStatus  `json:"status"`
	Params   *domain.StrategyParams `json:"params,omitempty"`
}

func (h *StrategyHandler) snapshot() strategyResponse {
	resp := strategyResponse{
		Strategy: h.engine.ActiveName(),
		Status:   h.engine.Status(),
	}
	if p, err := h.engine.Params(); err == nil {
		resp.Params = &p
	}
	return resp
}

// GetParams returns the active strategy and its parameters.
// GET /api/strategy/params
func (h *StrategyHandler) GetParams(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.snapshot())
}

// UpdateParams merges the body over the current parameters. A body naming
// another strategy type swaps the active strategy.
// PUT /api/strategy/params
func (h *StrategyHandler) UpdateParams(w http.ResponseWriter, r *http.Request) {
	params, err := h.engine.Params()
	if err != nil {
		params = domain.DefaultStrategyParams()
	}
	if err := decodeBody(w, r, &params); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := h.engine.SetParams(r.Context(), params); err != nil {
		h.logger.WarnContext(r.Context(), "handler: update strategy params rejected",
			slog.String("strategy", string(params.Type)),
			slog.String("error", err.Error()),
		)
		writeError(w, statusFor(err), err.Error())
		return
	}

	if h.configs != nil {
		cfg := domain.StrategyConfig{Type: params.Type, Params: params, UpdatedAt: time.Now().UTC()}
		if err := h.configs.Upsert(r.Context(), cfg); err != nil {
			h.logger.ErrorContext(r.Context(), "handler: persist strategy params failed",
				slog.String("strategy", string(params.Type)),
				slog.String("error", err.Error()),
			)
		}
	}

	writeJSON(w, http.StatusOK, h.snapshot())
}

// Control changes the engine run state. start also resumes a paused engine.
// POST /api/strategy/{action}
func (h *StrategyHandler) Control(w http.ResponseWriter, r *http.Request) {
	action := r.PathValue("action")
	var err error
	switch action {
	case "start":
		if h.engine.Status() == domain.StrategyPaused {
			err = h.engine.Resume()
		} else {
			err = h.engine.Start()
		}
	case "stop":
		h.engine.Stop()
	case "pause":
		h.engine.Pause()
	default:
		writeError(w, http.StatusNotFound, "unknown strategy action "+action)
		return
	}
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	h.logger.InfoContext(r.Context(), "handler: strategy control",
		slog.String("action", action),
		slog.String("status", string(h.engine.Status())),
	)
	writeJSON(w, http.StatusOK, h.snapshot())
}

// RecentSignals returns the latest emitted signals, newest first.
// GET /api/strategy/signals?limit=50
func (h *StrategyHandler) RecentSignals(w http.ResponseWriter, r *http.Request) {
	signals := h.engine.RecentSignals(parseLimit(r))
	if signals == nil {
		signals = []domain.Signal{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"signals": signals})
}
