package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/cryptoquant/internal/domain"
)

// ArchiveRunner runs one archive pass.
type ArchiveRunner interface {
	Run(ctx context.Context) error
}

// ArchiveHandler triggers out-of-schedule archive runs and serves the
// archived JSONL files back out of cold storage. Either dependency may be
// nil, in which case its routes answer 503.
type ArchiveHandler struct {
	runner  ArchiveRunner
	blobs   domain.BlobReader
	running atomic.Bool
	logger  *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler.
func NewArchiveHandler(runner ArchiveRunner, blobs domain.BlobReader, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{runner: runner, blobs: blobs, logger: logger}
}

// Trigger starts one archive run in the background. Only one manual run is
// in flight at a time.
// POST /api/archive/run
func (h *ArchiveHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	if h.runner == nil {
		writeError(w, http.StatusServiceUnavailable, "archiving is not enabled")
		return
	}
	if !h.running.CompareAndSwap(false, true) {
		writeError(w, http.StatusConflict, "archive run already in progress")
		return
	}
	h.logger.InfoContext(r.Context(), "handler: archive run requested")

	ctx := context.WithoutCancel(r.Context())
	go func() {
		defer h.running.Store(false)
		if err := h.runner.Run(ctx); err != nil {
			h.logger.Error("handler: manual archive run failed", slog.String("error", err.Error()))
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":       "accepted",
		"requested_at": time.Now().UTC().Format(time.RFC3339),
	})
}

// List returns the archived objects under ?prefix= (e.g. "orders/2026-10").
// GET /api/archive
func (h *ArchiveHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.blobs == nil {
		writeError(w, http.StatusServiceUnavailable, "archive storage is not configured")
		return
	}
	prefix := r.URL.Query().Get("prefix")
	if prefix != "" && !validArchivePath(prefix) {
		writeError(w, http.StatusBadRequest, "invalid prefix")
		return
	}

	infos, err := h.blobs.List(r.Context(), prefix)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list archive",
			slog.String("prefix", prefix),
			slog.String("error", err.Error()),
		)
		writeError(w, statusFor(err), "failed to list archive")
		return
	}
	if infos == nil {
		infos = []domain.BlobInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"prefix": prefix, "objects": infos})
}

// Download streams one archived JSONL file.
// GET /api/archive/files/{path...}
func (h *ArchiveHandler) Download(w http.ResponseWriter, r *http.Request) {
	if h.blobs == nil {
		writeError(w, http.StatusServiceUnavailable, "archive storage is not configured")
		return
	}
	p := r.PathValue("path")
	if !validArchivePath(p) {
		writeError(w, http.StatusBadRequest, "invalid archive path")
		return
	}

	body, err := h.blobs.Get(r.Context(), p)
	if err != nil {
		if statusFor(err) != http.StatusNotFound {
			h.logger.ErrorContext(r.Context(), "handler: get archive object",
				slog.String("path", p),
				slog.String("error", err.Error()),
			)
		}
		writeError(w, statusFor(err), "failed to fetch archive object")
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Content-Disposition", `attachment; filename="`+path.Base(p)+`"`)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		h.logger.WarnContext(r.Context(), "handler: stream archive object",
			slog.String("path", p),
			slog.String("error", err.Error()),
		)
	}
}

// validArchivePath rejects absolute paths and parent-directory segments.
func validArchivePath(p string) bool {
	if p == "" || strings.HasPrefix(p, "/") || strings.ContainsAny(p, "\\\"") {
		return false
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return false
		}
	}
	return true
}
