package interfaces

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/Metroman-Development/Metro-Bot-sub001/internal/status/application"
	"github.com/Metroman-Development/Metro-Bot-sub001/internal/status/domain"
)

// OverrideStore is the persistence surface for overrides.
type OverrideStore interface {
	List(ctx context.Context) ([]domain.Override, error)
	Create(ctx context.Context, ov domain.Override) (int64, error)
	Deactivate(ctx context.Context, id int64) error
}

// OpsHandler serves the operator API: current status, change history, and
// override management.
type OpsHandler struct {
	fetcher   *application.Fetcher
	overrides OverrideStore
	logger    *log.Logger
}

// NewOpsHandler constructs a handler.
func NewOpsHandler(fetcher *application.Fetcher, overrides OverrideStore, logger *log.Logger) (*OpsHandler, error) {
	if fetcher == nil {
		return nil, errors.New("ops handler: nil fetcher")
	}
	return &OpsHandler{fetcher: fetcher, overrides: overrides, logger: logger}, nil
}

// ServeHTTP routes /api/v1/status, /api/v1/changes, /api/v1/overrides, and
// /api/v1/safe-mode/clear.
func (h *OpsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	switch {
	case path == "/api/v1/status" && r.Method == http.MethodGet:
		h.handleStatus(w, r)
	case path == "/api/v1/changes" && r.Method == http.MethodGet:
		h.handleChanges(w)
	case path == "/api/v1/overrides" && r.Method == http.MethodGet:
		h.handleListOverrides(w, r)
	case path == "/api/v1/overrides" && r.Method == http.MethodPost:
		h.handleCreateOverride(w, r)
	case strings.HasPrefix(path, "/api/v1/overrides/") && r.Method == http.MethodDelete:
		h.handleDeactivateOverride(w, r, strings.TrimPrefix(path, "/api/v1/overrides/"))
	case path == "/api/v1/safe-mode/clear" && r.Method == http.MethodPost:
		h.handleClearSafeMode(w)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *OpsHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := h.fetcher.Current()
	if snap == nil {
		http.Error(w, "no snapshot yet", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, map[string]any{
		"snapshot": snap,
		"stats":    h.fetcher.Stats(),
	})
}

func (h *OpsHandler) handleChanges(w http.ResponseWriter) {
	writeJSON(w, map[string]any{"changes": h.fetcher.History()})
}

func (h *OpsHandler) handleListOverrides(w http.ResponseWriter, r *http.Request) {
	if h.overrides == nil {
		http.Error(w, "overrides not configured", http.StatusNotImplemented)
		return
	}
	list, err := h.overrides.List(r.Context())
	if err != nil {
		h.logf("override list failed: err=%v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"overrides": list})
}

func (h *OpsHandler) handleCreateOverride(w http.ResponseWriter, r *http.Request) {
	if h.overrides == nil {
		http.Error(w, "overrides not configured", http.StatusNotImplemented)
		return
	}
	var ov domain.Override
	if err := json.NewDecoder(r.Body).Decode(&ov); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	ov.Active = true
	if err := ov.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	id, err := h.overrides.Create(r.Context(), ov)
	if err != nil {
		h.logf("override create failed: err=%v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, map[string]any{"id": id})
}

func (h *OpsHandler) handleDeactivateOverride(w http.ResponseWriter, r *http.Request, rest string) {
	if h.overrides == nil {
		http.Error(w, "overrides not configured", http.StatusNotImplemented)
		return
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		http.Error(w, "invalid override id", http.StatusBadRequest)
		return
	}
	if err := h.overrides.Deactivate(r.Context(), id); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *OpsHandler) handleClearSafeMode(w http.ResponseWriter) {
	h.fetcher.ClearSafeMode()
	w.WriteHeader(http.StatusNoContent)
}

func (h *OpsHandler) logf(format string, args ...any) {
	if h.logger != nil {
		h.logger.Printf(format, args...)
	}
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}
