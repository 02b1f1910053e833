// Package handlers exposes the card provider webhook endpoints and
// translates provider payloads into settlement service requests.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/cardsettle/bridge/internal/service"
)

// Handler holds the webhook endpoints' dependencies
type Handler struct {
	authorizer service.Authorizer
	settler    service.Settler
	logger     *slog.Logger
}

// New creates a webhook handler
func New(authorizer service.Authorizer, settler service.Settler, logger *slog.Logger) *Handler {
	return &Handler{
		authorizer: authorizer,
		settler:    settler,
		logger:     logger,
	}
}

// Health reports process liveness
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}
