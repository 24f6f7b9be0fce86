// Package handler provides HTTP handlers for the API.
package handler

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/capitalize-ai/crisp-sync/internal/middleware"
	"github.com/capitalize-ai/crisp-sync/internal/service"
	"github.com/capitalize-ai/crisp-sync/pkg/logger"
)

// ConversationHandler handles conversation endpoints.
type ConversationHandler struct {
	service *service.ConversationService
	logger  *logger.Logger
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(svc *service.ConversationService, log *logger.Logger) *ConversationHandler {
	return &ConversationHandler{
		service: svc,
		logger:  log,
	}
}

// List handles GET /api/v1/conversations
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	page, limit, err := middleware.ParsePagination(r, middleware.MaxConversationPageLimit)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	websiteID := r.URL.Query().Get("website_id")
	if websiteID != "" {
		if err := middleware.ValidateWebsiteID(websiteID); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
	}

	resp, err := h.service.List(ctx, websiteID, page, limit)
	if err != nil {
		h.logger.Error("failed to list conversations",
			zap.String("correlation_id", middleware.GetCorrelationID(ctx)),
			zap.Error(err),
		)
		writeError(w, r, http.StatusInternalServerError, "failed to list conversations")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Purge handles DELETE /api/v1/conversations
func (h *ConversationHandler) Purge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	res, err := h.service.Purge(ctx)
	if err != nil {
		h.logger.Error("failed to purge conversations",
			zap.String("correlation_id", middleware.GetCorrelationID(ctx)),
			zap.Error(err),
		)
		writeError(w, r, http.StatusInternalServerError, "failed to delete conversations")
		return
	}

	writeJSON(w, http.StatusOK, res)
}
