package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/crisp-sync/internal/middleware"
	"github.com/capitalize-ai/crisp-sync/internal/service"
	"github.com/capitalize-ai/crisp-sync/pkg/logger"
)

// MessageHandler handles message endpoints.
type MessageHandler struct {
	messageService *service.MessageService
	logger         *logger.Logger
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(msgSvc *service.MessageService, log *logger.Logger) *MessageHandler {
	return &MessageHandler{
		messageService: msgSvc,
		logger:         log,
	}
}

// List handles GET /api/v1/conversations/{sessionId}/messages
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := chi.URLParam(r, "sessionId")

	if err := middleware.ValidateSessionID(sessionID); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	page, limit, err := middleware.ParsePagination(r, middleware.MaxMessagePageLimit)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.messageService.List(ctx, sessionID, page, limit)
	if err != nil {
		h.logger.Error("failed to list messages",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
		writeError(w, r, http.StatusInternalServerError, "failed to list messages")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Sync handles POST /api/v1/websites/{websiteId}/conversations/{sessionId}/sync
func (h *MessageHandler) Sync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	websiteID := chi.URLParam(r, "websiteId")
	sessionID := chi.URLParam(r, "sessionId")

	if err := middleware.ValidateWebsiteID(websiteID); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := middleware.ValidateSessionID(sessionID); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.messageService.SyncConversation(ctx, websiteID, sessionID)
	if err != nil {
		h.logger.Error("failed to sync conversation",
			zap.String("website_id", websiteID),
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
		writeError(w, r, http.StatusBadGateway, "failed to sync conversation")
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// Purge handles DELETE /api/v1/messages
func (h *MessageHandler) Purge(w http.ResponseWriter, r *http.Request) {
	res, err := h.messageService.Purge(r.Context())
	if err != nil {
		h.logger.Error("failed to purge messages", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "failed to delete messages")
		return
	}

	writeJSON(w, http.StatusOK, res)
}
