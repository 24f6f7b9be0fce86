package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/crisp-sync/internal/middleware"
	"github.com/capitalize-ai/crisp-sync/internal/service"
	"github.com/capitalize-ai/crisp-sync/pkg/logger"
)

// BackfillHandler triggers full-history backfills.
type BackfillHandler struct {
	coordinator *service.BackfillCoordinator
	logger      *logger.Logger
}

// NewBackfillHandler creates a new backfill handler.
func NewBackfillHandler(coordinator *service.BackfillCoordinator, log *logger.Logger) *BackfillHandler {
	return &BackfillHandler{
		coordinator: coordinator,
		logger:      log,
	}
}

// Run handles POST /api/v1/backfill/{websiteId}. The run is synchronous.
func (h *BackfillHandler) Run(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	websiteID := chi.URLParam(r, "websiteId")

	if err := middleware.ValidateWebsiteID(websiteID); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.coordinator.Run(ctx, websiteID)
	if err != nil {
		h.logger.Error("backfill failed",
			zap.String("website_id", websiteID),
			zap.String("correlation_id", middleware.GetCorrelationID(ctx)),
			zap.Error(err),
		)
		if errors.Is(err, service.ErrFirstPage) {
			writeError(w, r, http.StatusBadGateway, "failed to fetch conversations from Crisp")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "backfill failed")
		return
	}

	writeJSON(w, http.StatusOK, res)
}
