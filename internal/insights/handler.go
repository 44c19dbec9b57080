package insights

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/larder-app/larder/internal/platform/httpx"
)

// Handler exposes the read-only insights endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs the insights handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers insights routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/insights/summary", h.handleSummary)
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	days := 0
	if daysStr := r.URL.Query().Get("expiring_days"); daysStr != "" {
		parsed, err := strconv.Atoi(daysStr)
		if err != nil || parsed < 0 {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "expiring_days must be a non-negative integer")
			return
		}
		days = parsed
	}

	summary, err := h.service.Summary(r.Context(), days)
	if err != nil {
		h.logger.Error("build insights summary", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}
