package stock

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/larder-app/larder/internal/platform/httpx"
	"github.com/larder-app/larder/internal/shared"
)

// MetricsRecorder counts stock mutations for observability.
type MetricsRecorder interface {
	ObserveMutation(txType, outcome string)
}

// Handler wires JSON endpoints for the stock module.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
	metrics   MetricsRecorder
}

// NewHandler constructs the stock handler.
func NewHandler(logger *slog.Logger, service *Service, metrics MetricsRecorder) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New(), metrics: metrics}
}

// MountRoutes registers stock routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/stock", h.handleCreate)
	r.Get("/stock", h.handleList)
	r.Get("/stock/{id}", h.handleGet)
	r.Put("/stock/{id}", h.handleUpdate)
	r.Delete("/stock/{id}", h.handleDeactivate)
	r.Post("/stock/{id}/stock-in", h.handleStockIn)
	r.Post("/stock/{id}/stock-out", h.handleStockOut)
	r.Post("/stock/{id}/adjust", h.handleAdjust)
	r.Get("/stock/{id}/transactions", h.handleTransactions)
	r.Get("/alerts", h.handleListAlerts)
	r.Post("/alerts/{id}/resolve", h.handleResolveAlert)
}

type recordRequest struct {
	ItemName        string     `json:"item_name" validate:"required"`
	Category        string     `json:"category"`
	Unit            string     `json:"unit" validate:"required"`
	CurrentStock    float64    `json:"current_stock" validate:"gte=0"`
	MinimumStock    float64    `json:"minimum_stock" validate:"gte=0"`
	MaximumStock    float64    `json:"maximum_stock" validate:"gte=0"`
	ReorderQuantity float64    `json:"reorder_quantity" validate:"gte=0"`
	CostPerUnit     float64    `json:"cost_per_unit" validate:"gte=0"`
	Supplier        string     `json:"supplier"`
	ExpiryDate      *time.Time `json:"expiry_date"`
	StorageLocation string     `json:"storage_location"`
}

type stockInRequest struct {
	Quantity        float64  `json:"quantity" validate:"required,gt=0"`
	CostPerUnit     *float64 `json:"cost_per_unit" validate:"omitempty,gte=0"`
	Supplier        string   `json:"supplier"`
	ReferenceNumber string   `json:"reference_number"`
}

type stockOutRequest struct {
	Quantity float64 `json:"quantity" validate:"required,gt=0"`
	Reason   string  `json:"reason" validate:"required"`
}

type adjustRequest struct {
	Delta           float64 `json:"delta" validate:"required"`
	Type            string  `json:"type" validate:"required,oneof=ADJUSTMENT TRANSFER WASTAGE RETURN"`
	Reason          string  `json:"reason" validate:"required"`
	ReferenceNumber string  `json:"reference_number"`
}

type listResponse struct {
	Data       []StockRecord     `json:"data"`
	Pagination shared.Pagination `json:"pagination"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req recordRequest
	if !h.bind(w, r, &req) {
		return
	}
	rec, err := h.service.Create(r.Context(), CreateInput{
		ItemName:        req.ItemName,
		Category:        req.Category,
		Unit:            req.Unit,
		CurrentStock:    req.CurrentStock,
		MinimumStock:    req.MinimumStock,
		MaximumStock:    req.MaximumStock,
		ReorderQuantity: req.ReorderQuantity,
		CostPerUnit:     req.CostPerUnit,
		Supplier:        req.Supplier,
		ExpiryDate:      req.ExpiryDate,
		StorageLocation: req.StorageLocation,
		Actor:           actorFrom(r),
	})
	h.observe("CREATE", err)
	if err != nil {
		h.respondError(w, "create stock record", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, rec)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := RecordFilter{ActiveOnly: q.Get("active") != "false"}
	if statusStr := q.Get("status"); statusStr != "" {
		status := Status(strings.ToUpper(statusStr))
		filter.Status = &status
	}
	if q.Get("low_stock") == "true" {
		filter.LowStockOnly = true
	}
	if daysStr := q.Get("expiring_days"); daysStr != "" {
		days, err := strconv.Atoi(daysStr)
		if err != nil || days < 0 {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "expiring_days must be a non-negative integer")
			return
		}
		filter.ExpiringWithinDays = days
	}
	filter.Page, _ = strconv.Atoi(q.Get("page"))
	filter.PerPage, _ = strconv.Atoi(q.Get("per_page"))
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PerPage < 1 || filter.PerPage > 200 {
		filter.PerPage = 50
	}

	records, total, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.respondError(w, "list stock records", err)
		return
	}
	httpx.JSON(w, http.StatusOK, listResponse{
		Data:       records,
		Pagination: shared.NewPagination(filter.Page, filter.PerPage, total),
	})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	rec, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, "get stock record", err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req recordRequest
	if !h.bind(w, r, &req) {
		return
	}
	rec, err := h.service.Update(r.Context(), chi.URLParam(r, "id"), UpdateInput{
		ItemName:        req.ItemName,
		Category:        req.Category,
		Unit:            req.Unit,
		MinimumStock:    req.MinimumStock,
		MaximumStock:    req.MaximumStock,
		ReorderQuantity: req.ReorderQuantity,
		CostPerUnit:     req.CostPerUnit,
		Supplier:        req.Supplier,
		ExpiryDate:      req.ExpiryDate,
		StorageLocation: req.StorageLocation,
		Actor:           actorFrom(r),
	})
	h.observe("UPDATE", err)
	if err != nil {
		h.respondError(w, "update stock record", err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	err := h.service.Deactivate(r.Context(), chi.URLParam(r, "id"), actorFrom(r))
	h.observe("DEACTIVATE", err)
	if err != nil {
		h.respondError(w, "deactivate stock record", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleStockIn(w http.ResponseWriter, r *http.Request) {
	var req stockInRequest
	if !h.bind(w, r, &req) {
		return
	}
	rec, err := h.service.StockIn(r.Context(), StockInInput{
		RecordID:        chi.URLParam(r, "id"),
		Quantity:        req.Quantity,
		CostPerUnit:     req.CostPerUnit,
		Supplier:        req.Supplier,
		ReferenceNumber: req.ReferenceNumber,
		Actor:           actorFrom(r),
	})
	h.observe(string(TransactionTypeStockIn), err)
	if err != nil {
		h.respondError(w, "post stock in", err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) handleStockOut(w http.ResponseWriter, r *http.Request) {
	var req stockOutRequest
	if !h.bind(w, r, &req) {
		return
	}
	rec, err := h.service.StockOut(r.Context(), StockOutInput{
		RecordID: chi.URLParam(r, "id"),
		Quantity: req.Quantity,
		Reason:   req.Reason,
		Actor:    actorFrom(r),
	})
	h.observe(string(TransactionTypeStockOut), err)
	if err != nil {
		h.respondError(w, "post stock out", err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) handleAdjust(w http.ResponseWriter, r *http.Request) {
	var req adjustRequest
	if !h.bind(w, r, &req) {
		return
	}
	rec, err := h.service.Adjust(r.Context(), AdjustInput{
		RecordID:        chi.URLParam(r, "id"),
		Delta:           req.Delta,
		Type:            TransactionType(req.Type),
		Reason:          req.Reason,
		ReferenceNumber: req.ReferenceNumber,
		Actor:           actorFrom(r),
	})
	h.observe(req.Type, err)
	if err != nil {
		h.respondError(w, "post adjustment", err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) handleTransactions(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := h.service.ListTransactions(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		h.respondError(w, "list transactions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": entries})
}

func (h *Handler) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := AlertFilter{RecordID: q.Get("record_id")}
	if resolvedStr := q.Get("resolved"); resolvedStr != "" {
		resolved := resolvedStr == "true"
		filter.Resolved = &resolved
	}
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))

	alerts, err := h.service.ListAlerts(r.Context(), filter)
	if err != nil {
		h.respondError(w, "list alerts", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": alerts})
}

func (h *Handler) handleResolveAlert(w http.ResponseWriter, r *http.Request) {
	alert, err := h.service.ResolveAlert(r.Context(), chi.URLParam(r, "id"), actorFrom(r))
	if err != nil {
		h.respondError(w, "resolve alert", err)
		return
	}
	httpx.JSON(w, http.StatusOK, alert)
}

// bind decodes and validates the JSON body, responding on failure.
func (h *Handler) bind(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return false
	}
	if err := h.validator.Struct(target); err != nil {
		var details []string
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			for _, fieldErr := range fieldErrs {
				details = append(details, fieldErr.Field()+": failed "+fieldErr.Tag())
			}
		}
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", strings.Join(details, "; "))
		return false
	}
	return true
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrRecordNotFound), errors.Is(err, ErrAlertNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrInsufficientStock):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Insufficient Stock", err.Error())
	case errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrInvalidUnitCost), errors.Is(err, ErrInvalidInput):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Duplicate Reference", err.Error())
	case errors.Is(err, ErrConcurrencyConflict):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func (h *Handler) observe(txType string, err error) {
	if h.metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	h.metrics.ObserveMutation(txType, outcome)
}

// actorFrom extracts the audit actor. Authentication happens upstream; the
// gateway forwards the caller identity in X-Actor.
func actorFrom(r *http.Request) string {
	if actor := r.Header.Get("X-Actor"); actor != "" {
		return actor
	}
	return "anonymous"
}
