package stock

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

type mutationCounter struct {
	counts map[string]int
}

func (m *mutationCounter) ObserveMutation(txType, outcome string) {
	if m.counts == nil {
		m.counts = map[string]int{}
	}
	m.counts[txType+"/"+outcome]++
}

func newTestHandler(repo *memoryRepo) (*Handler, *mutationCounter) {
	metrics := &mutationCounter{}
	svc := newTestService(repo)
	return NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), svc, metrics), metrics
}

func doJSON(t *testing.T, router chi.Router, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Actor", "tester")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestHandlerCreateAndGet(t *testing.T) {
	repo := newMemoryRepo()
	h, _ := newTestHandler(repo)
	router := chi.NewRouter()
	h.MountRoutes(router)

	rr := doJSON(t, router, http.MethodPost, "/stock", `{
		"item_name": "Tomatoes",
		"unit": "kg",
		"current_stock": 12,
		"minimum_stock": 4,
		"cost_per_unit": 2.5
	}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var rec StockRecord
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rec))
	require.NotEmpty(t, rec.ID)
	require.Equal(t, StatusInStock, rec.Status)
	require.InDelta(t, 30.0, rec.TotalValue, 1e-9)

	rr = doJSON(t, router, http.MethodGet, "/stock/"+rec.ID, "")
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestHandlerValidation(t *testing.T) {
	repo := newMemoryRepo()
	h, _ := newTestHandler(repo)
	router := chi.NewRouter()
	h.MountRoutes(router)

	rr := doJSON(t, router, http.MethodPost, "/stock", `{"unit": "kg"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	rr = doJSON(t, router, http.MethodPost, "/stock", `{not json`)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = doJSON(t, router, http.MethodGet, "/stock?expiring_days=nope", "")
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandlerMovementStatusCodes(t *testing.T) {
	repo := newMemoryRepo()
	h, metrics := newTestHandler(repo)
	router := chi.NewRouter()
	h.MountRoutes(router)

	rr := doJSON(t, router, http.MethodPost, "/stock", `{
		"item_name": "Milk", "unit": "l",
		"current_stock": 10, "minimum_stock": 2, "cost_per_unit": 1.5
	}`)
	require.Equal(t, http.StatusCreated, rr.Code)
	var rec StockRecord
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rec))

	rr = doJSON(t, router, http.MethodPost, "/stock/"+rec.ID+"/stock-out", `{"quantity": 50, "reason": "usage"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code, "over-issue maps to 422")

	rr = doJSON(t, router, http.MethodPost, "/stock/"+rec.ID+"/stock-out", `{"quantity": 4, "reason": "usage"}`)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = doJSON(t, router, http.MethodPost, "/stock/missing/stock-in", `{"quantity": 1}`)
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = doJSON(t, router, http.MethodPost, "/stock/"+rec.ID+"/adjust", `{"delta": -1, "type": "REPRICE", "reason": "x"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code, "unknown adjustment type is rejected by validation")

	require.Equal(t, 1, metrics.counts["STOCK_OUT/ok"])
	require.Equal(t, 1, metrics.counts["STOCK_OUT/error"])
	require.Equal(t, 1, metrics.counts["STOCK_IN/error"])
}

func TestHandlerAlertsFlow(t *testing.T) {
	repo := newMemoryRepo()
	h, _ := newTestHandler(repo)
	router := chi.NewRouter()
	h.MountRoutes(router)

	rr := doJSON(t, router, http.MethodPost, "/stock", `{
		"item_name": "Yeast", "unit": "g",
		"current_stock": 0, "minimum_stock": 100, "cost_per_unit": 0.02
	}`)
	require.Equal(t, http.StatusCreated, rr.Code)
	var rec StockRecord
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rec))

	rr = doJSON(t, router, http.MethodGet, "/alerts?record_id="+rec.ID+"&resolved=false", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var listing struct {
		Data []Alert `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &listing))
	require.Len(t, listing.Data, 1)
	require.Equal(t, AlertTypeOutOfStock, listing.Data[0].Type)

	rr = doJSON(t, router, http.MethodPost, fmt.Sprintf("/alerts/%s/resolve", listing.Data[0].ID), "")
	require.Equal(t, http.StatusOK, rr.Code)
	var resolved Alert
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resolved))
	require.True(t, resolved.IsResolved)
	require.Equal(t, "tester", resolved.ResolvedBy)

	rr = doJSON(t, router, http.MethodPost, fmt.Sprintf("/alerts/%s/resolve", listing.Data[0].ID), "")
	require.Equal(t, http.StatusNotFound, rr.Code, "resolving twice is a 404")
}

func TestHandlerListFilters(t *testing.T) {
	repo := newMemoryRepo()
	h, _ := newTestHandler(repo)
	router := chi.NewRouter()
	h.MountRoutes(router)

	for i, stock := range []float64{0, 3, 50} {
		body := fmt.Sprintf(`{
			"item_name": "Item %d", "unit": "kg",
			"current_stock": %f, "minimum_stock": 5, "cost_per_unit": 1
		}`, i, stock)
		rr := doJSON(t, router, http.MethodPost, "/stock", body)
		require.Equal(t, http.StatusCreated, rr.Code)
	}

	rr := doJSON(t, router, http.MethodGet, "/stock?low_stock=true", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var listing listResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &listing))
	require.Len(t, listing.Data, 2)
	require.Equal(t, 2, listing.Pagination.Total)

	rr = doJSON(t, router, http.MethodGet, "/stock?status=out_of_stock", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &listing))
	require.Len(t, listing.Data, 1)

	rr = doJSON(t, router, http.MethodDelete, "/stock/"+listing.Data[0].ID, "")
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr = doJSON(t, router, http.MethodGet, "/stock", "")
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &listing))
	require.Len(t, listing.Data, 2, "default listing hides deactivated records")
}
