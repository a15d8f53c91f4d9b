package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders/internal/api"
	"github.com/vladislavdragonenkov/orders/internal/domain"
)

const (
	maxBodyBytes           = 1 << 20
	defaultListOrdersLimit = 100
	maxListOrdersLimit     = 1000
)

// OrderCreator создаёт заказ по запросу.
type OrderCreator interface {
	CreateOrder(ctx context.Context, req domain.OrderRequest) (domain.Order, error)
}

// Handler обслуживает HTTP-операции с заказами.
type Handler struct {
	creator OrderCreator
	query   domain.OrderQuery
	logger  *log.Entry
}

// NewHandler создаёт обработчик заказов.
func NewHandler(creator OrderCreator, query domain.OrderQuery, logger *log.Entry) *Handler {
	if logger == nil {
		logger = log.WithField("component", "http-orders")
	}
	return &Handler{creator: creator, query: query, logger: logger}
}

// CreateOrder обрабатывает POST /v1/orders.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req api.CreateOrderRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	order, err := h.creator.CreateOrder(r.Context(), req.ToDomain())
	if err != nil {
		h.writeDomainError(w, err, log.Fields{"customer_id": req.CustomerID})
		return
	}

	w.Header().Set("Location", "/v1/orders/"+order.ID)
	writeJSON(w, http.StatusCreated, api.OrderResponse{Order: api.OrderFromDomain(order)})
}

// GetOrder обрабатывает GET /v1/orders/{id}.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	order, err := h.query.Get(r.Context(), orderID)
	if err != nil {
		h.writeDomainError(w, err, log.Fields{"order_id": orderID})
		return
	}

	writeJSON(w, http.StatusOK, api.OrderResponse{Order: api.OrderFromDomain(order)})
}

// ListOrders обрабатывает GET /v1/customers/{id}/orders?limit=N.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	customerID := chi.URLParam(r, "id")

	limit := defaultListOrdersLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = min(parsed, maxListOrdersLimit)
	}

	orders, err := h.query.ListByCustomer(r.Context(), customerID, limit)
	if err != nil {
		h.writeDomainError(w, err, log.Fields{"customer_id": customerID})
		return
	}

	writeJSON(w, http.StatusOK, api.ListOrdersResponse{Orders: api.OrdersFromDomain(orders)})
}

func (h *Handler) writeDomainError(w http.ResponseWriter, err error, fields log.Fields) {
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, domain.ErrCustomerNotFound):
		writeError(w, http.StatusNotFound, "customer_not_found", err.Error())
	case errors.Is(err, domain.ErrProductNotFound):
		writeError(w, http.StatusNotFound, "product_not_found", err.Error())
	case errors.Is(err, domain.ErrOrderNotFound):
		writeError(w, http.StatusNotFound, "order_not_found", err.Error())
	case errors.Is(err, domain.ErrInsufficientStock):
		writeError(w, http.StatusConflict, "insufficient_stock", err.Error())
	default:
		h.logger.WithError(err).WithFields(fields).Error("order request failed")
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, api.ErrorResponse{Error: message, Code: code})
}
