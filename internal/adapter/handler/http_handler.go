package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/rl1809/checkout/internal/core/domain"
	"github.com/rl1809/checkout/internal/core/service"
	"github.com/rl1809/checkout/internal/logger"
	"github.com/rl1809/checkout/internal/metrics"
)

const (
	headerUserID         = "X-User-ID"
	headerIdempotencyKey = "Idempotency-Key"
	headerReplayed       = "Idempotent-Replayed"

	defaultMaxBodyBytes = 1 << 20
)

// CheckoutAPI is the part of service.CheckoutService the transports call.
type CheckoutAPI interface {
	Checkout(ctx context.Context, cmd service.CheckoutCommand) (*service.CheckoutResult, error)
	GetOrder(ctx context.Context, userID, orderID int64) (*domain.Order, error)
	ListOrders(ctx context.Context, userID int64, limit int) ([]domain.Order, error)
}

type HTTPHandler struct {
	checkout     CheckoutAPI
	metrics      *metrics.Metrics
	gatherer     prometheus.Gatherer
	log          *zap.Logger
	maxBodyBytes int64
}

type HTTPOptions struct {
	Metrics *metrics.Metrics
	// Gatherer backs GET /metrics. Nil disables the endpoint.
	Gatherer     prometheus.Gatherer
	Logger       *zap.Logger
	MaxBodyBytes int64
}

type CheckoutHTTPRequest struct {
	Items []CheckoutItemHTTP `json:"items"`
}

type CheckoutItemHTTP struct {
	ProductID int64 `json:"productId"`
	Quantity  int   `json:"quantity"`
}

type OrderView struct {
	ID         int64           `json:"id"`
	Status     string          `json:"status"`
	TotalCents int64           `json:"total_cents"`
	CreatedAt  time.Time       `json:"createdAt"`
	Items      []OrderItemView `json:"items"`
}

type OrderItemView struct {
	ProductID      int64 `json:"productId"`
	Quantity       int   `json:"quantity"`
	UnitPriceCents int64 `json:"unit_price_cents"`
	SubtotalCents  int64 `json:"subtotal_cents"`
}

type errorResponse struct {
	Error               string   `json:"error"`
	Details             []string `json:"details,omitempty"`
	UnavailableProducts []int64  `json:"unavailableProducts,omitempty"`
}

func NewHTTPHandler(checkout CheckoutAPI, opts HTTPOptions) *HTTPHandler {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}

	return &HTTPHandler{
		checkout:     checkout,
		metrics:      opts.Metrics,
		gatherer:     opts.Gatherer,
		log:          log,
		maxBodyBytes: maxBody,
	}
}

func (h *HTTPHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.HealthCheck)
	if h.gatherer != nil {
		r.Handle("/metrics", metrics.Handler(h.gatherer))
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(h.requireUser)
		r.With(h.instrument("checkout")).Post("/checkout", h.Checkout)
		r.With(h.instrument("list_orders")).Get("/orders", h.ListOrders)
		r.With(h.instrument("get_order")).Get("/orders/{id}", h.GetOrder)
	})

	return r
}

func (h *HTTPHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)

	var req CheckoutHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "request body too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:   domain.ErrInvalidInput.Error(),
			Details: []string{"request body must be a JSON object with an items array"},
		})
		return
	}

	items := make([]domain.CartLineRequest, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, domain.CartLineRequest{ProductID: it.ProductID, Quantity: it.Quantity})
	}

	res, err := h.checkout.Checkout(r.Context(), service.CheckoutCommand{
		UserID:         userIDFrom(r.Context()),
		IdempotencyKey: r.Header.Get(headerIdempotencyKey),
		Items:          items,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if res.Replayed {
		w.Header().Set(headerReplayed, "true")
		writeJSON(w, http.StatusOK, newOrderView(res.Order))
		return
	}
	writeJSON(w, http.StatusCreated, newOrderView(res.Order))
}

func (h *HTTPHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:   domain.ErrInvalidInput.Error(),
			Details: []string{"order id must be a positive integer"},
		})
		return
	}

	order, err := h.checkout.GetOrder(r.Context(), userIDFrom(r.Context()), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderView(order))
}

func (h *HTTPHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{
				Error:   domain.ErrInvalidInput.Error(),
				Details: []string{"limit must be a positive integer"},
			})
			return
		}
		limit = n
	}

	orders, err := h.checkout.ListOrders(r.Context(), userIDFrom(r.Context()), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	views := make([]OrderView, 0, len(orders))
	for i := range orders {
		views = append(views, newOrderView(&orders[i]))
	}
	writeJSON(w, http.StatusOK, map[string][]OrderView{"orders": views})
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		invalid  *domain.InvalidInputError
		conflict *domain.StockConflictError
	)

	switch {
	case errors.As(err, &invalid):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: domain.ErrInvalidInput.Error(), Details: invalid.Details})
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, errorResponse{
			Error:               domain.ErrStockConflict.Error(),
			UnavailableProducts: conflict.UnavailableProductIDs,
		})
	case errors.Is(err, domain.ErrRequestInProgress):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrOrderNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, gobreaker.ErrOpenState):
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "service temporarily unavailable"})
	default:
		logger.FromContext(r.Context(), h.log).Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func newOrderView(o *domain.Order) OrderView {
	items := make([]OrderItemView, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, OrderItemView{
			ProductID:      it.ProductID,
			Quantity:       it.Quantity,
			UnitPriceCents: it.UnitPriceCents,
			SubtotalCents:  it.SubtotalCents,
		})
	}

	return OrderView{
		ID:         o.ID,
		Status:     string(o.Status),
		TotalCents: o.TotalCents,
		CreatedAt:  o.CreatedAt,
		Items:      items,
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
