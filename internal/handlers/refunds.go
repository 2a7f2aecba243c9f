package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jaylingelbach/AbandonedHobby-sub004/internal/platform/httpx"
	"github.com/jaylingelbach/AbandonedHobby-sub004/internal/platform/requestctx"
	"github.com/jaylingelbach/AbandonedHobby-sub004/internal/services"
)

const maxRefundBodySize = 16 * 1024

const idempotencyKeyHeader = "Idempotency-Key"

type createRefundRequest struct {
	Selections     []refundSelectionInput `json:"selections"`
	Reason         string                 `json:"reason"`
	RestockingFee  int64                  `json:"restocking_fee"`
	RefundShipping int64                  `json:"refund_shipping"`
	IdempotencyKey string                 `json:"idempotency_key"`
}

type refundSelectionInput struct {
	ItemID   string `json:"item_id"`
	Quantity int    `json:"quantity"`
}

// RefundHandlers exposes the refund endpoints nested under /orders.
type RefundHandlers struct {
	refunds services.RefundService
	limiter rateLimiter
}

// RefundOption customises refund handler behaviour.
type RefundOption func(*RefundHandlers)

// WithRefundRateLimit throttles refund creation per actor. A non-positive
// limit or window disables throttling.
func WithRefundRateLimit(limit int, window time.Duration) RefundOption {
	return func(h *RefundHandlers) {
		h.limiter = newSimpleRateLimiter(limit, window, nil)
	}
}

// NewRefundHandlers constructs a new RefundHandlers instance.
func NewRefundHandlers(refunds services.RefundService, opts ...RefundOption) *RefundHandlers {
	h := &RefundHandlers{refunds: refunds}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the refund endpoints on the /orders group.
func (h *RefundHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Route("/{orderID}/refunds", func(sub chi.Router) {
		sub.Post("/", h.createRefund)
		sub.Get("/", h.listRefunds)
	})
}

func (h *RefundHandlers) createRefund(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.refunds == nil {
		httpx.WriteError(ctx, w, httpx.NewError("refund_service_unavailable", "refund service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	if h.limiter != nil && !h.limiter.Allow(requestctx.Actor(ctx)) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many refund requests", http.StatusTooManyRequests))
		return
	}

	body, err := readLimitedBody(r, maxRefundBodySize)
	if err != nil {
		switch {
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
		}
		return
	}

	var req createRefundRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" {
		key = strings.TrimSpace(r.Header.Get(idempotencyKeyHeader))
	}
	if key == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "idempotency key is required", http.StatusBadRequest))
		return
	}

	cmd := services.CreateRefundCommand{
		OrderID:        orderID,
		Reason:         strings.TrimSpace(req.Reason),
		RestockingFee:  req.RestockingFee,
		RefundShipping: req.RefundShipping,
		IdempotencyKey: key,
		ActorID:        requestctx.Actor(ctx),
	}
	for _, sel := range req.Selections {
		cmd.Selections = append(cmd.Selections, services.RefundSelection{
			ItemID:   strings.TrimSpace(sel.ItemID),
			Quantity: sel.Quantity,
		})
	}

	result, err := h.refunds.CreateRefundForOrder(ctx, cmd)
	if err != nil {
		writeRefundError(ctx, w, err)
		return
	}

	status := http.StatusCreated
	if result.Reused {
		status = http.StatusOK
	}
	writeJSONResponse(w, status, refundResponse{
		Refund: buildRefundPayload(result.Record),
		Order:  buildOrderSummary(result.Order),
		Reused: result.Reused,
	})
}

func (h *RefundHandlers) listRefunds(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.refunds == nil {
		httpx.WriteError(ctx, w, httpx.NewError("refund_service_unavailable", "refund service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	records, err := h.refunds.ListRefunds(ctx, orderID)
	if err != nil {
		writeRefundError(ctx, w, err)
		return
	}

	items := make([]refundPayload, 0, len(records))
	for _, record := range records {
		items = append(items, buildRefundPayload(record))
	}
	writeJSONResponse(w, http.StatusOK, refundListResponse{Items: items})
}

type refundResponse struct {
	Refund refundPayload       `json:"refund"`
	Order  orderSummaryPayload `json:"order"`
	Reused bool                `json:"reused,omitempty"`
}

type refundListResponse struct {
	Items []refundPayload `json:"items"`
}

type refundPayload struct {
	ID               string                   `json:"id"`
	OrderID          string                   `json:"order_id"`
	ProviderRefundID string                   `json:"provider_refund_id,omitempty"`
	Status           string                   `json:"status"`
	Amount           int64                    `json:"amount"`
	Reason           string                   `json:"reason,omitempty"`
	Selections       []refundSelectionPayload `json:"selections,omitempty"`
	RestockingFee    int64                    `json:"restocking_fee,omitempty"`
	RefundShipping   int64                    `json:"refund_shipping,omitempty"`
	IdempotencyKey   string                   `json:"idempotency_key,omitempty"`
	CreatedAt        string                   `json:"created_at"`
	UpdatedAt        string                   `json:"updated_at,omitempty"`
}

type refundSelectionPayload struct {
	ItemID   string `json:"item_id"`
	Quantity int    `json:"quantity"`
}

func buildRefundPayload(record services.RefundRecord) refundPayload {
	payload := refundPayload{
		ID:               strings.TrimSpace(record.ID),
		OrderID:          strings.TrimSpace(record.OrderID),
		ProviderRefundID: strings.TrimSpace(record.ProviderRefundID),
		Status:           strings.TrimSpace(string(record.Status)),
		Amount:           record.Amount,
		Reason:           strings.TrimSpace(record.Reason),
		RestockingFee:    record.RestockingFee,
		RefundShipping:   record.RefundShipping,
		IdempotencyKey:   strings.TrimSpace(record.IdempotencyKey),
		CreatedAt:        formatTime(record.CreatedAt),
		UpdatedAt:        formatTime(record.UpdatedAt),
	}
	for _, sel := range record.Selections {
		payload.Selections = append(payload.Selections, refundSelectionPayload{
			ItemID:   sel.ItemID,
			Quantity: sel.Quantity,
		})
	}
	return payload
}

func writeRefundError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	var conflict *services.RefundConflictError
	switch {
	case errors.As(err, &conflict):
		code := "refund_exceeds_refundable"
		if errors.Is(conflict.Err, services.ErrOrderFullyRefunded) {
			code = "order_fully_refunded"
		}
		httpx.WriteError(ctx, w, httpx.NewError(code, conflict.Error(), http.StatusConflict).WithDetails(map[string]any{
			"orderId":         conflict.OrderID,
			"ceiling":         conflict.Ceiling,
			"alreadyRefunded": conflict.AlreadyRefunded,
			"requested":       conflict.Requested,
		}))
	case errors.Is(err, services.ErrOrderFullyRefunded):
		httpx.WriteError(ctx, w, httpx.NewError("order_fully_refunded", "order is already fully refunded", http.StatusConflict))
	case errors.Is(err, services.ErrRefundExceedsRefundable):
		httpx.WriteError(ctx, w, httpx.NewError("refund_exceeds_refundable", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrRefundInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrRefundNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_state", err.Error(), http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("refund_error", "failed to process refund request", http.StatusInternalServerError))
	}
}
