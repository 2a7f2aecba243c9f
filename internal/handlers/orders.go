package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/jaylingelbach/AbandonedHobby-sub004/internal/domain"
	"github.com/jaylingelbach/AbandonedHobby-sub004/internal/platform/httpx"
	"github.com/jaylingelbach/AbandonedHobby-sub004/internal/platform/requestctx"
	"github.com/jaylingelbach/AbandonedHobby-sub004/internal/services"
)

const (
	defaultOrderPageSize     = 20
	maxOrderPageSize         = 100
	maxOrderCancelBodySize   = 4 * 1024
	maxOrderShipmentBodySize = 4 * 1024
)

var validOrderStatuses = map[domain.OrderStatus]struct{}{
	domain.OrderStatusPaid:              {},
	domain.OrderStatusPartiallyRefunded: {},
	domain.OrderStatusRefunded:          {},
	domain.OrderStatusCanceled:          {},
}

type cancelOrderRequest struct {
	Reason         string `json:"reason"`
	ExpectedStatus string `json:"expected_status"`
}

type recordShipmentRequest struct {
	Carrier        string `json:"carrier"`
	TrackingNumber string `json:"tracking_number"`
	ShippedAt      string `json:"shipped_at"`
}

// OrderHandlers exposes order read and lifecycle endpoints. Callers are
// trusted services behind the gateway; the acting identity arrives via
// request context rather than end-user credentials.
type OrderHandlers struct {
	orders services.OrderService
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{orders: orders}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}:cancel", h.cancelOrder)
	r.Put("/{orderID}/shipment", h.recordShipment)
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()

	tenantID := strings.TrimSpace(query.Get("tenant_id"))
	buyerID := strings.TrimSpace(query.Get("buyer_id"))
	if tenantID == "" && buyerID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "tenant_id or buyer_id is required", http.StatusBadRequest))
		return
	}

	statusFilters := parseFilterValues(query["status"])
	for _, status := range statusFilters {
		if _, ok := validOrderStatuses[domain.OrderStatus(status)]; !ok {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status must be a valid order status", http.StatusBadRequest))
			return
		}
	}

	var dateRange domain.RangeQuery[time.Time]
	if raw := strings.TrimSpace(query.Get("created_after")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "created_after must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		dateRange.From = &ts
	}
	if raw := strings.TrimSpace(query.Get("created_before")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "created_before must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		dateRange.To = &ts
	}

	pageSize := defaultOrderPageSize
	if sizeRaw := strings.TrimSpace(query.Get("page_size")); sizeRaw != "" {
		size, err := strconv.Atoi(sizeRaw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "page_size must be an integer", http.StatusBadRequest))
			return
		}
		switch {
		case size <= 0:
			pageSize = defaultOrderPageSize
		case size > maxOrderPageSize:
			pageSize = maxOrderPageSize
		default:
			pageSize = size
		}
	}

	filter := services.OrderListFilter{
		TenantID:  tenantID,
		BuyerID:   buyerID,
		Status:    statusFilters,
		DateRange: dateRange,
		Pagination: services.Pagination{
			PageSize:  pageSize,
			PageToken: strings.TrimSpace(query.Get("page_token")),
		},
	}

	page, err := h.orders.ListOrders(ctx, filter)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderSummaryPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderSummary(order))
	}

	response := orderListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	}
	writeJSONResponse(w, http.StatusOK, response)
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req cancelOrderRequest
	body, err := readLimitedBody(r, maxOrderCancelBodySize)
	switch {
	case err == nil:
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
			return
		}
	case errors.Is(err, errEmptyBody):
		// Cancellation without a reason is allowed.
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		return
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	cmd := services.CancelOrderCommand{
		OrderID: orderID,
		Reason:  strings.TrimSpace(req.Reason),
		ActorID: requestctx.Actor(ctx),
	}
	if raw := strings.TrimSpace(req.ExpectedStatus); raw != "" {
		status, ok := parseOrderStatus(raw)
		if !ok {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "expected_status must be a valid order status", http.StatusBadRequest))
			return
		}
		expected := string(status)
		cmd.ExpectedStatus = &expected
	}

	canceled, err := h.orders.Cancel(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(canceled)})
}

func (h *OrderHandlers) recordShipment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxOrderShipmentBodySize)
	if err != nil {
		switch {
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
		}
		return
	}

	var req recordShipmentRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	cmd := services.RecordShipmentCommand{
		OrderID:        orderID,
		Carrier:        domain.ShipmentCarrier(strings.ToLower(strings.TrimSpace(req.Carrier))),
		TrackingNumber: req.TrackingNumber,
		ActorID:        requestctx.Actor(ctx),
	}
	if raw := strings.TrimSpace(req.ShippedAt); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "shipped_at must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		cmd.ShippedAt = &ts
	}

	updated, err := h.orders.RecordShipment(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(updated)})
}

type orderListResponse struct {
	Items         []orderSummaryPayload `json:"items"`
	NextPageToken string                `json:"next_page_token,omitempty"`
}

type orderSummaryPayload struct {
	ID            string `json:"id"`
	OrderNumber   string `json:"order_number"`
	TenantID      string `json:"tenant_id"`
	BuyerID       string `json:"buyer_id"`
	Status        string `json:"status"`
	Currency      string `json:"currency"`
	Total         int64  `json:"total"`
	RefundedTotal int64  `json:"refunded_total"`
	CreatedAt     string `json:"created_at"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderPayload struct {
	ID                string                 `json:"id"`
	OrderNumber       string                 `json:"order_number"`
	TenantID          string                 `json:"tenant_id"`
	BuyerID           string                 `json:"buyer_id"`
	Status            string                 `json:"status"`
	Currency          string                 `json:"currency"`
	Total             int64                  `json:"total"`
	RefundedTotal     int64                  `json:"refunded_total"`
	LastRefundAt      string                 `json:"last_refund_at,omitempty"`
	CheckoutSessionID string                 `json:"checkout_session_id,omitempty"`
	PaymentIntentID   string                 `json:"payment_intent_id,omitempty"`
	ChargeID          string                 `json:"charge_id,omitempty"`
	ConnectedAccount  string                 `json:"connected_account,omitempty"`
	Items             []orderItemPayload     `json:"items"`
	Shipment          *orderShipmentPayload  `json:"shipment,omitempty"`
	Shipments         []orderShipmentPayload `json:"shipments,omitempty"`
	Metadata          map[string]any         `json:"metadata,omitempty"`
	CreatedAt         string                 `json:"created_at"`
	UpdatedAt         string                 `json:"updated_at,omitempty"`
	PaidAt            string                 `json:"paid_at,omitempty"`
}

type orderItemPayload struct {
	ID                     string `json:"id"`
	ProductID              string `json:"product_id,omitempty"`
	Name                   string `json:"name,omitempty"`
	UnitAmount             int64  `json:"unit_amount"`
	Quantity               int    `json:"quantity"`
	AmountSubtotal         *int64 `json:"amount_subtotal,omitempty"`
	AmountTax              *int64 `json:"amount_tax,omitempty"`
	AmountTotal            *int64 `json:"amount_total,omitempty"`
	RefundedQuantity       int    `json:"refunded_quantity,omitempty"`
	RefundPolicy           string `json:"refund_policy,omitempty"`
	ReturnsAcceptedThrough string `json:"returns_accepted_through,omitempty"`
}

type orderShipmentPayload struct {
	Carrier        string `json:"carrier"`
	TrackingNumber string `json:"tracking_number,omitempty"`
	TrackingURL    string `json:"tracking_url,omitempty"`
	ShippedAt      string `json:"shipped_at,omitempty"`
}

func buildOrderSummary(order services.Order) orderSummaryPayload {
	return orderSummaryPayload{
		ID:            strings.TrimSpace(order.ID),
		OrderNumber:   strings.TrimSpace(order.OrderNumber),
		TenantID:      strings.TrimSpace(order.TenantID),
		BuyerID:       strings.TrimSpace(order.BuyerID),
		Status:        strings.TrimSpace(string(order.Status)),
		Currency:      strings.ToUpper(strings.TrimSpace(order.Currency)),
		Total:         order.Total,
		RefundedTotal: order.RefundedTotal,
		CreatedAt:     formatTime(order.CreatedAt),
	}
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:                strings.TrimSpace(order.ID),
		OrderNumber:       strings.TrimSpace(order.OrderNumber),
		TenantID:          strings.TrimSpace(order.TenantID),
		BuyerID:           strings.TrimSpace(order.BuyerID),
		Status:            strings.TrimSpace(string(order.Status)),
		Currency:          strings.ToUpper(strings.TrimSpace(order.Currency)),
		Total:             order.Total,
		RefundedTotal:     order.RefundedTotal,
		LastRefundAt:      formatTime(pointerTime(order.LastRefundAt)),
		CheckoutSessionID: strings.TrimSpace(order.CheckoutSessionID),
		PaymentIntentID:   strings.TrimSpace(order.PaymentIntentID),
		ChargeID:          strings.TrimSpace(order.ChargeID),
		ConnectedAccount:  strings.TrimSpace(order.ConnectedAccount),
		Items:             make([]orderItemPayload, 0, len(order.Items)),
		Metadata:          cloneMap(order.Metadata),
		CreatedAt:         formatTime(order.CreatedAt),
		UpdatedAt:         formatTime(order.UpdatedAt),
		PaidAt:            formatTime(pointerTime(order.PaidAt)),
	}

	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ID:                     strings.TrimSpace(item.ID),
			ProductID:              strings.TrimSpace(item.ProductID),
			Name:                   strings.TrimSpace(item.NameSnapshot),
			UnitAmount:             item.UnitAmount,
			Quantity:               item.Quantity,
			AmountSubtotal:         cloneInt64Pointer(item.AmountSubtotal),
			AmountTax:              cloneInt64Pointer(item.AmountTax),
			AmountTotal:            cloneInt64Pointer(item.AmountTotal),
			RefundedQuantity:       item.RefundedQuantity,
			RefundPolicy:           strings.TrimSpace(item.RefundPolicy),
			ReturnsAcceptedThrough: formatTime(pointerTime(item.ReturnsAcceptedThrough)),
		})
	}

	if order.Shipment != nil && order.Shipment.HasData() {
		shipment := buildShipmentPayload(*order.Shipment)
		payload.Shipment = &shipment
	}
	if len(order.Shipments) > 0 {
		payload.Shipments = make([]orderShipmentPayload, 0, len(order.Shipments))
		for _, shipment := range order.Shipments {
			payload.Shipments = append(payload.Shipments, buildShipmentPayload(shipment))
		}
	}

	return payload
}

func buildShipmentPayload(shipment domain.Shipment) orderShipmentPayload {
	return orderShipmentPayload{
		Carrier:        strings.TrimSpace(string(shipment.Carrier)),
		TrackingNumber: strings.TrimSpace(shipment.TrackingNumber),
		TrackingURL:    strings.TrimSpace(shipment.TrackingURL),
		ShippedAt:      formatTime(pointerTime(shipment.ShippedAt)),
	}
}

func cloneInt64Pointer(value *int64) *int64 {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_state", err.Error(), http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}

func parseOrderStatus(raw string) (services.OrderStatus, bool) {
	status := domain.OrderStatus(strings.TrimSpace(strings.ToLower(raw)))
	if _, ok := validOrderStatuses[status]; !ok {
		return "", false
	}
	return status, true
}
