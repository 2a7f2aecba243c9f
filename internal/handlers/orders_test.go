package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/jaylingelbach/AbandonedHobby-sub004/internal/domain"
	"github.com/jaylingelbach/AbandonedHobby-sub004/internal/services"
)

type stubOrderService struct {
	createFn   func(context.Context, services.CreateOrderFromCheckoutCommand) (services.Order, error)
	getFn      func(context.Context, string) (services.Order, error)
	listFn     func(context.Context, services.OrderListFilter) (domain.CursorPage[services.Order], error)
	cancelFn   func(context.Context, services.CancelOrderCommand) (services.Order, error)
	shipmentFn func(context.Context, services.RecordShipmentCommand) (services.Order, error)
}

func (s *stubOrderService) CreateFromCheckout(ctx context.Context, cmd services.CreateOrderFromCheckoutCommand) (services.Order, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) GetOrder(ctx context.Context, orderID string) (services.Order, error) {
	if s.getFn != nil {
		return s.getFn(ctx, orderID)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) ListOrders(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[services.Order]{}, nil
}

func (s *stubOrderService) Cancel(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
	if s.cancelFn != nil {
		return s.cancelFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) RecordShipment(ctx context.Context, cmd services.RecordShipmentCommand) (services.Order, error) {
	if s.shipmentFn != nil {
		return s.shipmentFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func newOrderRouter(svc services.OrderService) chi.Router {
	r := chi.NewRouter()
	NewOrderHandlers(svc).Routes(r)
	return r
}

func sampleOrder() services.Order {
	paidAt := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	return services.Order{
		ID:              "ord_1",
		OrderNumber:     "AH-2026-000042",
		TenantID:        "tenant_1",
		BuyerID:         "buyer_1",
		Status:          domain.OrderStatusPaid,
		Currency:        "usd",
		Total:           5500,
		PaymentIntentID: "pi_1",
		Items: []services.OrderItem{
			{ID: "itm_a", NameSnapshot: "Vintage camera", UnitAmount: 5500, Quantity: 1},
		},
		CreatedAt: paidAt,
		PaidAt:    &paidAt,
	}
}

func TestOrderHandlersListRequiresScope(t *testing.T) {
	router := newOrderRouter(&stubOrderService{})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestOrderHandlersListParsesFilters(t *testing.T) {
	var captured services.OrderListFilter
	svc := &stubOrderService{
		listFn: func(_ context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
			captured = filter
			return domain.CursorPage[services.Order]{
				Items:         []services.Order{sampleOrder()},
				NextPageToken: "next",
			}, nil
		},
	}
	router := newOrderRouter(svc)

	target := "/?tenant_id=tenant_1&status=paid,partially_refunded&created_after=2026-01-01T00:00:00Z&page_size=500&page_token=tok"
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.TenantID != "tenant_1" {
		t.Fatalf("expected tenant filter, got %q", captured.TenantID)
	}
	if len(captured.Status) != 2 || captured.Status[0] != "paid" || captured.Status[1] != "partially_refunded" {
		t.Fatalf("unexpected status filter: %v", captured.Status)
	}
	if captured.DateRange.From == nil || !captured.DateRange.From.Equal(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected date range: %+v", captured.DateRange)
	}
	if captured.Pagination.PageSize != maxOrderPageSize {
		t.Fatalf("expected page size clamped to %d, got %d", maxOrderPageSize, captured.Pagination.PageSize)
	}
	if captured.Pagination.PageToken != "tok" {
		t.Fatalf("unexpected page token %q", captured.Pagination.PageToken)
	}

	var body orderListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(body.Items) != 1 || body.Items[0].OrderNumber != "AH-2026-000042" {
		t.Fatalf("unexpected items: %+v", body.Items)
	}
	if body.Items[0].Currency != "USD" {
		t.Fatalf("expected uppercased currency, got %q", body.Items[0].Currency)
	}
	if body.NextPageToken != "next" {
		t.Fatalf("unexpected next page token %q", body.NextPageToken)
	}
}

func TestOrderHandlersListRejectsUnknownStatus(t *testing.T) {
	router := newOrderRouter(&stubOrderService{})

	req := httptest.NewRequest(http.MethodGet, "/?tenant_id=tenant_1&status=shipped", nil)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestOrderHandlersGetOrder(t *testing.T) {
	svc := &stubOrderService{
		getFn: func(_ context.Context, orderID string) (services.Order, error) {
			if orderID != "ord_1" {
				t.Fatalf("unexpected order id %q", orderID)
			}
			return sampleOrder(), nil
		},
	}
	router := newOrderRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/ord_1", nil)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var body orderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body.Order.ID != "ord_1" || body.Order.PaymentIntentID != "pi_1" {
		t.Fatalf("unexpected order payload: %+v", body.Order)
	}
	if len(body.Order.Items) != 1 || body.Order.Items[0].Name != "Vintage camera" {
		t.Fatalf("unexpected items: %+v", body.Order.Items)
	}
}

func TestOrderHandlersGetOrderNotFound(t *testing.T) {
	svc := &stubOrderService{
		getFn: func(context.Context, string) (services.Order, error) {
			return services.Order{}, services.ErrOrderNotFound
		},
	}
	router := newOrderRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/ord_missing", nil)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestOrderHandlersCancelOrder(t *testing.T) {
	var captured services.CancelOrderCommand
	svc := &stubOrderService{
		cancelFn: func(_ context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
			captured = cmd
			order := sampleOrder()
			order.Status = domain.OrderStatusCanceled
			return order, nil
		},
	}
	router := newOrderRouter(svc)

	payload := bytes.NewBufferString(`{"reason":"buyer request","expected_status":"paid"}`)
	req := httptest.NewRequest(http.MethodPost, "/ord_1:cancel", payload)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OrderID != "ord_1" || captured.Reason != "buyer request" {
		t.Fatalf("unexpected command: %+v", captured)
	}
	if captured.ExpectedStatus == nil || *captured.ExpectedStatus != "paid" {
		t.Fatalf("expected expected_status paid, got %v", captured.ExpectedStatus)
	}

	var body orderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body.Order.Status != string(domain.OrderStatusCanceled) {
		t.Fatalf("expected canceled status, got %s", body.Order.Status)
	}
}

func TestOrderHandlersCancelOrderAllowsEmptyBody(t *testing.T) {
	svc := &stubOrderService{
		cancelFn: func(_ context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
			if cmd.Reason != "" || cmd.ExpectedStatus != nil {
				t.Fatalf("expected empty command fields, got %+v", cmd)
			}
			return sampleOrder(), nil
		},
	}
	router := newOrderRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/ord_1:cancel", nil)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestOrderHandlersCancelOrderRejectsBadExpectedStatus(t *testing.T) {
	router := newOrderRouter(&stubOrderService{})

	payload := bytes.NewBufferString(`{"expected_status":"shipped"}`)
	req := httptest.NewRequest(http.MethodPost, "/ord_1:cancel", payload)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestOrderHandlersRecordShipment(t *testing.T) {
	var captured services.RecordShipmentCommand
	svc := &stubOrderService{
		shipmentFn: func(_ context.Context, cmd services.RecordShipmentCommand) (services.Order, error) {
			captured = cmd
			shippedAt := time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)
			order := sampleOrder()
			order.Shipment = &domain.Shipment{
				Carrier:        domain.CarrierUSPS,
				TrackingNumber: "940012345678",
				TrackingURL:    "https://tools.usps.com/go/TrackConfirmAction?tLabels=940012345678",
				ShippedAt:      &shippedAt,
			}
			return order, nil
		},
	}
	router := newOrderRouter(svc)

	payload := bytes.NewBufferString(`{"carrier":"USPS","tracking_number":"9400 1234 5678","shipped_at":"2026-04-02T09:00:00Z"}`)
	req := httptest.NewRequest(http.MethodPut, "/ord_1/shipment", payload)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Carrier != domain.CarrierUSPS {
		t.Fatalf("expected carrier usps, got %s", captured.Carrier)
	}
	if captured.TrackingNumber != "9400 1234 5678" {
		t.Fatalf("expected raw tracking number passed through, got %q", captured.TrackingNumber)
	}
	if captured.ShippedAt == nil || !captured.ShippedAt.Equal(time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected shipped at: %v", captured.ShippedAt)
	}

	var body orderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body.Order.Shipment == nil || body.Order.Shipment.TrackingNumber != "940012345678" {
		t.Fatalf("unexpected shipment payload: %+v", body.Order.Shipment)
	}
}

func TestOrderHandlersRecordShipmentRequiresBody(t *testing.T) {
	router := newOrderRouter(&stubOrderService{})

	req := httptest.NewRequest(http.MethodPut, "/ord_1/shipment", nil)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestOrderHandlersRecordShipmentMapsInvalidState(t *testing.T) {
	svc := &stubOrderService{
		shipmentFn: func(context.Context, services.RecordShipmentCommand) (services.Order, error) {
			return services.Order{}, services.ErrOrderInvalidState
		},
	}
	router := newOrderRouter(svc)

	payload := bytes.NewBufferString(`{"carrier":"usps","tracking_number":"940012345678"}`)
	req := httptest.NewRequest(http.MethodPut, "/ord_1/shipment", payload)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
}
