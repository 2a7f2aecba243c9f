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

type stubRefundService struct {
	createFn    func(context.Context, services.CreateRefundCommand) (services.RefundResult, error)
	recomputeFn func(context.Context, services.RecomputeRefundStateCommand) (services.Order, error)
	applyFn     func(context.Context, services.ProviderRefundEvent) (services.Order, error)
	listFn      func(context.Context, string) ([]services.RefundRecord, error)
}

func (s *stubRefundService) CreateRefundForOrder(ctx context.Context, cmd services.CreateRefundCommand) (services.RefundResult, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return services.RefundResult{}, errors.New("not implemented")
}

func (s *stubRefundService) RecomputeRefundState(ctx context.Context, cmd services.RecomputeRefundStateCommand) (services.Order, error) {
	if s.recomputeFn != nil {
		return s.recomputeFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubRefundService) ApplyProviderRefund(ctx context.Context, event services.ProviderRefundEvent) (services.Order, error) {
	if s.applyFn != nil {
		return s.applyFn(ctx, event)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubRefundService) ListRefunds(ctx context.Context, orderID string) ([]services.RefundRecord, error) {
	if s.listFn != nil {
		return s.listFn(ctx, orderID)
	}
	return nil, errors.New("not implemented")
}

func newRefundRouter(svc services.RefundService) chi.Router {
	r := chi.NewRouter()
	NewRefundHandlers(svc).Routes(r)
	return r
}

func sampleRefundRecord() services.RefundRecord {
	createdAt := time.Date(2026, 4, 2, 12, 0, 0, 0, time.UTC)
	return services.RefundRecord{
		ID:               "ref_1",
		OrderID:          "ord_1",
		ProviderRefundID: "re_1",
		Status:           domain.RefundStatusSucceeded,
		Amount:           4000,
		Reason:           "requested_by_customer",
		Selections:       []services.RefundSelection{{ItemID: "itm_b", Quantity: 1}},
		IdempotencyKey:   "key-1",
		CreatedAt:        createdAt,
		UpdatedAt:        createdAt,
	}
}

func TestRefundHandlersCreateRefund(t *testing.T) {
	var captured services.CreateRefundCommand
	svc := &stubRefundService{
		createFn: func(_ context.Context, cmd services.CreateRefundCommand) (services.RefundResult, error) {
			captured = cmd
			order := sampleOrder()
			order.Status = domain.OrderStatusPartiallyRefunded
			order.RefundedTotal = 4000
			return services.RefundResult{Record: sampleRefundRecord(), Order: order}, nil
		},
	}
	router := newRefundRouter(svc)

	payload := bytes.NewBufferString(`{
		"selections": [{"item_id": "itm_b", "quantity": 1}],
		"reason": "requested_by_customer",
		"refund_shipping": 500,
		"idempotency_key": "key-1"
	}`)
	req := httptest.NewRequest(http.MethodPost, "/ord_1/refunds", payload)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OrderID != "ord_1" || captured.IdempotencyKey != "key-1" {
		t.Fatalf("unexpected command: %+v", captured)
	}
	if len(captured.Selections) != 1 || captured.Selections[0].ItemID != "itm_b" {
		t.Fatalf("unexpected selections: %+v", captured.Selections)
	}
	if captured.RefundShipping != 500 {
		t.Fatalf("expected refund shipping 500, got %d", captured.RefundShipping)
	}

	var body refundResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body.Refund.ID != "ref_1" || body.Refund.Status != string(domain.RefundStatusSucceeded) {
		t.Fatalf("unexpected refund payload: %+v", body.Refund)
	}
	if body.Order.RefundedTotal != 4000 {
		t.Fatalf("expected refunded total 4000, got %d", body.Order.RefundedTotal)
	}
	if body.Reused {
		t.Fatalf("expected reused false")
	}
}

func TestRefundHandlersCreateRefundReusesIdempotentResult(t *testing.T) {
	svc := &stubRefundService{
		createFn: func(context.Context, services.CreateRefundCommand) (services.RefundResult, error) {
			return services.RefundResult{Record: sampleRefundRecord(), Order: sampleOrder(), Reused: true}, nil
		},
	}
	router := newRefundRouter(svc)

	payload := bytes.NewBufferString(`{"selections":[{"item_id":"itm_b","quantity":1}]}`)
	req := httptest.NewRequest(http.MethodPost, "/ord_1/refunds", payload)
	req.Header.Set("Idempotency-Key", "key-1")
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200 for replay, got %d", rr.Code)
	}

	var body refundResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if !body.Reused {
		t.Fatalf("expected reused true")
	}
}

func TestRefundHandlersCreateRefundRequiresIdempotencyKey(t *testing.T) {
	router := newRefundRouter(&stubRefundService{})

	payload := bytes.NewBufferString(`{"selections":[{"item_id":"itm_b","quantity":1}]}`)
	req := httptest.NewRequest(http.MethodPost, "/ord_1/refunds", payload)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestRefundHandlersCreateRefundMapsCeilingConflict(t *testing.T) {
	svc := &stubRefundService{
		createFn: func(context.Context, services.CreateRefundCommand) (services.RefundResult, error) {
			return services.RefundResult{}, &services.RefundConflictError{
				Err:             services.ErrRefundExceedsRefundable,
				OrderID:         "ord_1",
				Ceiling:         10000,
				AlreadyRefunded: 6000,
				Requested:       5000,
			}
		},
	}
	router := newRefundRouter(svc)

	payload := bytes.NewBufferString(`{"selections":[{"item_id":"itm_b","quantity":1}],"idempotency_key":"key-2"}`)
	req := httptest.NewRequest(http.MethodPost, "/ord_1/refunds", payload)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}

	var body struct {
		Error   string         `json:"error"`
		Details map[string]any `json:"details"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body.Error != "refund_exceeds_refundable" {
		t.Fatalf("unexpected error code %q", body.Error)
	}
	if body.Details["ceiling"] != float64(10000) || body.Details["alreadyRefunded"] != float64(6000) {
		t.Fatalf("unexpected details: %v", body.Details)
	}
}

func TestRefundHandlersCreateRefundMapsFullyRefunded(t *testing.T) {
	svc := &stubRefundService{
		createFn: func(context.Context, services.CreateRefundCommand) (services.RefundResult, error) {
			return services.RefundResult{}, services.ErrOrderFullyRefunded
		},
	}
	router := newRefundRouter(svc)

	payload := bytes.NewBufferString(`{"selections":[{"item_id":"itm_b","quantity":1}],"idempotency_key":"key-3"}`)
	req := httptest.NewRequest(http.MethodPost, "/ord_1/refunds", payload)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body["error"] != "order_fully_refunded" {
		t.Fatalf("unexpected error code %v", body["error"])
	}
}

func TestRefundHandlersListRefunds(t *testing.T) {
	svc := &stubRefundService{
		listFn: func(_ context.Context, orderID string) ([]services.RefundRecord, error) {
			if orderID != "ord_1" {
				t.Fatalf("unexpected order id %q", orderID)
			}
			return []services.RefundRecord{sampleRefundRecord()}, nil
		},
	}
	router := newRefundRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/ord_1/refunds", nil)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var body refundListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(body.Items) != 1 || body.Items[0].ProviderRefundID != "re_1" {
		t.Fatalf("unexpected items: %+v", body.Items)
	}
}

func TestRefundHandlersListRefundsNotFound(t *testing.T) {
	svc := &stubRefundService{
		listFn: func(context.Context, string) ([]services.RefundRecord, error) {
			return nil, services.ErrRefundNotFound
		},
	}
	router := newRefundRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/ord_missing/refunds", nil)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestRefundHandlersCreateRefundRateLimited(t *testing.T) {
	svc := &stubRefundService{
		createFn: func(context.Context, services.CreateRefundCommand) (services.RefundResult, error) {
			return services.RefundResult{Record: sampleRefundRecord(), Order: sampleOrder()}, nil
		},
	}
	router := chi.NewRouter()
	NewRefundHandlers(svc, WithRefundRateLimit(1, time.Minute)).Routes(router)

	body := []byte(`{"selections":[{"item_id":"itm_b","quantity":1}],"idempotency_key":"key-1"}`)

	first := httptest.NewRequest(http.MethodPost, "/ord_1/refunds", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, first)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", rr.Code)
	}

	second := httptest.NewRequest(http.MethodPost, "/ord_1/refunds", bytes.NewReader(body))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, second)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", rr.Code)
	}

	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload["error"] != "rate_limited" {
		t.Fatalf("expected rate_limited error, got %v", payload["error"])
	}
}

func TestRefundHandlersCreateRefundMapsFullyRefundedConflict(t *testing.T) {
	svc := &stubRefundService{
		createFn: func(context.Context, services.CreateRefundCommand) (services.RefundResult, error) {
			return services.RefundResult{}, &services.RefundConflictError{
				Err:             services.ErrOrderFullyRefunded,
				OrderID:         "ord_1",
				Ceiling:         10000,
				AlreadyRefunded: 10000,
			}
		},
	}
	router := newRefundRouter(svc)

	payload := bytes.NewBufferString(`{"selections":[{"item_id":"itm_b","quantity":1}],"idempotency_key":"key-4"}`)
	req := httptest.NewRequest(http.MethodPost, "/ord_1/refunds", payload)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body["error"] != "order_fully_refunded" {
		t.Fatalf("unexpected error code %v", body["error"])
	}
	details, ok := body["details"].(map[string]any)
	if !ok {
		t.Fatalf("expected conflict details, got %v", body["details"])
	}
	if details["alreadyRefunded"] != float64(10000) {
		t.Fatalf("unexpected alreadyRefunded %v", details["alreadyRefunded"])
	}
}
