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
	"github.com/stripe/stripe-go/v78"

	domain "github.com/jaylingelbach/AbandonedHobby-sub004/internal/domain"
	"github.com/jaylingelbach/AbandonedHobby-sub004/internal/services"
)

func newWebhookRouter(orders services.OrderService, refunds services.RefundService, event stripe.Event, constructErr error) chi.Router {
	handlers := NewStripeWebhookHandlers(StripeWebhookConfig{
		Orders:        orders,
		Refunds:       refunds,
		SigningSecret: "whsec_test",
		ConstructEvent: func(payload []byte, sigHeader string, secret string) (stripe.Event, error) {
			if constructErr != nil {
				return stripe.Event{}, constructErr
			}
			return event, nil
		},
	})
	r := chi.NewRouter()
	handlers.Routes(r)
	return r
}

func postWebhook(t *testing.T, router chi.Router) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/stripe", bytes.NewBufferString(`{"ignored":"payload"}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=sig")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func stripeEvent(t *testing.T, eventType string, object any) stripe.Event {
	t.Helper()
	raw, err := json.Marshal(object)
	if err != nil {
		t.Fatalf("failed to marshal event object: %v", err)
	}
	return stripe.Event{
		ID:      "evt_1",
		Type:    stripe.EventType(eventType),
		Account: "acct_seller",
		Created: time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC).Unix(),
		Data:    &stripe.EventData{Raw: raw},
	}
}

func TestStripeWebhookCheckoutCompleted(t *testing.T) {
	var captured services.CreateOrderFromCheckoutCommand
	orders := &stubOrderService{
		createFn: func(_ context.Context, cmd services.CreateOrderFromCheckoutCommand) (services.Order, error) {
			captured = cmd
			return sampleOrder(), nil
		},
	}

	session := map[string]any{
		"id":             "cs_1",
		"payment_intent": "pi_1",
		"currency":       "usd",
		"amount_total":   5500,
		"shipping_cost":  map[string]any{"amount_total": 1000},
		"total_details":  map[string]any{"amount_discount": 500},
		"metadata": map[string]string{
			"tenantId": "tenant_1",
			"buyerId":  "buyer_1",
			"items":    `[{"id":"li_1","productId":"prod_1","name":"Vintage camera","unitAmount":"4500","quantity":1}]`,
		},
	}

	router := newWebhookRouter(orders, &stubRefundService{}, stripeEvent(t, eventCheckoutSessionCompleted, session), nil)
	rr := postWebhook(t, router)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.TenantID != "tenant_1" || captured.BuyerID != "buyer_1" {
		t.Fatalf("unexpected identity fields: %+v", captured)
	}
	if captured.CheckoutSessionID != "cs_1" || captured.PaymentIntentID != "pi_1" {
		t.Fatalf("unexpected payment references: %+v", captured)
	}
	if captured.ConnectedAccount != "acct_seller" {
		t.Fatalf("expected connected account from event, got %q", captured.ConnectedAccount)
	}
	if captured.Total != 5500 || captured.ShippingTotal != 1000 || captured.DiscountTotal != 500 {
		t.Fatalf("unexpected totals: %+v", captured)
	}
	if len(captured.Items) != 1 {
		t.Fatalf("expected one item, got %d", len(captured.Items))
	}
	if captured.Items[0].ProductID != "prod_1" || captured.Items[0].NameSnapshot != "Vintage camera" {
		t.Fatalf("unexpected item: %+v", captured.Items[0])
	}
	if amount, ok := domain.IntCentsOK(captured.Items[0].UnitAmount); !ok || amount != 4500 {
		t.Fatalf("expected unit amount 4500, got %v", captured.Items[0].UnitAmount)
	}
	if captured.PaidAt == nil {
		t.Fatalf("expected paid at from event timestamp")
	}
}

func TestStripeWebhookRefundUpdated(t *testing.T) {
	var captured services.ProviderRefundEvent
	refunds := &stubRefundService{
		applyFn: func(_ context.Context, event services.ProviderRefundEvent) (services.Order, error) {
			captured = event
			return sampleOrder(), nil
		},
	}

	refund := map[string]any{
		"id":             "re_1",
		"payment_intent": "pi_1",
		"charge":         "ch_1",
		"status":         "succeeded",
		"amount":         4000,
		"currency":       "usd",
		"reason":         "requested_by_customer",
		"created":        time.Date(2026, 4, 2, 12, 0, 0, 0, time.UTC).Unix(),
		"metadata": map[string]string{
			"orderId":  "ord_1",
			"refundId": "ref_1",
		},
	}

	router := newWebhookRouter(&stubOrderService{}, refunds, stripeEvent(t, eventRefundUpdated, refund), nil)
	rr := postWebhook(t, router)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.ProviderRefundID != "re_1" || captured.PaymentIntentID != "pi_1" || captured.ChargeID != "ch_1" {
		t.Fatalf("unexpected references: %+v", captured)
	}
	if captured.OrderID != "ord_1" || captured.RefundID != "ref_1" {
		t.Fatalf("expected metadata identifiers forwarded: %+v", captured)
	}
	if captured.Status != domain.RefundStatusSucceeded || captured.Amount != 4000 {
		t.Fatalf("unexpected status or amount: %+v", captured)
	}
	if captured.OccurredAt.IsZero() {
		t.Fatalf("expected occurred at from refund created timestamp")
	}
}

func TestStripeWebhookChargeRefundedAppliesEachRefund(t *testing.T) {
	var applied []string
	refunds := &stubRefundService{
		applyFn: func(_ context.Context, event services.ProviderRefundEvent) (services.Order, error) {
			applied = append(applied, event.ProviderRefundID)
			if event.ChargeID != "ch_1" {
				t.Fatalf("expected fallback charge id, got %q", event.ChargeID)
			}
			return sampleOrder(), nil
		},
	}

	charge := map[string]any{
		"id": "ch_1",
		"refunds": map[string]any{
			"data": []map[string]any{
				{"id": "re_1", "status": "succeeded", "amount": 2000},
				{"id": "re_2", "status": "pending", "amount": 1500},
			},
		},
	}

	router := newWebhookRouter(&stubOrderService{}, refunds, stripeEvent(t, eventChargeRefunded, charge), nil)
	rr := postWebhook(t, router)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(applied) != 2 || applied[0] != "re_1" || applied[1] != "re_2" {
		t.Fatalf("unexpected applied refunds: %v", applied)
	}
}

func TestStripeWebhookRejectsBadSignature(t *testing.T) {
	router := newWebhookRouter(&stubOrderService{}, &stubRefundService{}, stripe.Event{}, errors.New("signature mismatch"))
	rr := postWebhook(t, router)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestStripeWebhookIgnoresUnknownEventTypes(t *testing.T) {
	router := newWebhookRouter(&stubOrderService{}, &stubRefundService{}, stripeEvent(t, "customer.created", map[string]any{"id": "cus_1"}), nil)
	rr := postWebhook(t, router)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body["ignored"] != true {
		t.Fatalf("expected ignored true, got %v", body["ignored"])
	}
}

func TestStripeWebhookAcknowledgesUnknownOrder(t *testing.T) {
	refunds := &stubRefundService{
		applyFn: func(context.Context, services.ProviderRefundEvent) (services.Order, error) {
			return services.Order{}, services.ErrRefundNotFound
		},
	}

	refund := map[string]any{"id": "re_unknown", "status": "succeeded", "amount": 100}
	router := newWebhookRouter(&stubOrderService{}, refunds, stripeEvent(t, eventRefundUpdated, refund), nil)
	rr := postWebhook(t, router)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200 for unknown order, got %d", rr.Code)
	}
}

func TestStripeWebhookSurfacesProcessingFailure(t *testing.T) {
	refunds := &stubRefundService{
		applyFn: func(context.Context, services.ProviderRefundEvent) (services.Order, error) {
			return services.Order{}, errors.New("firestore unavailable")
		},
	}

	refund := map[string]any{"id": "re_1", "status": "succeeded", "amount": 100}
	router := newWebhookRouter(&stubOrderService{}, refunds, stripeEvent(t, eventRefundUpdated, refund), nil)
	rr := postWebhook(t, router)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500 so the event is redelivered, got %d", rr.Code)
	}
}
