package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"
	"go.uber.org/zap"

	domain "github.com/jaylingelbach/AbandonedHobby-sub004/internal/domain"
	"github.com/jaylingelbach/AbandonedHobby-sub004/internal/platform/httpx"
	"github.com/jaylingelbach/AbandonedHobby-sub004/internal/platform/requestctx"
	"github.com/jaylingelbach/AbandonedHobby-sub004/internal/services"
)

const maxWebhookBodySize = 256 * 1024

const (
	eventCheckoutSessionCompleted = "checkout.session.completed"
	eventChargeRefunded           = "charge.refunded"
	eventRefundUpdated            = "refund.updated"
	eventChargeRefundUpdated      = "charge.refund.updated"
)

// constructEventFunc verifies a webhook payload and returns the parsed event.
// Injected so tests can bypass signature verification.
type constructEventFunc func(payload []byte, sigHeader string, secret string) (stripe.Event, error)

// StripeWebhookConfig configures the Stripe webhook handlers.
type StripeWebhookConfig struct {
	Orders         services.OrderService
	Refunds        services.RefundService
	SigningSecret  string
	ConstructEvent constructEventFunc
}

// StripeWebhookHandlers ingests Stripe events: completed checkouts become
// orders, and refund reports flow into the refund state machine. Handlers are
// idempotent so Stripe's at-least-once delivery converges.
type StripeWebhookHandlers struct {
	orders    services.OrderService
	refunds   services.RefundService
	secret    string
	construct constructEventFunc
}

// NewStripeWebhookHandlers constructs the webhook handlers.
func NewStripeWebhookHandlers(cfg StripeWebhookConfig) *StripeWebhookHandlers {
	construct := cfg.ConstructEvent
	if construct == nil {
		construct = func(payload []byte, sigHeader string, secret string) (stripe.Event, error) {
			return webhook.ConstructEventWithOptions(payload, sigHeader, secret, webhook.ConstructEventOptions{
				IgnoreAPIVersionMismatch: true,
			})
		}
	}
	return &StripeWebhookHandlers{
		orders:    cfg.Orders,
		refunds:   cfg.Refunds,
		secret:    cfg.SigningSecret,
		construct: construct,
	}
}

// Routes registers the /webhooks endpoints.
func (h *StripeWebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/stripe", h.handleStripeEvent)
}

func (h *StripeWebhookHandlers) handleStripeEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := requestctx.Logger(ctx)

	body, err := readLimitedBody(r, maxWebhookBodySize)
	if err != nil {
		switch {
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
		}
		return
	}

	event, err := h.construct(body, r.Header.Get("Stripe-Signature"), h.secret)
	if err != nil {
		logger.Warn("stripe webhook signature verification failed", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature verification failed", http.StatusBadRequest))
		return
	}

	switch string(event.Type) {
	case eventCheckoutSessionCompleted:
		err = h.handleCheckoutCompleted(r, event)
	case eventChargeRefunded:
		err = h.handleChargeRefunded(r, event)
	case eventRefundUpdated, eventChargeRefundUpdated:
		err = h.handleRefundUpdated(r, event)
	default:
		logger.Debug("stripe webhook event ignored", zap.String("type", string(event.Type)))
		writeJSONResponse(w, http.StatusOK, map[string]any{"received": true, "ignored": true})
		return
	}

	if err != nil {
		// Unknown orders stay unknown on redelivery, so acknowledge instead
		// of making Stripe retry forever.
		if errors.Is(err, services.ErrRefundNotFound) || errors.Is(err, services.ErrOrderNotFound) {
			logger.Warn("stripe webhook event references unknown order",
				zap.String("type", string(event.Type)),
				zap.String("eventId", event.ID),
				zap.Error(err))
			writeJSONResponse(w, http.StatusOK, map[string]any{"received": true, "ignored": true})
			return
		}
		logger.Error("stripe webhook event processing failed",
			zap.String("type", string(event.Type)),
			zap.String("eventId", event.ID),
			zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("webhook_processing_failed", "failed to process webhook event", http.StatusInternalServerError))
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{"received": true})
}

func (h *StripeWebhookHandlers) handleCheckoutCompleted(r *http.Request, event stripe.Event) error {
	if h.orders == nil {
		return errors.New("handlers: order service not configured")
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return err
	}

	cmd := services.CreateOrderFromCheckoutCommand{
		TenantID:          strings.TrimSpace(session.Metadata["tenantId"]),
		BuyerID:           strings.TrimSpace(session.Metadata["buyerId"]),
		CheckoutSessionID: session.ID,
		ConnectedAccount:  strings.TrimSpace(event.Account),
		Currency:          strings.ToLower(string(session.Currency)),
		Total:             session.AmountTotal,
		ActorID:           "stripe:webhook",
	}
	if session.PaymentIntent != nil {
		cmd.PaymentIntentID = session.PaymentIntent.ID
		if session.PaymentIntent.LatestCharge != nil {
			cmd.ChargeID = session.PaymentIntent.LatestCharge.ID
		}
	}
	if session.ShippingCost != nil {
		cmd.ShippingTotal = session.ShippingCost.AmountTotal
	}
	if session.TotalDetails != nil {
		cmd.DiscountTotal = session.TotalDetails.AmountDiscount
	}
	if event.Created > 0 {
		paidAt := time.Unix(event.Created, 0).UTC()
		cmd.PaidAt = &paidAt
	}

	cmd.Items = checkoutItemsFromMetadata(session.Metadata)
	if feeRaw := strings.TrimSpace(session.Metadata["platformFee"]); feeRaw != "" {
		if fee, ok := domain.IntCentsOK(feeRaw); ok {
			cmd.PlatformFee = &fee
		}
	}
	cmd.Metadata = map[string]any{
		"stripeEventId": event.ID,
	}

	_, err := h.orders.CreateFromCheckout(r.Context(), cmd)
	return err
}

// checkoutItemsFromMetadata decodes the purchased lines the storefront packs
// into the session metadata as a JSON array. Missing or malformed metadata
// yields no lines; aggregation then falls back to the session total.
func checkoutItemsFromMetadata(metadata map[string]string) []services.CheckoutLineInput {
	raw := strings.TrimSpace(metadata["items"])
	if raw == "" {
		return nil
	}

	var lines []struct {
		ID           string `json:"id"`
		ProductID    string `json:"productId"`
		Name         string `json:"name"`
		UnitAmount   any    `json:"unitAmount"`
		Quantity     any    `json:"quantity"`
		Subtotal     any    `json:"amountSubtotal"`
		Tax          any    `json:"amountTax"`
		Total        any    `json:"amountTotal"`
		RefundPolicy string `json:"refundPolicy"`
	}
	if err := json.Unmarshal([]byte(raw), &lines); err != nil {
		return nil
	}

	items := make([]services.CheckoutLineInput, 0, len(lines))
	for _, line := range lines {
		items = append(items, services.CheckoutLineInput{
			ID:             strings.TrimSpace(line.ID),
			ProductID:      strings.TrimSpace(line.ProductID),
			NameSnapshot:   strings.TrimSpace(line.Name),
			UnitAmount:     line.UnitAmount,
			Quantity:       line.Quantity,
			AmountSubtotal: line.Subtotal,
			AmountTax:      line.Tax,
			AmountTotal:    line.Total,
			RefundPolicy:   strings.TrimSpace(line.RefundPolicy),
		})
	}
	return items
}

func (h *StripeWebhookHandlers) handleChargeRefunded(r *http.Request, event stripe.Event) error {
	if h.refunds == nil {
		return errors.New("handlers: refund service not configured")
	}

	var charge stripe.Charge
	if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
		return err
	}

	if charge.Refunds == nil || len(charge.Refunds.Data) == 0 {
		return nil
	}

	for _, refund := range charge.Refunds.Data {
		if refund == nil {
			continue
		}
		if err := h.applyRefund(r, refund, charge.ID); err != nil {
			return err
		}
	}
	return nil
}

func (h *StripeWebhookHandlers) handleRefundUpdated(r *http.Request, event stripe.Event) error {
	if h.refunds == nil {
		return errors.New("handlers: refund service not configured")
	}

	var refund stripe.Refund
	if err := json.Unmarshal(event.Data.Raw, &refund); err != nil {
		return err
	}
	return h.applyRefund(r, &refund, "")
}

func (h *StripeWebhookHandlers) applyRefund(r *http.Request, refund *stripe.Refund, fallbackChargeID string) error {
	providerEvent := services.ProviderRefundEvent{
		ProviderRefundID: refund.ID,
		OrderID:          refund.Metadata["orderId"],
		RefundID:         refund.Metadata["refundId"],
		Status:           mapStripeRefundStatus(refund.Status),
		Amount:           refund.Amount,
		Currency:         strings.ToLower(string(refund.Currency)),
		Reason:           string(refund.Reason),
	}
	if refund.PaymentIntent != nil {
		providerEvent.PaymentIntentID = refund.PaymentIntent.ID
	}
	if refund.Charge != nil {
		providerEvent.ChargeID = refund.Charge.ID
	}
	if providerEvent.ChargeID == "" {
		providerEvent.ChargeID = fallbackChargeID
	}
	if refund.Created > 0 {
		providerEvent.OccurredAt = time.Unix(refund.Created, 0).UTC()
	}

	_, err := h.refunds.ApplyProviderRefund(r.Context(), providerEvent)
	return err
}

func mapStripeRefundStatus(status stripe.RefundStatus) domain.RefundStatus {
	switch status {
	case stripe.RefundStatusSucceeded:
		return domain.RefundStatusSucceeded
	case stripe.RefundStatusPending:
		return domain.RefundStatusPending
	case stripe.RefundStatusFailed:
		return domain.RefundStatusFailed
	case stripe.RefundStatusCanceled:
		return domain.RefundStatusCanceled
	default:
		return domain.RefundStatusPending
	}
}
