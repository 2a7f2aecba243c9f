package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

// StripeLogger defines the logging contract for Stripe provider operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripeRefundAPI interface {
	New(params *stripe.RefundParams) (*stripe.Refund, error)
	Get(id string, params *stripe.RefundParams) (*stripe.Refund, error)
}

type stripePaymentIntentAPI interface {
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

type stripeClients struct {
	refunds stripeRefundAPI
	intents stripePaymentIntentAPI
}

// StripeProviderConfig configures the StripeProvider.
type StripeProviderConfig struct {
	APIKey string
	// AccountID is an optional platform-level account applied when a
	// request carries no connected account of its own.
	AccountID string
	Backends  *stripe.Backends
	Logger    StripeLogger
	Clock     func() time.Time
	Clients   *stripeClients
}

// StripeProvider implements the Provider interface using Stripe APIs.
type StripeProvider struct {
	api     stripeClients
	account string
	clock   func() time.Time
	logger  StripeLogger
}

// NewStripeProvider constructs a Stripe Provider using the given configuration.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Clients == nil {
		return nil, errors.New("stripe: api key is required")
	}

	var clients stripeClients
	if cfg.Clients != nil {
		clients = *cfg.Clients
	} else {
		sc := client.New(apiKey, cfg.Backends)
		clients = stripeClients{
			refunds: sc.Refunds,
			intents: sc.PaymentIntents,
		}
	}
	if clients.refunds == nil || clients.intents == nil {
		return nil, errors.New("stripe: incomplete client configuration")
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeProvider{
		api:     clients,
		account: strings.TrimSpace(cfg.AccountID),
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

func (p *StripeProvider) stripeAccount(requested string) string {
	if trimmed := strings.TrimSpace(requested); trimmed != "" {
		return trimmed
	}
	return p.account
}

// Refund creates a refund against the payment intent or charge.
func (p *StripeProvider) Refund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	if p == nil {
		return RefundResult{}, errors.New("stripe: provider is nil")
	}
	if strings.TrimSpace(req.PaymentIntentID) == "" && strings.TrimSpace(req.ChargeID) == "" {
		return RefundResult{}, errors.New("stripe: payment intent or charge id is required")
	}

	params := &stripe.RefundParams{}
	params.Context = ctx
	if intent := strings.TrimSpace(req.PaymentIntentID); intent != "" {
		params.PaymentIntent = stripe.String(intent)
	} else {
		params.Charge = stripe.String(strings.TrimSpace(req.ChargeID))
	}
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if account := p.stripeAccount(req.ConnectedAccount); account != "" {
		params.SetStripeAccount(account)
	}
	if req.Amount != nil {
		params.Amount = stripe.Int64(*req.Amount)
	}
	if reason := mapStripeRefundReason(req.Reason); reason != "" {
		params.Reason = stripe.String(reason)
	}
	if len(req.Metadata) > 0 {
		params.Metadata = make(map[string]string, len(req.Metadata))
		for k, v := range req.Metadata {
			params.Metadata[k] = v
		}
	}

	refund, err := p.api.refunds.New(params)
	if err != nil {
		return RefundResult{}, fmt.Errorf("stripe: create refund: %w", err)
	}

	result := stripeRefundResult(refund)
	p.logger(ctx, "payments.stripe.refund.created", map[string]any{
		"refundId":      result.ID,
		"paymentIntent": req.PaymentIntentID,
		"amount":        result.Amount,
		"status":        string(result.Status),
	})
	return result, nil
}

// LookupPayment retrieves the current refund position of a payment intent.
func (p *StripeProvider) LookupPayment(ctx context.Context, req PaymentLookupRequest) (PaymentDetails, error) {
	if p == nil {
		return PaymentDetails{}, errors.New("stripe: provider is nil")
	}
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	if account := p.stripeAccount(req.ConnectedAccount); account != "" {
		params.SetStripeAccount(account)
	}
	intent, err := p.api.intents.Get(req.PaymentIntentID, params)
	if err != nil {
		return PaymentDetails{}, fmt.Errorf("stripe: lookup payment intent: %w", err)
	}
	return stripePaymentDetails(intent), nil
}

// LookupRefund retrieves a refund by its provider identifier.
func (p *StripeProvider) LookupRefund(ctx context.Context, req RefundLookupRequest) (RefundResult, error) {
	if p == nil {
		return RefundResult{}, errors.New("stripe: provider is nil")
	}
	params := &stripe.RefundParams{}
	params.Context = ctx
	if account := p.stripeAccount(req.ConnectedAccount); account != "" {
		params.SetStripeAccount(account)
	}
	refund, err := p.api.refunds.Get(req.RefundID, params)
	if err != nil {
		return RefundResult{}, fmt.Errorf("stripe: lookup refund: %w", err)
	}
	return stripeRefundResult(refund), nil
}

func stripeRefundResult(refund *stripe.Refund) RefundResult {
	if refund == nil {
		return RefundResult{}
	}

	status := RefundStatusPending
	switch refund.Status {
	case stripe.RefundStatusSucceeded:
		status = RefundStatusSucceeded
	case stripe.RefundStatusFailed:
		status = RefundStatusFailed
	case stripe.RefundStatusCanceled:
		status = RefundStatusCanceled
	}

	chargeID := ""
	if refund.Charge != nil {
		chargeID = refund.Charge.ID
	}

	raw := map[string]any{}
	if data, err := json.Marshal(refund); err == nil {
		_ = json.Unmarshal(data, &raw)
	}

	return RefundResult{
		ID:        refund.ID,
		Provider:  "stripe",
		Status:    status,
		Amount:    refund.Amount,
		Currency:  strings.ToUpper(string(refund.Currency)),
		ChargeID:  chargeID,
		CreatedAt: time.Unix(refund.Created, 0).UTC(),
		Raw:       raw,
	}
}

func stripePaymentDetails(intent *stripe.PaymentIntent) PaymentDetails {
	if intent == nil {
		return PaymentDetails{}
	}

	details := PaymentDetails{
		Provider: "stripe",
		IntentID: intent.ID,
		Amount:   intent.Amount,
		Currency: strings.ToUpper(string(intent.Currency)),
		Captured: intent.Status == stripe.PaymentIntentStatusSucceeded,
	}

	if charge := intent.LatestCharge; charge != nil {
		details.ChargeID = charge.ID
		details.AmountRefunded = charge.AmountRefunded
		details.FullyRefunded = charge.Refunded
		if details.Currency == "" {
			details.Currency = strings.ToUpper(string(charge.Currency))
		}
		if charge.Captured {
			details.Captured = true
		}
	}

	raw := map[string]any{}
	if data, err := json.Marshal(intent); err == nil {
		_ = json.Unmarshal(data, &raw)
	}
	details.Raw = raw
	return details
}

func mapStripeRefundReason(reason string) string {
	switch strings.ToLower(strings.TrimSpace(reason)) {
	case string(stripe.RefundReasonDuplicate):
		return string(stripe.RefundReasonDuplicate)
	case string(stripe.RefundReasonFraudulent):
		return string(stripe.RefundReasonFraudulent)
	case string(stripe.RefundReasonRequestedByCustomer):
		return string(stripe.RefundReasonRequestedByCustomer)
	default:
		return ""
	}
}
