package payments

import (
	"context"
	"errors"
	"strings"
	"time"
)

// RefundStatus enumerates the normalised refund states shared across providers.
type RefundStatus string

const (
	// RefundStatusPending indicates the PSP accepted the refund but has not settled it.
	RefundStatusPending RefundStatus = "pending"
	// RefundStatusSucceeded indicates the PSP reports the refund as settled.
	RefundStatusSucceeded RefundStatus = "succeeded"
	// RefundStatusFailed indicates the refund could not be completed.
	RefundStatusFailed RefundStatus = "failed"
	// RefundStatusCanceled indicates the refund was canceled before settling.
	RefundStatusCanceled RefundStatus = "canceled"
)

// ErrUnsupportedProvider is returned when the manager cannot locate a provider.
var ErrUnsupportedProvider = errors.New("payments: unsupported provider")

// RefundRequest defines a PSP refund attempt against a captured payment.
type RefundRequest struct {
	// PaymentIntentID identifies the payment to refund. ChargeID is used
	// instead when the intent is unknown, e.g. for legacy orders.
	PaymentIntentID string
	ChargeID        string
	// Amount is the refund amount in the smallest currency unit. Nil
	// requests a full refund of the remaining captured amount.
	Amount *int64
	Reason string
	// ConnectedAccount routes the refund through the seller's account.
	ConnectedAccount string
	IdempotencyKey   string
	Metadata         map[string]string
}

// RefundResult normalises the PSP refund response for storage.
type RefundResult struct {
	ID        string
	Provider  string
	Status    RefundStatus
	Amount    int64
	Currency  string
	ChargeID  string
	CreatedAt time.Time
	Raw       map[string]any
}

// PaymentLookupRequest identifies a payment for reconciliation.
type PaymentLookupRequest struct {
	PaymentIntentID  string
	ConnectedAccount string
}

// PaymentDetails normalises PSP payment state for reconciliation.
type PaymentDetails struct {
	Provider       string
	IntentID       string
	ChargeID       string
	Amount         int64
	AmountRefunded int64
	Currency       string
	Captured       bool
	FullyRefunded  bool
	Raw            map[string]any
}

// RefundLookupRequest identifies a provider refund for reconciliation.
type RefundLookupRequest struct {
	RefundID         string
	ConnectedAccount string
}

// Provider defines the contract for PSP adapters to implement.
type Provider interface {
	Refund(ctx context.Context, req RefundRequest) (RefundResult, error)
	LookupPayment(ctx context.Context, req PaymentLookupRequest) (PaymentDetails, error)
	LookupRefund(ctx context.Context, req RefundLookupRequest) (RefundResult, error)
}

// Manager coordinates provider selection and exposes the aggregated interface.
type Manager struct {
	providers       map[string]Provider
	defaultProvider string
}

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultProvider overrides the default provider.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) {
		m.defaultProvider = provider
	}
}

// NewManager constructs a Manager over the supplied providers.
func NewManager(providers map[string]Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	copyMap := make(map[string]Provider, len(providers))
	for k, v := range providers {
		key := strings.TrimSpace(strings.ToLower(k))
		if key == "" || v == nil {
			return nil, errors.New("payments: invalid provider registration")
		}
		copyMap[key] = v
	}
	m := &Manager{providers: copyMap}
	if _, ok := copyMap["stripe"]; ok {
		m.defaultProvider = "stripe"
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func (m *Manager) resolveProvider(preferred string) (string, Provider, error) {
	if m == nil || len(m.providers) == 0 {
		return "", nil, errors.New("payments: no providers registered")
	}
	if key := strings.TrimSpace(strings.ToLower(preferred)); key != "" {
		if p, ok := m.providers[key]; ok {
			return key, p, nil
		}
		return "", nil, ErrUnsupportedProvider
	}
	if def := strings.TrimSpace(strings.ToLower(m.defaultProvider)); def != "" {
		if p, ok := m.providers[def]; ok {
			return def, p, nil
		}
	}
	if len(m.providers) == 1 {
		for key, p := range m.providers {
			return key, p, nil
		}
	}
	return "", nil, ErrUnsupportedProvider
}

// Refund delegates to the resolved provider.
func (m *Manager) Refund(ctx context.Context, provider string, req RefundRequest) (RefundResult, error) {
	key, p, err := m.resolveProvider(provider)
	if err != nil {
		return RefundResult{}, err
	}
	result, err := p.Refund(ctx, req)
	if err != nil {
		return RefundResult{}, err
	}
	if result.Provider == "" {
		result.Provider = key
	}
	return result, nil
}

// LookupPayment delegates to the resolved provider.
func (m *Manager) LookupPayment(ctx context.Context, provider string, req PaymentLookupRequest) (PaymentDetails, error) {
	_, p, err := m.resolveProvider(provider)
	if err != nil {
		return PaymentDetails{}, err
	}
	return p.LookupPayment(ctx, req)
}

// LookupRefund delegates to the resolved provider.
func (m *Manager) LookupRefund(ctx context.Context, provider string, req RefundLookupRequest) (RefundResult, error) {
	_, p, err := m.resolveProvider(provider)
	if err != nil {
		return RefundResult{}, err
	}
	return p.LookupRefund(ctx, req)
}
