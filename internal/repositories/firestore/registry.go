package firestore

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/jaylingelbach/AbandonedHobby-sub004/internal/platform/firestore"
	"github.com/jaylingelbach/AbandonedHobby-sub004/internal/repositories"
)

// Registry bundles the Firestore-backed repositories behind the
// repositories.Registry contract and shares one provider between them.
type Registry struct {
	provider *pfirestore.Provider

	orders   *OrderRepository
	refunds  *RefundRecordRepository
	counters *CounterRepository
	health   repositories.HealthRepository
}

// RegistryOption customises registry construction.
type RegistryOption func(*Registry)

// WithHealthRepository installs the dependency-check health repository.
func WithHealthRepository(health repositories.HealthRepository) RegistryOption {
	return func(r *Registry) {
		r.health = health
	}
}

// NewRegistry wires the Firestore repositories over a shared provider.
func NewRegistry(provider *pfirestore.Provider, opts ...RegistryOption) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry: firestore provider is required")
	}

	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("registry: build order repository: %w", err)
	}
	refunds, err := NewRefundRecordRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("registry: build refund repository: %w", err)
	}
	counters, err := NewCounterRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("registry: build counter repository: %w", err)
	}

	registry := &Registry{
		provider: provider,
		orders:   orders,
		refunds:  refunds,
		counters: counters,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(registry)
		}
	}
	return registry, nil
}

// Close releases the underlying Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

// Orders returns the order repository.
func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

// Refunds returns the refund record repository.
func (r *Registry) Refunds() repositories.RefundRecordRepository { return r.refunds }

// Counters returns the counter repository.
func (r *Registry) Counters() repositories.CounterRepository { return r.counters }

// Health returns the health repository when one was installed.
func (r *Registry) Health() repositories.HealthRepository { return r.health }

// RunInTx executes fn inside a Firestore transaction. Repository calls made
// with the supplied context participate in the transaction.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if r == nil || r.provider == nil {
		return errors.New("registry not initialised")
	}
	return r.provider.RunTransaction(ctx, func(txCtx context.Context, _ *firestore.Transaction) error {
		return fn(txCtx)
	})
}

var _ repositories.Registry = (*Registry)(nil)
