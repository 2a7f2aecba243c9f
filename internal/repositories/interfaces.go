package repositories

import (
	"context"
	"time"

	domain "github.com/jaylingelbach/AbandonedHobby-sub004/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	Refunds() RefundRecordRepository
	Counters() CounterRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository persists order documents and provides query helpers.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByPaymentIntent(ctx context.Context, paymentIntentID string) (domain.Order, error)
	FindByChargeID(ctx context.Context, chargeID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)

	// UpdateRefundState rewrites the derived refund fields and per-item
	// refunded quantities. It is the only write path for those fields.
	UpdateRefundState(ctx context.Context, orderID string, update RefundStateUpdate) error

	// UpdateShipment rewrites the canonical shipment and the shipments
	// array together so the two stay mirrored.
	UpdateShipment(ctx context.Context, orderID string, canonical *domain.Shipment, shipments []domain.Shipment, updatedAt time.Time) error
}

// RefundStateUpdate carries the recomputed refund aggregate for an order.
type RefundStateUpdate struct {
	RefundedTotal      int64
	Status             domain.OrderStatus
	LastRefundAt       *time.Time
	RefundedQuantities map[string]int
	UpdatedAt          time.Time
}

// RefundRecordRepository stores refund executions underneath an order document.
type RefundRecordRepository interface {
	Insert(ctx context.Context, record domain.RefundRecord) error
	Update(ctx context.Context, record domain.RefundRecord) error
	UpdateStatus(ctx context.Context, orderID string, refundID string, status domain.RefundStatus, updatedAt time.Time) error
	FindByID(ctx context.Context, orderID string, refundID string) (domain.RefundRecord, error)
	FindByIdempotencyKey(ctx context.Context, orderID string, key string) (domain.RefundRecord, error)
	FindByProviderRefundID(ctx context.Context, providerRefundID string) (domain.RefundRecord, error)
	ListByOrder(ctx context.Context, orderID string) ([]domain.RefundRecord, error)
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
	Configure(ctx context.Context, counterID string, cfg CounterConfig) error
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// OrderListFilter scopes order listings by tenant, buyer, status, and date.
type OrderListFilter struct {
	TenantID   string
	BuyerID    string
	Status     []string
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

// CounterConfig customises increment behaviour and bounds for a counter.
type CounterConfig struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
}
