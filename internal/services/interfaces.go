package services

import (
	"context"
	"time"

	domain "github.com/jaylingelbach/AbandonedHobby-sub004/internal/domain"
	"github.com/jaylingelbach/AbandonedHobby-sub004/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	SortOrder          = domain.SortOrder
	Order              = domain.Order
	OrderItem          = domain.OrderItem
	OrderStatus        = domain.OrderStatus
	RefundRecord       = domain.RefundRecord
	RefundStatus       = domain.RefundStatus
	RefundSelection    = domain.RefundSelection
	Shipment           = domain.Shipment
	ShipmentCarrier    = domain.ShipmentCarrier
	SystemHealthReport = domain.SystemHealthReport
	OrderListFilter    = repositories.OrderListFilter
)

// OrderService encapsulates order read/write flows: ingesting completed
// checkouts, listing, cancellation, and seller-recorded shipment tracking.
type OrderService interface {
	CreateFromCheckout(ctx context.Context, cmd CreateOrderFromCheckoutCommand) (Order, error)
	GetOrder(ctx context.Context, orderID string) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error)
	RecordShipment(ctx context.Context, cmd RecordShipmentCommand) (Order, error)
}

// RefundService executes refunds against the payment processor and owns the
// order's derived refund fields. No other component writes RefundedTotal,
// Status, or LastRefundAt.
type RefundService interface {
	CreateRefundForOrder(ctx context.Context, cmd CreateRefundCommand) (RefundResult, error)
	RecomputeRefundState(ctx context.Context, cmd RecomputeRefundStateCommand) (Order, error)
	ApplyProviderRefund(ctx context.Context, event ProviderRefundEvent) (Order, error)
	ListRefunds(ctx context.Context, orderID string) ([]RefundRecord, error)
}

// SystemService exposes operational utilities such as dependency health reports.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// CounterService hands out monotonically increasing sequence values backed by
// the counter repository.
type CounterService interface {
	Next(ctx context.Context, scope, name string, opts CounterGenerationOptions) (CounterValue, error)
	NextOrderNumber(ctx context.Context) (string, error)
}

// CreateOrderFromCheckoutCommand captures a completed checkout reported by the
// payment processor. Monetary fields are integer cents; Items carries the raw
// line shapes from the checkout event and is coerced defensively during
// aggregation.
type CreateOrderFromCheckoutCommand struct {
	TenantID          string
	BuyerID           string
	CheckoutSessionID string
	PaymentIntentID   string
	ChargeID          string
	ConnectedAccount  string
	Currency          string

	// Total is the processor-reported gross total, used verbatim only when
	// the event carried no line items.
	Total         int64
	ShippingTotal int64
	DiscountTotal int64
	// StripeFee is the processor's own report of its cut. Never estimated.
	StripeFee *int64
	// PlatformFee overrides the configured percentage fallback when set.
	PlatformFee *int64

	Items    []CheckoutLineInput
	Metadata map[string]any
	ActorID  string
	PaidAt   *time.Time
}

// CheckoutLineInput is one raw purchased line from the checkout event. The
// amount fields are untyped because upstream payloads routinely carry them as
// strings, floats, or not at all; coercion happens in the aggregator.
type CheckoutLineInput struct {
	ID             string
	ProductID      string
	NameSnapshot   string
	UnitAmount     any
	Quantity       any
	AmountSubtotal any
	AmountTax      any
	AmountTotal    any

	RefundPolicy           string
	ReturnsAcceptedThrough *time.Time
}

// CancelOrderCommand requests an order cancellation with an optional expected
// status for optimistic concurrency.
type CancelOrderCommand struct {
	OrderID        string
	Reason         string
	ExpectedStatus *string
	ActorID        string
}

// RecordShipmentCommand records seller-entered tracking data for an order.
type RecordShipmentCommand struct {
	OrderID        string
	Carrier        ShipmentCarrier
	TrackingNumber string
	ShippedAt      *time.Time
	ActorID        string
}

// CreateRefundCommand requests a refund of specific order lines.
// IdempotencyKey must be globally unique per logical refund attempt; retries
// of the same attempt reuse the same key.
type CreateRefundCommand struct {
	OrderID        string
	Selections     []RefundSelection
	Reason         string
	RestockingFee  int64
	RefundShipping int64
	IdempotencyKey string
	ActorID        string
}

// RefundResult reports the outcome of a refund request. Reused is true when
// the idempotency key matched an existing record and no processor call was
// made.
type RefundResult struct {
	Record RefundRecord
	Order  Order
	Reused bool
}

// RecomputeRefundStateCommand triggers a full recount of an order's refund
// state. IncludePending provisionally counts pending records in the returned
// snapshot; the persisted status transition only ever counts succeeded ones.
type RecomputeRefundStateCommand struct {
	OrderID        string
	IncludePending bool
}

// ProviderRefundEvent is a refund status report from the payment processor,
// typically delivered via webhook. It may describe a refund this system never
// initiated (for example one issued from the processor dashboard).
//
// OrderID and RefundID carry this system's identifiers when the refund was
// initiated here; refund requests send them as processor metadata and the
// processor echoes them back on the refund object.
type ProviderRefundEvent struct {
	ProviderRefundID string
	OrderID          string
	RefundID         string
	PaymentIntentID  string
	ChargeID         string
	Status           RefundStatus
	Amount           int64
	Currency         string
	Reason           string
	OccurredAt       time.Time
}

// CounterGenerationOptions controls how counter values are incremented and formatted.
type CounterGenerationOptions struct {
	Step         int64
	InitialValue *int64
	MaxValue     *int64
	Prefix       string
	Suffix       string
	PadLength    int
	Formatter    func(now time.Time, value int64) string
}

// CounterValue couples a raw counter value with its formatted representation.
type CounterValue struct {
	Value     int64
	Formatted string
}
