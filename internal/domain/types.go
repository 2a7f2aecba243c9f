package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPaid indicates checkout completed and no refunds have been issued.
	OrderStatusPaid OrderStatus = "paid"
	// OrderStatusPartiallyRefunded indicates part of the order total has been refunded.
	OrderStatusPartiallyRefunded OrderStatus = "partially_refunded"
	// OrderStatusRefunded indicates the full order total has been refunded.
	OrderStatusRefunded OrderStatus = "refunded"
	// OrderStatusCanceled indicates the order has been canceled.
	OrderStatusCanceled OrderStatus = "canceled"
)

// Order captures one completed checkout for a single seller tenant.
//
// All monetary fields are integer cents. RefundedTotal and LastRefundAt are a
// cache derived from the order's refund records: only the refund state
// recompute writes them.
type Order struct {
	ID          string
	OrderNumber string
	TenantID    string
	BuyerID     string

	// Stripe references captured at checkout completion.
	CheckoutSessionID string
	PaymentIntentID   string
	ChargeID          string
	ConnectedAccount  string

	Status   OrderStatus
	Currency string

	// Total is the gross authoritative order total in cents.
	Total         int64
	RefundedTotal int64
	LastRefundAt  *time.Time

	Items []OrderItem

	// Shipment is the canonical shipment record; Shipments keeps the
	// historical multi-shipment array it is mirrored against.
	Shipment  *Shipment
	Shipments []Shipment

	Metadata  map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
	PaidAt    *time.Time
}

// OrderItem is one purchased line within an order.
//
// NameSnapshot is the product name at purchase time, decoupled from current
// catalog state. The Amount* fields are pointers so that "absent" (derive a
// default) stays distinguishable from "explicit zero" (trust the caller).
type OrderItem struct {
	ID           string
	ProductID    string
	NameSnapshot string

	UnitAmount int64
	Quantity   int

	AmountSubtotal *int64
	AmountTax      *int64
	AmountTotal    *int64

	// RefundedQuantity tracks how many units have already been refunded.
	RefundedQuantity int

	RefundPolicy           string
	ReturnsAcceptedThrough *time.Time
}

// RefundStatus enumerates processor-reported refund lifecycle states.
type RefundStatus string

const (
	// RefundStatusPending indicates the processor accepted the refund but has not settled it.
	RefundStatusPending RefundStatus = "pending"
	// RefundStatusSucceeded indicates the processor settled the refund.
	RefundStatusSucceeded RefundStatus = "succeeded"
	// RefundStatusFailed indicates the processor rejected or reversed the refund.
	RefundStatusFailed RefundStatus = "failed"
	// RefundStatusCanceled indicates the refund was canceled before settlement.
	RefundStatusCanceled RefundStatus = "canceled"
)

// RefundSelection identifies an order item and the unit count being refunded.
type RefundSelection struct {
	ItemID   string
	Quantity int
}

// RefundRecord is an append-only audit entry of one refund execution against
// an order. Records are never mutated after creation except to reflect a
// status transition reported by the processor.
type RefundRecord struct {
	ID               string
	OrderID          string
	ProviderRefundID string
	Status           RefundStatus
	Amount           int64
	Reason           string
	Selections       []RefundSelection
	RestockingFee    int64
	RefundShipping   int64
	IdempotencyKey   string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ShipmentCarrier enumerates the carriers sellers can record tracking for.
type ShipmentCarrier string

const (
	// CarrierUSPS is the United States Postal Service.
	CarrierUSPS ShipmentCarrier = "usps"
	// CarrierUPS is United Parcel Service.
	CarrierUPS ShipmentCarrier = "ups"
	// CarrierFedEx is FedEx.
	CarrierFedEx ShipmentCarrier = "fedex"
	// CarrierOther covers carriers without a dedicated tracking URL template.
	CarrierOther ShipmentCarrier = "other"
)

// Shipment stores seller-recorded tracking information embedded in an order.
type Shipment struct {
	Carrier        ShipmentCarrier
	TrackingNumber string
	TrackingURL    string
	ShippedAt      *time.Time
	// LastNotifiedKey is the idempotency marker for outbound tracking
	// notifications; it changes only when carrier or tracking number change.
	LastNotifiedKey string
}

// HasData reports whether the shipment carries any meaningful information.
func (s Shipment) HasData() bool {
	return s.Carrier != "" || s.TrackingNumber != "" || s.ShippedAt != nil
}

// HealthStatus grades the availability of the service and its dependencies.
type HealthStatus string

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK HealthStatus = "ok"
	// HealthStatusDegraded indicates a non-critical dependency is failing.
	HealthStatusDegraded HealthStatus = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError HealthStatus = "error"
)

// SystemHealthCheck reports the outcome of probing one dependency.
type SystemHealthCheck struct {
	Status    HealthStatus
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency checks into one readiness verdict.
type SystemHealthReport struct {
	Status      HealthStatus
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}
