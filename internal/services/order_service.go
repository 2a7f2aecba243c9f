package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/jaylingelbach/AbandonedHobby-sub004/internal/domain"
	"github.com/jaylingelbach/AbandonedHobby-sub004/internal/platform/textutil"
	"github.com/jaylingelbach/AbandonedHobby-sub004/internal/repositories"
)

const (
	orderEventCreated         = "order.created"
	orderEventCanceled        = "order.canceled"
	orderEventShipmentUpdated = "order.shipment.updated"

	orderIDPrefix = "ord_"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates the operation is not valid for the order's current status.
	ErrOrderInvalidState = errors.New("order: invalid state")
	// ErrOrderConflict indicates optimistic concurrency conflicts or duplicates.
	ErrOrderConflict = errors.New("order: conflict")
)

var validCarriers = map[domain.ShipmentCarrier]bool{
	domain.CarrierUSPS:  true,
	domain.CarrierUPS:   true,
	domain.CarrierFedEx: true,
	domain.CarrierOther: true,
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type        string
	OrderID     string
	OrderNumber string
	TenantID    string
	Status      string
	ActorID     string
	OccurredAt  time.Time
	Metadata    map[string]any
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders             repositories.OrderRepository
	Counters           CounterService
	UnitOfWork         repositories.UnitOfWork
	Clock              func() time.Time
	IDGenerator        func() string
	Events             OrderEventPublisher
	Logger             func(ctx context.Context, event string, fields map[string]any)
	PlatformFeePercent float64
}

type orderService struct {
	orders     repositories.OrderRepository
	counters   CounterService
	unitOfWork repositories.UnitOfWork
	clock      func() time.Time
	newID      func() string
	events     OrderEventPublisher
	logger     func(context.Context, string, map[string]any)
	feePercent float64
}

var _ OrderService = (*orderService)(nil)

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service: counter service is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:     deps.Orders,
		counters:   deps.Counters,
		unitOfWork: unit,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:      idGen,
		events:     deps.Events,
		logger:     logger,
		feePercent: deps.PlatformFeePercent,
	}, nil
}

func (s *orderService) CreateFromCheckout(ctx context.Context, cmd CreateOrderFromCheckoutCommand) (Order, error) {
	tenantID := strings.TrimSpace(cmd.TenantID)
	if tenantID == "" {
		return Order{}, fmt.Errorf("%w: tenant id is required", ErrOrderInvalidInput)
	}
	buyerID := strings.TrimSpace(cmd.BuyerID)
	if buyerID == "" {
		return Order{}, fmt.Errorf("%w: buyer id is required", ErrOrderInvalidInput)
	}
	currency := strings.ToLower(strings.TrimSpace(cmd.Currency))
	if currency == "" {
		return Order{}, fmt.Errorf("%w: currency is required", ErrOrderInvalidInput)
	}
	paymentIntentID := strings.TrimSpace(cmd.PaymentIntentID)
	if paymentIntentID == "" {
		return Order{}, fmt.Errorf("%w: payment intent id is required", ErrOrderInvalidInput)
	}

	// Checkout completion events are delivered at least once. An order that
	// already exists for this payment intent is the same logical checkout.
	if existing, err := s.orders.FindByPaymentIntent(ctx, paymentIntentID); err == nil {
		s.logger(ctx, "order.checkout.replayed", map[string]any{
			"orderId":       existing.ID,
			"paymentIntent": paymentIntentID,
		})
		return existing, nil
	} else if mapped := s.mapRepositoryError(err); !errors.Is(mapped, ErrOrderNotFound) {
		return Order{}, mapped
	}

	now := s.now()
	amounts := ComputeOrderAmounts(ctx, OrderAmountsInput{
		Lines:              amountLinesFromCheckout(cmd.Items),
		Total:              cmd.Total,
		ShippingTotal:      cmd.ShippingTotal,
		DiscountTotal:      cmd.DiscountTotal,
		StripeFee:          cmd.StripeFee,
		PlatformFee:        cmd.PlatformFee,
		PlatformFeePercent: s.feePercent,
		Logger:             s.logger,
	})

	number, err := s.counters.NextOrderNumber(ctx)
	if err != nil {
		return Order{}, err
	}

	order := Order{
		ID:                s.nextOrderID(),
		OrderNumber:       number,
		TenantID:          tenantID,
		BuyerID:           buyerID,
		CheckoutSessionID: strings.TrimSpace(cmd.CheckoutSessionID),
		PaymentIntentID:   paymentIntentID,
		ChargeID:          strings.TrimSpace(cmd.ChargeID),
		ConnectedAccount:  strings.TrimSpace(cmd.ConnectedAccount),
		Status:            domain.OrderStatusPaid,
		Currency:          currency,
		Total:             amounts.ServerTotal,
		Items:             buildOrderItems(cmd.Items, amounts.Lines, s.newID),
		Metadata:          cloneAndMergeMetadata(textutil.NormalizeMetadata(cmd.Metadata), amountsMetadata(amounts)),
		CreatedAt:         now,
		UpdatedAt:         now,
		PaidAt:            cloneTimeValue(cmd.PaidAt, now),
	}

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.orders.Insert(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.publishEvent(ctx, OrderEvent{
		Type:        orderEventCreated,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		TenantID:    order.TenantID,
		Status:      string(order.Status),
		ActorID:     strings.TrimSpace(cmd.ActorID),
		OccurredAt:  now,
		Metadata:    maps.Clone(order.Metadata),
	})

	return order, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	if cmd.ExpectedStatus != nil && string(order.Status) != strings.TrimSpace(*cmd.ExpectedStatus) {
		return Order{}, fmt.Errorf("%w: expected status %q but was %q", ErrOrderConflict, *cmd.ExpectedStatus, order.Status)
	}
	if order.Status != domain.OrderStatusPaid {
		return Order{}, fmt.Errorf("%w: order status %q cannot be canceled", ErrOrderInvalidState, order.Status)
	}
	if order.RefundedTotal > 0 {
		return Order{}, fmt.Errorf("%w: order with refunds cannot be canceled", ErrOrderInvalidState)
	}

	now := s.now()
	order.Status = domain.OrderStatusCanceled
	order.UpdatedAt = now
	if reason := strings.TrimSpace(cmd.Reason); reason != "" {
		order.Metadata = ensureMap(order.Metadata)
		order.Metadata["cancelReason"] = reason
	}

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.orders.Update(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.publishEvent(ctx, OrderEvent{
		Type:        orderEventCanceled,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		TenantID:    order.TenantID,
		Status:      string(order.Status),
		ActorID:     strings.TrimSpace(cmd.ActorID),
		OccurredAt:  now,
		Metadata:    maps.Clone(order.Metadata),
	})

	return order, nil
}

func (s *orderService) RecordShipment(ctx context.Context, cmd RecordShipmentCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if !validCarriers[cmd.Carrier] {
		return Order{}, fmt.Errorf("%w: unknown carrier %q", ErrOrderInvalidInput, cmd.Carrier)
	}
	trackingNumber := textutil.NormalizeTrackingNumber(cmd.TrackingNumber)
	if trackingNumber == "" {
		return Order{}, fmt.Errorf("%w: tracking number is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if order.Status == domain.OrderStatusCanceled {
		return Order{}, fmt.Errorf("%w: canceled orders cannot record shipments", ErrOrderInvalidState)
	}

	now := s.now()
	shippedAt := cmd.ShippedAt
	if shippedAt == nil {
		shippedAt = &now
	}

	var previousKey string
	if order.Shipment != nil {
		previousKey = order.Shipment.LastNotifiedKey
	}

	entry := domain.Shipment{
		Carrier:         cmd.Carrier,
		TrackingNumber:  trackingNumber,
		TrackingURL:     TrackingURL(cmd.Carrier, trackingNumber),
		ShippedAt:       shippedAt,
		LastNotifiedKey: ShipmentNotificationKey(cmd.Carrier, trackingNumber),
	}

	if !hasEquivalentShipment(order.Shipments, entry) {
		order.Shipments = append(order.Shipments, entry)
	}
	MirrorShipments(&order)
	order.UpdatedAt = now

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.orders.UpdateShipment(txCtx, order.ID, order.Shipment, order.Shipments, now); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	// Re-saving identical tracking data keeps the notification key stable
	// and must not notify the buyer again.
	if order.Shipment != nil && order.Shipment.LastNotifiedKey != previousKey {
		s.publishEvent(ctx, OrderEvent{
			Type:        orderEventShipmentUpdated,
			OrderID:     order.ID,
			OrderNumber: order.OrderNumber,
			TenantID:    order.TenantID,
			Status:      string(order.Status),
			ActorID:     strings.TrimSpace(cmd.ActorID),
			OccurredAt:  now,
			Metadata: map[string]any{
				"carrier":        string(order.Shipment.Carrier),
				"trackingNumber": order.Shipment.TrackingNumber,
				"trackingUrl":    order.Shipment.TrackingURL,
			},
		})
	}

	return order, nil
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) nextOrderID() string {
	return orderIDPrefix + s.newID()
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if event.Metadata != nil {
		event.Metadata = maps.Clone(event.Metadata)
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":  event.Type,
			"order": event.OrderID,
			"error": err.Error(),
		})
	}
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

// hasEquivalentShipment reports whether the history already holds an entry
// for the same carrier and tracking number. Repeated saves of the same
// tracking data update the canonical record without growing the history.
func hasEquivalentShipment(shipments []domain.Shipment, entry domain.Shipment) bool {
	for _, existing := range shipments {
		if existing.LastNotifiedKey == entry.LastNotifiedKey && existing.LastNotifiedKey != "" {
			return true
		}
	}
	return false
}

// buildOrderItems joins the raw checkout lines with their resolved amounts.
// Lines the aggregator dropped as phantoms do not become order items.
func buildOrderItems(inputs []CheckoutLineInput, resolved []ResolvedLine, newID func() string) []domain.OrderItem {
	byID := make(map[string]CheckoutLineInput, len(inputs))
	for _, input := range inputs {
		byID[input.ID] = input
	}

	items := make([]domain.OrderItem, 0, len(resolved))
	for _, line := range resolved {
		input := byID[line.ID]
		id := strings.TrimSpace(line.ID)
		if id == "" {
			id = "itm_" + newID()
		}
		items = append(items, domain.OrderItem{
			ID:                     id,
			ProductID:              strings.TrimSpace(input.ProductID),
			NameSnapshot:           strings.TrimSpace(input.NameSnapshot),
			UnitAmount:             line.UnitAmount,
			Quantity:               line.Quantity,
			AmountSubtotal:         valuePtr(line.AmountSubtotal),
			AmountTax:              valuePtr(line.AmountTax),
			AmountTotal:            valuePtr(line.AmountTotal),
			RefundPolicy:           strings.TrimSpace(input.RefundPolicy),
			ReturnsAcceptedThrough: cloneTimePtr(input.ReturnsAcceptedThrough),
		})
	}
	return items
}

func amountsMetadata(amounts OrderAmounts) map[string]any {
	return map[string]any{
		"amounts": map[string]any{
			"subtotalCents":      amounts.Subtotal,
			"taxTotalCents":      amounts.TaxTotal,
			"shippingTotalCents": amounts.ShippingTotal,
			"discountTotalCents": amounts.DiscountTotal,
			"platformFeeCents":   amounts.PlatformFee,
			"stripeFeeCents":     amounts.StripeFee,
			"sellerNetCents":     amounts.SellerNet,
		},
	}
}

func cloneAndMergeMetadata(base map[string]any, extra map[string]any) map[string]any {
	if base == nil && extra == nil {
		return nil
	}
	result := cloneMap(base)
	if len(extra) == 0 {
		return result
	}
	if result == nil {
		result = map[string]any{}
	}
	for k, v := range extra {
		result[k] = v
	}
	return result
}

func cloneMap(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	return maps.Clone(src)
}

func ensureMap(src map[string]any) map[string]any {
	if src == nil {
		return map[string]any{}
	}
	return src
}

func valuePtr[T any](v T) *T {
	return &v
}

func cloneTimePtr(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	ref := *value
	return &ref
}

func cloneTimeValue(value *time.Time, fallback time.Time) *time.Time {
	if value == nil {
		ref := fallback
		return &ref
	}
	ref := *value
	return &ref
}
