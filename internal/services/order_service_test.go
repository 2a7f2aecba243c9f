package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/jaylingelbach/AbandonedHobby-sub004/internal/domain"
	"github.com/jaylingelbach/AbandonedHobby-sub004/internal/repositories"
)

type stubRepoError struct {
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e stubRepoError) Error() string       { return "stub repository error" }
func (e stubRepoError) IsNotFound() bool    { return e.notFound }
func (e stubRepoError) IsConflict() bool    { return e.conflict }
func (e stubRepoError) IsUnavailable() bool { return e.unavailable }

type stubOrderRepo struct {
	insertFn            func(context.Context, domain.Order) error
	updateFn            func(context.Context, domain.Order) error
	findFn              func(context.Context, string) (domain.Order, error)
	findByIntentFn      func(context.Context, string) (domain.Order, error)
	findByChargeFn      func(context.Context, string) (domain.Order, error)
	listFn              func(context.Context, repositories.OrderListFilter) (domain.CursorPage[domain.Order], error)
	updateRefundStateFn func(context.Context, string, repositories.RefundStateUpdate) error
	updateShipmentFn    func(context.Context, string, *domain.Shipment, []domain.Shipment, time.Time) error

	inserted       []domain.Order
	refundUpdates  []repositories.RefundStateUpdate
	shipmentCalls  int
	lastCanonical  *domain.Shipment
	lastShipments  []domain.Shipment
	lastShipmentAt time.Time
}

func (s *stubOrderRepo) Insert(ctx context.Context, order domain.Order) error {
	s.inserted = append(s.inserted, order)
	if s.insertFn != nil {
		return s.insertFn(ctx, order)
	}
	return nil
}

func (s *stubOrderRepo) Update(ctx context.Context, order domain.Order) error {
	if s.updateFn != nil {
		return s.updateFn(ctx, order)
	}
	return nil
}

func (s *stubOrderRepo) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if s.findFn != nil {
		return s.findFn(ctx, orderID)
	}
	return domain.Order{}, stubRepoError{notFound: true}
}

func (s *stubOrderRepo) FindByPaymentIntent(ctx context.Context, paymentIntentID string) (domain.Order, error) {
	if s.findByIntentFn != nil {
		return s.findByIntentFn(ctx, paymentIntentID)
	}
	return domain.Order{}, stubRepoError{notFound: true}
}

func (s *stubOrderRepo) FindByChargeID(ctx context.Context, chargeID string) (domain.Order, error) {
	if s.findByChargeFn != nil {
		return s.findByChargeFn(ctx, chargeID)
	}
	return domain.Order{}, stubRepoError{notFound: true}
}

func (s *stubOrderRepo) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[domain.Order]{}, nil
}

func (s *stubOrderRepo) UpdateRefundState(ctx context.Context, orderID string, update repositories.RefundStateUpdate) error {
	s.refundUpdates = append(s.refundUpdates, update)
	if s.updateRefundStateFn != nil {
		return s.updateRefundStateFn(ctx, orderID, update)
	}
	return nil
}

func (s *stubOrderRepo) UpdateShipment(ctx context.Context, orderID string, canonical *domain.Shipment, shipments []domain.Shipment, updatedAt time.Time) error {
	s.shipmentCalls++
	s.lastCanonical = canonical
	s.lastShipments = shipments
	s.lastShipmentAt = updatedAt
	if s.updateShipmentFn != nil {
		return s.updateShipmentFn(ctx, orderID, canonical, shipments, updatedAt)
	}
	return nil
}

type stubCounterSvc struct {
	number string
	err    error
	calls  int
}

func (s *stubCounterSvc) Next(context.Context, string, string, CounterGenerationOptions) (CounterValue, error) {
	return CounterValue{}, errors.New("not implemented")
}

func (s *stubCounterSvc) NextOrderNumber(context.Context) (string, error) {
	s.calls++
	return s.number, s.err
}

type captureOrderEvents struct {
	events []OrderEvent
}

func (c *captureOrderEvents) PublishOrderEvent(_ context.Context, event OrderEvent) error {
	c.events = append(c.events, event)
	return nil
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func sequenceIDs(ids ...string) func() string {
	i := 0
	return func() string {
		id := ids[i%len(ids)]
		i++
		return id
	}
}

func newTestOrderService(t *testing.T, repo *stubOrderRepo, counters *stubCounterSvc, events *captureOrderEvents) OrderService {
	t.Helper()
	svc, err := NewOrderService(OrderServiceDeps{
		Orders:             repo,
		Counters:           counters,
		Clock:              fixedClock(time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)),
		IDGenerator:        sequenceIDs("01TEST"),
		Events:             events,
		PlatformFeePercent: 0.10,
	})
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}
	return svc
}

func TestCreateFromCheckoutComputesAmounts(t *testing.T) {
	repo := &stubOrderRepo{}
	counters := &stubCounterSvc{number: "AH-2026-000001"}
	events := &captureOrderEvents{}
	svc := newTestOrderService(t, repo, counters, events)

	order, err := svc.CreateFromCheckout(context.Background(), CreateOrderFromCheckoutCommand{
		TenantID:        "tnt_1",
		BuyerID:         "usr_1",
		PaymentIntentID: "pi_123",
		ChargeID:        "ch_123",
		Currency:        "USD",
		Items: []CheckoutLineInput{
			{ID: "li_1", NameSnapshot: "Yarn lot", UnitAmount: 2000, Quantity: 2},
			{ID: "li_2", NameSnapshot: "Loom", UnitAmount: 1500, Quantity: 1},
		},
	})
	if err != nil {
		t.Fatalf("create from checkout: %v", err)
	}

	if order.Total != 5500 {
		t.Fatalf("expected total 5500, got %d", order.Total)
	}
	if order.Status != domain.OrderStatusPaid {
		t.Fatalf("expected status paid, got %s", order.Status)
	}
	if order.OrderNumber != "AH-2026-000001" {
		t.Fatalf("expected counter order number, got %s", order.OrderNumber)
	}
	if order.Currency != "usd" {
		t.Fatalf("expected lowercase currency, got %s", order.Currency)
	}
	if len(order.Items) != 2 {
		t.Fatalf("expected two items, got %d", len(order.Items))
	}
	if order.Items[0].AmountSubtotal == nil || *order.Items[0].AmountSubtotal != 4000 {
		t.Fatalf("expected derived line subtotal 4000, got %v", order.Items[0].AmountSubtotal)
	}

	amounts, ok := order.Metadata["amounts"].(map[string]any)
	if !ok {
		t.Fatalf("expected amounts metadata, got %v", order.Metadata)
	}
	if amounts["platformFeeCents"] != int64(550) {
		t.Fatalf("expected platform fee 550, got %v", amounts["platformFeeCents"])
	}
	if amounts["sellerNetCents"] != int64(4950) {
		t.Fatalf("expected seller net 4950, got %v", amounts["sellerNetCents"])
	}

	if len(repo.inserted) != 1 {
		t.Fatalf("expected one insert, got %d", len(repo.inserted))
	}
	if len(events.events) != 1 || events.events[0].Type != orderEventCreated {
		t.Fatalf("expected order.created event, got %+v", events.events)
	}
}

func TestCreateFromCheckoutReplaysExistingOrder(t *testing.T) {
	existing := domain.Order{ID: "ord_existing", PaymentIntentID: "pi_dup"}
	repo := &stubOrderRepo{
		findByIntentFn: func(_ context.Context, intent string) (domain.Order, error) {
			if intent != "pi_dup" {
				t.Fatalf("unexpected intent lookup %s", intent)
			}
			return existing, nil
		},
	}
	counters := &stubCounterSvc{number: "AH-2026-000002"}
	svc := newTestOrderService(t, repo, counters, &captureOrderEvents{})

	order, err := svc.CreateFromCheckout(context.Background(), CreateOrderFromCheckoutCommand{
		TenantID:        "tnt_1",
		BuyerID:         "usr_1",
		PaymentIntentID: "pi_dup",
		Currency:        "usd",
	})
	if err != nil {
		t.Fatalf("create from checkout: %v", err)
	}
	if order.ID != "ord_existing" {
		t.Fatalf("expected existing order returned, got %s", order.ID)
	}
	if len(repo.inserted) != 0 {
		t.Fatalf("expected no insert for replayed checkout, got %d", len(repo.inserted))
	}
	if counters.calls != 0 {
		t.Fatalf("expected no order number issued, got %d calls", counters.calls)
	}
}

func TestCreateFromCheckoutValidatesInput(t *testing.T) {
	svc := newTestOrderService(t, &stubOrderRepo{}, &stubCounterSvc{number: "AH-2026-000003"}, &captureOrderEvents{})

	cases := []CreateOrderFromCheckoutCommand{
		{BuyerID: "usr", PaymentIntentID: "pi", Currency: "usd"},
		{TenantID: "tnt", PaymentIntentID: "pi", Currency: "usd"},
		{TenantID: "tnt", BuyerID: "usr", Currency: "usd"},
		{TenantID: "tnt", BuyerID: "usr", PaymentIntentID: "pi"},
	}
	for i, cmd := range cases {
		if _, err := svc.CreateFromCheckout(context.Background(), cmd); !errors.Is(err, ErrOrderInvalidInput) {
			t.Fatalf("case %d: expected invalid input, got %v", i, err)
		}
	}
}

func TestCancelRejectsOrdersWithRefunds(t *testing.T) {
	repo := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) {
			return domain.Order{ID: "ord_1", Status: domain.OrderStatusPaid, RefundedTotal: 100}, nil
		},
	}
	svc := newTestOrderService(t, repo, &stubCounterSvc{}, &captureOrderEvents{})

	_, err := svc.Cancel(context.Background(), CancelOrderCommand{OrderID: "ord_1"})
	if !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
}

func TestCancelTransitionsPaidOrder(t *testing.T) {
	var updated domain.Order
	repo := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) {
			return domain.Order{ID: "ord_1", Status: domain.OrderStatusPaid}, nil
		},
		updateFn: func(_ context.Context, order domain.Order) error {
			updated = order
			return nil
		},
	}
	events := &captureOrderEvents{}
	svc := newTestOrderService(t, repo, &stubCounterSvc{}, events)

	order, err := svc.Cancel(context.Background(), CancelOrderCommand{OrderID: "ord_1", Reason: "buyer request"})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if order.Status != domain.OrderStatusCanceled {
		t.Fatalf("expected canceled status, got %s", order.Status)
	}
	if updated.Metadata["cancelReason"] != "buyer request" {
		t.Fatalf("expected cancel reason persisted, got %v", updated.Metadata)
	}
	if len(events.events) != 1 || events.events[0].Type != orderEventCanceled {
		t.Fatalf("expected order.canceled event, got %+v", events.events)
	}
}

func TestRecordShipmentNormalizesAndNotifiesOncePerKey(t *testing.T) {
	stored := domain.Order{ID: "ord_1", Status: domain.OrderStatusPaid}
	repo := &stubOrderRepo{}
	repo.findFn = func(context.Context, string) (domain.Order, error) {
		return stored, nil
	}
	repo.updateShipmentFn = func(_ context.Context, _ string, canonical *domain.Shipment, shipments []domain.Shipment, _ time.Time) error {
		stored.Shipment = canonical
		stored.Shipments = shipments
		return nil
	}
	events := &captureOrderEvents{}
	svc := newTestOrderService(t, repo, &stubCounterSvc{}, events)

	shippedAt := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	order, err := svc.RecordShipment(context.Background(), RecordShipmentCommand{
		OrderID:        "ord_1",
		Carrier:        domain.CarrierUSPS,
		TrackingNumber: " 9400-1234 5678 ",
		ShippedAt:      &shippedAt,
	})
	if err != nil {
		t.Fatalf("record shipment: %v", err)
	}
	if order.Shipment == nil {
		t.Fatalf("expected canonical shipment")
	}
	if order.Shipment.TrackingNumber != "940012345678" {
		t.Fatalf("expected normalized tracking number, got %s", order.Shipment.TrackingNumber)
	}
	if order.Shipment.TrackingURL == "" {
		t.Fatalf("expected tracking url for usps")
	}
	if len(order.Shipments) != 1 {
		t.Fatalf("expected shipments array seeded, got %d entries", len(order.Shipments))
	}
	if len(events.events) != 1 || events.events[0].Type != orderEventShipmentUpdated {
		t.Fatalf("expected shipment event, got %+v", events.events)
	}

	// Re-saving identical tracking data must not notify again.
	if _, err := svc.RecordShipment(context.Background(), RecordShipmentCommand{
		OrderID:        "ord_1",
		Carrier:        domain.CarrierUSPS,
		TrackingNumber: "9400 1234 5678",
		ShippedAt:      &shippedAt,
	}); err != nil {
		t.Fatalf("record shipment again: %v", err)
	}
	if len(events.events) != 1 {
		t.Fatalf("expected no second notification, got %d events", len(events.events))
	}
	if repo.shipmentCalls != 2 {
		t.Fatalf("expected both saves persisted, got %d", repo.shipmentCalls)
	}
}

func TestRecordShipmentRejectsUnknownCarrier(t *testing.T) {
	svc := newTestOrderService(t, &stubOrderRepo{}, &stubCounterSvc{}, &captureOrderEvents{})

	_, err := svc.RecordShipment(context.Background(), RecordShipmentCommand{
		OrderID:        "ord_1",
		Carrier:        domain.ShipmentCarrier("pigeon"),
		TrackingNumber: "123",
	})
	if !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestGetOrderMapsNotFound(t *testing.T) {
	repo := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) {
			return domain.Order{}, stubRepoError{notFound: true}
		},
	}
	svc := newTestOrderService(t, repo, &stubCounterSvc{}, &captureOrderEvents{})

	if _, err := svc.GetOrder(context.Background(), "ord_missing"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
