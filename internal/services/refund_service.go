package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/jaylingelbach/AbandonedHobby-sub004/internal/domain"
	"github.com/jaylingelbach/AbandonedHobby-sub004/internal/payments"
	"github.com/jaylingelbach/AbandonedHobby-sub004/internal/repositories"
)

const (
	refundEventCreated        = "order.refund.created"
	refundEventStatusChanged  = "order.refund.status.changed"
	refundEventStateRecounted = "order.refund.state.recomputed"

	refundIDPrefix = "ref_"
)

var (
	// ErrRefundInvalidInput signals the caller provided invalid refund parameters.
	ErrRefundInvalidInput = errors.New("refund: invalid input")
	// ErrRefundNotFound indicates the refund record could not be located.
	ErrRefundNotFound = errors.New("refund: not found")
	// ErrOrderFullyRefunded indicates the order has nothing left to refund.
	ErrOrderFullyRefunded = errors.New("refund: order fully refunded")
	// ErrRefundExceedsRefundable indicates the requested amount exceeds the remaining refundable balance.
	ErrRefundExceedsRefundable = errors.New("refund: amount exceeds refundable balance")
)

// RefundConflictError wraps the ceiling sentinels with the figures a caller
// needs to explain the rejection: the order, the refundable ceiling, what has
// already been refunded, and what was requested.
type RefundConflictError struct {
	Err             error
	OrderID         string
	Ceiling         int64
	AlreadyRefunded int64
	Requested       int64
}

func (e *RefundConflictError) Error() string {
	return fmt.Sprintf("%v: order %s (ceiling %d, refunded %d, requested %d)",
		e.Err, e.OrderID, e.Ceiling, e.AlreadyRefunded, e.Requested)
}

func (e *RefundConflictError) Unwrap() error {
	return e.Err
}

// RefundExecutor is the narrow slice of the payments manager the refund
// engine needs: exactly one refund call per logical attempt.
type RefundExecutor interface {
	Refund(ctx context.Context, provider string, req payments.RefundRequest) (payments.RefundResult, error)
}

// RefundVerifier is implemented by executors that can read a refund back
// from the processor. Refunds reported from outside this system are verified
// against it before being recorded.
type RefundVerifier interface {
	LookupRefund(ctx context.Context, provider string, req payments.RefundLookupRequest) (payments.RefundResult, error)
}

// RefundServiceDeps bundles collaborators required to construct the refund service.
type RefundServiceDeps struct {
	Orders             repositories.OrderRepository
	Refunds            repositories.RefundRecordRepository
	Payments           RefundExecutor
	Provider           string
	UnitOfWork         repositories.UnitOfWork
	Clock              func() time.Time
	IDGenerator        func() string
	Events             OrderEventPublisher
	Logger             func(ctx context.Context, event string, fields map[string]any)
	PlatformFeePercent float64
}

type refundService struct {
	orders     repositories.OrderRepository
	refunds    repositories.RefundRecordRepository
	payments   RefundExecutor
	provider   string
	unitOfWork repositories.UnitOfWork
	clock      func() time.Time
	newID      func() string
	events     OrderEventPublisher
	logger     func(context.Context, string, map[string]any)
	feePercent float64
}

var _ RefundService = (*refundService)(nil)

// NewRefundService wires dependencies into a concrete RefundService implementation.
func NewRefundService(deps RefundServiceDeps) (RefundService, error) {
	if deps.Orders == nil {
		return nil, errors.New("refund service: order repository is required")
	}
	if deps.Refunds == nil {
		return nil, errors.New("refund service: refund record repository is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("refund service: payments executor is required")
	}

	provider := strings.TrimSpace(strings.ToLower(deps.Provider))
	if provider == "" {
		provider = "stripe"
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

	return &refundService{
		orders:     deps.Orders,
		refunds:    deps.Refunds,
		payments:   deps.Payments,
		provider:   provider,
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

// CreateRefundForOrder validates and executes one refund attempt in three
// phases. First a transaction reserves the amount: it re-reads the order and
// its records, enforces the ceiling counting both succeeded and still-pending
// records, and inserts a pending record keyed by the idempotency key. Then
// the processor is called exactly once. Finally the record is updated with
// the processor's refund id and status, and the refund state is recomputed
// best effort. Concurrent attempts serialize on the transaction, so the sum
// of reserved amounts can never pass the ceiling; a processor failure marks
// the record failed, which releases its reservation.
func (s *refundService) CreateRefundForOrder(ctx context.Context, cmd CreateRefundCommand) (RefundResult, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return RefundResult{}, fmt.Errorf("%w: order id is required", ErrRefundInvalidInput)
	}
	idempotencyKey := strings.TrimSpace(cmd.IdempotencyKey)
	if idempotencyKey == "" {
		return RefundResult{}, fmt.Errorf("%w: idempotency key is required", ErrRefundInvalidInput)
	}
	if len(cmd.Selections) == 0 {
		return RefundResult{}, fmt.Errorf("%w: at least one selection is required", ErrRefundInvalidInput)
	}
	for _, sel := range cmd.Selections {
		if strings.TrimSpace(sel.ItemID) == "" {
			return RefundResult{}, fmt.Errorf("%w: selection item id is required", ErrRefundInvalidInput)
		}
		if sel.Quantity <= 0 {
			return RefundResult{}, fmt.Errorf("%w: selection quantity must be positive", ErrRefundInvalidInput)
		}
	}
	if cmd.RestockingFee < 0 {
		return RefundResult{}, fmt.Errorf("%w: restocking fee cannot be negative", ErrRefundInvalidInput)
	}
	if cmd.RefundShipping < 0 {
		return RefundResult{}, fmt.Errorf("%w: refund shipping cannot be negative", ErrRefundInvalidInput)
	}

	var (
		order  Order
		record RefundRecord
		reused bool
	)

	err := s.runInTx(ctx, func(txCtx context.Context) error {
		var err error
		order, err = s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if order.Status == domain.OrderStatusCanceled {
			return fmt.Errorf("%w: canceled orders cannot be refunded", ErrRefundInvalidInput)
		}

		if existing, err := s.refunds.FindByIdempotencyKey(txCtx, orderID, idempotencyKey); err == nil {
			record = existing
			reused = true
			return nil
		} else if mapped := s.mapRepositoryError(err); !errors.Is(mapped, ErrRefundNotFound) {
			return mapped
		}

		records, err := s.refunds.ListByOrder(txCtx, orderID)
		if err != nil {
			return s.mapRepositoryError(err)
		}

		ceiling := s.refundableCeiling(txCtx, order)
		already := sumRefunded(records, true)

		if already >= ceiling {
			return &RefundConflictError{
				Err:             ErrOrderFullyRefunded,
				OrderID:         orderID,
				Ceiling:         ceiling,
				AlreadyRefunded: already,
			}
		}

		requested, err := refundAmountForSelections(order, records, cmd)
		if err != nil {
			return err
		}
		if already+requested > ceiling {
			return &RefundConflictError{
				Err:             ErrRefundExceedsRefundable,
				OrderID:         orderID,
				Ceiling:         ceiling,
				AlreadyRefunded: already,
				Requested:       requested,
			}
		}

		now := s.now()
		record = RefundRecord{
			ID:             refundIDPrefix + s.newID(),
			OrderID:        orderID,
			Status:         domain.RefundStatusPending,
			Amount:         requested,
			Reason:         strings.TrimSpace(cmd.Reason),
			Selections:     cloneSelections(cmd.Selections),
			RestockingFee:  cmd.RestockingFee,
			RefundShipping: cmd.RefundShipping,
			IdempotencyKey: idempotencyKey,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := s.refunds.Insert(txCtx, record); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return RefundResult{}, err
	}

	if reused {
		return RefundResult{Record: record, Order: order, Reused: true}, nil
	}

	result, err := s.payments.Refund(ctx, s.provider, payments.RefundRequest{
		PaymentIntentID:  order.PaymentIntentID,
		ChargeID:         order.ChargeID,
		Amount:           valuePtr(record.Amount),
		Reason:           record.Reason,
		ConnectedAccount: order.ConnectedAccount,
		IdempotencyKey:   idempotencyKey,
		Metadata: map[string]string{
			"orderId":  order.ID,
			"refundId": record.ID,
		},
	})
	if err != nil {
		// The reservation must not keep holding refundable balance when
		// the processor rejected the refund.
		if updateErr := s.refunds.UpdateStatus(ctx, orderID, record.ID, domain.RefundStatusFailed, s.now()); updateErr != nil {
			s.logger(ctx, "refund.reservation.release.failed", map[string]any{
				"orderId":  orderID,
				"refundId": record.ID,
				"error":    updateErr.Error(),
			})
		}
		return RefundResult{}, fmt.Errorf("refund: processor rejected refund: %w", err)
	}

	record.ProviderRefundID = result.ID
	record.Status = domain.RefundStatus(result.Status)
	record.UpdatedAt = s.now()
	if err := s.refunds.Update(ctx, record); err != nil {
		// The processor-side refund exists; local state catches up via the
		// webhook for this refund or a manual recompute.
		s.logger(ctx, "refund.record.update.failed", map[string]any{
			"orderId":        orderID,
			"refundId":       record.ID,
			"providerRefund": result.ID,
			"error":          err.Error(),
		})
	}

	s.publishEvent(ctx, OrderEvent{
		Type:        refundEventCreated,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		TenantID:    order.TenantID,
		Status:      string(order.Status),
		ActorID:     strings.TrimSpace(cmd.ActorID),
		OccurredAt:  record.UpdatedAt,
		Metadata: map[string]any{
			"refundId":       record.ID,
			"providerRefund": record.ProviderRefundID,
			"amountCents":    record.Amount,
			"status":         string(record.Status),
		},
	})

	updated, err := s.RecomputeRefundState(ctx, RecomputeRefundStateCommand{OrderID: orderID})
	if err != nil {
		// Non-fatal: the processor refund stands and a later recompute
		// converges the cached fields.
		s.logger(ctx, "refund.recompute.failed", map[string]any{
			"orderId": orderID,
			"error":   err.Error(),
		})
		updated = order
	}

	return RefundResult{Record: record, Order: updated}, nil
}

// RecomputeRefundState rebuilds the order's cached refund fields from the
// full set of refund records. It is the single writer of RefundedTotal,
// Status, and LastRefundAt; every path that changes refund records funnels
// through here, and a full recount makes replayed or out-of-order events
// converge instead of double-counting.
func (s *refundService) RecomputeRefundState(ctx context.Context, cmd RecomputeRefundStateCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrRefundInvalidInput)
	}

	var order Order
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		var err error
		order, err = s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return s.mapRepositoryError(err)
		}

		records, err := s.refunds.ListByOrder(txCtx, orderID)
		if err != nil {
			return s.mapRepositoryError(err)
		}

		ceiling := s.refundableCeiling(txCtx, order)
		refundedTotal := sumSucceeded(records)

		status := order.Status
		if order.Status != domain.OrderStatusCanceled {
			switch {
			case refundedTotal <= 0:
				status = domain.OrderStatusPaid
			case refundedTotal < ceiling:
				status = domain.OrderStatusPartiallyRefunded
			default:
				status = domain.OrderStatusRefunded
			}
		}

		lastRefundAt := latestSucceededAt(records)
		now := s.now()

		update := repositories.RefundStateUpdate{
			RefundedTotal:      refundedTotal,
			Status:             status,
			LastRefundAt:       lastRefundAt,
			RefundedQuantities: succeededQuantities(records),
			UpdatedAt:          now,
		}
		if err := s.orders.UpdateRefundState(txCtx, orderID, update); err != nil {
			return s.mapRepositoryError(err)
		}

		order.RefundedTotal = refundedTotal
		order.Status = status
		order.LastRefundAt = lastRefundAt
		order.UpdatedAt = now
		applyRefundedQuantities(&order, update.RefundedQuantities)

		if cmd.IncludePending {
			// Provisional view for callers that want optimistic totals;
			// the persisted fields above only ever count succeeded.
			order.RefundedTotal = sumRefunded(records, true)
		}
		return nil
	})
	if err != nil {
		s.logger(ctx, "refund.recompute.failed", map[string]any{
			"orderId": orderID,
			"error":   err.Error(),
		})
		return Order{}, err
	}

	s.publishEvent(ctx, OrderEvent{
		Type:        refundEventStateRecounted,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		TenantID:    order.TenantID,
		Status:      string(order.Status),
		OccurredAt:  order.UpdatedAt,
		Metadata: map[string]any{
			"refundedTotalCents": order.RefundedTotal,
		},
	})

	return order, nil
}

// ApplyProviderRefund reconciles a processor-reported refund status against
// local records. Refunds initiated outside this system, for example from the
// processor dashboard, arrive here with no matching record and are upserted
// so the recount still sees them.
func (s *refundService) ApplyProviderRefund(ctx context.Context, event ProviderRefundEvent) (Order, error) {
	providerRefundID := strings.TrimSpace(event.ProviderRefundID)
	if providerRefundID == "" {
		return Order{}, fmt.Errorf("%w: provider refund id is required", ErrRefundInvalidInput)
	}
	status := domain.RefundStatus(strings.TrimSpace(string(event.Status)))
	if status == "" {
		return Order{}, fmt.Errorf("%w: refund status is required", ErrRefundInvalidInput)
	}

	record, err := s.refunds.FindByProviderRefundID(ctx, providerRefundID)
	switch {
	case err == nil:
		if record.Status != status {
			if err := s.refunds.UpdateStatus(ctx, record.OrderID, record.ID, status, s.now()); err != nil {
				return Order{}, s.mapRepositoryError(err)
			}
			s.publishEvent(ctx, OrderEvent{
				Type:       refundEventStatusChanged,
				OrderID:    record.OrderID,
				Status:     string(status),
				OccurredAt: s.now(),
				Metadata: map[string]any{
					"refundId":       record.ID,
					"providerRefund": providerRefundID,
					"previousStatus": string(record.Status),
				},
			})
		}
	case errors.Is(s.mapRepositoryError(err), ErrRefundNotFound):
		var attached bool
		record, attached, err = s.attachProviderRefund(ctx, event)
		if err != nil {
			return Order{}, err
		}
		if !attached {
			record, err = s.adoptExternalRefund(ctx, event)
			if err != nil {
				return Order{}, err
			}
		}
	default:
		return Order{}, s.mapRepositoryError(err)
	}

	return s.RecomputeRefundState(ctx, RecomputeRefundStateCommand{OrderID: record.OrderID})
}

func (s *refundService) ListRefunds(ctx context.Context, orderID string) ([]RefundRecord, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, fmt.Errorf("%w: order id is required", ErrRefundInvalidInput)
	}
	records, err := s.refunds.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return records, nil
}

// attachProviderRefund links a processor refund to the local record that
// initiated it, identified by the orderId/refundId metadata echoed back on
// the refund object. This is how a record left pending with no provider id,
// because the update after the processor call failed or the process died,
// reconverges instead of being adopted a second time.
func (s *refundService) attachProviderRefund(ctx context.Context, event ProviderRefundEvent) (RefundRecord, bool, error) {
	orderID := strings.TrimSpace(event.OrderID)
	refundID := strings.TrimSpace(event.RefundID)
	if orderID == "" || refundID == "" {
		return RefundRecord{}, false, nil
	}

	record, err := s.refunds.FindByID(ctx, orderID, refundID)
	if err != nil {
		if mapped := s.mapRepositoryError(err); errors.Is(mapped, ErrRefundNotFound) {
			return RefundRecord{}, false, nil
		}
		return RefundRecord{}, false, s.mapRepositoryError(err)
	}

	providerRefundID := strings.TrimSpace(event.ProviderRefundID)
	if pid := strings.TrimSpace(record.ProviderRefundID); pid != "" && pid != providerRefundID {
		// The metadata points at a record already bound to a different
		// processor refund; leave it alone and adopt the event instead.
		return RefundRecord{}, false, nil
	}

	previousStatus := record.Status
	record.ProviderRefundID = providerRefundID
	record.Status = domain.RefundStatus(event.Status)
	record.UpdatedAt = s.now()
	if err := s.refunds.Update(ctx, record); err != nil {
		return RefundRecord{}, false, s.mapRepositoryError(err)
	}

	s.logger(ctx, "refund.provider.attached", map[string]any{
		"orderId":        record.OrderID,
		"refundId":       record.ID,
		"providerRefund": providerRefundID,
	})
	if previousStatus != record.Status {
		s.publishEvent(ctx, OrderEvent{
			Type:       refundEventStatusChanged,
			OrderID:    record.OrderID,
			Status:     string(record.Status),
			OccurredAt: record.UpdatedAt,
			Metadata: map[string]any{
				"refundId":       record.ID,
				"providerRefund": providerRefundID,
				"previousStatus": string(previousStatus),
			},
		})
	}
	return record, true, nil
}

// adoptExternalRefund records a refund this system never initiated. The
// synthetic idempotency key is derived from the provider refund id so a
// replayed delivery maps onto the same record.
func (s *refundService) adoptExternalRefund(ctx context.Context, event ProviderRefundEvent) (RefundRecord, error) {
	order, err := s.findOrderForEvent(ctx, event)
	if err != nil {
		return RefundRecord{}, err
	}

	// The webhook signature authenticates the delivery; reading the refund
	// back from the processor additionally pins amount and status to what
	// the processor holds, in case the event was stale.
	if verifier, ok := s.payments.(RefundVerifier); ok {
		result, lookupErr := verifier.LookupRefund(ctx, s.provider, payments.RefundLookupRequest{
			RefundID:         strings.TrimSpace(event.ProviderRefundID),
			ConnectedAccount: order.ConnectedAccount,
		})
		if lookupErr != nil {
			s.logger(ctx, "refund.external.verify.failed", map[string]any{
				"orderId":        order.ID,
				"providerRefund": event.ProviderRefundID,
				"error":          lookupErr.Error(),
			})
		} else {
			event.Amount = result.Amount
			event.Status = RefundStatus(result.Status)
		}
	}

	now := s.now()
	createdAt := event.OccurredAt
	if createdAt.IsZero() {
		createdAt = now
	}

	record := RefundRecord{
		ID:               refundIDPrefix + s.newID(),
		OrderID:          order.ID,
		ProviderRefundID: strings.TrimSpace(event.ProviderRefundID),
		Status:           domain.RefundStatus(event.Status),
		Amount:           event.Amount,
		Reason:           strings.TrimSpace(event.Reason),
		IdempotencyKey:   "ext_" + strings.TrimSpace(event.ProviderRefundID),
		CreatedAt:        createdAt,
		UpdatedAt:        now,
	}

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		if existing, err := s.refunds.FindByIdempotencyKey(txCtx, order.ID, record.IdempotencyKey); err == nil {
			record = existing
			return nil
		} else if mapped := s.mapRepositoryError(err); !errors.Is(mapped, ErrRefundNotFound) {
			return mapped
		}
		if err := s.refunds.Insert(txCtx, record); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return RefundRecord{}, err
	}

	s.logger(ctx, "refund.external.adopted", map[string]any{
		"orderId":        order.ID,
		"refundId":       record.ID,
		"providerRefund": record.ProviderRefundID,
		"amountCents":    record.Amount,
	})
	return record, nil
}

func (s *refundService) findOrderForEvent(ctx context.Context, event ProviderRefundEvent) (Order, error) {
	if intent := strings.TrimSpace(event.PaymentIntentID); intent != "" {
		order, err := s.orders.FindByPaymentIntent(ctx, intent)
		if err == nil {
			return order, nil
		}
		if mapped := s.mapRepositoryError(err); !errors.Is(mapped, ErrRefundNotFound) && !errors.Is(mapped, ErrOrderNotFound) {
			return Order{}, mapped
		}
	}
	// charge.refunded events for legacy orders may carry only a charge id.
	if chargeID := strings.TrimSpace(event.ChargeID); chargeID != "" {
		order, err := s.orders.FindByChargeID(ctx, chargeID)
		if err == nil {
			return order, nil
		}
		if mapped := s.mapRepositoryError(err); !errors.Is(mapped, ErrRefundNotFound) && !errors.Is(mapped, ErrOrderNotFound) {
			return Order{}, mapped
		}
	}
	return Order{}, fmt.Errorf("%w: no order for provider refund %s", ErrRefundNotFound, event.ProviderRefundID)
}

// refundableCeiling derives the order's server-authoritative total, which is
// the most any combination of refunds may reach.
func (s *refundService) refundableCeiling(ctx context.Context, order Order) int64 {
	amounts := ComputeOrderAmounts(ctx, OrderAmountsInput{
		Lines:              AmountLinesFromItems(order.Items),
		Total:              order.Total,
		PlatformFeePercent: s.feePercent,
		Logger:             s.logger,
	})
	return amounts.ServerTotal
}

// refundAmountForSelections prices the requested selections against the
// order's items, applying the restocking fee (subtracted) and refunded
// shipping (added) adjustments. Selection quantities are validated against
// each line's purchased and not-yet-refunded units, counting units reserved
// by pending records as already taken.
func refundAmountForSelections(order Order, records []RefundRecord, cmd CreateRefundCommand) (int64, error) {
	itemsByID := make(map[string]domain.OrderItem, len(order.Items))
	for _, item := range order.Items {
		itemsByID[item.ID] = item
	}

	taken := make(map[string]int)
	for _, record := range records {
		if record.Status != domain.RefundStatusSucceeded && record.Status != domain.RefundStatusPending {
			continue
		}
		for _, sel := range record.Selections {
			taken[sel.ItemID] += sel.Quantity
		}
	}

	var amount int64
	seen := make(map[string]bool, len(cmd.Selections))
	for _, sel := range cmd.Selections {
		itemID := strings.TrimSpace(sel.ItemID)
		if seen[itemID] {
			return 0, fmt.Errorf("%w: duplicate selection for item %s", ErrRefundInvalidInput, itemID)
		}
		seen[itemID] = true

		item, ok := itemsByID[itemID]
		if !ok {
			return 0, fmt.Errorf("%w: order has no item %s", ErrRefundInvalidInput, itemID)
		}
		remaining := item.Quantity - taken[itemID]
		if sel.Quantity > remaining {
			return 0, fmt.Errorf("%w: item %s has %d refundable unit(s), requested %d",
				ErrRefundInvalidInput, itemID, remaining, sel.Quantity)
		}
		amount += item.UnitAmount * int64(sel.Quantity)
	}

	amount -= cmd.RestockingFee
	amount += cmd.RefundShipping
	if amount <= 0 {
		return 0, fmt.Errorf("%w: computed refund amount %s is not positive",
			ErrRefundInvalidInput, strconv.FormatInt(amount, 10))
	}
	return amount, nil
}

func sumRefunded(records []RefundRecord, includePending bool) int64 {
	var total int64
	for _, record := range records {
		switch record.Status {
		case domain.RefundStatusSucceeded:
			total += record.Amount
		case domain.RefundStatusPending:
			if includePending {
				total += record.Amount
			}
		}
	}
	return total
}

func sumSucceeded(records []RefundRecord) int64 {
	return sumRefunded(records, false)
}

func latestSucceededAt(records []RefundRecord) *time.Time {
	var latest *time.Time
	for _, record := range records {
		if record.Status != domain.RefundStatusSucceeded {
			continue
		}
		created := record.CreatedAt
		if latest == nil || created.After(*latest) {
			latest = &created
		}
	}
	return cloneTimePtr(latest)
}

func succeededQuantities(records []RefundRecord) map[string]int {
	quantities := make(map[string]int)
	for _, record := range records {
		if record.Status != domain.RefundStatusSucceeded {
			continue
		}
		for _, sel := range record.Selections {
			quantities[sel.ItemID] += sel.Quantity
		}
	}
	return quantities
}

func applyRefundedQuantities(order *Order, quantities map[string]int) {
	for i := range order.Items {
		order.Items[i].RefundedQuantity = quantities[order.Items[i].ID]
	}
}

func cloneSelections(selections []RefundSelection) []RefundSelection {
	cloned := make([]RefundSelection, len(selections))
	copy(cloned, selections)
	return cloned
}

func (s *refundService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrRefundNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("refund: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *refundService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *refundService) now() time.Time {
	return s.clock()
}

func (s *refundService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "refund.event.publish.failed", map[string]any{
			"type":  event.Type,
			"order": event.OrderID,
			"error": err.Error(),
		})
	}
}
