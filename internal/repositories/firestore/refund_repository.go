package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/jaylingelbach/AbandonedHobby-sub004/internal/domain"
	pfirestore "github.com/jaylingelbach/AbandonedHobby-sub004/internal/platform/firestore"
	"github.com/jaylingelbach/AbandonedHobby-sub004/internal/repositories"
)

const refundsSubcollection = "refunds"

// RefundRecordRepository stores refund executions under their order document.
type RefundRecordRepository struct {
	provider *pfirestore.Provider
}

// NewRefundRecordRepository constructs a Firestore-backed refund record repository.
func NewRefundRecordRepository(provider *pfirestore.Provider) (*RefundRecordRepository, error) {
	if provider == nil {
		return nil, errors.New("refund repository: firestore provider is required")
	}
	return &RefundRecordRepository{provider: provider}, nil
}

func (r *RefundRecordRepository) refundRef(ctx context.Context, orderID, refundID string) (*firestore.DocumentRef, error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(ordersCollection).Doc(orderID).Collection(refundsSubcollection).Doc(refundID), nil
}

// Insert creates a refund record, failing on duplicate identifiers.
func (r *RefundRecordRepository) Insert(ctx context.Context, record domain.RefundRecord) error {
	if r == nil || r.provider == nil {
		return errors.New("refund repository not initialised")
	}
	record.ID = strings.TrimSpace(record.ID)
	record.OrderID = strings.TrimSpace(record.OrderID)
	if record.ID == "" || record.OrderID == "" {
		return errors.New("refund repository: id and order id are required")
	}

	ref, err := r.refundRef(ctx, record.OrderID, record.ID)
	if err != nil {
		return err
	}
	payload := encodeRefundDocument(record)
	if tx := pfirestore.TransactionFrom(ctx); tx != nil {
		if err := tx.Create(ref, payload); err != nil {
			return pfirestore.WrapError("refunds.insert", err)
		}
		return nil
	}
	if _, err := ref.Create(ctx, payload); err != nil {
		return pfirestore.WrapError("refunds.insert", err)
	}
	return nil
}

// Update rewrites a refund record in full, typically to attach the
// processor's refund id and status after execution.
func (r *RefundRecordRepository) Update(ctx context.Context, record domain.RefundRecord) error {
	if r == nil || r.provider == nil {
		return errors.New("refund repository not initialised")
	}
	record.ID = strings.TrimSpace(record.ID)
	record.OrderID = strings.TrimSpace(record.OrderID)
	if record.ID == "" || record.OrderID == "" {
		return errors.New("refund repository: id and order id are required")
	}

	ref, err := r.refundRef(ctx, record.OrderID, record.ID)
	if err != nil {
		return err
	}
	payload := encodeRefundDocument(record)
	if tx := pfirestore.TransactionFrom(ctx); tx != nil {
		if err := tx.Set(ref, payload); err != nil {
			return pfirestore.WrapError("refunds.update", err)
		}
		return nil
	}
	if _, err := ref.Set(ctx, payload); err != nil {
		return pfirestore.WrapError("refunds.update", err)
	}
	return nil
}

// UpdateStatus records a processor-reported status transition.
func (r *RefundRecordRepository) UpdateStatus(ctx context.Context, orderID string, refundID string, newStatus domain.RefundStatus, updatedAt time.Time) error {
	if r == nil || r.provider == nil {
		return errors.New("refund repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	refundID = strings.TrimSpace(refundID)
	if orderID == "" || refundID == "" {
		return errors.New("refund repository: order id and refund id are required")
	}

	ref, err := r.refundRef(ctx, orderID, refundID)
	if err != nil {
		return err
	}
	updates := []firestore.Update{
		{Path: "status", Value: string(newStatus)},
		{Path: "updatedAt", Value: updatedAt.UTC()},
	}
	if tx := pfirestore.TransactionFrom(ctx); tx != nil {
		if err := tx.Update(ref, updates); err != nil {
			return pfirestore.WrapError("refunds.update_status", err)
		}
		return nil
	}
	if _, err := ref.Update(ctx, updates); err != nil {
		return pfirestore.WrapError("refunds.update_status", err)
	}
	return nil
}

// FindByID loads one refund record.
func (r *RefundRecordRepository) FindByID(ctx context.Context, orderID string, refundID string) (domain.RefundRecord, error) {
	if r == nil || r.provider == nil {
		return domain.RefundRecord{}, errors.New("refund repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	refundID = strings.TrimSpace(refundID)
	if orderID == "" || refundID == "" {
		return domain.RefundRecord{}, errors.New("refund repository: order id and refund id are required")
	}

	ref, err := r.refundRef(ctx, orderID, refundID)
	if err != nil {
		return domain.RefundRecord{}, err
	}

	var snap *firestore.DocumentSnapshot
	if tx := pfirestore.TransactionFrom(ctx); tx != nil {
		snap, err = tx.Get(ref)
	} else {
		snap, err = ref.Get(ctx)
	}
	if err != nil {
		return domain.RefundRecord{}, pfirestore.WrapError("refunds.get", err)
	}
	return decodeRefundSnapshot(snap)
}

// FindByIdempotencyKey returns the refund record previously created with the key.
func (r *RefundRecordRepository) FindByIdempotencyKey(ctx context.Context, orderID string, key string) (domain.RefundRecord, error) {
	if r == nil || r.provider == nil {
		return domain.RefundRecord{}, errors.New("refund repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	key = strings.TrimSpace(key)
	if orderID == "" || key == "" {
		return domain.RefundRecord{}, errors.New("refund repository: order id and key are required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.RefundRecord{}, err
	}
	query := client.Collection(ordersCollection).Doc(orderID).Collection(refundsSubcollection).
		Where("idempotencyKey", "==", key).Limit(1)
	return r.queryOne(ctx, query, "refunds.find_by_idempotency_key")
}

// FindByProviderRefundID locates a refund record across all orders by the
// processor's refund identifier, used when reconciling webhook events.
func (r *RefundRecordRepository) FindByProviderRefundID(ctx context.Context, providerRefundID string) (domain.RefundRecord, error) {
	if r == nil || r.provider == nil {
		return domain.RefundRecord{}, errors.New("refund repository not initialised")
	}
	providerRefundID = strings.TrimSpace(providerRefundID)
	if providerRefundID == "" {
		return domain.RefundRecord{}, errors.New("refund repository: provider refund id is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.RefundRecord{}, err
	}
	query := client.CollectionGroup(refundsSubcollection).
		Where("providerRefundId", "==", providerRefundID).Limit(1)
	return r.queryOne(ctx, query, "refunds.find_by_provider_refund_id")
}

// ListByOrder returns every refund record for an order, oldest first.
func (r *RefundRecordRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.RefundRecord, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("refund repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, errors.New("refund repository: order id is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	query := client.Collection(ordersCollection).Doc(orderID).Collection(refundsSubcollection).
		OrderBy("createdAt", firestore.Asc)

	var iter *firestore.DocumentIterator
	if tx := pfirestore.TransactionFrom(ctx); tx != nil {
		iter = tx.Documents(query)
	} else {
		iter = query.Documents(ctx)
	}
	defer iter.Stop()

	var records []domain.RefundRecord
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, pfirestore.WrapError("refunds.list", err)
		}
		record, err := decodeRefundSnapshot(snap)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

func (r *RefundRecordRepository) queryOne(ctx context.Context, query firestore.Query, op string) (domain.RefundRecord, error) {
	var iter *firestore.DocumentIterator
	if tx := pfirestore.TransactionFrom(ctx); tx != nil {
		iter = tx.Documents(query)
	} else {
		iter = query.Documents(ctx)
	}
	defer iter.Stop()

	snap, err := iter.Next()
	if errors.Is(err, iterator.Done) {
		return domain.RefundRecord{}, pfirestore.WrapError(op, status.Error(codes.NotFound, "refund record not found"))
	}
	if err != nil {
		return domain.RefundRecord{}, pfirestore.WrapError(op, err)
	}
	return decodeRefundSnapshot(snap)
}

func encodeRefundDocument(record domain.RefundRecord) refundDocument {
	selections := make([]refundSelectionDocument, 0, len(record.Selections))
	for _, sel := range record.Selections {
		selections = append(selections, refundSelectionDocument{
			ItemID:   sel.ItemID,
			Quantity: sel.Quantity,
		})
	}

	return refundDocument{
		OrderID:          record.OrderID,
		ProviderRefundID: strings.TrimSpace(record.ProviderRefundID),
		Status:           string(record.Status),
		Amount:           record.Amount,
		Reason:           strings.TrimSpace(record.Reason),
		Selections:       selections,
		RestockingFee:    record.RestockingFee,
		RefundShipping:   record.RefundShipping,
		IdempotencyKey:   strings.TrimSpace(record.IdempotencyKey),
		CreatedAt:        record.CreatedAt.UTC(),
		UpdatedAt:        record.UpdatedAt.UTC(),
	}
}

func decodeRefundSnapshot(snap *firestore.DocumentSnapshot) (domain.RefundRecord, error) {
	var doc refundDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.RefundRecord{}, err
	}

	selections := make([]domain.RefundSelection, 0, len(doc.Selections))
	for _, sel := range doc.Selections {
		selections = append(selections, domain.RefundSelection{
			ItemID:   sel.ItemID,
			Quantity: sel.Quantity,
		})
	}

	orderID := doc.OrderID
	if orderID == "" && snap.Ref.Parent != nil && snap.Ref.Parent.Parent != nil {
		orderID = snap.Ref.Parent.Parent.ID
	}

	createdAt := doc.CreatedAt
	if createdAt.IsZero() {
		createdAt = snap.CreateTime
	}
	updatedAt := doc.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = snap.UpdateTime
	}

	return domain.RefundRecord{
		ID:               snap.Ref.ID,
		OrderID:          orderID,
		ProviderRefundID: doc.ProviderRefundID,
		Status:           domain.RefundStatus(doc.Status),
		Amount:           doc.Amount,
		Reason:           doc.Reason,
		Selections:       selections,
		RestockingFee:    doc.RestockingFee,
		RefundShipping:   doc.RefundShipping,
		IdempotencyKey:   doc.IdempotencyKey,
		CreatedAt:        createdAt.UTC(),
		UpdatedAt:        updatedAt.UTC(),
	}, nil
}

type refundDocument struct {
	OrderID          string                    `firestore:"orderId"`
	ProviderRefundID string                    `firestore:"providerRefundId,omitempty"`
	Status           string                    `firestore:"status"`
	Amount           int64                     `firestore:"amount"`
	Reason           string                    `firestore:"reason,omitempty"`
	Selections       []refundSelectionDocument `firestore:"selections,omitempty"`
	RestockingFee    int64                     `firestore:"restockingFee,omitempty"`
	RefundShipping   int64                     `firestore:"refundShipping,omitempty"`
	IdempotencyKey   string                    `firestore:"idempotencyKey,omitempty"`
	CreatedAt        time.Time                 `firestore:"createdAt"`
	UpdatedAt        time.Time                 `firestore:"updatedAt"`
}

type refundSelectionDocument struct {
	ItemID   string `firestore:"itemId"`
	Quantity int    `firestore:"quantity"`
}

var _ repositories.RefundRecordRepository = (*RefundRecordRepository)(nil)
