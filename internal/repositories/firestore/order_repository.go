package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/jaylingelbach/AbandonedHobby-sub004/internal/domain"
	pfirestore "github.com/jaylingelbach/AbandonedHobby-sub004/internal/platform/firestore"
	"github.com/jaylingelbach/AbandonedHobby-sub004/internal/platform/pagination"
	"github.com/jaylingelbach/AbandonedHobby-sub004/internal/repositories"
)

const ordersCollection = "orders"

// OrderRepository persists marketplace orders in Firestore.
type OrderRepository struct {
	base *pfirestore.BaseRepository[domain.Order]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository: firestore provider is required")
	}

	encoder := func(ctx context.Context, value domain.Order) (any, error) {
		return encodeOrderDocument(value), nil
	}
	decoder := func(ctx context.Context, snap *firestore.DocumentSnapshot) (domain.Order, error) {
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.Order{}, err
		}
		doc.ID = snap.Ref.ID
		if doc.CreatedAt.IsZero() {
			doc.CreatedAt = snap.CreateTime
		}
		if doc.UpdatedAt.IsZero() {
			doc.UpdatedAt = snap.UpdateTime
		}
		return decodeOrderDocument(doc), nil
	}

	base := pfirestore.NewBaseRepository[domain.Order](provider, ordersCollection, encoder, decoder)
	return &OrderRepository{base: base}, nil
}

// Insert creates a new order document, failing on duplicate identifiers.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	order.ID = strings.TrimSpace(order.ID)
	if order.ID == "" {
		return errors.New("order repository: id is required")
	}

	docRef, err := r.base.DocumentRef(ctx, order.ID)
	if err != nil {
		return err
	}
	payload := encodeOrderDocument(order)
	if tx := pfirestore.TransactionFrom(ctx); tx != nil {
		if err := tx.Create(docRef, payload); err != nil {
			return pfirestore.WrapError("orders.insert", err)
		}
		return nil
	}
	if _, err := docRef.Create(ctx, payload); err != nil {
		return pfirestore.WrapError("orders.insert", err)
	}
	return nil
}

// Update replaces the order document state.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	order.ID = strings.TrimSpace(order.ID)
	if order.ID == "" {
		return errors.New("order repository: id is required")
	}
	_, err := r.base.Set(ctx, order.ID, order)
	return err
}

// FindByID loads an order by its identifier.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order repository: id is required")
	}
	doc, err := r.base.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data, nil
}

// FindByPaymentIntent locates the order created for a payment intent.
func (r *OrderRepository) FindByPaymentIntent(ctx context.Context, paymentIntentID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	paymentIntentID = strings.TrimSpace(paymentIntentID)
	if paymentIntentID == "" {
		return domain.Order{}, errors.New("order repository: payment intent id is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("paymentIntentId", "==", paymentIntentID).Limit(1)
	})
	if err != nil {
		return domain.Order{}, err
	}
	if len(docs) == 0 {
		return domain.Order{}, pfirestore.WrapError("orders.find_by_payment_intent", status.Error(codes.NotFound, "order not found"))
	}
	return docs[0].Data, nil
}

// FindByChargeID locates the order created for a charge. Refund events may
// carry only a charge reference when the payment intent is unknown.
func (r *OrderRepository) FindByChargeID(ctx context.Context, chargeID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	chargeID = strings.TrimSpace(chargeID)
	if chargeID == "" {
		return domain.Order{}, errors.New("order repository: charge id is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("chargeId", "==", chargeID).Limit(1)
	})
	if err != nil {
		return domain.Order{}, err
	}
	if len(docs) == 0 {
		return domain.Order{}, pfirestore.WrapError("orders.find_by_charge", status.Error(codes.NotFound, "order not found"))
	}
	return docs[0].Data, nil
}

// List returns orders matching the filter, newest first, with cursor paging.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = pagination.DefaultPageSize
	}
	if pageSize > pagination.DefaultMaxPageSize {
		pageSize = pagination.DefaultMaxPageSize
	}

	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if tenant := strings.TrimSpace(filter.TenantID); tenant != "" {
			q = q.Where("tenantId", "==", tenant)
		}
		if buyer := strings.TrimSpace(filter.BuyerID); buyer != "" {
			q = q.Where("buyerId", "==", buyer)
		}
		if len(filter.Status) == 1 {
			q = q.Where("status", "==", filter.Status[0])
		} else if len(filter.Status) > 1 {
			q = q.Where("status", "in", filter.Status)
		}
		if filter.DateRange.From != nil {
			q = q.Where("createdAt", ">=", filter.DateRange.From.UTC())
		}
		if filter.DateRange.To != nil {
			q = q.Where("createdAt", "<=", filter.DateRange.To.UTC())
		}
		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if len(cursor.StartAfter) > 0 {
			q = q.StartAfter(cursor.StartAfter...)
		}
		return q.Limit(pageSize + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	page := domain.CursorPage[domain.Order]{}
	for i, doc := range docs {
		if i >= pageSize {
			break
		}
		page.Items = append(page.Items, doc.Data)
	}

	if len(docs) > pageSize {
		last := docs[pageSize-1]
		token, err := pagination.EncodeToken(pagination.Cursor{
			StartAfter: []any{last.Data.CreatedAt.UTC(), last.ID},
		})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		page.NextPageToken = token
	}
	return page, nil
}

// UpdateRefundState rewrites the derived refund fields in one update.
func (r *OrderRepository) UpdateRefundState(ctx context.Context, orderID string, update repositories.RefundStateUpdate) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return errors.New("order repository: id is required")
	}

	order, err := r.FindByID(ctx, orderID)
	if err != nil {
		return err
	}

	order.RefundedTotal = update.RefundedTotal
	order.Status = update.Status
	order.LastRefundAt = cloneTimePtr(update.LastRefundAt)
	order.UpdatedAt = update.UpdatedAt.UTC()
	for i := range order.Items {
		if qty, ok := update.RefundedQuantities[order.Items[i].ID]; ok {
			order.Items[i].RefundedQuantity = qty
		}
	}

	_, err = r.base.Set(ctx, orderID, order)
	return err
}

// UpdateShipment rewrites the canonical shipment and the shipments array together.
func (r *OrderRepository) UpdateShipment(ctx context.Context, orderID string, canonical *domain.Shipment, shipments []domain.Shipment, updatedAt time.Time) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return errors.New("order repository: id is required")
	}

	updates := []firestore.Update{
		{Path: "shipment", Value: encodeShipmentPtr(canonical)},
		{Path: "shipments", Value: encodeShipments(shipments)},
		{Path: "updatedAt", Value: updatedAt.UTC()},
	}
	_, err := r.base.Update(ctx, orderID, updates)
	return err
}

func encodeOrderDocument(order domain.Order) orderDocument {
	items := make([]orderItemDocument, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, encodeOrderItemDocument(item))
	}

	return orderDocument{
		OrderNumber:       strings.TrimSpace(order.OrderNumber),
		TenantID:          strings.TrimSpace(order.TenantID),
		BuyerID:           strings.TrimSpace(order.BuyerID),
		CheckoutSessionID: strings.TrimSpace(order.CheckoutSessionID),
		PaymentIntentID:   strings.TrimSpace(order.PaymentIntentID),
		ChargeID:          strings.TrimSpace(order.ChargeID),
		ConnectedAccount:  strings.TrimSpace(order.ConnectedAccount),
		Status:            string(order.Status),
		Currency:          strings.ToUpper(strings.TrimSpace(order.Currency)),
		Total:             order.Total,
		RefundedTotal:     order.RefundedTotal,
		LastRefundAt:      cloneTimePtr(order.LastRefundAt),
		Items:             items,
		Shipment:          encodeShipmentPtr(order.Shipment),
		Shipments:         encodeShipments(order.Shipments),
		Metadata:          cloneOrderMetadata(order.Metadata),
		CreatedAt:         order.CreatedAt.UTC(),
		UpdatedAt:         order.UpdatedAt.UTC(),
		PaidAt:            cloneTimePtr(order.PaidAt),
	}
}

func encodeOrderItemDocument(item domain.OrderItem) orderItemDocument {
	return orderItemDocument{
		ID:                     item.ID,
		ProductID:              item.ProductID,
		NameSnapshot:           item.NameSnapshot,
		UnitAmount:             item.UnitAmount,
		Quantity:               item.Quantity,
		AmountSubtotal:         cloneInt64Ptr(item.AmountSubtotal),
		AmountTax:              cloneInt64Ptr(item.AmountTax),
		AmountTotal:            cloneInt64Ptr(item.AmountTotal),
		RefundedQuantity:       item.RefundedQuantity,
		RefundPolicy:           item.RefundPolicy,
		ReturnsAcceptedThrough: cloneTimePtr(item.ReturnsAcceptedThrough),
	}
}

func encodeShipmentPtr(shipment *domain.Shipment) *shipmentDocument {
	if shipment == nil {
		return nil
	}
	doc := encodeShipmentDocument(*shipment)
	return &doc
}

func encodeShipmentDocument(shipment domain.Shipment) shipmentDocument {
	return shipmentDocument{
		Carrier:         string(shipment.Carrier),
		TrackingNumber:  shipment.TrackingNumber,
		TrackingURL:     shipment.TrackingURL,
		ShippedAt:       cloneTimePtr(shipment.ShippedAt),
		LastNotifiedKey: shipment.LastNotifiedKey,
	}
}

func encodeShipments(shipments []domain.Shipment) []shipmentDocument {
	if len(shipments) == 0 {
		return nil
	}
	docs := make([]shipmentDocument, 0, len(shipments))
	for _, shipment := range shipments {
		docs = append(docs, encodeShipmentDocument(shipment))
	}
	return docs
}

func decodeOrderDocument(doc orderDocument) domain.Order {
	items := make([]domain.OrderItem, 0, len(doc.Items))
	for _, item := range doc.Items {
		items = append(items, domain.OrderItem{
			ID:                     item.ID,
			ProductID:              item.ProductID,
			NameSnapshot:           item.NameSnapshot,
			UnitAmount:             item.UnitAmount,
			Quantity:               item.Quantity,
			AmountSubtotal:         cloneInt64Ptr(item.AmountSubtotal),
			AmountTax:              cloneInt64Ptr(item.AmountTax),
			AmountTotal:            cloneInt64Ptr(item.AmountTotal),
			RefundedQuantity:       item.RefundedQuantity,
			RefundPolicy:           item.RefundPolicy,
			ReturnsAcceptedThrough: cloneTimePtr(item.ReturnsAcceptedThrough),
		})
	}

	return domain.Order{
		ID:                doc.ID,
		OrderNumber:       doc.OrderNumber,
		TenantID:          doc.TenantID,
		BuyerID:           doc.BuyerID,
		CheckoutSessionID: doc.CheckoutSessionID,
		PaymentIntentID:   doc.PaymentIntentID,
		ChargeID:          doc.ChargeID,
		ConnectedAccount:  doc.ConnectedAccount,
		Status:            domain.OrderStatus(doc.Status),
		Currency:          doc.Currency,
		Total:             doc.Total,
		RefundedTotal:     doc.RefundedTotal,
		LastRefundAt:      cloneTimePtr(doc.LastRefundAt),
		Items:             items,
		Shipment:          decodeShipmentPtr(doc.Shipment),
		Shipments:         decodeShipments(doc.Shipments),
		Metadata:          cloneOrderMetadata(doc.Metadata),
		CreatedAt:         doc.CreatedAt.UTC(),
		UpdatedAt:         doc.UpdatedAt.UTC(),
		PaidAt:            cloneTimePtr(doc.PaidAt),
	}
}

func decodeShipmentPtr(doc *shipmentDocument) *domain.Shipment {
	if doc == nil {
		return nil
	}
	decoded := decodeShipmentDocument(*doc)
	return &decoded
}

func decodeShipmentDocument(doc shipmentDocument) domain.Shipment {
	return domain.Shipment{
		Carrier:         domain.ShipmentCarrier(doc.Carrier),
		TrackingNumber:  doc.TrackingNumber,
		TrackingURL:     doc.TrackingURL,
		ShippedAt:       cloneTimePtr(doc.ShippedAt),
		LastNotifiedKey: doc.LastNotifiedKey,
	}
}

func decodeShipments(docs []shipmentDocument) []domain.Shipment {
	if len(docs) == 0 {
		return nil
	}
	shipments := make([]domain.Shipment, 0, len(docs))
	for _, doc := range docs {
		shipments = append(shipments, decodeShipmentDocument(doc))
	}
	return shipments
}

type orderDocument struct {
	ID                string              `firestore:"-"`
	OrderNumber       string              `firestore:"orderNumber"`
	TenantID          string              `firestore:"tenantId"`
	BuyerID           string              `firestore:"buyerId"`
	CheckoutSessionID string              `firestore:"checkoutSessionId,omitempty"`
	PaymentIntentID   string              `firestore:"paymentIntentId,omitempty"`
	ChargeID          string              `firestore:"chargeId,omitempty"`
	ConnectedAccount  string              `firestore:"connectedAccount,omitempty"`
	Status            string              `firestore:"status"`
	Currency          string              `firestore:"currency"`
	Total             int64               `firestore:"total"`
	RefundedTotal     int64               `firestore:"refundedTotal"`
	LastRefundAt      *time.Time          `firestore:"lastRefundAt,omitempty"`
	Items             []orderItemDocument `firestore:"items"`
	Shipment          *shipmentDocument   `firestore:"shipment,omitempty"`
	Shipments         []shipmentDocument  `firestore:"shipments,omitempty"`
	Metadata          map[string]any      `firestore:"metadata,omitempty"`
	CreatedAt         time.Time           `firestore:"createdAt"`
	UpdatedAt         time.Time           `firestore:"updatedAt"`
	PaidAt            *time.Time          `firestore:"paidAt,omitempty"`
}

type orderItemDocument struct {
	ID                     string     `firestore:"id"`
	ProductID              string     `firestore:"productId"`
	NameSnapshot           string     `firestore:"nameSnapshot"`
	UnitAmount             int64      `firestore:"unitAmount"`
	Quantity               int        `firestore:"quantity"`
	AmountSubtotal         *int64     `firestore:"amountSubtotal,omitempty"`
	AmountTax              *int64     `firestore:"amountTax,omitempty"`
	AmountTotal            *int64     `firestore:"amountTotal,omitempty"`
	RefundedQuantity       int        `firestore:"refundedQuantity"`
	RefundPolicy           string     `firestore:"refundPolicy,omitempty"`
	ReturnsAcceptedThrough *time.Time `firestore:"returnsAcceptedThrough,omitempty"`
}

type shipmentDocument struct {
	Carrier         string     `firestore:"carrier,omitempty"`
	TrackingNumber  string     `firestore:"trackingNumber,omitempty"`
	TrackingURL     string     `firestore:"trackingUrl,omitempty"`
	ShippedAt       *time.Time `firestore:"shippedAt,omitempty"`
	LastNotifiedKey string     `firestore:"lastNotifiedKey,omitempty"`
}

func cloneOrderMetadata(values map[string]any) map[string]any {
	if len(values) == 0 {
		return nil
	}
	cloned := make(map[string]any, len(values))
	for key, value := range values {
		cloned[key] = value
	}
	return cloned
}

func cloneTimePtr(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	cloned := value.UTC()
	return &cloned
}

func cloneInt64Ptr(value *int64) *int64 {
	if value == nil {
		return nil
	}
	cloned := *value
	return &cloned
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)
