package services

import (
	"fmt"
	"time"

	domain "github.com/jaylingelbach/AbandonedHobby-sub004/internal/domain"
	"github.com/jaylingelbach/AbandonedHobby-sub004/internal/platform/textutil"
)

// The order document carries shipment data in two shapes: a single canonical
// Shipment and a historical Shipments array. The canonical field must always
// mirror whichever entry shipped most recently, and during the migration
// period the two shapes are kept converged bidirectionally.

// PickCanonicalShipment selects the shipment entry with the most recent valid
// ShippedAt across both shapes. Entries without a ShippedAt lose to any entry
// that has one; among themselves the later entry wins. The second result is
// false when neither shape holds any shipment data.
func PickCanonicalShipment(order Order) (Shipment, bool) {
	var (
		best  Shipment
		found bool
	)

	consider := func(candidate Shipment) {
		if !candidate.HasData() {
			return
		}
		if !found {
			best = candidate
			found = true
			return
		}
		switch {
		case candidate.ShippedAt == nil:
			if best.ShippedAt == nil {
				best = candidate
			}
		case best.ShippedAt == nil:
			best = candidate
		case !candidate.ShippedAt.Before(*best.ShippedAt):
			best = candidate
		}
	}

	if order.Shipment != nil {
		consider(*order.Shipment)
	}
	for _, entry := range order.Shipments {
		consider(entry)
	}
	return best, found
}

// MirrorShipments converges the canonical shipment and the shipments array in
// place. A canonical value with an empty array seeds the array (the forward
// migration path); otherwise the canonical choice across both shapes is
// written back to the single field.
func MirrorShipments(order *Order) {
	if order == nil {
		return
	}

	if order.Shipment != nil && order.Shipment.HasData() && len(order.Shipments) == 0 {
		order.Shipments = []domain.Shipment{*order.Shipment}
	}

	canonical, ok := PickCanonicalShipment(*order)
	if !ok {
		order.Shipment = nil
		return
	}
	order.Shipment = &canonical
}

// ComputeLatestShippedAt scans both shipment shapes and returns the maximum
// ShippedAt. The second result is false when no entry carries a timestamp.
func ComputeLatestShippedAt(order Order) (time.Time, bool) {
	var (
		latest time.Time
		found  bool
	)

	consider := func(entry Shipment) {
		if entry.ShippedAt == nil {
			return
		}
		if !found || entry.ShippedAt.After(latest) {
			latest = *entry.ShippedAt
			found = true
		}
	}

	if order.Shipment != nil {
		consider(*order.Shipment)
	}
	for _, entry := range order.Shipments {
		consider(entry)
	}
	return latest, found
}

// TrackingURL derives the carrier tracking page URL for a tracking number.
// Carriers without a known template yield an empty string.
func TrackingURL(carrier ShipmentCarrier, trackingNumber string) string {
	number := textutil.NormalizeTrackingNumber(trackingNumber)
	if number == "" {
		return ""
	}
	switch carrier {
	case domain.CarrierUSPS:
		return "https://tools.usps.com/go/TrackConfirmAction?tLabels=" + number
	case domain.CarrierUPS:
		return "https://www.ups.com/track?tracknum=" + number
	case domain.CarrierFedEx:
		return "https://www.fedex.com/fedextrack/?trknbr=" + number
	default:
		return ""
	}
}

// ShipmentNotificationKey builds the idempotency marker for outbound tracking
// notifications. It changes only when the carrier or the normalized tracking
// number change, so re-saving identical tracking data never re-notifies.
func ShipmentNotificationKey(carrier ShipmentCarrier, trackingNumber string) string {
	number := textutil.NormalizeTrackingNumber(trackingNumber)
	if number == "" {
		return ""
	}
	return fmt.Sprintf("%s:%s", carrier, number)
}
