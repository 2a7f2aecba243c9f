package services

import (
	"context"
	"math"

	domain "github.com/jaylingelbach/AbandonedHobby-sub004/internal/domain"
)

// AmountLine is one raw order line fed to the aggregator. The amount fields
// are untyped on purpose: checkout payloads and stored documents carry them
// as ints, floats, strings, or not at all, and all coercion is centralized in
// domain.IntCentsOK so the rest of the package only ever sees integer cents.
type AmountLine struct {
	ID             string
	UnitAmount     any
	Quantity       any
	AmountSubtotal any
	AmountTax      any
	AmountTotal    any
}

// ResolvedLine is an AmountLine after coercion and defaulting. Quantities are
// positive and every amount is integer cents.
type ResolvedLine struct {
	ID             string
	UnitAmount     int64
	Quantity       int
	AmountSubtotal int64
	AmountTax      int64
	AmountTotal    int64
}

// OrderAmounts is the aggregator's output. ServerTotal is the authoritative
// gross total derived from the surviving lines (or the caller-provided total
// when there were none) and is the refundable ceiling for the order.
type OrderAmounts struct {
	Subtotal      int64
	TaxTotal      int64
	ShippingTotal int64
	DiscountTotal int64
	PlatformFee   int64
	StripeFee     int64
	SellerNet     int64
	ServerTotal   int64
	Lines         []ResolvedLine
}

// OrderAmountsInput carries the raw material for one aggregation pass.
type OrderAmountsInput struct {
	Lines []AmountLine

	// Total is used verbatim only when no lines survive coercion; with at
	// least one real line the server-side sum wins.
	Total         int64
	ShippingTotal any
	DiscountTotal any

	// StripeFee is trusted verbatim when present and defaults to 0. It is
	// never recomputed or estimated here; the number must come from the
	// processor's own report of what it charged.
	StripeFee any

	// PlatformFee overrides the percentage fallback when it is a valid
	// non-negative amount.
	PlatformFee any
	// PlatformFeePercent backs the fallback fee, computed on the items
	// subtotal only. Shipping and tax are excluded from the fee base.
	PlatformFeePercent float64

	// Logger receives diagnostics for dropped lines. May be nil.
	Logger func(ctx context.Context, event string, fields map[string]any)
}

// ComputeOrderAmounts derives the authoritative money breakdown for an order
// from its raw lines. It is pure: identical input always yields identical
// output, and the only side channel is the optional diagnostic logger.
func ComputeOrderAmounts(ctx context.Context, in OrderAmountsInput) OrderAmounts {
	out := OrderAmounts{
		ShippingTotal: domain.IntCents(in.ShippingTotal),
		DiscountTotal: domain.IntCents(in.DiscountTotal),
		StripeFee:     domain.IntCents(in.StripeFee),
	}

	var lineTotals int64
	for _, line := range in.Lines {
		quantity, ok := domain.IntCentsOK(line.Quantity)
		if !ok || quantity <= 0 {
			quantity = 1
		}
		unitAmount := domain.IntCents(line.UnitAmount)

		subtotal, subtotalProvided := domain.IntCentsOK(line.AmountSubtotal)
		total, totalProvided := domain.IntCentsOK(line.AmountTotal)

		// A line with no price and no explicit amounts is a phantom,
		// usually a malformed document. It must not pull the total down
		// to zero, so it is dropped rather than summed.
		if unitAmount <= 0 && !subtotalProvided && !totalProvided {
			if in.Logger != nil {
				in.Logger(ctx, "order.amounts.phantom_line_dropped", map[string]any{
					"lineId":     line.ID,
					"unitAmount": unitAmount,
				})
			}
			continue
		}

		if !subtotalProvided {
			subtotal = unitAmount * quantity
		}
		tax := domain.IntCents(line.AmountTax)
		if !totalProvided {
			total = subtotal + tax
		}

		out.Subtotal += subtotal
		out.TaxTotal += tax
		lineTotals += total
		out.Lines = append(out.Lines, ResolvedLine{
			ID:             line.ID,
			UnitAmount:     unitAmount,
			Quantity:       int(quantity),
			AmountSubtotal: subtotal,
			AmountTax:      tax,
			AmountTotal:    total,
		})
	}

	if len(out.Lines) > 0 {
		out.ServerTotal = max(0, lineTotals+out.ShippingTotal-out.DiscountTotal)
	} else {
		// Nothing to derive from; the caller's total is all there is.
		out.ServerTotal = in.Total
	}

	if fee, ok := domain.IntCentsOK(in.PlatformFee); ok && fee >= 0 {
		out.PlatformFee = fee
	} else {
		out.PlatformFee = int64(math.Round(float64(out.Subtotal) * in.PlatformFeePercent))
	}

	out.SellerNet = max(0, out.ServerTotal-out.PlatformFee-out.StripeFee)
	return out
}

// AmountLinesFromItems adapts stored order items for the aggregator. Pointer
// fields pass through so "absent" stays distinguishable from "zero".
func AmountLinesFromItems(items []domain.OrderItem) []AmountLine {
	lines := make([]AmountLine, 0, len(items))
	for _, item := range items {
		lines = append(lines, AmountLine{
			ID:             item.ID,
			UnitAmount:     item.UnitAmount,
			Quantity:       item.Quantity,
			AmountSubtotal: item.AmountSubtotal,
			AmountTax:      item.AmountTax,
			AmountTotal:    item.AmountTotal,
		})
	}
	return lines
}

// amountLinesFromCheckout adapts raw checkout lines for the aggregator.
func amountLinesFromCheckout(items []CheckoutLineInput) []AmountLine {
	lines := make([]AmountLine, 0, len(items))
	for _, item := range items {
		lines = append(lines, AmountLine{
			ID:             item.ID,
			UnitAmount:     item.UnitAmount,
			Quantity:       item.Quantity,
			AmountSubtotal: item.AmountSubtotal,
			AmountTax:      item.AmountTax,
			AmountTotal:    item.AmountTotal,
		})
	}
	return lines
}
