package services

import (
	"context"
	"reflect"
	"testing"

	domain "github.com/jaylingelbach/AbandonedHobby-sub004/internal/domain"
)

func TestComputeOrderAmountsEndToEnd(t *testing.T) {
	out := ComputeOrderAmounts(context.Background(), OrderAmountsInput{
		Lines: []AmountLine{
			{ID: "li_1", UnitAmount: 2000, Quantity: 2},
			{ID: "li_2", UnitAmount: 1500, Quantity: 1},
		},
		PlatformFeePercent: 0.10,
	})

	if out.Subtotal != 5500 {
		t.Fatalf("expected subtotal 5500, got %d", out.Subtotal)
	}
	if out.PlatformFee != 550 {
		t.Fatalf("expected platform fee 550, got %d", out.PlatformFee)
	}
	if out.StripeFee != 0 {
		t.Fatalf("expected stripe fee 0, got %d", out.StripeFee)
	}
	if out.SellerNet != 4950 {
		t.Fatalf("expected seller net 4950, got %d", out.SellerNet)
	}
	if out.ServerTotal != 5500 {
		t.Fatalf("expected server total 5500, got %d", out.ServerTotal)
	}
}

func TestComputeOrderAmountsIsDeterministic(t *testing.T) {
	input := OrderAmountsInput{
		Lines: []AmountLine{
			{ID: "li_1", UnitAmount: "19.00", Quantity: 3, AmountTax: 120},
			{ID: "li_2", UnitAmount: 250, Quantity: nil},
		},
		ShippingTotal:      500,
		DiscountTotal:      100,
		StripeFee:          87,
		PlatformFeePercent: 0.10,
	}

	first := ComputeOrderAmounts(context.Background(), input)
	second := ComputeOrderAmounts(context.Background(), input)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("expected identical output, got %+v vs %+v", first, second)
	}
}

func TestComputeOrderAmountsDropsPhantomLines(t *testing.T) {
	var dropped []string
	out := ComputeOrderAmounts(context.Background(), OrderAmountsInput{
		Lines: []AmountLine{
			{ID: "li_real", UnitAmount: 1000, Quantity: 1},
			{ID: "li_phantom", UnitAmount: 0},
		},
		PlatformFeePercent: 0.10,
		Logger: func(_ context.Context, event string, fields map[string]any) {
			if event == "order.amounts.phantom_line_dropped" {
				dropped = append(dropped, fields["lineId"].(string))
			}
		},
	})

	if out.Subtotal != 1000 {
		t.Fatalf("expected phantom line excluded from subtotal, got %d", out.Subtotal)
	}
	if len(out.Lines) != 1 {
		t.Fatalf("expected one surviving line, got %d", len(out.Lines))
	}
	if len(dropped) != 1 || dropped[0] != "li_phantom" {
		t.Fatalf("expected phantom line diagnostic, got %v", dropped)
	}
}

func TestComputeOrderAmountsKeepsZeroPriceLinesWithExplicitAmounts(t *testing.T) {
	out := ComputeOrderAmounts(context.Background(), OrderAmountsInput{
		Lines: []AmountLine{
			{ID: "li_comp", UnitAmount: 0, Quantity: 1, AmountSubtotal: 0, AmountTotal: 0},
		},
	})
	if len(out.Lines) != 1 {
		t.Fatalf("expected explicit zero line kept, got %d lines", len(out.Lines))
	}
	if out.ServerTotal != 0 {
		t.Fatalf("expected zero server total, got %d", out.ServerTotal)
	}
}

func TestComputeOrderAmountsFallsBackToCallerTotal(t *testing.T) {
	out := ComputeOrderAmounts(context.Background(), OrderAmountsInput{
		Total: 4242,
	})
	if out.ServerTotal != 4242 {
		t.Fatalf("expected caller total 4242 with no lines, got %d", out.ServerTotal)
	}
}

func TestComputeOrderAmountsPlatformFeeBaseExcludesShipping(t *testing.T) {
	out := ComputeOrderAmounts(context.Background(), OrderAmountsInput{
		Lines: []AmountLine{
			{ID: "li_1", UnitAmount: 10000, Quantity: 1},
		},
		ShippingTotal:      2500,
		PlatformFeePercent: 0.10,
	})
	if out.PlatformFee != 1000 {
		t.Fatalf("expected fee on items subtotal only, got %d", out.PlatformFee)
	}
	if out.ServerTotal != 12500 {
		t.Fatalf("expected server total with shipping, got %d", out.ServerTotal)
	}
}

func TestComputeOrderAmountsExplicitPlatformFeeWins(t *testing.T) {
	out := ComputeOrderAmounts(context.Background(), OrderAmountsInput{
		Lines: []AmountLine{
			{ID: "li_1", UnitAmount: 10000, Quantity: 1},
		},
		PlatformFee:        777,
		PlatformFeePercent: 0.10,
	})
	if out.PlatformFee != 777 {
		t.Fatalf("expected explicit fee 777, got %d", out.PlatformFee)
	}
}

func TestComputeOrderAmountsClampsSellerNet(t *testing.T) {
	out := ComputeOrderAmounts(context.Background(), OrderAmountsInput{
		Lines: []AmountLine{
			{ID: "li_1", UnitAmount: 100, Quantity: 1},
		},
		StripeFee:   90,
		PlatformFee: 50,
	})
	if out.SellerNet != 0 {
		t.Fatalf("expected seller net clamped at 0, got %d", out.SellerNet)
	}
}

func TestComputeOrderAmountsCoercesStringsAndDefaults(t *testing.T) {
	out := ComputeOrderAmounts(context.Background(), OrderAmountsInput{
		Lines: []AmountLine{
			// Quantity missing defaults to 1 and string amounts coerce.
			{ID: "li_1", UnitAmount: "1250"},
			// Non-positive quantity defaults to 1.
			{ID: "li_2", UnitAmount: 300, Quantity: -4},
		},
	})
	if out.Subtotal != 1550 {
		t.Fatalf("expected coerced subtotal 1550, got %d", out.Subtotal)
	}
	if out.Lines[0].Quantity != 1 || out.Lines[1].Quantity != 1 {
		t.Fatalf("expected defaulted quantities, got %+v", out.Lines)
	}
}

func TestAmountLinesFromItemsPreservesAbsence(t *testing.T) {
	items := []domain.OrderItem{
		{ID: "itm_1", UnitAmount: 500, Quantity: 2},
		{ID: "itm_2", UnitAmount: 0, Quantity: 1, AmountSubtotal: valuePtr[int64](0), AmountTotal: valuePtr[int64](0)},
	}
	out := ComputeOrderAmounts(context.Background(), OrderAmountsInput{Lines: AmountLinesFromItems(items)})

	if len(out.Lines) != 2 {
		t.Fatalf("expected explicit zero item to survive, got %d lines", len(out.Lines))
	}
	if out.ServerTotal != 1000 {
		t.Fatalf("expected server total 1000, got %d", out.ServerTotal)
	}
}
