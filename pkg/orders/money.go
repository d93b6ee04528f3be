package orders

import (
	"math"

	"github.com/posedge/edge/pkg/types"
)

// round2 applies banker's rounding (round-half-to-even) to 2 decimal
// places, matching the fixed-point semantics the hash chain's canonical
// encoding assumes for money fields.
func round2(v float64) float64 {
	// Snap v*100 to 1e-6 first, so a decimal tie such as 1.015 (stored as
	// 1.01499999...) is rounded as the tie it is written as.
	cents := math.Round(v*100*1e6) / 1e6
	return math.RoundToEven(cents) / 100
}

// recalculateTotals recomputes every money field on a snapshot from its
// items and payments, per the totals algorithm: items not comped get
// their unit_price/line_total recomputed from list price, manual
// discount, and rule deltas; comped items contribute zero.
func recalculateTotals(s *types.OrderSnapshot) {
	var subtotal, discount, surcharge, mgDiscount, total float64

	for i := range s.Items {
		item := &s.Items[i]
		if item.IsComped {
			item.UnitPrice = round2(item.Price)
			item.LineTotal = 0
			continue
		}

		unitAfterManual := item.Price * (1 - item.ManualDiscountPercent/100)

		var ruleDelta, mgDelta float64
		for _, r := range item.AppliedRules {
			if r.Skipped {
				continue
			}
			ruleDelta += r.CalculatedAmount
		}
		for _, r := range item.AppliedMGRules {
			if r.Skipped {
				continue
			}
			mgDelta += r.CalculatedAmount
		}

		item.UnitPrice = round2(unitAfterManual)
		item.LineTotal = round2(item.UnitPrice*item.Quantity + ruleDelta + mgDelta)

		subtotal += item.Price * item.Quantity
		if ruleDelta < 0 {
			discount += -ruleDelta
		} else {
			surcharge += ruleDelta
		}
		if manualDelta := item.Price - unitAfterManual; manualDelta != 0 {
			discount += manualDelta * item.Quantity
		}
		mgDiscount += -mgDelta
		total += item.LineTotal
	}

	paid := 0.0
	for _, p := range s.Payments {
		if !p.Cancelled {
			paid += p.Amount
		}
	}

	s.SubtotalAmount = round2(subtotal)
	s.DiscountAmount = round2(discount)
	s.SurchargeAmount = round2(surcharge)
	s.MGDiscountAmount = round2(mgDiscount)
	s.Total = round2(total)
	s.PaidAmount = round2(paid)
	s.RemainingAmount = math.Max(0, round2(s.Total-s.PaidAmount))
}
