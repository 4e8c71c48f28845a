package domain

import (
	"math"

	"github.com/shopspring/decimal"
)

// MoneyScale is the number of decimal places money is stored with.
const MoneyScale = 2

// MaxMoney bounds any stored amount; columns are NUMERIC(14,2).
var MaxMoney = decimal.New(1, 12)

// ValidMoney reports whether d has at most MoneyScale decimal places and
// fits the storage columns.
func ValidMoney(d decimal.Decimal) bool {
	return d.Equal(d.Round(MoneyScale)) && d.Abs().LessThan(MaxMoney)
}

// TotalPieces converts a bundle/piece pair into loose pieces. ok is false
// when an input is negative or the result does not fit an int64.
func TotalPieces(bundles, pieces, piecesPerBundle int64) (total int64, ok bool) {
	if piecesPerBundle < 1 {
		piecesPerBundle = 1
	}
	if bundles < 0 || pieces < 0 {
		return 0, false
	}
	if bundles > 0 && bundles > (math.MaxInt64-pieces)/piecesPerBundle {
		return 0, false
	}
	return bundles*piecesPerBundle + pieces, true
}

// ClampZero floors a monetary value at zero.
func ClampZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// Settle derives net, paid and due amounts from the item total.
// linked is the sum of payments already applied against the sale.
func (s *Sale) Settle(discount, initialPaid, linked decimal.Decimal) {
	s.Discount = discount
	s.NetAmount = ClampZero(s.TotalAmount.Sub(discount))
	s.InitialPaid = initialPaid
	s.PaidAmount = initialPaid.Add(linked)
	s.DueAmount = ClampZero(s.NetAmount.Sub(s.PaidAmount))
}

// BilledDue is what the sale charged to the customer's running balance:
// the net amount not covered at entry. Linked payments reduce the
// balance on their own and are not part of it.
func (s Sale) BilledDue() decimal.Decimal {
	return ClampZero(s.NetAmount.Sub(s.InitialPaid))
}

// LinkedPaid is the part of PaidAmount contributed by payments.
func (s Sale) LinkedPaid() decimal.Decimal {
	return s.PaidAmount.Sub(s.InitialPaid)
}

func (r *SalesReturn) Settle(deduction decimal.Decimal) {
	r.Deduction = deduction
	r.GrandTotal = ClampZero(r.TotalAmount.Sub(deduction))
}
