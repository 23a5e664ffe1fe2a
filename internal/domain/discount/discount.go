// Package discount prices a basket of books. It is a pure computation over
// the snapshots it is given: sale prices come from the books themselves, the
// bulk and loyalty rates from the basket size and the buyer's loyalty state.
package discount

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/bookshop/internal/domain/book"
)

const (
	// BulkThreshold is the total quantity at which the bulk rate applies.
	BulkThreshold = 5
	// LoyaltyMilestone is the completed-order interval that earns the loyalty rate.
	LoyaltyMilestone = 10
)

var (
	// BulkRate is the fraction taken off the subtotal for bulk orders.
	BulkRate = decimal.RequireFromString("0.05")
	// LoyaltyRate is the fraction taken off the subtotal at a loyalty milestone.
	LoyaltyRate = decimal.RequireFromString("0.10")
)

// Loyalty is a buyer's loyalty state: how many orders they have collected and
// whether the discount for the current milestone has been spent.
type Loyalty struct {
	SuccessfulOrders int
	DiscountUsed     bool
}

// Eligible reports whether the next order earns the loyalty rate.
func (l Loyalty) Eligible() bool {
	return l.SuccessfulOrders > 0 &&
		l.SuccessfulOrders%LoyaltyMilestone == 0 &&
		!l.DiscountUsed
}

// Fulfilled returns the state after one more order has been collected.
// Reaching a new milestone makes the loyalty discount available again.
func (l Loyalty) Fulfilled() Loyalty {
	l.SuccessfulOrders++
	if l.SuccessfulOrders%LoyaltyMilestone == 0 {
		l.DiscountUsed = false
	}
	return l
}

// Refunded returns the state after an order that spent the discount at
// milestone is cancelled. The discount comes back only while the buyer is
// still at that milestone.
func (l Loyalty) Refunded(milestone int) (Loyalty, bool) {
	if !l.DiscountUsed || milestone <= 0 || l.SuccessfulOrders != milestone {
		return l, false
	}
	l.DiscountUsed = false
	return l, true
}

// Line is one basket entry.
type Line struct {
	Book     book.Book
	Quantity int
}

// PricedLine is a basket entry with its frozen prices.
type PricedLine struct {
	BookID       string
	Title        string
	Quantity     int
	ListPrice    decimal.Decimal
	UnitDiscount decimal.Decimal
	UnitPrice    decimal.Decimal
	Total        decimal.Decimal
}

// Quote is the result of pricing a basket.
type Quote struct {
	Lines          []PricedLine
	Quantity       int
	Subtotal       decimal.Decimal
	Rate           decimal.Decimal
	DiscountAmount decimal.Decimal
	FinalAmount    decimal.Decimal
	BulkApplied    bool
	LoyaltyApplied bool
	// Loyalty is the buyer's state once this basket is ordered.
	Loyalty Loyalty
}

// Evaluate prices lines at instant now for a buyer with the given loyalty state.
// Bulk and loyalty rates are added together and applied once to the subtotal.
func Evaluate(lines []Line, loyalty Loyalty, now time.Time) Quote {
	q := Quote{
		Lines:   make([]PricedLine, len(lines)),
		Rate:    decimal.Zero,
		Loyalty: loyalty,
	}

	subtotal := decimal.Zero
	for i, l := range lines {
		unit := l.Book.PriceAt(now)
		total := unit.Mul(decimal.NewFromInt(int64(l.Quantity)))

		q.Lines[i] = PricedLine{
			BookID:       l.Book.ID,
			Title:        l.Book.Title,
			Quantity:     l.Quantity,
			ListPrice:    l.Book.Price,
			UnitDiscount: l.Book.Price.Sub(unit),
			UnitPrice:    unit,
			Total:        total,
		}
		q.Quantity += l.Quantity
		subtotal = subtotal.Add(total)
	}

	if q.Quantity >= BulkThreshold {
		q.BulkApplied = true
		q.Rate = q.Rate.Add(BulkRate)
	}
	if loyalty.Eligible() {
		q.LoyaltyApplied = true
		q.Rate = q.Rate.Add(LoyaltyRate)
		q.Loyalty.DiscountUsed = true
	}

	q.Subtotal = subtotal.Round(2)
	q.DiscountAmount = q.Subtotal.Mul(q.Rate).Round(2)
	q.FinalAmount = q.Subtotal.Sub(q.DiscountAmount)
	return q
}
