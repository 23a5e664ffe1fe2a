package discount

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/bookshop/internal/domain/book"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

var now = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func newBook(id, price string) book.Book {
	return book.Book{ID: id, Title: "Book " + id, Author: "A", Price: d(price), Stock: 100}
}

func TestEvaluate(t *testing.T) {
	onSale := newBook("s", "20")
	onSale.Sale = book.Sale{OnSale: true, Percent: decimal.NewNullDecimal(d("25"))}

	tests := []struct {
		name         string
		lines        []Line
		loyalty      Loyalty
		wantSubtotal string
		wantDiscount string
		wantFinal    string
		wantBulk     bool
		wantLoyalty  bool
	}{
		{
			name:         "five copies earn the bulk rate",
			lines:        []Line{{Book: newBook("a", "10"), Quantity: 5}},
			wantSubtotal: "50",
			wantDiscount: "2.50",
			wantFinal:    "47.50",
			wantBulk:     true,
		},
		{
			name:         "four copies do not",
			lines:        []Line{{Book: newBook("a", "10"), Quantity: 4}},
			wantSubtotal: "40",
			wantDiscount: "0",
			wantFinal:    "40",
		},
		{
			name: "bulk threshold counts across lines",
			lines: []Line{
				{Book: newBook("a", "10"), Quantity: 2},
				{Book: newBook("b", "7.50"), Quantity: 3},
			},
			wantSubtotal: "42.50",
			wantDiscount: "2.13",
			wantFinal:    "40.37",
			wantBulk:     true,
		},
		{
			name:         "loyalty milestone",
			lines:        []Line{{Book: newBook("a", "30"), Quantity: 1}},
			loyalty:      Loyalty{SuccessfulOrders: 10},
			wantSubtotal: "30",
			wantDiscount: "3",
			wantFinal:    "27",
			wantLoyalty:  true,
		},
		{
			name:         "bulk and loyalty add up",
			lines:        []Line{{Book: newBook("a", "10"), Quantity: 5}},
			loyalty:      Loyalty{SuccessfulOrders: 20},
			wantSubtotal: "50",
			wantDiscount: "7.50",
			wantFinal:    "42.50",
			wantBulk:     true,
			wantLoyalty:  true,
		},
		{
			name:         "consumed milestone",
			lines:        []Line{{Book: newBook("a", "30"), Quantity: 1}},
			loyalty:      Loyalty{SuccessfulOrders: 10, DiscountUsed: true},
			wantSubtotal: "30",
			wantDiscount: "0",
			wantFinal:    "30",
		},
		{
			name:         "sale price feeds the subtotal",
			lines:        []Line{{Book: onSale, Quantity: 2}},
			wantSubtotal: "30",
			wantDiscount: "0",
			wantFinal:    "30",
		},
		{
			name:         "empty basket",
			lines:        nil,
			wantSubtotal: "0",
			wantDiscount: "0",
			wantFinal:    "0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := Evaluate(tt.lines, tt.loyalty, now)

			assert.True(t, d(tt.wantSubtotal).Equal(q.Subtotal), "subtotal: want %s, got %s", tt.wantSubtotal, q.Subtotal)
			assert.True(t, d(tt.wantDiscount).Equal(q.DiscountAmount), "discount: want %s, got %s", tt.wantDiscount, q.DiscountAmount)
			assert.True(t, d(tt.wantFinal).Equal(q.FinalAmount), "final: want %s, got %s", tt.wantFinal, q.FinalAmount)
			assert.Equal(t, tt.wantBulk, q.BulkApplied)
			assert.Equal(t, tt.wantLoyalty, q.LoyaltyApplied)
			assert.True(t, q.FinalAmount.Equal(q.Subtotal.Sub(q.DiscountAmount)))
			assert.True(t, q.DiscountAmount.Equal(q.Subtotal.Mul(q.Rate).Round(2)))
		})
	}
}

func TestEvaluate_FreezesLinePrices(t *testing.T) {
	b := newBook("a", "20")
	b.Sale = book.Sale{OnSale: true, Percent: decimal.NewNullDecimal(d("10"))}

	q := Evaluate([]Line{{Book: b, Quantity: 3}}, Loyalty{}, now)
	require.Len(t, q.Lines, 1)

	line := q.Lines[0]
	assert.Equal(t, "a", line.BookID)
	assert.True(t, d("20").Equal(line.ListPrice))
	assert.True(t, d("18").Equal(line.UnitPrice))
	assert.True(t, d("2").Equal(line.UnitDiscount))
	assert.True(t, d("54").Equal(line.Total))
	assert.Equal(t, 3, q.Quantity)
}

func TestEvaluate_ConsumesLoyaltyWithoutMutatingInput(t *testing.T) {
	in := Loyalty{SuccessfulOrders: 30}

	q := Evaluate([]Line{{Book: newBook("a", "5"), Quantity: 1}}, in, now)

	assert.True(t, q.LoyaltyApplied)
	assert.Equal(t, Loyalty{SuccessfulOrders: 30, DiscountUsed: true}, q.Loyalty)
	assert.Equal(t, Loyalty{SuccessfulOrders: 30}, in)
}

func TestLoyaltyEligible(t *testing.T) {
	tests := []struct {
		loyalty Loyalty
		want    bool
	}{
		{Loyalty{SuccessfulOrders: 0}, false},
		{Loyalty{SuccessfulOrders: 9}, false},
		{Loyalty{SuccessfulOrders: 10}, true},
		{Loyalty{SuccessfulOrders: 10, DiscountUsed: true}, false},
		{Loyalty{SuccessfulOrders: 11}, false},
		{Loyalty{SuccessfulOrders: 40}, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.loyalty.Eligible(), "%+v", tt.loyalty)
	}
}

func TestLoyaltyFulfilled(t *testing.T) {
	l := Loyalty{SuccessfulOrders: 9, DiscountUsed: true}

	l = l.Fulfilled()
	assert.Equal(t, Loyalty{SuccessfulOrders: 10, DiscountUsed: false}, l)

	l.DiscountUsed = true
	l = l.Fulfilled()
	assert.Equal(t, Loyalty{SuccessfulOrders: 11, DiscountUsed: true}, l, "flag stays consumed between milestones")
}

func TestLoyaltyRefunded(t *testing.T) {
	tests := []struct {
		name      string
		loyalty   Loyalty
		milestone int
		want      Loyalty
		ok        bool
	}{
		{"same milestone", Loyalty{SuccessfulOrders: 10, DiscountUsed: true}, 10, Loyalty{SuccessfulOrders: 10}, true},
		{"later milestone spent", Loyalty{SuccessfulOrders: 20, DiscountUsed: true}, 10, Loyalty{SuccessfulOrders: 20, DiscountUsed: true}, false},
		{"moved past milestone", Loyalty{SuccessfulOrders: 11, DiscountUsed: true}, 10, Loyalty{SuccessfulOrders: 11, DiscountUsed: true}, false},
		{"nothing spent", Loyalty{SuccessfulOrders: 10}, 10, Loyalty{SuccessfulOrders: 10}, false},
		{"no milestone", Loyalty{SuccessfulOrders: 0, DiscountUsed: true}, 0, Loyalty{DiscountUsed: true}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.loyalty.Refunded(tt.milestone)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
