package book

import (
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/bookshop/internal/validation"
)

func pct(v string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(v))
}

func TestPriceAt(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	before := now.Add(-time.Hour)
	after := now.Add(time.Hour)

	tests := []struct {
		name string
		sale Sale
		want string
	}{
		{name: "no sale", sale: Sale{}, want: "20"},
		{name: "flag without window", sale: Sale{OnSale: true, Percent: pct("25")}, want: "15"},
		{name: "inside window", sale: Sale{OnSale: true, Percent: pct("10"), Start: &before, End: &after}, want: "18"},
		{name: "flag off inside window", sale: Sale{OnSale: false, Percent: pct("10"), Start: &before, End: &after}, want: "20"},
		{name: "window not started", sale: Sale{OnSale: true, Percent: pct("10"), Start: &after}, want: "20"},
		{name: "window ended", sale: Sale{OnSale: true, Percent: pct("10"), End: &before}, want: "20"},
		{name: "open start, end ahead", sale: Sale{OnSale: true, Percent: pct("10"), End: &after}, want: "18"},
		{name: "started, open end", sale: Sale{OnSale: true, Percent: pct("10"), Start: &before}, want: "18"},
		{name: "window bounds inclusive", sale: Sale{OnSale: true, Percent: pct("50"), Start: &now, End: &now}, want: "10"},
		{name: "missing percent", sale: Sale{OnSale: true}, want: "20"},
		{name: "rounds to cents", sale: Sale{OnSale: true, Percent: pct("33.33")}, want: "13.33"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := Book{Price: decimal.NewFromInt(20), Sale: tt.sale}
			got := b.PriceAt(now)
			assert.True(t, decimal.RequireFromString(tt.want).Equal(got), "want %s, got %s", tt.want, got)
		})
	}
}

func TestValidate(t *testing.T) {
	start := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	end := start.Add(-time.Hour)

	b := Book{
		Price: decimal.NewFromInt(-1),
		Stock: -2,
		Sale:  Sale{OnSale: true, Start: &start, End: &end},
	}

	err := b.Validate()
	var vErr *validation.Error
	require.True(t, errors.As(err, &vErr))
	assert.Contains(t, vErr.Fields, "title")
	assert.Contains(t, vErr.Fields, "author")
	assert.Contains(t, vErr.Fields, "price")
	assert.Contains(t, vErr.Fields, "stock")
	assert.Contains(t, vErr.Fields, "discountPercent")
	assert.Contains(t, vErr.Fields, "discountEnd")

	ok := Book{Title: "Dune", Author: "Frank Herbert", Price: decimal.NewFromInt(12), Stock: 3}
	assert.NoError(t, ok.Validate())
}
