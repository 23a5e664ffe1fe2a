package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xenking/bookshop/internal/domain/book"
)

func TestListBooksQuery(t *testing.T) {
	tests := []struct {
		name      string
		q         book.Query
		wantWhere string
		wantArgs  []any
	}{
		{
			name:     "no filters",
			wantArgs: nil,
		},
		{
			name:      "search escapes wildcards",
			q:         book.Query{Search: " 100%_done "},
			wantWhere: "(title ILIKE $1 OR author ILIKE $1 OR isbn ILIKE $1)",
			wantArgs:  []any{`%100\%\_done%`},
		},
		{
			name:      "genre author and paging",
			q:         book.Query{Genre: "sci-fi", Author: "Herbert", Limit: 10, Offset: 20},
			wantWhere: "genre = $1 AND author ILIKE $2",
			wantArgs:  []any{"sci-fi", "Herbert", 10, 20},
		},
		{
			name:      "on sale",
			q:         book.Query{OnSale: true},
			wantWhere: "on_sale AND discount_percent IS NOT NULL",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args := listBooksQuery(tt.q)
			if tt.wantWhere == "" {
				assert.NotContains(t, sql, "WHERE")
			} else {
				assert.Contains(t, sql, "WHERE "+tt.wantWhere)
			}
			assert.Equal(t, tt.wantArgs, args)
			assert.Contains(t, sql, "ORDER BY title, id")
			if tt.q.Limit > 0 {
				assert.Contains(t, sql, "LIMIT $3 OFFSET $4")
			}
		})
	}
}
