package book

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/bookshop/internal/validation"
)

var (
	// ErrNotFound is returned when a requested book does not exist.
	ErrNotFound = errors.New("book not found")
	// ErrConflict is returned when an update targets a stale version of a book
	// that still exists.
	ErrConflict = errors.New("book was modified concurrently")
	// ErrDuplicateISBN is returned when another book already uses the ISBN.
	ErrDuplicateISBN = errors.New("isbn already exists")
)

var hundred = decimal.NewFromInt(100)

// Book is a catalog entry available for purchase.
type Book struct {
	ID          string
	ISBN        string
	Title       string
	Author      string
	Description string
	Genre       string
	CoverURL    string
	Price       decimal.Decimal
	Stock       int
	Sale        Sale
	Version     int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Sale describes an optional time-boxed price reduction.
type Sale struct {
	OnSale  bool
	Percent decimal.NullDecimal
	Start   *time.Time
	End     *time.Time
}

// ActiveAt reports whether the sale price applies at the given instant.
// A missing window bound is treated as open-ended.
func (s Sale) ActiveAt(now time.Time) bool {
	if !s.OnSale || !s.Percent.Valid {
		return false
	}
	if !s.Percent.Decimal.IsPositive() || s.Percent.Decimal.GreaterThan(hundred) {
		return false
	}
	if s.Start != nil && now.Before(*s.Start) {
		return false
	}
	if s.End != nil && now.After(*s.End) {
		return false
	}
	return true
}

// PriceAt returns the unit price a buyer pays at the given instant.
func (b Book) PriceAt(now time.Time) decimal.Decimal {
	if !b.Sale.ActiveAt(now) {
		return b.Price
	}
	off := b.Price.Mul(b.Sale.Percent.Decimal).Div(hundred)
	return b.Price.Sub(off).Round(2)
}

// Validate checks the fields an admin may set when creating or editing a book.
func (b Book) Validate() error {
	errs := validation.Errors{}
	errs.Check(strings.TrimSpace(b.Title) != "", "title", "required")
	errs.Check(strings.TrimSpace(b.Author) != "", "author", "required")
	errs.Check(!b.Price.IsNegative(), "price", "must not be negative")
	errs.Check(b.Stock >= 0, "stock", "must not be negative")
	if p := b.Sale.Percent; p.Valid {
		errs.Check(p.Decimal.IsPositive() && p.Decimal.LessThanOrEqual(hundred),
			"discountPercent", "must be greater than 0 and at most 100")
	}
	if b.Sale.OnSale {
		errs.Check(b.Sale.Percent.Valid, "discountPercent", "required when the book is on sale")
	}
	if b.Sale.Start != nil && b.Sale.End != nil {
		errs.Check(!b.Sale.End.Before(*b.Sale.Start), "discountEnd", "must not be before discountStart")
	}
	return errs.Err()
}

// Query filters and pages catalog listings.
type Query struct {
	Search string
	Genre  string
	Author string
	OnSale bool
	Limit  int
	Offset int
}

// Repository defines persistence operations for the catalog.
type Repository interface {
	List(ctx context.Context, q Query) ([]Book, error)
	GetByID(ctx context.Context, id string) (*Book, error)
	GetByIDs(ctx context.Context, ids []string) ([]Book, error)
	Create(ctx context.Context, b *Book) error
	// Update applies b if its Version matches the stored row and bumps the
	// version. It returns ErrConflict when the row exists with another version.
	Update(ctx context.Context, b *Book) error
	Delete(ctx context.Context, id string) error
	SetCover(ctx context.Context, id, url string) error
	UpsertByISBN(ctx context.Context, b *Book) error
}
