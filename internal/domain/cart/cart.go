// Package cart manages per-user shopping carts.
package cart

import (
	"context"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/bookshop/internal/domain/book"
	"github.com/xenking/bookshop/internal/domain/discount"
	"github.com/xenking/bookshop/internal/validation"
)

var (
	ErrNotFound   = errors.New("cart item not found")
	ErrOutOfStock = errors.New("book is out of stock")
)

// Item is one (user, book) entry. A user holds at most one item per book.
type Item struct {
	UserID   string
	BookID   string
	Quantity int
	AddedAt  time.Time
}

// Line is an item joined with the current state of its book.
type Line struct {
	Item
	Book book.Book
}

// Repository persists cart items.
type Repository interface {
	Lines(ctx context.Context, userID string) ([]Line, error)
	// Get returns ErrNotFound when the user has no item for the book.
	Get(ctx context.Context, userID, bookID string) (*Item, error)
	// Put inserts the item or overwrites the quantity of an existing one.
	Put(ctx context.Context, it *Item) error
	Remove(ctx context.Context, userID, bookID string) error
	Clear(ctx context.Context, userID string) error
}

// LoyaltyReader returns a user's current loyalty state.
type LoyaltyReader interface {
	Loyalty(ctx context.Context, userID string) (discount.Loyalty, error)
}

// View is the cart with a price preview.
type View struct {
	Lines []Line
	Quote discount.Quote
}

// Service applies cart rules on top of a Repository.
type Service struct {
	items   Repository
	books   book.Repository
	loyalty LoyaltyReader
	now     func() time.Time
}

func NewService(items Repository, books book.Repository, loyalty LoyaltyReader) *Service {
	return &Service{
		items:   items,
		books:   books,
		loyalty: loyalty,
		now:     time.Now,
	}
}

// Add puts qty copies of a book in the cart, on top of any already there.
// The resulting quantity is capped at the book's stock.
func (s *Service) Add(ctx context.Context, userID, bookID string, qty int) (*Item, error) {
	if err := checkQuantity(qty); err != nil {
		return nil, err
	}
	b, err := s.inStock(ctx, bookID)
	if err != nil {
		return nil, err
	}

	it, err := s.items.Get(ctx, userID, bookID)
	switch {
	case errors.Is(err, ErrNotFound):
		it = &Item{UserID: userID, BookID: bookID, AddedAt: s.now().UTC()}
	case err != nil:
		return nil, errors.Wrap(err, "get cart item")
	}
	if qty > b.Stock-it.Quantity {
		it.Quantity = b.Stock
	} else {
		it.Quantity += qty
	}

	if err := s.items.Put(ctx, it); err != nil {
		return nil, errors.Wrap(err, "put cart item")
	}
	return it, nil
}

// Update sets the quantity of an existing item, capped at stock.
func (s *Service) Update(ctx context.Context, userID, bookID string, qty int) (*Item, error) {
	if err := checkQuantity(qty); err != nil {
		return nil, err
	}
	it, err := s.items.Get(ctx, userID, bookID)
	if err != nil {
		return nil, err
	}
	b, err := s.inStock(ctx, bookID)
	if err != nil {
		return nil, err
	}
	it.Quantity = min(qty, b.Stock)

	if err := s.items.Put(ctx, it); err != nil {
		return nil, errors.Wrap(err, "put cart item")
	}
	return it, nil
}

func (s *Service) Remove(ctx context.Context, userID, bookID string) error {
	return s.items.Remove(ctx, userID, bookID)
}

func (s *Service) Clear(ctx context.Context, userID string) error {
	return s.items.Clear(ctx, userID)
}

// View returns the cart priced as it would be ordered right now.
func (s *Service) View(ctx context.Context, userID string) (*View, error) {
	lines, err := s.items.Lines(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "list cart")
	}
	loyalty, err := s.loyalty.Loyalty(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "get loyalty")
	}

	in := make([]discount.Line, len(lines))
	for i, l := range lines {
		in[i] = discount.Line{Book: l.Book, Quantity: l.Quantity}
	}
	return &View{
		Lines: lines,
		Quote: discount.Evaluate(in, loyalty, s.now().UTC()),
	}, nil
}

func (s *Service) inStock(ctx context.Context, bookID string) (*book.Book, error) {
	b, err := s.books.GetByID(ctx, bookID)
	if err != nil {
		return nil, err
	}
	if b.Stock <= 0 {
		return nil, ErrOutOfStock
	}
	return b, nil
}

func checkQuantity(qty int) error {
	errs := validation.Errors{}
	errs.Check(qty >= 1, "quantity", "must be at least 1")
	return errs.Err()
}
