package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/bookshop/internal/domain/discount"
)

// Status is the lifecycle state of an order.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

var (
	ErrEmptyCart = errors.New("cart is empty")
	ErrNotFound  = errors.New("order not found")
	// ErrForbidden is returned when a non-privileged actor touches another
	// user's order.
	ErrForbidden = errors.New("order belongs to another user")
	// ErrClaimCodeTaken is returned by Tx.Insert when the generated claim code
	// collides with an existing one.
	ErrClaimCodeTaken    = errors.New("claim code already issued")
	ErrClaimCodeNotFound = errors.New("claim code not found")
	ErrClaimCodeUsed     = errors.New("claim code already used")
)

// InsufficientStockError reports a cart line that asks for more copies than
// are on the shelf.
type InsufficientStockError struct {
	BookID    string
	Title     string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %q: requested %d, available %d", e.Title, e.Requested, e.Available)
}

// TransitionError reports a status change the state machine does not allow.
type TransitionError struct {
	OrderID string
	From    Status
	To      Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("order %s cannot move from %s to %s", e.OrderID, e.From, e.To)
}

// Order is a placed order with totals frozen at placement time.
type Order struct {
	ID              string
	UserID          string
	Items           []Item
	Subtotal        decimal.Decimal
	DiscountAmount  decimal.Decimal
	FinalAmount     decimal.Decimal
	BulkDiscount    bool
	LoyaltyDiscount bool
	// LoyaltyMilestone is the collected-order count whose discount this
	// order spent. Zero when no loyalty discount applied.
	LoyaltyMilestone int
	Status           Status
	ClaimCode        string
	ClaimCodeUsed    bool
	FulfilledBy      string
	FulfilledAt      *time.Time
	CancelledAt      *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Item is an immutable snapshot of one purchased book.
type Item struct {
	BookID       string
	Title        string
	Quantity     int
	UnitPrice    decimal.Decimal
	UnitDiscount decimal.Decimal
}

// Total is what the buyer pays for the line before order-level discounts.
func (i Item) Total() decimal.Decimal {
	return i.UnitPrice.Sub(i.UnitDiscount).Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Buyer is the account placing or collecting an order.
type Buyer struct {
	UserID  string
	Email   string
	Name    string
	Loyalty discount.Loyalty
}

// Actor identifies who is acting on an order. Privileged actors (staff and
// admins) may act on any order.
type Actor struct {
	UserID     string
	Privileged bool
}

func (a Actor) canAccess(o *Order) bool {
	return a.Privileged || a.UserID == o.UserID
}

// ListQuery filters order listings.
type ListQuery struct {
	UserID string
	Status Status
	Limit  int
}

// Tx is the set of operations available inside an order transaction. Reads
// that precede a write lock the rows they return.
type Tx interface {
	// CartLines returns the user's cart joined with live book rows, locking
	// the books in id order.
	CartLines(ctx context.Context, userID string) ([]discount.Line, error)
	Buyer(ctx context.Context, userID string) (*Buyer, error)
	SaveLoyalty(ctx context.Context, userID string, l discount.Loyalty) error
	// AdjustStock adds delta to a book's stock. Negative deltas fail with
	// *InsufficientStockError rather than driving stock below zero.
	AdjustStock(ctx context.Context, bookID string, delta int) error
	Insert(ctx context.Context, o *Order) error
	ClearCart(ctx context.Context, userID string) error
	Lock(ctx context.Context, id string) (*Order, error)
	LockByClaimCode(ctx context.Context, code string) (*Order, error)
	Update(ctx context.Context, o *Order) error
}

// Store persists orders. InTx commits when fn returns nil and rolls back
// otherwise.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Get(ctx context.Context, id string) (*Order, error)
	List(ctx context.Context, q ListQuery) ([]Order, error)
}

// EventKind names an order lifecycle event.
type EventKind string

const (
	EventPlaced    EventKind = "order.placed"
	EventFulfilled EventKind = "order.fulfilled"
)

// Event is emitted after an order transaction commits.
type Event struct {
	Kind  EventKind
	Order Order
	Buyer Buyer
	At    time.Time
}

// Publisher hands events to the notification fan-out.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}
