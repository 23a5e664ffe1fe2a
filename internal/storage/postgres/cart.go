package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/bookshop/internal/domain/cart"
)

const (
	cartLinesSQL = `SELECT c.user_id, c.book_id, c.quantity, c.added_at, ` + prefixedBookColumns + `
		FROM cart_items c JOIN books b ON b.id = c.book_id
		WHERE c.user_id = $1 ORDER BY c.added_at, c.book_id`

	getCartItemSQL = `SELECT user_id, book_id, quantity, added_at
		FROM cart_items WHERE user_id = $1 AND book_id = $2`

	putCartItemSQL = `INSERT INTO cart_items (user_id, book_id, quantity, added_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, book_id) DO UPDATE SET quantity = EXCLUDED.quantity`

	removeCartItemSQL = `DELETE FROM cart_items WHERE user_id = $1 AND book_id = $2`

	clearCartSQL = `DELETE FROM cart_items WHERE user_id = $1`
)

// prefixedBookColumns selects bookColumns from a books table aliased as b.
const prefixedBookColumns = `b.id, COALESCE(b.isbn, ''), b.title, b.author, b.description, b.genre,
	b.cover_url, b.price, b.stock, b.on_sale, b.discount_percent, b.discount_start,
	b.discount_end, b.version, b.created_at, b.updated_at`

var _ cart.Repository = (*CartRepository)(nil)

// CartRepository implements cart.Repository backed by PostgreSQL.
type CartRepository struct {
	pool *pgxpool.Pool
}

// NewCartRepository returns a CartRepository that uses the given pool.
func NewCartRepository(pool *pgxpool.Pool) *CartRepository {
	return &CartRepository{pool: pool}
}

// Lines returns the user's cart joined with the books it holds.
func (r *CartRepository) Lines(ctx context.Context, userID string) ([]cart.Line, error) {
	rows, err := r.pool.Query(ctx, cartLinesSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("listing cart for %q: %w", userID, err)
	}
	return pgx.CollectRows(rows, scanCartLine)
}

// Get returns one cart item.
func (r *CartRepository) Get(ctx context.Context, userID, bookID string) (*cart.Item, error) {
	var it cart.Item
	err := r.pool.QueryRow(ctx, getCartItemSQL, userID, bookID).Scan(
		&it.UserID, &it.BookID, &it.Quantity, &it.AddedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, cart.ErrNotFound
		}
		return nil, fmt.Errorf("getting cart item %q: %w", bookID, err)
	}
	return &it, nil
}

// Put inserts the item or overwrites its quantity.
func (r *CartRepository) Put(ctx context.Context, it *cart.Item) error {
	if _, err := r.pool.Exec(ctx, putCartItemSQL, it.UserID, it.BookID, it.Quantity, it.AddedAt); err != nil {
		return fmt.Errorf("putting cart item %q: %w", it.BookID, err)
	}
	return nil
}

// Remove deletes one item.
func (r *CartRepository) Remove(ctx context.Context, userID, bookID string) error {
	tag, err := r.pool.Exec(ctx, removeCartItemSQL, userID, bookID)
	if err != nil {
		return fmt.Errorf("removing cart item %q: %w", bookID, err)
	}
	if tag.RowsAffected() == 0 {
		return cart.ErrNotFound
	}
	return nil
}

// Clear empties the user's cart.
func (r *CartRepository) Clear(ctx context.Context, userID string) error {
	if _, err := r.pool.Exec(ctx, clearCartSQL, userID); err != nil {
		return fmt.Errorf("clearing cart for %q: %w", userID, err)
	}
	return nil
}

func scanCartLine(row pgx.CollectableRow) (cart.Line, error) {
	var l cart.Line
	b := &l.Book
	err := row.Scan(
		&l.UserID, &l.BookID, &l.Quantity, &l.AddedAt,
		&b.ID, &b.ISBN, &b.Title, &b.Author, &b.Description, &b.Genre, &b.CoverURL,
		&b.Price, &b.Stock, &b.Sale.OnSale, &b.Sale.Percent, &b.Sale.Start, &b.Sale.End,
		&b.Version, &b.CreatedAt, &b.UpdatedAt,
	)
	return l, err
}
