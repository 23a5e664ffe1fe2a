package postgres

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/bookshop/internal/domain/discount"
	"github.com/xenking/bookshop/internal/domain/order"
)

const orderColumns = `id, user_id, subtotal, discount_amount, final_amount,
	bulk_discount, loyalty_discount, loyalty_milestone, status, claim_code, claim_code_used,
	COALESCE(fulfilled_by, ''), fulfilled_at, cancelled_at, created_at, updated_at`

const (
	getOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	lockOrderSQL = getOrderSQL + ` FOR UPDATE`

	lockOrderByClaimCodeSQL = `SELECT ` + orderColumns + ` FROM orders WHERE claim_code = $1 FOR UPDATE`

	getOrderItemsSQL = `SELECT order_id, COALESCE(book_id, ''), title, quantity, unit_price, unit_discount
		FROM order_items WHERE order_id = ANY($1) ORDER BY order_id, line`

	insertOrderSQL = `INSERT INTO orders (id, user_id, subtotal, discount_amount, final_amount,
		bulk_discount, loyalty_discount, loyalty_milestone, status, claim_code, claim_code_used,
		created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, FALSE, $11, $11)`

	updateOrderSQL = `UPDATE orders SET status = $2, claim_code_used = $3,
		fulfilled_by = NULLIF($4, ''), fulfilled_at = $5, cancelled_at = $6, updated_at = $7
		WHERE id = $1`

	lockCartLinesSQL = `SELECT c.quantity, ` + prefixedBookColumns + `
		FROM cart_items c JOIN books b ON b.id = c.book_id
		WHERE c.user_id = $1
		ORDER BY b.id
		FOR UPDATE OF b`

	lockBuyerSQL = `SELECT id, email, name, successful_orders, loyalty_discount_used
		FROM users WHERE id = $1 FOR UPDATE`

	saveLoyaltySQL = `UPDATE users SET successful_orders = $2, loyalty_discount_used = $3 WHERE id = $1`

	adjustStockSQL = `UPDATE books SET stock = stock + $2, version = version + 1, updated_at = now()
		WHERE id = $1 AND stock + $2 >= 0`

	bookStockSQL = `SELECT title, stock FROM books WHERE id = $1`

	claimCodeConstraint = "orders_claim_code_key"
)

var _ order.Store = (*OrderStore)(nil)

// OrderStore implements order.Store backed by PostgreSQL.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore returns an OrderStore that uses the given pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// InTx runs fn in a transaction, committing when it returns nil.
func (s *OrderStore) InTx(ctx context.Context, fn func(ctx context.Context, tx order.Tx) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(ctx, &orderTx{tx: tx})
	})
}

// Get returns an order with its items.
func (s *OrderStore) Get(ctx context.Context, id string) (*order.Order, error) {
	return getOrder(ctx, s.pool, getOrderSQL, id)
}

// List returns orders matching q, newest first.
func (s *OrderStore) List(ctx context.Context, q order.ListQuery) ([]order.Order, error) {
	var (
		where []string
		args  []any
	)
	if q.UserID != "" {
		args = append(args, q.UserID)
		where = append(where, "user_id = $"+strconv.Itoa(len(args)))
	}
	if q.Status != "" {
		args = append(args, string(q.Status))
		where = append(where, "status = $"+strconv.Itoa(len(args)))
	}
	sql := `SELECT ` + orderColumns + ` FROM orders`
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	sql += " ORDER BY created_at DESC, id"
	if q.Limit > 0 {
		args = append(args, q.Limit)
		sql += " LIMIT $" + strconv.Itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	if err := loadItems(ctx, s.pool, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func getOrder(ctx context.Context, q querier, sql, arg string) (*order.Order, error) {
	rows, err := q.Query(ctx, sql, arg)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", arg, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", arg, err)
	}
	orders := []order.Order{o}
	if err := loadItems(ctx, q, orders); err != nil {
		return nil, err
	}
	return &orders[0], nil
}

func loadItems(ctx context.Context, q querier, orders []order.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]string, len(orders))
	index := make(map[string]int, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
		index[o.ID] = i
	}

	rows, err := q.Query(ctx, getOrderItemsSQL, ids)
	if err != nil {
		return fmt.Errorf("getting order items: %w", err)
	}
	var (
		orderID string
		it      order.Item
	)
	_, err = pgx.ForEachRow(rows, []any{
		&orderID, &it.BookID, &it.Title, &it.Quantity, &it.UnitPrice, &it.UnitDiscount,
	}, func() error {
		i := index[orderID]
		orders[i].Items = append(orders[i].Items, it)
		return nil
	})
	if err != nil {
		return fmt.Errorf("getting order items: %w", err)
	}
	return nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o      order.Order
		status string
	)
	err := row.Scan(
		&o.ID, &o.UserID, &o.Subtotal, &o.DiscountAmount, &o.FinalAmount,
		&o.BulkDiscount, &o.LoyaltyDiscount, &o.LoyaltyMilestone, &status, &o.ClaimCode, &o.ClaimCodeUsed,
		&o.FulfilledBy, &o.FulfilledAt, &o.CancelledAt, &o.CreatedAt, &o.UpdatedAt,
	)
	o.Status = order.Status(status)
	return o, err
}

// orderTx implements order.Tx on a pgx transaction.
type orderTx struct {
	tx pgx.Tx
}

func (t *orderTx) CartLines(ctx context.Context, userID string) ([]discount.Line, error) {
	rows, err := t.tx.Query(ctx, lockCartLinesSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("locking cart for %q: %w", userID, err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (discount.Line, error) {
		var l discount.Line
		b := &l.Book
		err := row.Scan(
			&l.Quantity,
			&b.ID, &b.ISBN, &b.Title, &b.Author, &b.Description, &b.Genre, &b.CoverURL,
			&b.Price, &b.Stock, &b.Sale.OnSale, &b.Sale.Percent, &b.Sale.Start, &b.Sale.End,
			&b.Version, &b.CreatedAt, &b.UpdatedAt,
		)
		return l, err
	})
}

func (t *orderTx) Buyer(ctx context.Context, userID string) (*order.Buyer, error) {
	var b order.Buyer
	err := t.tx.QueryRow(ctx, lockBuyerSQL, userID).Scan(
		&b.UserID, &b.Email, &b.Name, &b.Loyalty.SuccessfulOrders, &b.Loyalty.DiscountUsed,
	)
	if err != nil {
		return nil, fmt.Errorf("locking user %q: %w", userID, err)
	}
	return &b, nil
}

func (t *orderTx) SaveLoyalty(ctx context.Context, userID string, l discount.Loyalty) error {
	if _, err := t.tx.Exec(ctx, saveLoyaltySQL, userID, l.SuccessfulOrders, l.DiscountUsed); err != nil {
		return fmt.Errorf("saving loyalty for %q: %w", userID, err)
	}
	return nil
}

// AdjustStock changes stock by delta. Books deleted since the order was
// placed are skipped.
func (t *orderTx) AdjustStock(ctx context.Context, bookID string, delta int) error {
	if bookID == "" {
		return nil
	}
	tag, err := t.tx.Exec(ctx, adjustStockSQL, bookID, delta)
	if err != nil {
		return fmt.Errorf("adjusting stock for %q: %w", bookID, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var (
		title string
		stock int
	)
	err = t.tx.QueryRow(ctx, bookStockSQL, bookID).Scan(&title, &stock)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil
	case err != nil:
		return fmt.Errorf("reading stock for %q: %w", bookID, err)
	}
	return &order.InsufficientStockError{
		BookID:    bookID,
		Title:     title,
		Requested: -delta,
		Available: stock,
	}
}

func (t *orderTx) Insert(ctx context.Context, o *order.Order) error {
	_, err := t.tx.Exec(ctx, insertOrderSQL,
		o.ID, o.UserID, o.Subtotal, o.DiscountAmount, o.FinalAmount,
		o.BulkDiscount, o.LoyaltyDiscount, o.LoyaltyMilestone, string(o.Status), o.ClaimCode, o.CreatedAt,
	)
	if err != nil {
		if name, ok := uniqueConstraint(err); ok && name == claimCodeConstraint {
			return order.ErrClaimCodeTaken
		}
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}

	rows := make([][]any, len(o.Items))
	for i, it := range o.Items {
		rows[i] = []any{o.ID, i + 1, it.BookID, it.Title, it.Quantity, it.UnitPrice, it.UnitDiscount}
	}
	_, err = t.tx.CopyFrom(ctx,
		pgx.Identifier{"order_items"},
		[]string{"order_id", "line", "book_id", "title", "quantity", "unit_price", "unit_discount"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("creating items for order %q: %w", o.ID, err)
	}
	return nil
}

func (t *orderTx) ClearCart(ctx context.Context, userID string) error {
	if _, err := t.tx.Exec(ctx, clearCartSQL, userID); err != nil {
		return fmt.Errorf("clearing cart for %q: %w", userID, err)
	}
	return nil
}

func (t *orderTx) Lock(ctx context.Context, id string) (*order.Order, error) {
	return getOrder(ctx, t.tx, lockOrderSQL, id)
}

func (t *orderTx) LockByClaimCode(ctx context.Context, code string) (*order.Order, error) {
	o, err := getOrder(ctx, t.tx, lockOrderByClaimCodeSQL, code)
	if errors.Is(err, order.ErrNotFound) {
		return nil, order.ErrClaimCodeNotFound
	}
	return o, err
}

func (t *orderTx) Update(ctx context.Context, o *order.Order) error {
	_, err := t.tx.Exec(ctx, updateOrderSQL,
		o.ID, string(o.Status), o.ClaimCodeUsed, o.FulfilledBy,
		o.FulfilledAt, o.CancelledAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("updating order %q: %w", o.ID, err)
	}
	return nil
}
