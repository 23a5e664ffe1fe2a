package postgres

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/bookshop/internal/domain/book"
)

const bookColumns = `id, COALESCE(isbn, ''), title, author, description, genre, cover_url,
	price, stock, on_sale, discount_percent, discount_start, discount_end,
	version, created_at, updated_at`

const (
	getBookByIDSQL = `SELECT ` + bookColumns + ` FROM books WHERE id = $1`

	getBooksByIDsSQL = `SELECT ` + bookColumns + ` FROM books WHERE id = ANY($1) ORDER BY id`

	createBookSQL = `INSERT INTO books (id, isbn, title, author, description, genre, cover_url,
		price, stock, on_sale, discount_percent, discount_start, discount_end,
		version, created_at, updated_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, 1, $14, $14)`

	updateBookSQL = `UPDATE books SET isbn = NULLIF($3, ''), title = $4, author = $5,
		description = $6, genre = $7, cover_url = $8, price = $9, stock = $10,
		on_sale = $11, discount_percent = $12, discount_start = $13, discount_end = $14,
		version = version + 1, updated_at = $15
		WHERE id = $1 AND version = $2
		RETURNING version`

	bookExistsSQL = `SELECT EXISTS (SELECT 1 FROM books WHERE id = $1)`

	deleteBookSQL = `DELETE FROM books WHERE id = $1`

	setBookCoverSQL = `UPDATE books SET cover_url = $2, version = version + 1, updated_at = now()
		WHERE id = $1`

	upsertBookByISBNSQL = `INSERT INTO books (id, isbn, title, author, description, genre, cover_url,
		price, stock, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 1, $10, $10)
		ON CONFLICT (isbn) DO UPDATE SET
			title = EXCLUDED.title,
			author = EXCLUDED.author,
			description = EXCLUDED.description,
			genre = EXCLUDED.genre,
			price = EXCLUDED.price,
			stock = EXCLUDED.stock,
			version = books.version + 1,
			updated_at = EXCLUDED.updated_at
		RETURNING id, version`
)

var _ book.Repository = (*BookRepository)(nil)

// BookRepository implements book.Repository backed by PostgreSQL.
type BookRepository struct {
	pool *pgxpool.Pool
}

// NewBookRepository returns a BookRepository that uses the given pool.
func NewBookRepository(pool *pgxpool.Pool) *BookRepository {
	return &BookRepository{pool: pool}
}

// List returns books matching q ordered by title.
func (r *BookRepository) List(ctx context.Context, q book.Query) ([]book.Book, error) {
	sql, args := listBooksQuery(q)
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("listing books: %w", err)
	}
	return pgx.CollectRows(rows, scanBook)
}

func listBooksQuery(q book.Query) (string, []any) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if s := strings.TrimSpace(q.Search); s != "" {
		p := arg("%" + escapeLike(s) + "%")
		where = append(where, "(title ILIKE "+p+" OR author ILIKE "+p+" OR isbn ILIKE "+p+")")
	}
	if q.Genre != "" {
		where = append(where, "genre = "+arg(q.Genre))
	}
	if q.Author != "" {
		where = append(where, "author ILIKE "+arg(escapeLike(q.Author)))
	}
	if q.OnSale {
		where = append(where, "on_sale AND discount_percent IS NOT NULL"+
			" AND (discount_start IS NULL OR discount_start <= now())"+
			" AND (discount_end IS NULL OR discount_end >= now())")
	}

	var b strings.Builder
	b.WriteString("SELECT " + bookColumns + " FROM books")
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY title, id")
	if q.Limit > 0 {
		b.WriteString(" LIMIT " + arg(q.Limit))
	}
	if q.Offset > 0 {
		b.WriteString(" OFFSET " + arg(q.Offset))
	}
	return b.String(), args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// GetByID returns a single book.
func (r *BookRepository) GetByID(ctx context.Context, id string) (*book.Book, error) {
	return getBook(ctx, r.pool, getBookByIDSQL, id)
}

func getBook(ctx context.Context, q querier, sql, id string) (*book.Book, error) {
	rows, err := q.Query(ctx, sql, id)
	if err != nil {
		return nil, fmt.Errorf("getting book %q: %w", id, err)
	}
	b, err := pgx.CollectExactlyOneRow(rows, scanBook)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, book.ErrNotFound
		}
		return nil, fmt.Errorf("getting book %q: %w", id, err)
	}
	return &b, nil
}

// GetByIDs returns books matching any of the given IDs.
func (r *BookRepository) GetByIDs(ctx context.Context, ids []string) ([]book.Book, error) {
	rows, err := r.pool.Query(ctx, getBooksByIDsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("getting books by ids: %w", err)
	}
	return pgx.CollectRows(rows, scanBook)
}

// Create inserts b with version 1.
func (r *BookRepository) Create(ctx context.Context, b *book.Book) error {
	_, err := r.pool.Exec(ctx, createBookSQL,
		b.ID, b.ISBN, b.Title, b.Author, b.Description, b.Genre, b.CoverURL,
		b.Price, b.Stock, b.Sale.OnSale, b.Sale.Percent, b.Sale.Start, b.Sale.End,
		b.CreatedAt,
	)
	if err != nil {
		if _, ok := uniqueConstraint(err); ok {
			return book.ErrDuplicateISBN
		}
		return fmt.Errorf("creating book %q: %w", b.ID, err)
	}
	b.Version = 1
	b.UpdatedAt = b.CreatedAt
	return nil
}

// Update writes b when its version matches the stored row.
func (r *BookRepository) Update(ctx context.Context, b *book.Book) error {
	var version int
	err := r.pool.QueryRow(ctx, updateBookSQL,
		b.ID, b.Version, b.ISBN, b.Title, b.Author, b.Description, b.Genre, b.CoverURL,
		b.Price, b.Stock, b.Sale.OnSale, b.Sale.Percent, b.Sale.Start, b.Sale.End,
		b.UpdatedAt,
	).Scan(&version)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		var exists bool
		if err := r.pool.QueryRow(ctx, bookExistsSQL, b.ID).Scan(&exists); err != nil {
			return fmt.Errorf("checking book %q: %w", b.ID, err)
		}
		if !exists {
			return book.ErrNotFound
		}
		return book.ErrConflict
	case err != nil:
		if _, ok := uniqueConstraint(err); ok {
			return book.ErrDuplicateISBN
		}
		return fmt.Errorf("updating book %q: %w", b.ID, err)
	}
	b.Version = version
	return nil
}

// Delete removes a book.
func (r *BookRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, deleteBookSQL, id)
	if err != nil {
		return fmt.Errorf("deleting book %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return book.ErrNotFound
	}
	return nil
}

// SetCover replaces the cover image URL.
func (r *BookRepository) SetCover(ctx context.Context, id, url string) error {
	tag, err := r.pool.Exec(ctx, setBookCoverSQL, id, url)
	if err != nil {
		return fmt.Errorf("setting cover for book %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return book.ErrNotFound
	}
	return nil
}

// UpsertByISBN inserts b or refreshes the book with the same ISBN. Sale
// settings and cover of an existing book are kept.
func (r *BookRepository) UpsertByISBN(ctx context.Context, b *book.Book) error {
	err := r.pool.QueryRow(ctx, upsertBookByISBNSQL,
		b.ID, b.ISBN, b.Title, b.Author, b.Description, b.Genre, b.CoverURL,
		b.Price, b.Stock, b.UpdatedAt,
	).Scan(&b.ID, &b.Version)
	if err != nil {
		return fmt.Errorf("upserting book %q: %w", b.ISBN, err)
	}
	return nil
}

func scanBook(row pgx.CollectableRow) (book.Book, error) {
	var b book.Book
	err := row.Scan(
		&b.ID, &b.ISBN, &b.Title, &b.Author, &b.Description, &b.Genre, &b.CoverURL,
		&b.Price, &b.Stock, &b.Sale.OnSale, &b.Sale.Percent, &b.Sale.Start, &b.Sale.End,
		&b.Version, &b.CreatedAt, &b.UpdatedAt,
	)
	return b, err
}
