package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/bookshop/internal/domain/auth"
	"github.com/xenking/bookshop/internal/domain/cart"
	"github.com/xenking/bookshop/internal/domain/discount"
)

const userColumns = `u.id, u.email, u.name, u.password_hash, u.role,
	u.successful_orders, u.loyalty_discount_used, u.created_at`

const (
	createUserSQL = `INSERT INTO users (id, email, name, password_hash, role, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	getUserByEmailSQL = `SELECT ` + userColumns + ` FROM users u WHERE u.email = $1`

	getUserByIDSQL = `SELECT ` + userColumns + ` FROM users u WHERE u.id = $1`

	setUserRoleSQL = `UPDATE users SET role = $2 WHERE id = $1`

	getLoyaltySQL = `SELECT successful_orders, loyalty_discount_used FROM users WHERE id = $1`

	createSessionSQL = `INSERT INTO sessions (token_hash, user_id, expires_at, created_at)
		VALUES ($1, $2, $3, $4)`

	getSessionUserSQL = `SELECT ` + userColumns + `, s.token_hash, s.expires_at, s.created_at
		FROM sessions s JOIN users u ON u.id = s.user_id
		WHERE s.token_hash = $1 AND s.expires_at > $2`

	deleteSessionSQL = `DELETE FROM sessions WHERE token_hash = $1`

	deleteExpiredSessionsSQL = `DELETE FROM sessions WHERE expires_at <= $1`
)

var (
	_ auth.Repository    = (*UserRepository)(nil)
	_ cart.LoyaltyReader = (*UserRepository)(nil)
)

// UserRepository stores users and their sessions.
type UserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository returns a UserRepository that uses the given pool.
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// CreateUser inserts u. The loyalty counters start at zero.
func (r *UserRepository) CreateUser(ctx context.Context, u *auth.User) error {
	_, err := r.pool.Exec(ctx, createUserSQL,
		u.ID, u.Email, u.Name, u.PasswordHash, string(u.Role), u.CreatedAt,
	)
	if err != nil {
		if _, ok := uniqueConstraint(err); ok {
			return auth.ErrEmailTaken
		}
		return fmt.Errorf("creating user %q: %w", u.Email, err)
	}
	return nil
}

// UserByEmail looks a user up by normalized email.
func (r *UserRepository) UserByEmail(ctx context.Context, email string) (*auth.User, error) {
	return r.getUser(ctx, getUserByEmailSQL, email)
}

// UserByID looks a user up by id.
func (r *UserRepository) UserByID(ctx context.Context, id string) (*auth.User, error) {
	return r.getUser(ctx, getUserByIDSQL, id)
}

func (r *UserRepository) getUser(ctx context.Context, sql, arg string) (*auth.User, error) {
	rows, err := r.pool.Query(ctx, sql, arg)
	if err != nil {
		return nil, fmt.Errorf("getting user %q: %w", arg, err)
	}
	u, err := pgx.CollectExactlyOneRow(rows, scanUser)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, auth.ErrUserNotFound
		}
		return nil, fmt.Errorf("getting user %q: %w", arg, err)
	}
	return &u, nil
}

// SetRole changes a user's role.
func (r *UserRepository) SetRole(ctx context.Context, userID string, role auth.Role) error {
	tag, err := r.pool.Exec(ctx, setUserRoleSQL, userID, string(role))
	if err != nil {
		return fmt.Errorf("setting role for %q: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return auth.ErrUserNotFound
	}
	return nil
}

// Loyalty returns the user's loyalty state.
func (r *UserRepository) Loyalty(ctx context.Context, userID string) (discount.Loyalty, error) {
	var l discount.Loyalty
	err := r.pool.QueryRow(ctx, getLoyaltySQL, userID).Scan(&l.SuccessfulOrders, &l.DiscountUsed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return l, auth.ErrUserNotFound
		}
		return l, fmt.Errorf("getting loyalty for %q: %w", userID, err)
	}
	return l, nil
}

// CreateSession stores a session.
func (r *UserRepository) CreateSession(ctx context.Context, s *auth.Session) error {
	if _, err := r.pool.Exec(ctx, createSessionSQL, s.TokenHash, s.UserID, s.ExpiresAt, s.CreatedAt); err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	return nil
}

// SessionUser returns the owner of an unexpired session.
func (r *UserRepository) SessionUser(ctx context.Context, tokenHash string, now time.Time) (*auth.User, *auth.Session, error) {
	var (
		u    auth.User
		s    auth.Session
		role string
	)
	err := r.pool.QueryRow(ctx, getSessionUserSQL, tokenHash, now).Scan(
		&u.ID, &u.Email, &u.Name, &u.PasswordHash, &role,
		&u.Loyalty.SuccessfulOrders, &u.Loyalty.DiscountUsed, &u.CreatedAt,
		&s.TokenHash, &s.ExpiresAt, &s.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, auth.ErrSessionNotFound
		}
		return nil, nil, fmt.Errorf("getting session: %w", err)
	}
	u.Role = auth.Role(role)
	s.UserID = u.ID
	return &u, &s, nil
}

// DeleteSession removes a session. Missing sessions are not an error.
func (r *UserRepository) DeleteSession(ctx context.Context, tokenHash string) error {
	if _, err := r.pool.Exec(ctx, deleteSessionSQL, tokenHash); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// DeleteExpiredSessions purges sessions that expired before now.
func (r *UserRepository) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, deleteExpiredSessionsSQL, now)
	if err != nil {
		return 0, fmt.Errorf("deleting expired sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanUser(row pgx.CollectableRow) (auth.User, error) {
	var (
		u    auth.User
		role string
	)
	err := row.Scan(
		&u.ID, &u.Email, &u.Name, &u.PasswordHash, &role,
		&u.Loyalty.SuccessfulOrders, &u.Loyalty.DiscountUsed, &u.CreatedAt,
	)
	u.Role = auth.Role(role)
	return u, err
}
