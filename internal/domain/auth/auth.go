// Package auth holds users, sessions and role capabilities.
package auth

import (
	"context"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/bookshop/internal/domain/discount"
)

var (
	ErrUnauthenticated    = errors.New("authentication required")
	ErrForbidden          = errors.New("insufficient permissions")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email already registered")
	ErrUserNotFound       = errors.New("user not found")
	ErrSessionNotFound    = errors.New("session not found")
)

// Role is a user's role.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleStaff  Role = "staff"
	RoleMember Role = "member"
)

func (r Role) Valid() bool {
	_, ok := roleCapabilities[r]
	return ok
}

// Capability is a single permission checked by handlers.
type Capability string

const (
	CapCatalogManage       Capability = "catalog:manage"
	CapOrdersFulfill       Capability = "orders:fulfill"
	CapOrdersViewAll       Capability = "orders:view_all"
	CapAnnouncementsManage Capability = "announcements:manage"
	CapReviewsModerate     Capability = "reviews:moderate"
	CapUploadsWrite        Capability = "uploads:write"
	CapUsersManage         Capability = "users:manage"
	CapFeedAdmins          Capability = "feed:admins"
	CapFeedStaff           Capability = "feed:staff"
	CapShop                Capability = "shop"
)

var roleCapabilities = map[Role][]Capability{
	RoleAdmin: {
		CapCatalogManage, CapOrdersFulfill, CapOrdersViewAll,
		CapAnnouncementsManage, CapReviewsModerate, CapUploadsWrite,
		CapUsersManage, CapFeedAdmins, CapFeedStaff, CapShop,
	},
	RoleStaff: {
		CapCatalogManage, CapOrdersFulfill, CapOrdersViewAll,
		CapAnnouncementsManage, CapUploadsWrite, CapFeedStaff, CapShop,
	},
	RoleMember: {CapShop},
}

// Can reports whether role r grants capability c.
func (r Role) Can(c Capability) bool {
	for _, have := range roleCapabilities[r] {
		if have == c {
			return true
		}
	}
	return false
}

// User is a registered account.
type User struct {
	ID           string
	Email        string
	Name         string
	PasswordHash []byte
	Role         Role
	Loyalty      discount.Loyalty
	CreatedAt    time.Time
}

// Session is a login session. Only the keyed hash of the token is stored.
type Session struct {
	TokenHash string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Repository persists users and sessions.
type Repository interface {
	// CreateUser returns ErrEmailTaken when the email is in use.
	CreateUser(ctx context.Context, u *User) error
	UserByEmail(ctx context.Context, email string) (*User, error)
	UserByID(ctx context.Context, id string) (*User, error)
	SetRole(ctx context.Context, userID string, role Role) error

	CreateSession(ctx context.Context, s *Session) error
	// SessionUser returns the owner of an unexpired session.
	SessionUser(ctx context.Context, tokenHash string, now time.Time) (*User, *Session, error)
	DeleteSession(ctx context.Context, tokenHash string) error
}

// Principal is the authenticated caller of a request.
type Principal struct {
	UserID string
	Email  string
	Name   string
	Role   Role
}

// Can is nil-safe; an anonymous caller has no capabilities.
func (p *Principal) Can(c Capability) bool {
	return p != nil && p.Role.Can(c)
}

// Require returns ErrUnauthenticated for anonymous callers and ErrForbidden
// when the principal lacks c.
func (p *Principal) Require(c Capability) error {
	switch {
	case p == nil:
		return ErrUnauthenticated
	case !p.Role.Can(c):
		return ErrForbidden
	}
	return nil
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the request principal or nil.
func PrincipalFrom(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey{}).(*Principal)
	return p
}
