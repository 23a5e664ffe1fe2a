package auth

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"net/mail"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/xenking/bookshop/internal/validation"
)

const (
	tokenBytes        = 32
	minPasswordLength = 8
	// bcrypt ignores input past 72 bytes.
	maxPasswordLength = 72
)

// RegisterRequest holds the input for creating an account.
type RegisterRequest struct {
	Email    string
	Name     string
	Password string
}

// Validate checks field constraints and returns a *validation.Error.
func (r RegisterRequest) Validate() error {
	errs := validation.Errors{}
	if _, err := mail.ParseAddress(r.Email); err != nil || strings.ContainsAny(r.Email, "<> ") {
		errs.Add("email", "must be a valid email address")
	}
	errs.Check(strings.TrimSpace(r.Name) != "", "name", "is required")
	errs.Check(utf8.RuneCountInString(r.Password) >= minPasswordLength, "password", "must be at least 8 characters")
	errs.Check(len(r.Password) <= maxPasswordLength, "password", "must be at most 72 bytes")
	return errs.Err()
}

// LoginResult is returned on successful login.
type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	Principal *Principal
}

// Service registers users and manages login sessions. Session tokens are
// random strings whose HMAC-SHA256 under a server pepper is stored.
type Service struct {
	repo       Repository
	pepper     []byte
	ttl        time.Duration
	bcryptCost int
	now        func() time.Time
	compare    func(hash, password []byte) error
	// decoy is checked for unknown emails so both login failures cost one
	// bcrypt comparison.
	decoy func() []byte
}

func NewService(repo Repository, pepper []byte, ttl time.Duration) *Service {
	s := &Service{
		repo:       repo,
		pepper:     pepper,
		ttl:        ttl,
		bcryptCost: bcrypt.DefaultCost,
		now:        time.Now,
		compare:    bcrypt.CompareHashAndPassword,
	}
	s.decoy = sync.OnceValue(func() []byte {
		hash, err := bcrypt.GenerateFromPassword([]byte("not-a-real-password"), s.bcryptCost)
		if err != nil {
			panic(err)
		}
		return hash
	})
	return s
}

// Register creates a member account.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*User, error) {
	req.Email = normalizeEmail(req.Email)
	req.Name = strings.TrimSpace(req.Name)
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return s.CreateUser(ctx, req, RoleMember)
}

// CreateUser creates an account with an explicit role. Used by seeding.
func (s *Service) CreateUser(ctx context.Context, req RegisterRequest, role Role) (*User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.bcryptCost)
	if err != nil {
		return nil, errors.Wrap(err, "hash password")
	}
	u := &User{
		ID:           uuid.NewString(),
		Email:        normalizeEmail(req.Email),
		Name:         req.Name,
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.repo.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// Login verifies credentials and opens a session.
func (s *Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	u, err := s.repo.UserByEmail(ctx, normalizeEmail(email))
	switch {
	case errors.Is(err, ErrUserNotFound):
		_ = s.compare(s.decoy(), []byte(password))
		return nil, ErrInvalidCredentials
	case err != nil:
		return nil, errors.Wrap(err, "get user")
	}
	if err := s.compare(u.PasswordHash, []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	raw := make([]byte, tokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return nil, errors.Wrap(err, "read random")
	}
	token := base64.RawURLEncoding.EncodeToString(raw)

	now := s.now().UTC()
	sess := &Session{
		TokenHash: s.hashToken(token),
		UserID:    u.ID,
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
	}
	if err := s.repo.CreateSession(ctx, sess); err != nil {
		return nil, errors.Wrap(err, "create session")
	}
	return &LoginResult{
		Token:     token,
		ExpiresAt: sess.ExpiresAt,
		Principal: principalOf(u),
	}, nil
}

// Logout ends the session for token. Unknown tokens are ignored.
func (s *Service) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return s.repo.DeleteSession(ctx, s.hashToken(token))
}

// Authenticate resolves a session token to its principal.
func (s *Service) Authenticate(ctx context.Context, token string) (*Principal, error) {
	if token == "" {
		return nil, ErrUnauthenticated
	}
	hash := s.hashToken(token)

	u, sess, err := s.repo.SessionUser(ctx, hash, s.now().UTC())
	switch {
	case errors.Is(err, ErrSessionNotFound):
		return nil, ErrUnauthenticated
	case err != nil:
		return nil, errors.Wrap(err, "get session")
	}
	if subtle.ConstantTimeCompare([]byte(hash), []byte(sess.TokenHash)) != 1 {
		return nil, ErrUnauthenticated
	}
	return principalOf(u), nil
}

// SetRole changes a user's role.
func (s *Service) SetRole(ctx context.Context, userID string, role Role) error {
	errs := validation.Errors{}
	errs.Check(role.Valid(), "role", "must be one of admin, staff, member")
	if err := errs.Err(); err != nil {
		return err
	}
	return s.repo.SetRole(ctx, userID, role)
}

func (s *Service) hashToken(token string) string {
	mac := hmac.New(sha256.New, s.pepper)
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}

func principalOf(u *User) *Principal {
	return &Principal{
		UserID: u.ID,
		Email:  u.Email,
		Name:   u.Name,
		Role:   u.Role,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
