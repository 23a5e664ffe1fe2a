package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/xenking/bookshop/internal/validation"
)

// --- Mock implementations ---

type mockRepo struct {
	users    map[string]*User
	sessions map[string]*Session
}

func newMockRepo() *mockRepo {
	return &mockRepo{users: map[string]*User{}, sessions: map[string]*Session{}}
}

func (m *mockRepo) CreateUser(_ context.Context, u *User) error {
	for _, existing := range m.users {
		if existing.Email == u.Email {
			return ErrEmailTaken
		}
	}
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *mockRepo) UserByEmail(_ context.Context, email string) (*User, error) {
	for _, u := range m.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrUserNotFound
}

func (m *mockRepo) UserByID(_ context.Context, id string) (*User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *mockRepo) SetRole(_ context.Context, id string, role Role) error {
	u, ok := m.users[id]
	if !ok {
		return ErrUserNotFound
	}
	u.Role = role
	return nil
}

func (m *mockRepo) CreateSession(_ context.Context, s *Session) error {
	cp := *s
	m.sessions[s.TokenHash] = &cp
	return nil
}

func (m *mockRepo) SessionUser(_ context.Context, hash string, now time.Time) (*User, *Session, error) {
	s, ok := m.sessions[hash]
	if !ok || !now.Before(s.ExpiresAt) {
		return nil, nil, ErrSessionNotFound
	}
	u, err := m.UserByID(context.Background(), s.UserID)
	if err != nil {
		return nil, nil, err
	}
	return u, s, nil
}

func (m *mockRepo) DeleteSession(_ context.Context, hash string) error {
	delete(m.sessions, hash)
	return nil
}

// --- Helpers ---

func newTestService(repo *mockRepo) (*Service, *time.Time) {
	now := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	svc := NewService(repo, []byte("test-pepper"), time.Hour)
	svc.bcryptCost = bcrypt.MinCost
	svc.now = func() time.Time { return now }
	return svc, &now
}

func register(t *testing.T, svc *Service, email string) *User {
	t.Helper()
	u, err := svc.Register(context.Background(), RegisterRequest{
		Email:    email,
		Name:     "Reader",
		Password: "correct horse",
	})
	require.NoError(t, err)
	return u
}

// --- Tests ---

func TestRegister(t *testing.T) {
	repo := newMockRepo()
	svc, _ := newTestService(repo)

	u := register(t, svc, "  Reader@Example.com ")
	assert.Equal(t, "reader@example.com", u.Email)
	assert.Equal(t, RoleMember, u.Role)
	assert.NotEqual(t, "correct horse", string(u.PasswordHash))

	_, err := svc.Register(context.Background(), RegisterRequest{
		Email: "reader@example.com", Name: "Again", Password: "another pass",
	})
	require.ErrorIs(t, err, ErrEmailTaken)
}

func TestRegister_Validation(t *testing.T) {
	svc, _ := newTestService(newMockRepo())

	_, err := svc.Register(context.Background(), RegisterRequest{
		Email: "not-an-email", Name: " ", Password: "short",
	})
	var vErr *validation.Error
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.Fields, "email")
	assert.Contains(t, vErr.Fields, "name")
	assert.Contains(t, vErr.Fields, "password")
}

func TestLoginAuthenticateLogout(t *testing.T) {
	repo := newMockRepo()
	svc, _ := newTestService(repo)
	u := register(t, svc, "reader@example.com")
	ctx := context.Background()

	res, err := svc.Login(ctx, "READER@example.com", "correct horse")
	require.NoError(t, err)
	assert.NotEmpty(t, res.Token)
	assert.Equal(t, u.ID, res.Principal.UserID)

	// The raw token is never stored.
	require.Len(t, repo.sessions, 1)
	for hash := range repo.sessions {
		assert.NotEqual(t, res.Token, hash)
	}

	p, err := svc.Authenticate(ctx, res.Token)
	require.NoError(t, err)
	assert.Equal(t, u.ID, p.UserID)
	assert.Equal(t, RoleMember, p.Role)

	require.NoError(t, svc.Logout(ctx, res.Token))
	_, err = svc.Authenticate(ctx, res.Token)
	require.ErrorIs(t, err, ErrUnauthenticated)
}

func TestLogin_WrongCredentials(t *testing.T) {
	svc, _ := newTestService(newMockRepo())
	register(t, svc, "reader@example.com")

	_, err := svc.Login(context.Background(), "reader@example.com", "wrong password")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login(context.Background(), "nobody@example.com", "correct horse")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLogin_UnknownEmailComparesHash(t *testing.T) {
	svc, _ := newTestService(newMockRepo())
	register(t, svc, "reader@example.com")

	var hashes [][]byte
	svc.compare = func(hash, password []byte) error {
		hashes = append(hashes, hash)
		return bcrypt.CompareHashAndPassword(hash, password)
	}

	_, err := svc.Login(context.Background(), "nobody@example.com", "correct horse")
	require.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.Login(context.Background(), "reader@example.com", "wrong password")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	require.Len(t, hashes, 2)
	cost, err := bcrypt.Cost(hashes[0])
	require.NoError(t, err)
	assert.Equal(t, svc.bcryptCost, cost)
	assert.Equal(t, hashes[0], svc.decoy())
}

func TestAuthenticate_Expired(t *testing.T) {
	svc, now := newTestService(newMockRepo())
	register(t, svc, "reader@example.com")

	res, err := svc.Login(context.Background(), "reader@example.com", "correct horse")
	require.NoError(t, err)

	*now = now.Add(2 * time.Hour)
	_, err = svc.Authenticate(context.Background(), res.Token)
	require.ErrorIs(t, err, ErrUnauthenticated)
}

func TestAuthenticate_UnknownToken(t *testing.T) {
	svc, _ := newTestService(newMockRepo())

	_, err := svc.Authenticate(context.Background(), "")
	require.ErrorIs(t, err, ErrUnauthenticated)
	_, err = svc.Authenticate(context.Background(), "bogus")
	require.ErrorIs(t, err, ErrUnauthenticated)
}

func TestSetRole(t *testing.T) {
	repo := newMockRepo()
	svc, _ := newTestService(repo)
	u := register(t, svc, "reader@example.com")

	require.NoError(t, svc.SetRole(context.Background(), u.ID, RoleStaff))
	assert.Equal(t, RoleStaff, repo.users[u.ID].Role)

	var vErr *validation.Error
	require.ErrorAs(t, svc.SetRole(context.Background(), u.ID, "owner"), &vErr)
	require.ErrorIs(t, svc.SetRole(context.Background(), "missing", RoleAdmin), ErrUserNotFound)
}

func TestCapabilities(t *testing.T) {
	tests := []struct {
		role Role
		cap  Capability
		want bool
	}{
		{RoleAdmin, CapUsersManage, true},
		{RoleAdmin, CapFeedAdmins, true},
		{RoleStaff, CapOrdersFulfill, true},
		{RoleStaff, CapFeedStaff, true},
		{RoleStaff, CapFeedAdmins, false},
		{RoleStaff, CapUsersManage, false},
		{RoleMember, CapShop, true},
		{RoleMember, CapOrdersFulfill, false},
		{RoleMember, CapCatalogManage, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.role)+"/"+string(tt.cap), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.role.Can(tt.cap))
		})
	}
}

func TestPrincipalRequire(t *testing.T) {
	var anon *Principal
	require.ErrorIs(t, anon.Require(CapShop), ErrUnauthenticated)
	assert.False(t, anon.Can(CapShop))

	member := &Principal{UserID: "u1", Role: RoleMember}
	require.NoError(t, member.Require(CapShop))
	require.ErrorIs(t, member.Require(CapOrdersFulfill), ErrForbidden)

	ctx := WithPrincipal(context.Background(), member)
	assert.Same(t, member, PrincipalFrom(ctx))
	assert.Nil(t, PrincipalFrom(context.Background()))
}
