package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/crypto/bcrypt"

	"storefront/internal/logging"
	"storefront/internal/models"
	"storefront/internal/store"
)

type memoryUsers struct {
	mu    sync.Mutex
	users map[primitive.ObjectID]*models.User
}

func newMemoryUsers() *memoryUsers {
	return &memoryUsers{users: map[primitive.ObjectID]*models.User{}}
}

func (m *memoryUsers) Create(_ context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == user.Email {
			return store.ErrDuplicate
		}
	}
	user.ID = primitive.NewObjectID()
	copied := *user
	m.users[user.ID] = &copied
	return nil
}

func (m *memoryUsers) GetByID(_ context.Context, id primitive.ObjectID) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *u
	return &copied, nil
}

func (m *memoryUsers) GetByEmail(_ context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			copied := *u
			return &copied, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memoryUsers) UpdateProfile(_ context.Context, id primitive.ObjectID, name, phone *string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if name != nil {
		u.Name = *name
	}
	if phone != nil {
		u.Phone = *phone
	}
	copied := *u
	return &copied, nil
}

func (m *memoryUsers) SetRole(_ context.Context, id primitive.ObjectID, role string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	u.Role = role
	copied := *u
	return &copied, nil
}

func (m *memoryUsers) SetPasswordHash(_ context.Context, id primitive.ObjectID, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return store.ErrNotFound
	}
	u.PasswordHash = hash
	return nil
}

type memoryTokens struct {
	mu     sync.Mutex
	tokens map[primitive.ObjectID]*models.RefreshToken
}

func newMemoryTokens() *memoryTokens {
	return &memoryTokens{tokens: map[primitive.ObjectID]*models.RefreshToken{}}
}

func (m *memoryTokens) Create(_ context.Context, token *models.RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	token.ID = primitive.NewObjectID()
	copied := *token
	m.tokens[token.ID] = &copied
	return nil
}

func (m *memoryTokens) GetActiveByHash(_ context.Context, hash string) (*models.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tokens {
		if t.TokenHash == hash && !t.Revoked {
			copied := *t
			return &copied, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memoryTokens) Claim(_ context.Context, id primitive.ObjectID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[id]
	if !ok || t.Revoked {
		return false, nil
	}
	t.Revoked = true
	return true, nil
}

func (m *memoryTokens) SetReplacement(_ context.Context, id, replacedBy primitive.ObjectID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tokens[id]; ok {
		t.ReplacedByToken = &replacedBy
	}
	return nil
}

// staleTokens serves lookups from a snapshot taken before any rotation, the
// way two requests racing on the same token both see it as active.
type staleTokens struct {
	*memoryTokens
	snapshot map[string]models.RefreshToken
}

func (s *staleTokens) GetActiveByHash(_ context.Context, hash string) (*models.RefreshToken, error) {
	t, ok := s.snapshot[hash]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &t, nil
}

func (m *memoryTokens) RevokeByHash(_ context.Context, hash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tokens {
		if t.TokenHash == hash && !t.Revoked {
			t.Revoked = true
			return true, nil
		}
	}
	return false, nil
}

func newTestService() (*Service, *memoryUsers, *memoryTokens) {
	users := newMemoryUsers()
	tokens := newMemoryTokens()
	svc := NewService(users, tokens, NewTokenIssuer("test-secret-0123456789", 15*time.Minute), 24*time.Hour, logging.Discard())
	svc.bcryptCost = bcrypt.MinCost
	return svc, users, tokens
}

func TestRegisterAndLogin(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService()

	session, err := svc.Register(ctx, RegisterInput{Name: " Amina ", Email: " Amina@Example.COM ", Password: "secret1"})
	require.NoError(t, err)
	assert.Equal(t, "amina@example.com", session.User.Email)
	assert.Equal(t, "Amina", session.User.Name)
	assert.Equal(t, models.RoleCustomer, session.User.Role)
	assert.NotEmpty(t, session.AccessToken)
	assert.Len(t, session.RefreshToken, 64)
	assert.Equal(t, int64(900), session.ExpiresIn)

	_, err = svc.Register(ctx, RegisterInput{Name: "Dup", Email: "amina@example.com", Password: "secret1"})
	assert.ErrorIs(t, err, ErrEmailTaken)

	_, err = svc.Login(ctx, "amina@example.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login(ctx, "nobody@example.com", "secret1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	logged, err := svc.Login(ctx, "AMINA@example.com", "secret1")
	require.NoError(t, err)

	claims, err := svc.issuer.Parse(logged.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, session.User.ID.Hex(), claims.Subject)
	assert.Equal(t, models.RoleCustomer, claims.Role)
}

func TestLoginInactive(t *testing.T) {
	ctx := context.Background()
	svc, users, _ := newTestService()

	session, err := svc.Register(ctx, RegisterInput{Name: "A", Email: "a@example.com", Password: "secret1"})
	require.NoError(t, err)
	users.users[session.User.ID].IsActive = false

	_, err = svc.Login(ctx, "a@example.com", "secret1")
	assert.ErrorIs(t, err, ErrInactive)
}

func TestRefreshRotates(t *testing.T) {
	ctx := context.Background()
	svc, _, tokens := newTestService()

	session, err := svc.Register(ctx, RegisterInput{Name: "A", Email: "a@example.com", Password: "secret1"})
	require.NoError(t, err)

	rotated, err := svc.Refresh(ctx, session.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, session.RefreshToken, rotated.RefreshToken)

	var old *models.RefreshToken
	for _, tok := range tokens.tokens {
		if tok.TokenHash == HashToken(session.RefreshToken) {
			old = tok
		}
	}
	require.NotNil(t, old)
	assert.True(t, old.Revoked)
	require.NotNil(t, old.ReplacedByToken)

	_, err = svc.Refresh(ctx, session.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)
}

func TestRefreshSameTokenTwiceConcurrently(t *testing.T) {
	ctx := context.Background()
	svc, _, tokens := newTestService()

	session, err := svc.Register(ctx, RegisterInput{Name: "A", Email: "a@example.com", Password: "secret1"})
	require.NoError(t, err)

	stale := &staleTokens{memoryTokens: tokens, snapshot: map[string]models.RefreshToken{}}
	for _, tok := range tokens.tokens {
		stale.snapshot[tok.TokenHash] = *tok
	}
	svc.tokens = stale

	_, err = svc.Refresh(ctx, session.RefreshToken)
	require.NoError(t, err)

	_, err = svc.Refresh(ctx, session.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)
	assert.Len(t, tokens.tokens, 2)
}

func TestRefreshExpired(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService()

	session, err := svc.Register(ctx, RegisterInput{Name: "A", Email: "a@example.com", Password: "secret1"})
	require.NoError(t, err)

	svc.now = func() time.Time { return time.Now().Add(48 * time.Hour) }
	_, err = svc.Refresh(ctx, session.RefreshToken)
	assert.ErrorIs(t, err, ErrRefreshExpired)

	svc.now = time.Now
	_, err = svc.Refresh(ctx, session.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)
}

func TestLogout(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService()

	session, err := svc.Register(ctx, RegisterInput{Name: "A", Email: "a@example.com", Password: "secret1"})
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, session.RefreshToken))
	assert.ErrorIs(t, svc.Logout(ctx, session.RefreshToken), ErrInvalidRefreshToken)
}

func TestUpdateProfileTrims(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService()

	session, err := svc.Register(ctx, RegisterInput{Name: "A", Email: "a@example.com", Password: "secret1"})
	require.NoError(t, err)

	name := "  Wanjiru "
	user, err := svc.UpdateProfile(ctx, session.User.ID, &name, nil)
	require.NoError(t, err)
	assert.Equal(t, "Wanjiru", user.Name)

	_, err = svc.Me(ctx, primitive.NewObjectID())
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestEnsureAdmin(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService()

	admin, created, err := svc.EnsureAdmin(ctx, RegisterInput{Name: "Root", Email: "root@example.com", Password: "admin-pass"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, models.RoleAdmin, admin.Role)

	_, err = svc.Register(ctx, RegisterInput{Name: "B", Email: "b@example.com", Password: "secret1"})
	require.NoError(t, err)

	promoted, created, err := svc.EnsureAdmin(ctx, RegisterInput{Email: "B@example.com", Password: "new-pass"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, models.RoleAdmin, promoted.Role)

	_, err = svc.Login(ctx, "b@example.com", "new-pass")
	assert.NoError(t, err)

	_, _, err = svc.EnsureAdmin(ctx, RegisterInput{Email: "c@example.com", Password: "123"})
	assert.Error(t, err)
}

func TestTokenIssuerRejects(t *testing.T) {
	issuer := NewTokenIssuer("test-secret-0123456789", time.Minute)
	other := NewTokenIssuer("another-secret-987654", time.Minute)

	token, err := other.Issue(primitive.NewObjectID(), "x@example.com", models.RoleAdmin)
	require.NoError(t, err)
	_, err = issuer.Parse(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired := NewTokenIssuer("test-secret-0123456789", -time.Minute)
	token, err = expired.Issue(primitive.NewObjectID(), "x@example.com", models.RoleCustomer)
	require.NoError(t, err)
	_, err = issuer.Parse(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = issuer.Parse("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
