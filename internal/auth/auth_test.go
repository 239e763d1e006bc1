package auth

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/socialboost/panel/internal/db"
	"github.com/socialboost/panel/internal/memstore"
	"github.com/socialboost/panel/internal/models"
)

func newService() (*AuthService, *memstore.Store) {
	store := memstore.New()
	return NewAuthService(store, []byte("test-secret")), store
}

func TestRegister(t *testing.T) {
	s, _ := newService()

	user, err := s.Register(context.Background(), "alice@example.com", "Alice", "password123")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", user.Email)
	assert.Equal(t, "Alice", user.FullName)
	assert.Equal(t, models.RoleCustomer, user.Role)
	assert.True(t, user.Balance.IsZero())

	// The stored hash verifies against the original password.
	err = bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("password123"))
	assert.NoError(t, err)
}

func TestRegister_Validation(t *testing.T) {
	s, _ := newService()
	ctx := context.Background()

	_, err := s.Register(ctx, "", "Alice", "password123")
	assert.Error(t, err)

	_, err = s.Register(ctx, "alice@example.com", "Alice", "")
	assert.Error(t, err)

	_, err = s.Register(ctx, strings.Repeat("a", 250)+"@example.com", "Alice", "password123")
	assert.Error(t, err)

	_, err = s.Register(ctx, "alice@example.com", "Alice", strings.Repeat("p", 101))
	assert.Error(t, err)
}

func TestRegister_DuplicateEmail(t *testing.T) {
	s, _ := newService()
	ctx := context.Background()

	_, err := s.Register(ctx, "alice@example.com", "Alice", "password123")
	require.NoError(t, err)

	_, err = s.Register(ctx, "alice@example.com", "Alice Again", "password456")
	require.ErrorIs(t, err, db.ErrUserExists)
}

func TestLoginAndTokenRoundTrip(t *testing.T) {
	s, _ := newService()
	ctx := context.Background()

	user, err := s.Register(ctx, "alice@example.com", "Alice", "password123")
	require.NoError(t, err)

	token, err := s.Login(ctx, "alice@example.com", "password123")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	id, err := s.IdentityFromToken(token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, id.UserID)
	assert.Equal(t, models.RoleCustomer, id.Role)
}

func TestLogin_InvalidCredentials(t *testing.T) {
	s, _ := newService()
	ctx := context.Background()

	_, err := s.Register(ctx, "alice@example.com", "Alice", "password123")
	require.NoError(t, err)

	_, err = s.Login(ctx, "alice@example.com", "wrong-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = s.Login(ctx, "nobody@example.com", "password123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestIdentityFromToken_Rejections(t *testing.T) {
	s, _ := newService()
	ctx := context.Background()

	_, err := s.Register(ctx, "alice@example.com", "Alice", "password123")
	require.NoError(t, err)
	token, err := s.Login(ctx, "alice@example.com", "password123")
	require.NoError(t, err)

	_, err = s.IdentityFromToken("not-a-token")
	assert.Error(t, err)

	// Signed with a different secret.
	other := NewAuthService(memstore.New(), []byte("other-secret"))
	_, err = other.IdentityFromToken(token)
	assert.Error(t, err)

	// Tampered payload.
	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]
	_, err = s.IdentityFromToken(tampered)
	assert.Error(t, err)
}

func TestIdentityContext(t *testing.T) {
	s, _ := newService()
	ctx := context.Background()

	user, err := s.Register(ctx, "alice@example.com", "Alice", "password123")
	require.NoError(t, err)

	_, ok := IdentityFromContext(ctx)
	assert.False(t, ok)

	want := Identity{UserID: user.ID, Role: user.Role}
	got, ok := IdentityFromContext(WithIdentity(ctx, want))
	require.True(t, ok)
	assert.Equal(t, want, got)
}
