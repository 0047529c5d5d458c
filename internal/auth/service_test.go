package auth_test

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/Tyrowin/roomchat/internal/auth"
	"github.com/Tyrowin/roomchat/internal/store"
)

const testSecret = "test-secret-key-for-auth"

func newTestService(t *testing.T) (*auth.Service, *auth.TokenIssuer) {
	t.Helper()
	users, err := store.OpenBolt(filepath.Join(t.TempDir(), "auth.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = users.Close() })

	tokens := auth.NewTokenIssuer(testSecret, time.Hour)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return auth.NewService(users, auth.NewPasswordHasher(bcrypt.MinCost), tokens, log), tokens
}

func TestRegister(t *testing.T) {
	ctx := context.Background()
	svc, tokens := newTestService(t)

	creds, err := svc.Register(ctx, " Alice ", "alice@example.com", "password123")
	require.NoError(t, err)
	assert.NotEmpty(t, creds.User.ID)
	assert.Equal(t, "Alice", creds.User.Name)
	assert.Equal(t, "alice@example.com", creds.User.Email)

	claims, err := tokens.Parse(creds.Token)
	require.NoError(t, err)
	assert.Equal(t, creds.User.ID, claims.ID)
	assert.Equal(t, "alice@example.com", claims.Email)
}

func TestRegister_Validation(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	tests := []struct {
		name     string
		user     string
		email    string
		password string
		want     error
	}{
		{"missing name", "", "a@example.com", "pw", auth.ErrMissingRegisterFields},
		{"blank name", "   ", "a@example.com", "pw", auth.ErrMissingRegisterFields},
		{"missing email", "A", "", "pw", auth.ErrMissingRegisterFields},
		{"missing password", "A", "a@example.com", "", auth.ErrMissingRegisterFields},
		{"bad email", "A", "not-an-email", "pw", auth.ErrInvalidEmail},
		{"long password", "A", "a@example.com", strings.Repeat("x", 73), auth.ErrPasswordTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Register(ctx, tt.user, tt.email, tt.password)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, auth.ErrValidation)
		})
	}
}

func TestRegister_DuplicateEmail(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	_, err := svc.Register(ctx, "Alice", "alice@example.com", "pw")
	require.NoError(t, err)

	_, err = svc.Register(ctx, "Imposter", "Alice@Example.com", "pw2")
	assert.ErrorIs(t, err, auth.ErrEmailTaken)
}

func TestLogin(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	registered, err := svc.Register(ctx, "Bob", "bob@example.com", "hunter22")
	require.NoError(t, err)

	t.Run("success", func(t *testing.T) {
		creds, err := svc.Login(ctx, "bob@example.com", "hunter22")
		require.NoError(t, err)
		assert.Equal(t, registered.User.ID, creds.User.ID)
		assert.NotEmpty(t, creds.Token)
	})

	t.Run("wrong password", func(t *testing.T) {
		_, err := svc.Login(ctx, "bob@example.com", "wrong")
		assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
	})

	t.Run("unknown user", func(t *testing.T) {
		_, err := svc.Login(ctx, "nobody@example.com", "hunter22")
		assert.ErrorIs(t, err, auth.ErrUserNotFound)
	})

	t.Run("missing fields", func(t *testing.T) {
		_, err := svc.Login(ctx, "", "hunter22")
		assert.ErrorIs(t, err, auth.ErrMissingLoginFields)

		_, err = svc.Login(ctx, "bob@example.com", "")
		assert.ErrorIs(t, err, auth.ErrMissingLoginFields)
	})
}

func TestTokenIssuer_RejectsTampered(t *testing.T) {
	tokens := auth.NewTokenIssuer(testSecret, time.Hour)
	token, err := tokens.Issue("id-1", "a@example.com")
	require.NoError(t, err)

	other := auth.NewTokenIssuer("another-secret", time.Hour)
	_, err = other.Parse(token)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)

	_, err = tokens.Parse(token + "x")
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestTokenIssuer_Expired(t *testing.T) {
	tokens := auth.NewTokenIssuer(testSecret, -time.Minute)
	token, err := tokens.Issue("id-1", "a@example.com")
	require.NoError(t, err)

	_, err = tokens.Parse(token)
	assert.ErrorIs(t, err, auth.ErrExpiredToken)
}

func TestPasswordHasher(t *testing.T) {
	h := auth.NewPasswordHasher(bcrypt.MinCost)
	hash, err := h.Hash("secret")
	require.NoError(t, err)
	assert.NotEqual(t, "secret", hash)
	assert.True(t, h.Verify("secret", hash))
	assert.False(t, h.Verify("Secret", hash))
}
