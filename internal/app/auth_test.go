package app

import (
	"context"
	"testing"

	"marketplace/internal/credentials"
	"marketplace/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestApp_Register(t *testing.T) {
	f := newFixture(t, newMemStorage(), Options{InitialCoins: 100})
	ctx := context.Background()

	require.NoError(t, f.app.Register(ctx, models.AuthRequest{Username: "alice", Password: "secret"}))
	assert.Equal(t, int64(100), f.balance(t, "alice"))

	testCases := []struct {
		name    string
		req     models.AuthRequest
		wantErr error
	}{
		{name: "missing username", req: models.AuthRequest{Password: "secret"}, wantErr: ErrMissingUsernameOrPassword},
		{name: "missing password", req: models.AuthRequest{Username: "bob"}, wantErr: ErrMissingUsernameOrPassword},
		{name: "already registered", req: models.AuthRequest{Username: "alice", Password: "other"}, wantErr: models.ErrAlreadyExists},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, f.app.Register(ctx, tc.req), tc.wantErr)
		})
	}
	assert.Equal(t, int64(100), f.balance(t, "alice"))
}

func TestApp_RegisterAdoptsAccountWithoutCredentials(t *testing.T) {
	f := newFixture(t, newMemStorage(), Options{InitialCoins: 100})
	ctx := context.Background()

	require.NoError(t, f.app.CreateAccount(ctx, "alice", 7))
	require.NoError(t, f.app.Register(ctx, models.AuthRequest{Username: "alice", Password: "secret"}))
	assert.Equal(t, int64(7), f.balance(t, "alice"))
}

func TestApp_RegisterRateLimited(t *testing.T) {
	f := newFixture(t, newMemStorage(), Options{InitialCoins: 100, RegistrationLimit: rate.NewLimiter(0, 1)})
	ctx := context.Background()

	require.NoError(t, f.app.Register(ctx, models.AuthRequest{Username: "alice", Password: "secret"}))
	err := f.app.Register(ctx, models.AuthRequest{Username: "bob", Password: "secret"})
	assert.ErrorIs(t, err, ErrRateLimited)

	_, err = f.ledger.GetBalance(ctx, "bob")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestApp_ProcessAuth(t *testing.T) {
	f := newFixture(t, newMemStorage(), Options{InitialCoins: 100})
	ctx := context.Background()

	// Unknown users are registered on first login.
	token, err := f.app.ProcessAuth(ctx, models.AuthRequest{Username: "alice", Password: "secret"})
	require.NoError(t, err)
	assert.Equal(t, int64(100), f.balance(t, "alice"))

	claims, err := f.app.signer.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Username)

	_, err = f.app.ProcessAuth(ctx, models.AuthRequest{Username: "alice", Password: "secret"})
	assert.NoError(t, err)
	assert.Equal(t, int64(100), f.balance(t, "alice"))

	_, err = f.app.ProcessAuth(ctx, models.AuthRequest{Username: "alice", Password: "wrong"})
	assert.ErrorIs(t, err, credentials.ErrMismatchedPassword)

	_, err = f.app.ProcessAuth(ctx, models.AuthRequest{Username: "alice"})
	assert.ErrorIs(t, err, ErrMissingUsernameOrPassword)
}

func TestApp_ProcessAuthRequiresRegistration(t *testing.T) {
	f := newFixture(t, newMemStorage(), Options{InitialCoins: 100, RequireRegistration: true})
	ctx := context.Background()

	_, err := f.app.ProcessAuth(ctx, models.AuthRequest{Username: "alice", Password: "secret"})
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = f.ledger.GetBalance(ctx, "alice")
	assert.ErrorIs(t, err, models.ErrNotFound)

	require.NoError(t, f.app.Register(ctx, models.AuthRequest{Username: "alice", Password: "secret"}))
	token, err := f.app.ProcessAuth(ctx, models.AuthRequest{Username: "alice", Password: "secret"})
	require.NoError(t, err)
	assert.NotEmpty(t, token)
}
