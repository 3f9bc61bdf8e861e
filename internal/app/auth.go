package app

import (
	"context"
	"errors"
	"fmt"

	"marketplace/internal/models"
)

// Register creates credentials and a ledger account with the configured
// starting balance.
func (app *App) Register(ctx context.Context, req models.AuthRequest) error {
	if req.Username == "" || req.Password == "" {
		return ErrMissingUsernameOrPassword
	}
	if app.credentials.Exists(req.Username) {
		return models.ErrAlreadyExists
	}
	if app.opts.RegistrationLimit != nil && !app.opts.RegistrationLimit.Allow() {
		return ErrRateLimited
	}

	// The account goes first: an account without credentials is harmless and
	// is adopted by the next registration attempt for the same name.
	err := app.ledger.CreateAccount(ctx, req.Username, app.opts.InitialCoins)
	if err != nil && !errors.Is(err, models.ErrAlreadyExists) {
		return err
	}

	if err := app.credentials.Register(ctx, req.Username, req.Password); err != nil {
		return err
	}
	app.log.Sugar().Infof("Registered %s with %d coins", req.Username, app.opts.InitialCoins)
	return nil
}

// ProcessAuth handles user authentication by verifying credentials and generating a token.
// If the user does not exist, it registers the user with the starting coin balance,
// unless registration is required, in which case it fails with models.ErrNotFound.
func (app *App) ProcessAuth(ctx context.Context, req models.AuthRequest) (string, error) {
	if req.Username == "" || req.Password == "" {
		return "", ErrMissingUsernameOrPassword
	}

	if !app.credentials.Exists(req.Username) {
		if app.opts.RequireRegistration {
			return "", fmt.Errorf("app: user %q is not registered: %w", req.Username, models.ErrNotFound)
		}
		if err := app.Register(ctx, req); err != nil && !errors.Is(err, models.ErrAlreadyExists) {
			return "", err
		}
	}

	if err := app.credentials.Verify(req.Username, req.Password); err != nil {
		return "", err
	}

	return app.signer.GenerateToken(req.Username)
}
