// Package credentials keeps the username to password-hash registry used by
// the authentication flow. It is persisted as its own snapshot kind.
package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"marketplace/internal/models"
	"marketplace/internal/pkg/logger"
	"marketplace/internal/pkg/security"
	"marketplace/internal/storage"
)

// ErrMismatchedPassword reports a failed password check.
var ErrMismatchedPassword = errors.New("credentials: incorrect password")

// Registry stores bcrypt hashes by username.
type Registry struct {
	mu     sync.Mutex
	hashes map[string]string
	db     storage.Storage
	log    *logger.Logger
}

// New restores the registry from its snapshot.
func New(ctx context.Context, db storage.Storage, l *logger.Logger) (*Registry, error) {
	registry := &Registry{hashes: make(map[string]string), db: db, log: l}

	data, err := db.LoadSnapshot(ctx, storage.KindCredentials)
	if errors.Is(err, storage.ErrAbsent) {
		return registry, nil
	}
	if err != nil {
		return nil, fmt.Errorf("credentials: load: %w", err)
	}
	if err := json.Unmarshal(data, &registry.hashes); err != nil {
		return nil, fmt.Errorf("credentials: decode snapshot: %v: %w", err, models.ErrIOCorrupt)
	}
	return registry, nil
}

// Exists reports whether username is registered.
func (registry *Registry) Exists(username string) bool {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	_, ok := registry.hashes[username]
	return ok
}

// Register stores the hash of password for a new username.
func (registry *Registry) Register(ctx context.Context, username, password string) error {
	if strings.TrimSpace(username) == "" || password == "" {
		return fmt.Errorf("credentials: missing username or password: %w", models.ErrInvalidInput)
	}

	hash, err := security.HashPassword(password)
	if err != nil {
		return fmt.Errorf("credentials: hash password: %w", err)
	}

	registry.mu.Lock()
	defer registry.mu.Unlock()

	if _, ok := registry.hashes[username]; ok {
		return fmt.Errorf("credentials: user %q: %w", username, models.ErrAlreadyExists)
	}

	next := make(map[string]string, len(registry.hashes)+1)
	for user, h := range registry.hashes {
		next[user] = h
	}
	next[username] = hash

	data, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("credentials: encode snapshot: %v: %w", err, models.ErrIOFailure)
	}
	writeCtx, cancel := storage.WriteContext(ctx)
	defer cancel()
	if err := registry.db.SaveSnapshot(writeCtx, storage.KindCredentials, data); err != nil {
		registry.log.Sugar().Errorf("Failed to persist credentials snapshot: %s", err)
		if !errors.Is(err, models.ErrIOFailure) {
			err = fmt.Errorf("%v: %w", err, models.ErrIOFailure)
		}
		return fmt.Errorf("credentials: persist: %w", err)
	}

	registry.hashes = next
	return nil
}

// Verify checks password against the stored hash of username.
func (registry *Registry) Verify(username, password string) error {
	registry.mu.Lock()
	hash, ok := registry.hashes[username]
	registry.mu.Unlock()

	if !ok {
		return fmt.Errorf("credentials: user %q: %w", username, models.ErrNotFound)
	}
	if err := security.CheckPassword(hash, password); err != nil {
		return ErrMismatchedPassword
	}
	return nil
}
