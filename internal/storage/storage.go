// Package storage provides the durable layer beneath the marketplace stores.
// A store hands it a complete serialized snapshot of its state; the backend
// commits the snapshot atomically so that a reader or a crash observes either
// the previous snapshot or the new one, never a mixture.
package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"marketplace/internal/models"
)

//go:generate mockgen -source=storage.go -destination=mocks/mock_storage.go -package=mocks

// Kind names an independently persisted collection.
type Kind string

const (
	KindAccounts    Kind = "accounts"
	KindItems       Kind = "items"
	KindCredentials Kind = "credentials"
)

// WriteTimeout bounds a single durable write.
const WriteTimeout = 10 * time.Second

// WriteContext returns a context for a durable write that started on behalf
// of ctx. It keeps ctx's values, ignores its cancellation so the write is
// never interrupted halfway by the caller, and expires after WriteTimeout.
func WriteContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), WriteTimeout)
}

// ErrAbsent reports that no snapshot of the requested kind was ever saved.
var ErrAbsent = errors.New("storage: snapshot absent")

// Storage defines the methods required for snapshot persistence.
type Storage interface {
	// SaveSnapshot atomically replaces the snapshot of the given kind.
	SaveSnapshot(ctx context.Context, kind Kind, data []byte) error
	// LoadSnapshot returns the latest snapshot, ErrAbsent, or an error
	// wrapping models.ErrIOCorrupt or models.ErrIOFailure.
	LoadSnapshot(ctx context.Context, kind Kind) ([]byte, error)
	// Close releases the backend.
	Close() error
}

// envelope is the on-disk form of a snapshot.
type envelope struct {
	Kind     Kind            `json:"kind"`
	SavedAt  time.Time       `json:"saved_at"`
	Checksum string          `json:"checksum"`
	Data     json.RawMessage `json:"data"`
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func encodeEnvelope(kind Kind, data []byte) ([]byte, error) {
	// The envelope embeds data compacted, so the checksum covers that form.
	var compacted bytes.Buffer
	if err := json.Compact(&compacted, data); err != nil {
		return nil, fmt.Errorf("storage: %s snapshot is not valid JSON: %v: %w", kind, err, models.ErrIOFailure)
	}
	var out bytes.Buffer
	enc := json.NewEncoder(&out)
	enc.SetEscapeHTML(false)
	err := enc.Encode(envelope{
		Kind:     kind,
		SavedAt:  time.Now().UTC(),
		Checksum: checksum(compacted.Bytes()),
		Data:     compacted.Bytes(),
	})
	if err != nil {
		return nil, fmt.Errorf("storage: encode %s snapshot: %v: %w", kind, err, models.ErrIOFailure)
	}
	return out.Bytes(), nil
}

func decodeEnvelope(kind Kind, raw []byte) ([]byte, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("storage: decode %s snapshot: %v: %w", kind, err, models.ErrIOCorrupt)
	}
	if env.Kind != kind {
		return nil, fmt.Errorf("storage: snapshot kind %q, want %q: %w", env.Kind, kind, models.ErrIOCorrupt)
	}
	if env.Checksum != checksum(env.Data) {
		return nil, fmt.Errorf("storage: %s snapshot checksum mismatch: %w", kind, models.ErrIOCorrupt)
	}
	return env.Data, nil
}
