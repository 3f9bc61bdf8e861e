package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"marketplace/internal/models"
	"marketplace/internal/pkg/logger"
)

// FileStorage implements the Storage interface with one JSON file per kind.
// Every save goes to a temporary file in the same directory that is synced
// and then renamed over the previous snapshot.
type FileStorage struct {
	dir string
	mu  sync.Mutex // serializes writers per process
	log *logger.Logger
}

// NewFileStorage creates the snapshot directory if needed and returns a FileStorage rooted at it.
func NewFileStorage(dir string, l *logger.Logger) (*FileStorage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		l.Sugar().Errorf("Failed to create data directory %s: %s", dir, err)
		return nil, fmt.Errorf("storage: create data dir: %v: %w", err, models.ErrIOFailure)
	}
	return &FileStorage{dir: dir, log: l}, nil
}

func (fileStorage *FileStorage) path(kind Kind) string {
	return filepath.Join(fileStorage.dir, string(kind)+".json")
}

// SaveSnapshot writes the snapshot through a temp file and an atomic rename.
func (fileStorage *FileStorage) SaveSnapshot(ctx context.Context, kind Kind, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	raw, err := encodeEnvelope(kind, data)
	if err != nil {
		return err
	}

	fileStorage.mu.Lock()
	defer fileStorage.mu.Unlock()

	tmp, err := os.CreateTemp(fileStorage.dir, "."+string(kind)+"-*.tmp")
	if err != nil {
		fileStorage.log.Sugar().Errorf("Failed to create temp snapshot for %s: %s", kind, err)
		return fmt.Errorf("storage: create temp file: %v: %w", err, models.ErrIOFailure)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(raw); err != nil {
		fileStorage.log.Sugar().Errorf("Failed to write temp snapshot for %s: %s", kind, err)
		return fmt.Errorf("storage: write %s: %v: %w", kind, err, models.ErrIOFailure)
	}
	if err := tmp.Sync(); err != nil {
		fileStorage.log.Sugar().Errorf("Failed to sync temp snapshot for %s: %s", kind, err)
		return fmt.Errorf("storage: sync %s: %v: %w", kind, err, models.ErrIOFailure)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage: close %s: %v: %w", kind, err, models.ErrIOFailure)
	}
	if err := os.Rename(tmpName, fileStorage.path(kind)); err != nil {
		fileStorage.log.Sugar().Errorf("Failed to rename snapshot for %s: %s", kind, err)
		return fmt.Errorf("storage: rename %s: %v: %w", kind, err, models.ErrIOFailure)
	}
	committed = true

	// The new snapshot is visible from here on, so the save has happened.
	// Flushing the directory entry only hardens it against power loss.
	if err := syncDir(fileStorage.dir); err != nil {
		fileStorage.log.Sugar().Warnf("Failed to sync data directory after saving %s snapshot: %s", kind, err)
	}
	return nil
}

// LoadSnapshot reads and verifies the snapshot of the given kind.
func (fileStorage *FileStorage) LoadSnapshot(ctx context.Context, kind Kind) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(fileStorage.path(kind))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrAbsent
	}
	if err != nil {
		fileStorage.log.Sugar().Errorf("Failed to read snapshot for %s: %s", kind, err)
		return nil, fmt.Errorf("storage: read %s: %v: %w", kind, err, models.ErrIOFailure)
	}

	data, err := decodeEnvelope(kind, raw)
	if err != nil {
		fileStorage.log.Sugar().Errorf("Corrupt snapshot for %s: %s", kind, err)
		return nil, err
	}
	return data, nil
}

// Close is a no-op; files are closed after every write.
func (fileStorage *FileStorage) Close() error {
	return nil
}

var syncDir = func(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
