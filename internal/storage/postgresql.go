package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"marketplace/internal/models"
	"marketplace/internal/pkg/logger"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const (
	createSchemaQuery   = `CREATE SCHEMA IF NOT EXISTS content;`
	createSnapshotTable = `CREATE TABLE IF NOT EXISTS content.snapshots (kind TEXT PRIMARY KEY, checksum TEXT NOT NULL, data BYTEA NOT NULL, saved_at TIMESTAMPTZ NOT NULL DEFAULT NOW());`
	saveSnapshotQuery   = `INSERT INTO content.snapshots (kind, checksum, data, saved_at) VALUES ($1, $2, $3, NOW()) ON CONFLICT (kind) DO UPDATE SET checksum = EXCLUDED.checksum, data = EXCLUDED.data, saved_at = EXCLUDED.saved_at;`
	loadSnapshotQuery   = `SELECT data FROM content.snapshots WHERE kind = $1;`
)

// PostgreSQL implements the Storage interface on a single snapshots table.
// Each kind is one row; an upsert inside a transaction replaces it atomically.
type PostgreSQL struct {
	db  *sql.DB        // Connection to the database.
	log *logger.Logger // Logger for recording events and errors.
}

// NewPostgreSQL opens the connection, pings the database and makes sure the
// snapshots table exists.
func NewPostgreSQL(cofigDBString string, l *logger.Logger) (*PostgreSQL, error) {
	db, err := sql.Open("pgx", cofigDBString)
	if err != nil {
		l.Sugar().Errorf("Failed to open a database: %s", err)
		return &PostgreSQL{db: db, log: l}, err
	}

	const defaultTimeout = 10 * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		l.Sugar().Errorf("Database ping failed: %s", err)
		return &PostgreSQL{db: db, log: l}, err
	}

	for _, query := range []string{createSchemaQuery, createSnapshotTable} {
		if _, err := db.ExecContext(ctx, query); err != nil {
			l.Sugar().Errorf("Failed to prepare snapshot schema: %s", err)
			return &PostgreSQL{db: db, log: l}, err
		}
	}

	return &PostgreSQL{db: db, log: l}, nil
}

// Close closes the database connection if it is open.
func (postgresql *PostgreSQL) Close() error {
	if postgresql.db != nil {
		return postgresql.db.Close()
	}
	return nil
}

// SaveSnapshot upserts the snapshot row for kind within a transaction.
func (postgresql *PostgreSQL) SaveSnapshot(ctx context.Context, kind Kind, data []byte) error {
	raw, err := encodeEnvelope(kind, data)
	if err != nil {
		return err
	}

	tx, err := postgresql.db.BeginTx(ctx, nil)
	if err != nil {
		postgresql.log.Sugar().Errorf("Failed to begin snapshot transaction: %s", err)
		return classify(err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, saveSnapshotQuery, string(kind), checksum(raw), raw); err != nil {
		postgresql.log.Sugar().Errorf("Failed to execute a query saveSnapshotQuery: %s", err)
		return classify(err)
	}

	if err = tx.Commit(); err != nil {
		postgresql.log.Sugar().Errorf("Failed to commit snapshot of %s: %s", kind, err)
		return classify(err)
	}

	return nil
}

// LoadSnapshot reads and verifies the snapshot row for kind.
func (postgresql *PostgreSQL) LoadSnapshot(ctx context.Context, kind Kind) ([]byte, error) {
	var raw []byte
	err := postgresql.db.QueryRowContext(ctx, loadSnapshotQuery, string(kind)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAbsent
	}
	if err != nil {
		postgresql.log.Sugar().Errorf("Failed to execute a query loadSnapshotQuery: %s", err)
		return nil, classify(err)
	}

	data, err := decodeEnvelope(kind, raw)
	if err != nil {
		postgresql.log.Sugar().Errorf("Corrupt snapshot for %s: %s", kind, err)
		return nil, err
	}
	return data, nil
}

// classify maps a driver error onto the persistence error kinds.
func classify(err error) error {
	var pgError *pgconn.PgError
	if errors.As(err, &pgError) {
		switch pgError.Code {
		case pgerrcode.DataCorrupted, pgerrcode.IndexCorrupted:
			return fmt.Errorf("storage: %s: %w", pgError.Message, models.ErrIOCorrupt)
		}
		return fmt.Errorf("storage: postgres %s: %s: %w", pgError.Code, pgError.Message, models.ErrIOFailure)
	}
	return fmt.Errorf("storage: %v: %w", err, models.ErrIOFailure)
}
