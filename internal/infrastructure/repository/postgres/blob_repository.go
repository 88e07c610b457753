package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// BlobRepository stores opaque index blobs keyed by name. A single-row upsert
// is atomic for readers.
type BlobRepository struct {
	db *sql.DB
}

func NewBlobRepository(db *sql.DB) *BlobRepository {
	return &BlobRepository{db: db}
}

func (r *BlobRepository) Set(ctx context.Context, key string, value []byte) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO index_blobs (key, value, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
`, key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set index blob %s: %w", key, err)
	}
	return nil
}

func (r *BlobRepository) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := r.db.QueryRowContext(ctx, `SELECT value FROM index_blobs WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get index blob %s: %w", key, err)
	}
	return value, nil
}
