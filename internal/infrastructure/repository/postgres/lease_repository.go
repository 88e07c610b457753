package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kirillkom/docs-assistant/internal/core/domain"
)

const reindexLeaseName = "reindex"

// LeaseRepository keeps the re-index lease in a single row. Acquire is one
// conditional upsert, so two workers racing for an expired lease cannot both
// win.
type LeaseRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewLeaseRepository(db *sql.DB) *LeaseRepository {
	return &LeaseRepository{db: db, now: time.Now}
}

func (r *LeaseRepository) Acquire(ctx context.Context, holder string, ttl time.Duration) (bool, error) {
	if holder == "" || ttl <= 0 {
		return false, domain.WrapError(domain.ErrInvalidInput, "acquire lease", fmt.Errorf("holder and ttl are required"))
	}
	now := r.now().UTC()
	res, err := r.db.ExecContext(ctx, `
INSERT INTO index_leases (name, holder, expires_at)
VALUES ($1, $2, $3)
ON CONFLICT (name) DO UPDATE SET holder = EXCLUDED.holder, expires_at = EXCLUDED.expires_at
WHERE index_leases.expires_at <= $4 OR index_leases.holder = EXCLUDED.holder
`, reindexLeaseName, holder, now.Add(ttl), now)
	if err != nil {
		return false, fmt.Errorf("acquire lease: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("acquire lease rows affected: %w", err)
	}
	return affected == 1, nil
}

// Release only removes the lease if holder still owns it.
func (r *LeaseRepository) Release(ctx context.Context, holder string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM index_leases WHERE name = $1 AND holder = $2`, reindexLeaseName, holder)
	if err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}

func (r *LeaseRepository) Current(ctx context.Context) (domain.Lease, error) {
	var lease domain.Lease
	err := r.db.QueryRowContext(ctx, `SELECT holder, expires_at FROM index_leases WHERE name = $1`, reindexLeaseName).
		Scan(&lease.Holder, &lease.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Lease{}, nil
	}
	if err != nil {
		return domain.Lease{}, fmt.Errorf("read lease: %w", err)
	}
	return lease, nil
}
