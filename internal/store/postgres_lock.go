package store

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresLocker keeps named leases in the scheduler_locks table. A lease that is not
// released expires after ttl so a crashed holder cannot block the job forever.
type PostgresLocker struct {
	db    *pgxpool.Pool
	ttl   time.Duration
	owner string
}

func NewPostgresLocker(db *pgxpool.Pool, ttl time.Duration, owner string) *PostgresLocker {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	owner = strings.TrimSpace(owner)
	if owner == "" {
		owner = "spenn"
	}
	return &PostgresLocker{db: db, ttl: ttl, owner: owner}
}

func (l *PostgresLocker) TryLock(ctx context.Context, name string) (bool, error) {
	query := `
		INSERT INTO scheduler_locks (name, locked_until, locked_at, locked_by)
		VALUES ($1, NOW() + ($2 * INTERVAL '1 millisecond'), NOW(), $3)
		ON CONFLICT (name) DO UPDATE
		SET locked_until = EXCLUDED.locked_until,
		    locked_at = EXCLUDED.locked_at,
		    locked_by = EXCLUDED.locked_by
		WHERE scheduler_locks.locked_until <= NOW()`
	tag, err := l.db.Exec(ctx, query, name, l.ttl.Milliseconds(), l.owner)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (l *PostgresLocker) Renew(ctx context.Context, name string) (bool, error) {
	query := `
		UPDATE scheduler_locks
		SET locked_until = NOW() + ($2 * INTERVAL '1 millisecond')
		WHERE name = $1 AND locked_by = $3 AND locked_until > NOW()`
	tag, err := l.db.Exec(ctx, query, name, l.ttl.Milliseconds(), l.owner)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (l *PostgresLocker) Unlock(ctx context.Context, name string) error {
	_, err := l.db.Exec(ctx,
		`UPDATE scheduler_locks SET locked_until = NOW() WHERE name = $1 AND locked_by = $2`,
		name, l.owner,
	)
	return err
}
