package repository

import (
	"context"
	"fmt"
	"time"
)

// ClaimLock claims a named time-lock through the status store, so every
// invocation contends on the same row regardless of which process it runs
// in. The conditional upsert succeeds on first insert or when the previous
// claim is at least ttl old; zero rows means another invocation holds it.
func (r *Repository) ClaimLock(ctx context.Context, name string, at time.Time, ttl time.Duration) (bool, error) {
	const sql = `
INSERT INTO ordering_lock (name, claimed_at)
VALUES ($1, $2)
ON CONFLICT (name) DO UPDATE SET claimed_at = $2
WHERE ordering_lock.claimed_at <= $3`
	tag, err := r.Conn.Exec(ctx, sql, name, at, at.Add(-ttl))
	if err != nil {
		return false, fmt.Errorf("claim lock %s: %w", name, err)
	}
	return tag.RowsAffected() == 1, nil
}
