package credentials

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSessionStore persists refresh sessions so they survive restarts
// and revocation applies across replicas sharing the database.
type PostgresSessionStore struct {
	db *pgxpool.Pool
}

// NewPostgresSessionStore creates a session store backed by the given pool.
func NewPostgresSessionStore(db *pgxpool.Pool) *PostgresSessionStore {
	return &PostgresSessionStore{db: db}
}

// Save inserts the session record.
func (p *PostgresSessionStore) Save(ctx context.Context, id, subject string, expiresAt time.Time) error {
	_, err := p.db.Exec(ctx,
		`INSERT INTO sessions (id, subject, expires_at) VALUES ($1, $2, $3)`,
		id, subject, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// Active reports whether a non-revoked, non-expired session exists.
func (p *PostgresSessionStore) Active(ctx context.Context, id string) (bool, error) {
	var active bool
	err := p.db.QueryRow(ctx,
		`SELECT EXISTS(
			SELECT 1 FROM sessions
			WHERE id = $1 AND revoked_at IS NULL AND expires_at > NOW()
		)`,
		id,
	).Scan(&active)
	if err != nil {
		return false, fmt.Errorf("check session: %w", err)
	}
	return active, nil
}

// Revoke marks the session revoked. Unknown ids are ignored.
func (p *PostgresSessionStore) Revoke(ctx context.Context, id string) error {
	_, err := p.db.Exec(ctx,
		`UPDATE sessions SET revoked_at = NOW() WHERE id = $1 AND revoked_at IS NULL`,
		id,
	)
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}
