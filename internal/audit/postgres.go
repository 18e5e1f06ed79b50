package audit

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSink appends audit events to the audit_events table.
type PostgresSink struct {
	db *pgxpool.Pool
}

// NewPostgresSink creates a sink writing to the given pool.
func NewPostgresSink(db *pgxpool.Pool) *PostgresSink {
	return &PostgresSink{db: db}
}

// Write inserts one event.
func (p *PostgresSink) Write(ctx context.Context, ev Event) error {
	_, err := p.db.Exec(ctx,
		`INSERT INTO audit_events (id, occurred_at, decision, principal_kind, identity, reason, path)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ev.ID, ev.Time, ev.Decision, ev.PrincipalKind, ev.Identity, ev.Reason, ev.Path,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}
