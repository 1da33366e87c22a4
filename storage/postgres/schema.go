package postgres

import (
	"context"
	"fmt"
)

// Schema holds the DDL for the tables this package expects. Run it through
// Migrate for development setups, or manage it with your own migration
// tooling in production.
const Schema = `
CREATE TABLE IF NOT EXISTS entitlement_states (
	user_id     TEXT PRIMARY KEY,
	credits     BIGINT NOT NULL DEFAULT 0 CHECK (credits >= 0),
	plan        TEXT NOT NULL DEFAULT 'free',
	status      TEXT NOT NULL DEFAULT 'inactive',
	customer_id TEXT NOT NULL DEFAULT '',
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS payment_ledger (
	order_id   TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	amount     BIGINT NOT NULL,
	currency   TEXT NOT NULL,
	status     TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS payment_ledger_user_id_idx ON payment_ledger (user_id);
`

// Migrate creates the required tables if they do not exist.
func (s *Storage) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
