package postgres

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the migration group for the remittance store.
var Migrations = migrate.NewGroup("remittance")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_remittance_state",
			Version: "20260101000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS remittance_state (
    id               SMALLINT PRIMARY KEY CHECK (id = 1),
    paused           BOOLEAN NOT NULL DEFAULT FALSE,
    fee_percentage   SMALLINT NOT NULL DEFAULT 1 CHECK (fee_percentage BETWEEN 0 AND 100),
    treasury_balance BIGINT NOT NULL DEFAULT 0 CHECK (treasury_balance >= 0),
    deposited        BIGINT NOT NULL DEFAULT 0,
    claimed          BIGINT NOT NULL DEFAULT 0,
    withdrawn        BIGINT NOT NULL DEFAULT 0,
    event_seq        BIGINT NOT NULL DEFAULT 0,
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS remittance_state`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_remittance_payments",
			Version: "20260101000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS remittance_payments (
    id             TEXT PRIMARY KEY,
    sender         TEXT NOT NULL,
    recipient      TEXT NOT NULL,
    currency       TEXT NOT NULL DEFAULT '',
    gross_amount   BIGINT NOT NULL,
    net_amount     BIGINT NOT NULL,
    fee_amount     BIGINT NOT NULL,
    fee_percentage SMALLINT NOT NULL,
    claimed        BOOLEAN NOT NULL DEFAULT FALSE,
    claimed_at     TIMESTAMPTZ,
    expiration     TIMESTAMPTZ NOT NULL,
    created_at     TIMESTAMPTZ NOT NULL,
    updated_at     TIMESTAMPTZ NOT NULL,
    CHECK (net_amount + fee_amount = gross_amount)
);

CREATE INDEX IF NOT EXISTS idx_remittance_payments_sender ON remittance_payments (sender, created_at);
CREATE INDEX IF NOT EXISTS idx_remittance_payments_recipient ON remittance_payments (recipient, created_at);
CREATE INDEX IF NOT EXISTS idx_remittance_payments_created ON remittance_payments (created_at, id);
CREATE INDEX IF NOT EXISTS idx_remittance_payments_unclaimed ON remittance_payments (expiration) WHERE NOT claimed;
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS remittance_payments`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_remittance_roles",
			Version: "20260101000003",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS remittance_roles (
    id         TEXT PRIMARY KEY,
    role       TEXT NOT NULL,
    principal  TEXT NOT NULL,
    granted_by TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL,
    UNIQUE (role, principal)
);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS remittance_roles`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_remittance_withdrawals",
			Version: "20260101000004",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS remittance_withdrawals (
    id            TEXT PRIMARY KEY,
    owner         TEXT NOT NULL,
    amount        BIGINT NOT NULL CHECK (amount >= 0),
    balance_after BIGINT NOT NULL CHECK (balance_after >= 0),
    created_at    TIMESTAMPTZ NOT NULL,
    updated_at    TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_remittance_withdrawals_owner ON remittance_withdrawals (owner, created_at);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS remittance_withdrawals`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_remittance_events",
			Version: "20260101000005",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS remittance_events (
    seq         BIGINT PRIMARY KEY,
    id          TEXT NOT NULL UNIQUE,
    type        TEXT NOT NULL,
    actor       TEXT NOT NULL,
    subject     TEXT NOT NULL DEFAULT '',
    payload     JSONB NOT NULL DEFAULT '{}',
    occurred_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_remittance_events_type ON remittance_events (type, seq);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS remittance_events`)
				return err
			},
		},
	)
}
