package sqlite

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the rtp sqlite store.
var Migrations = migrate.NewGroup("rtp")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_rtp_last_accepted_at",
			Version: "20240101000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS rtp_last_accepted_at (
    pubkey      TEXT PRIMARY KEY,
    accepted_at INTEGER NOT NULL,
    version     INTEGER NOT NULL
)`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS rtp_last_accepted_at`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_rtp_last_connection",
			Version: "20240101000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS rtp_last_connection (
    id                   INTEGER PRIMARY KEY CHECK (id = 1),
    pubkey               TEXT NOT NULL,
    event_id             TEXT NOT NULL,
    head                 TEXT NOT NULL,
    last                 TEXT NOT NULL,
    accepted_at          INTEGER NOT NULL,
    hibernation_breaking INTEGER NOT NULL DEFAULT 0,
    version              INTEGER NOT NULL
)`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS rtp_last_connection`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_rtp_point_tx",
			Version: "20240101000003",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				if _, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS rtp_point_tx (
    order_key  TEXT PRIMARY KEY,
    grant_id   TEXT NOT NULL DEFAULT '',
    type       TEXT NOT NULL,
    amount     INTEGER NOT NULL CHECK (amount > 0),
    pubkey     TEXT NOT NULL,
    event_id   TEXT NOT NULL,
    granted_at INTEGER NOT NULL
)`); err != nil {
					return err
				}
				if _, err := exec.Exec(ctx, `CREATE INDEX IF NOT EXISTS idx_rtp_point_tx_pubkey ON rtp_point_tx (pubkey, order_key)`); err != nil {
					return err
				}
				_, err := exec.Exec(ctx, `CREATE INDEX IF NOT EXISTS idx_rtp_point_tx_grant ON rtp_point_tx (grant_id)`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS rtp_point_tx`)
				return err
			},
		},
	)
}
