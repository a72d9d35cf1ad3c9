// Package postgres provides a PostgreSQL-backed store using Grove ORM.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/pgdriver"
	"github.com/xraph/grove/migrate"

	"github.com/xraph/rtp"
	"github.com/xraph/rtp/id"
	"github.com/xraph/rtp/point"
	rtpstore "github.com/xraph/rtp/store"
)

// compile-time interface check
var _ rtpstore.Store = (*Store)(nil)

// sqlstateDivisionByZero is raised by commitGrantSQL when a version check
// fails, aborting the whole statement.
const sqlstateDivisionByZero = "22012"

// commitGrantSQL applies a grant in one statement. Both upserts only touch
// their row when the stored version still equals the expected one; the
// final SELECT divides by zero unless both returned a row, which rolls back
// every write made by the statement.
const commitGrantSQL = `
WITH acc AS (
    INSERT INTO rtp_last_accepted_at (pubkey, accepted_at, version)
    VALUES ($1, $2, $3::bigint + 1)
    ON CONFLICT (pubkey) DO UPDATE
        SET accepted_at = EXCLUDED.accepted_at, version = EXCLUDED.version
        WHERE rtp_last_accepted_at.version = $3::bigint
    RETURNING 1
), conn AS (
    INSERT INTO rtp_last_connection (id, pubkey, event_id, head, last, accepted_at, hibernation_breaking, version)
    VALUES ($4, $5, $6, $7, $8, $9, $10, $11::bigint + 1)
    ON CONFLICT (id) DO UPDATE
        SET pubkey = EXCLUDED.pubkey,
            event_id = EXCLUDED.event_id,
            head = EXCLUDED.head,
            last = EXCLUDED.last,
            accepted_at = EXCLUDED.accepted_at,
            hibernation_breaking = EXCLUDED.hibernation_breaking,
            version = EXCLUDED.version
        WHERE rtp_last_connection.version = $11::bigint
    RETURNING 1
), txs AS (
    INSERT INTO rtp_point_tx (order_key, grant_id, type, amount, pubkey, event_id, granted_at)
    SELECT * FROM unnest($12::text[], $13::text[], $14::text[], $15::bigint[], $16::text[], $17::text[], $18::bigint[])
    RETURNING 1
)
SELECT CASE
    WHEN (SELECT count(*) FROM acc) = 1 AND (SELECT count(*) FROM conn) = 1
        THEN (SELECT count(*) FROM txs)
    ELSE 1 / ((SELECT count(*) FROM acc) * 0)
END
`

// Store implements store.Store using PostgreSQL via Grove ORM.
type Store struct {
	db *grove.DB
	pg *pgdriver.PgDB
}

// New creates a new PostgreSQL store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db: db,
		pg: pgdriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.pg)
	if err != nil {
		return fmt.Errorf("rtp/postgres: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("rtp/postgres: migration failed: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Grant state ====================

func (s *Store) LoadGrantState(ctx context.Context, authorID string) (*rtpstore.GrantState, error) {
	st := &rtpstore.GrantState{}

	la := new(lastAcceptedModel)
	err := s.pg.NewSelect(la).Where("pubkey = $1", authorID).Scan(ctx)
	switch {
	case err == nil:
		at := la.AcceptedAt
		st.LastAcceptedAt = &at
		st.LastAcceptedVersion = versionstamp(la.Version)
	case !isNoRows(err):
		return nil, fmt.Errorf("rtp/postgres: load last accepted: %w", err)
	}

	lc := new(lastConnectionModel)
	err = s.pg.NewSelect(lc).Where("id = $1", lastConnectionID).Scan(ctx)
	switch {
	case err == nil:
		st.LastConnection = fromLastConnectionModel(lc)
		st.LastConnectionVersion = versionstamp(lc.Version)
	case !isNoRows(err):
		return nil, fmt.Errorf("rtp/postgres: load last connection: %w", err)
	}

	return st, nil
}

func (s *Store) CommitGrant(ctx context.Context, c *rtpstore.GrantCommit) error {
	acceptedVer, err := parseVersion(c.ExpectLastAccepted)
	if err != nil {
		return fmt.Errorf("rtp/postgres: commit grant: %w", err)
	}
	connVer, err := parseVersion(c.ExpectLastConnection)
	if err != nil {
		return fmt.Errorf("rtp/postgres: commit grant: %w", err)
	}
	cols, err := toTxColumns(c.Transactions)
	if err != nil {
		return fmt.Errorf("rtp/postgres: commit grant: %w", err)
	}

	lc := c.LastConnection
	var written int64
	err = s.pg.NewRaw(commitGrantSQL,
		c.AuthorID, c.LastAcceptedAt, acceptedVer,
		lastConnectionID, lc.AuthorID, lc.PostID, lc.Head, lc.Last, lc.AcceptedAt, lc.HibernationBreaking, connVer,
		cols.Keys, cols.GrantIDs, cols.Types, cols.Amounts, cols.AuthorIDs, cols.PostIDs, cols.GrantedAts,
	).Scan(ctx, &written)
	if err != nil {
		if isVersionMismatch(err) {
			return rtp.ErrConflict
		}
		return fmt.Errorf("rtp/postgres: commit grant: %w", err)
	}
	if written != int64(len(c.Transactions)) {
		return fmt.Errorf("rtp/postgres: commit grant: wrote %d of %d transactions", written, len(c.Transactions))
	}
	return nil
}

func (s *Store) GetLastAcceptedAt(ctx context.Context, authorID string) (int64, error) {
	m := new(lastAcceptedModel)
	err := s.pg.NewSelect(m).Where("pubkey = $1", authorID).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return 0, rtp.ErrNotFound
		}
		return 0, fmt.Errorf("rtp/postgres: get last accepted: %w", err)
	}
	return m.AcceptedAt, nil
}

func (s *Store) GetLastConnection(ctx context.Context) (*point.LastConnection, error) {
	m := new(lastConnectionModel)
	err := s.pg.NewSelect(m).Where("id = $1", lastConnectionID).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, rtp.ErrNotFound
		}
		return nil, fmt.Errorf("rtp/postgres: get last connection: %w", err)
	}
	return fromLastConnectionModel(m), nil
}

// ==================== Transactions ====================

func (s *Store) GetTransaction(ctx context.Context, key id.OrderKey) (*point.Transaction, error) {
	m := new(txModel)
	err := s.pg.NewSelect(m).Where("order_key = $1", key.String()).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, rtp.ErrNotFound
		}
		return nil, fmt.Errorf("rtp/postgres: get transaction: %w", err)
	}
	return fromTxModel(m)
}

func (s *Store) ListTransactions(ctx context.Context, q rtpstore.TxQuery) ([]*point.Transaction, error) {
	var models []txModel
	sel := s.pg.NewSelect(&models)

	argIdx := 0
	if q.AuthorID != "" {
		argIdx++
		sel = sel.Where(fmt.Sprintf("pubkey = $%d", argIdx), q.AuthorID)
	}
	if !q.Start.IsZero() {
		argIdx++
		sel = sel.Where(fmt.Sprintf("order_key >= $%d", argIdx), q.Start.String())
	}
	if !q.End.IsZero() {
		argIdx++
		sel = sel.Where(fmt.Sprintf("order_key < $%d", argIdx), q.End.String())
	}
	sel = sel.OrderExpr("order_key ASC")
	if q.Limit > 0 {
		sel = sel.Limit(q.Limit)
	}

	if err := sel.Scan(ctx); err != nil {
		return nil, fmt.Errorf("rtp/postgres: list transactions: %w", err)
	}

	result := make([]*point.Transaction, 0, len(models))
	for i := range models {
		tx, err := fromTxModel(&models[i])
		if err != nil {
			return nil, fmt.Errorf("rtp/postgres: decode transaction: %w", err)
		}
		result = append(result, tx)
	}
	return result, nil
}

// ==================== Helpers ====================

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// isVersionMismatch reports whether err is the abort raised by
// commitGrantSQL.
func isVersionMismatch(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == sqlstateDivisionByZero
}
