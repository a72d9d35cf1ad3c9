// Package sqlite provides a SQLite-backed store using Grove ORM.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/xraph/grove"
	"github.com/xraph/grove/driver"
	"github.com/xraph/grove/drivers/sqlitedriver"
	_ "github.com/xraph/grove/drivers/sqlitedriver/sqlitemigrate"
	"github.com/xraph/grove/migrate"

	"github.com/xraph/rtp"
	"github.com/xraph/rtp/id"
	"github.com/xraph/rtp/point"
	rtpstore "github.com/xraph/rtp/store"
)

// compile-time interface check
var _ rtpstore.Store = (*Store)(nil)

// Store implements store.Store using SQLite via Grove ORM. Open limits the
// pool to one connection so commits never contend on the database lock.
type Store struct {
	db  *grove.DB
	sdb *sqlitedriver.SqliteDB
}

// Open opens the database at path. Use ":memory:" for a private in-memory
// database.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("rtp/sqlite: storage path is required")
	}
	dsn := ":memory:"
	if path != ":memory:" {
		dsn = "file:" + filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=synchronous(FULL)"
	}

	sdb := sqlitedriver.New()
	if err := sdb.Open(context.Background(), dsn, driver.WithPoolSize(1)); err != nil {
		return nil, fmt.Errorf("rtp/sqlite: open: %w", err)
	}
	db, err := grove.Open(sdb)
	if err != nil {
		_ = sdb.Close()
		return nil, fmt.Errorf("rtp/sqlite: open: %w", err)
	}
	return New(db), nil
}

// New creates a new SQLite store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		sdb: sqlitedriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.sdb)
	if err != nil {
		return fmt.Errorf("rtp/sqlite: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("rtp/sqlite: migration failed: %w", err)
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
	err := s.sdb.NewSelect(la).Where("pubkey = ?", authorID).Scan(ctx)
	switch {
	case err == nil:
		at := la.AcceptedAt
		st.LastAcceptedAt = &at
		st.LastAcceptedVersion = versionstamp(la.Version)
	case !isNoRows(err):
		return nil, fmt.Errorf("rtp/sqlite: load last accepted: %w", err)
	}

	lc := new(lastConnectionModel)
	err = s.sdb.NewSelect(lc).Where("id = ?", lastConnectionID).Scan(ctx)
	switch {
	case err == nil:
		st.LastConnection = fromLastConnectionModel(lc)
		st.LastConnectionVersion = versionstamp(lc.Version)
	case !isNoRows(err):
		return nil, fmt.Errorf("rtp/sqlite: load last connection: %w", err)
	}

	return st, nil
}

func (s *Store) CommitGrant(ctx context.Context, c *rtpstore.GrantCommit) error {
	acceptedVer, err := parseVersion(c.ExpectLastAccepted)
	if err != nil {
		return fmt.Errorf("rtp/sqlite: commit grant: %w", err)
	}
	connVer, err := parseVersion(c.ExpectLastConnection)
	if err != nil {
		return fmt.Errorf("rtp/sqlite: commit grant: %w", err)
	}
	for _, t := range c.Transactions {
		if t.Key.IsZero() {
			return errors.New("rtp/sqlite: commit grant: transaction without key")
		}
	}

	tx, err := s.sdb.BeginTxQuery(ctx, nil)
	if err != nil {
		return fmt.Errorf("rtp/sqlite: begin commit: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var res driver.Result
	if acceptedVer == 0 {
		res, err = tx.NewRaw(`
INSERT INTO rtp_last_accepted_at (pubkey, accepted_at, version) VALUES (?, ?, 1)
ON CONFLICT (pubkey) DO NOTHING`,
			c.AuthorID, c.LastAcceptedAt,
		).Exec(ctx)
	} else {
		res, err = tx.NewRaw(`
UPDATE rtp_last_accepted_at SET accepted_at = ?, version = version + 1
WHERE pubkey = ? AND version = ?`,
			c.LastAcceptedAt, c.AuthorID, acceptedVer,
		).Exec(ctx)
	}
	if err := checkSwapped(res, err, "last accepted"); err != nil {
		return err
	}

	lc := c.LastConnection
	if connVer == 0 {
		res, err = tx.NewRaw(`
INSERT INTO rtp_last_connection (id, pubkey, event_id, head, last, accepted_at, hibernation_breaking, version)
VALUES (?, ?, ?, ?, ?, ?, ?, 1)
ON CONFLICT (id) DO NOTHING`,
			lastConnectionID, lc.AuthorID, lc.PostID, lc.Head, lc.Last, lc.AcceptedAt, boolInt(lc.HibernationBreaking),
		).Exec(ctx)
	} else {
		res, err = tx.NewRaw(`
UPDATE rtp_last_connection
SET pubkey = ?, event_id = ?, head = ?, last = ?, accepted_at = ?, hibernation_breaking = ?, version = version + 1
WHERE id = ? AND version = ?`,
			lc.AuthorID, lc.PostID, lc.Head, lc.Last, lc.AcceptedAt, boolInt(lc.HibernationBreaking),
			lastConnectionID, connVer,
		).Exec(ctx)
	}
	if err := checkSwapped(res, err, "last connection"); err != nil {
		return err
	}

	for _, t := range c.Transactions {
		_, err := tx.NewRaw(`
INSERT INTO rtp_point_tx (order_key, grant_id, type, amount, pubkey, event_id, granted_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
			t.Key.String(), t.GrantID.String(), string(t.Type), t.Amount, t.AuthorID, t.PostID, t.GrantedAt,
		).Exec(ctx)
		if err != nil {
			return fmt.Errorf("rtp/sqlite: append transaction %s: %w", t.Key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("rtp/sqlite: commit grant: %w", err)
	}
	return nil
}

// checkSwapped turns a conditional write that touched no row into a conflict.
func checkSwapped(res driver.Result, err error, what string) error {
	if err != nil {
		if isConstraintViolation(err) {
			return rtp.ErrConflict
		}
		return fmt.Errorf("rtp/sqlite: write %s: %w", what, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rtp/sqlite: write %s: %w", what, err)
	}
	if n == 0 {
		return rtp.ErrConflict
	}
	return nil
}

func (s *Store) GetLastAcceptedAt(ctx context.Context, authorID string) (int64, error) {
	m := new(lastAcceptedModel)
	err := s.sdb.NewSelect(m).Where("pubkey = ?", authorID).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return 0, rtp.ErrNotFound
		}
		return 0, fmt.Errorf("rtp/sqlite: get last accepted: %w", err)
	}
	return m.AcceptedAt, nil
}

func (s *Store) GetLastConnection(ctx context.Context) (*point.LastConnection, error) {
	m := new(lastConnectionModel)
	err := s.sdb.NewSelect(m).Where("id = ?", lastConnectionID).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, rtp.ErrNotFound
		}
		return nil, fmt.Errorf("rtp/sqlite: get last connection: %w", err)
	}
	return fromLastConnectionModel(m), nil
}

// ==================== Transactions ====================

func (s *Store) GetTransaction(ctx context.Context, key id.OrderKey) (*point.Transaction, error) {
	m := new(txModel)
	err := s.sdb.NewSelect(m).Where("order_key = ?", key.String()).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, rtp.ErrNotFound
		}
		return nil, fmt.Errorf("rtp/sqlite: get transaction: %w", err)
	}
	return fromTxModel(m)
}

func (s *Store) ListTransactions(ctx context.Context, q rtpstore.TxQuery) ([]*point.Transaction, error) {
	var models []txModel
	sel := s.sdb.NewSelect(&models)

	if q.AuthorID != "" {
		sel = sel.Where("pubkey = ?", q.AuthorID)
	}
	if !q.Start.IsZero() {
		sel = sel.Where("order_key >= ?", q.Start.String())
	}
	if !q.End.IsZero() {
		sel = sel.Where("order_key < ?", q.End.String())
	}
	sel = sel.OrderExpr("order_key ASC")
	if q.Limit > 0 {
		sel = sel.Limit(q.Limit)
	}

	if err := sel.Scan(ctx); err != nil {
		return nil, fmt.Errorf("rtp/sqlite: list transactions: %w", err)
	}

	result := make([]*point.Transaction, 0, len(models))
	for i := range models {
		t, err := fromTxModel(&models[i])
		if err != nil {
			return nil, fmt.Errorf("rtp/sqlite: decode transaction: %w", err)
		}
		result = append(result, t)
	}
	return result, nil
}

// ==================== Helpers ====================

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func isConstraintViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return false
}
