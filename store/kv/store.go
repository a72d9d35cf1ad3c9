// Package kv provides an ordered key/value store backed by cosmos-db
// (goleveldb on disk, memdb in tests).
//
// Key layout:
//
//	last_accepted_at/<author>                    acceptance + version
//	last_shiritori_connection                    global last connection + version
//	ritrin_point_tx/<orderKey>                   transaction
//	ritrin_point_tx_by_pubkey/<author>/<orderKey> transaction (author index)
//	commit_seq                                   last issued version
package kv

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"sync"

	dbm "github.com/cosmos/cosmos-db"

	"github.com/xraph/rtp"
	"github.com/xraph/rtp/id"
	"github.com/xraph/rtp/point"
	rtpstore "github.com/xraph/rtp/store"
)

const (
	prefixLastAccepted = "last_accepted_at/"
	keyLastConnection  = "last_shiritori_connection"
	prefixTx           = "ritrin_point_tx/"
	prefixTxByAuthor   = "ritrin_point_tx_by_pubkey/"
	keyCommitSeq       = "commit_seq"
)

// compile-time interface check
var _ rtpstore.Store = (*Store)(nil)

// Store implements store.Store over a cosmos-db database. Commits are
// serialized by a mutex and written with one synchronous batch.
type Store struct {
	db dbm.DB

	mu        sync.Mutex
	seq       uint64
	seqLoaded bool
	closed    bool
}

// Open opens (or creates) a goleveldb database named rtp in dir.
func Open(dir string) (*Store, error) {
	db, err := dbm.NewDB("rtp", dbm.GoLevelDBBackend, dir)
	if err != nil {
		return nil, fmt.Errorf("rtp/kv: open: %w", err)
	}
	return New(db), nil
}

// NewMem returns a store over an in-memory database.
func NewMem() *Store {
	return New(dbm.NewMemDB())
}

// New wraps an existing database.
func New(db dbm.DB) *Store {
	return &Store{db: db}
}

// Migrate loads the commit sequence. There is no schema.
func (s *Store) Migrate(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadSeq()
}

// loadSeq reads the last issued version. The caller holds mu.
func (s *Store) loadSeq() error {
	raw, err := s.db.Get([]byte(keyCommitSeq))
	if err != nil {
		return fmt.Errorf("rtp/kv: load commit sequence: %w", err)
	}
	if raw != nil {
		if len(raw) != 8 {
			return fmt.Errorf("rtp/kv: corrupt commit sequence (%d bytes)", len(raw))
		}
		s.seq = binary.BigEndian.Uint64(raw)
	}
	s.seqLoaded = true
	return nil
}

// Ping checks the database answers reads.
func (s *Store) Ping(_ context.Context) error {
	if s.isClosed() {
		return rtp.ErrStoreClosed
	}
	if _, err := s.db.Has([]byte(keyCommitSeq)); err != nil {
		return fmt.Errorf("rtp/kv: ping: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *Store) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func versionstamp(v uint64) rtpstore.Versionstamp {
	if v == 0 {
		return ""
	}
	return rtpstore.Versionstamp(strconv.FormatUint(v, 10))
}

func acceptedKey(authorID string) []byte { return []byte(prefixLastAccepted + authorID) }

func txKey(key id.OrderKey) []byte { return []byte(prefixTx + key.String()) }

func txByAuthorPrefix(authorID string) string { return prefixTxByAuthor + authorID + "/" }

// ==================== Grant state ====================

func (s *Store) getAccepted(authorID string) (*acceptedRecord, error) {
	raw, err := s.db.Get(acceptedKey(authorID))
	if err != nil || raw == nil {
		return nil, err
	}
	var r acceptedRecord
	if err := decode(raw, &r); err != nil {
		return nil, fmt.Errorf("decode last accepted: %w", err)
	}
	return &r, nil
}

func (s *Store) getConnection() (*connectionRecord, error) {
	raw, err := s.db.Get([]byte(keyLastConnection))
	if err != nil || raw == nil {
		return nil, err
	}
	var r connectionRecord
	if err := decode(raw, &r); err != nil {
		return nil, fmt.Errorf("decode last connection: %w", err)
	}
	return &r, nil
}

func (s *Store) LoadGrantState(_ context.Context, authorID string) (*rtpstore.GrantState, error) {
	if s.isClosed() {
		return nil, rtp.ErrStoreClosed
	}

	st := &rtpstore.GrantState{}

	acc, err := s.getAccepted(authorID)
	if err != nil {
		return nil, fmt.Errorf("rtp/kv: load last accepted: %w", err)
	}
	if acc != nil {
		at := acc.AcceptedAt
		st.LastAcceptedAt = &at
		st.LastAcceptedVersion = versionstamp(acc.Version)
	}

	conn, err := s.getConnection()
	if err != nil {
		return nil, fmt.Errorf("rtp/kv: load last connection: %w", err)
	}
	if conn != nil {
		st.LastConnection = conn.lastConnection()
		st.LastConnectionVersion = versionstamp(conn.Version)
	}

	return st, nil
}

func (s *Store) CommitGrant(_ context.Context, c *rtpstore.GrantCommit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return rtp.ErrStoreClosed
	}
	// Versions must never repeat, even when Migrate was skipped.
	if !s.seqLoaded {
		if err := s.loadSeq(); err != nil {
			return err
		}
	}

	acc, err := s.getAccepted(c.AuthorID)
	if err != nil {
		return fmt.Errorf("rtp/kv: commit grant: %w", err)
	}
	conn, err := s.getConnection()
	if err != nil {
		return fmt.Errorf("rtp/kv: commit grant: %w", err)
	}

	var curAccepted, curConn rtpstore.Versionstamp
	if acc != nil {
		curAccepted = versionstamp(acc.Version)
	}
	if conn != nil {
		curConn = versionstamp(conn.Version)
	}
	if curAccepted != c.ExpectLastAccepted || curConn != c.ExpectLastConnection {
		return rtp.ErrConflict
	}

	version := s.seq + 1

	batch := s.db.NewBatch()
	defer batch.Close()

	set := func(key []byte, v any) error {
		raw, err := encode(v)
		if err != nil {
			return err
		}
		return batch.Set(key, raw)
	}

	if err := set(acceptedKey(c.AuthorID), acceptedRecord{AcceptedAt: c.LastAcceptedAt, Version: version}); err != nil {
		return fmt.Errorf("rtp/kv: stage last accepted: %w", err)
	}
	if err := set([]byte(keyLastConnection), toConnectionRecord(c.LastConnection, version)); err != nil {
		return fmt.Errorf("rtp/kv: stage last connection: %w", err)
	}
	for _, tx := range c.Transactions {
		if tx.Key.IsZero() {
			return errors.New("rtp/kv: commit grant: transaction without key")
		}
		rec := toTxRecord(tx)
		if err := set(txKey(tx.Key), rec); err != nil {
			return fmt.Errorf("rtp/kv: stage transaction %s: %w", tx.Key, err)
		}
		if err := set([]byte(txByAuthorPrefix(tx.AuthorID)+tx.Key.String()), rec); err != nil {
			return fmt.Errorf("rtp/kv: stage author index %s: %w", tx.Key, err)
		}
	}

	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], version)
	if err := batch.Set([]byte(keyCommitSeq), seq[:]); err != nil {
		return fmt.Errorf("rtp/kv: stage commit sequence: %w", err)
	}

	if err := batch.WriteSync(); err != nil {
		return fmt.Errorf("rtp/kv: commit grant: %w", err)
	}
	s.seq = version
	return nil
}

func (s *Store) GetLastAcceptedAt(_ context.Context, authorID string) (int64, error) {
	acc, err := s.getAccepted(authorID)
	if err != nil {
		return 0, fmt.Errorf("rtp/kv: get last accepted: %w", err)
	}
	if acc == nil {
		return 0, rtp.ErrNotFound
	}
	return acc.AcceptedAt, nil
}

func (s *Store) GetLastConnection(_ context.Context) (*point.LastConnection, error) {
	conn, err := s.getConnection()
	if err != nil {
		return nil, fmt.Errorf("rtp/kv: get last connection: %w", err)
	}
	if conn == nil {
		return nil, rtp.ErrNotFound
	}
	return conn.lastConnection(), nil
}

// ==================== Transactions ====================

func (s *Store) GetTransaction(_ context.Context, key id.OrderKey) (*point.Transaction, error) {
	raw, err := s.db.Get(txKey(key))
	if err != nil {
		return nil, fmt.Errorf("rtp/kv: get transaction: %w", err)
	}
	if raw == nil {
		return nil, rtp.ErrNotFound
	}
	var r txRecord
	if err := decode(raw, &r); err != nil {
		return nil, fmt.Errorf("rtp/kv: decode transaction: %w", err)
	}
	return r.transaction()
}

func (s *Store) ListTransactions(_ context.Context, q rtpstore.TxQuery) ([]*point.Transaction, error) {
	prefix := prefixTx
	if q.AuthorID != "" {
		prefix = txByAuthorPrefix(q.AuthorID)
	}

	start := []byte(prefix + q.Start.String())
	end := prefixEnd([]byte(prefix))
	if !q.End.IsZero() {
		end = []byte(prefix + q.End.String())
	}

	it, err := s.db.Iterator(start, end)
	if err != nil {
		return nil, fmt.Errorf("rtp/kv: list transactions: %w", err)
	}
	defer it.Close()

	result := make([]*point.Transaction, 0)
	for ; it.Valid(); it.Next() {
		if q.Limit > 0 && len(result) >= q.Limit {
			break
		}
		// An author id containing "/" shares a prefix with a longer one;
		// only exact <prefix><orderKey> keys belong to this scan.
		if len(it.Key()) != len(prefix)+id.OrderKeyLen {
			continue
		}
		var r txRecord
		if err := decode(it.Value(), &r); err != nil {
			return nil, fmt.Errorf("rtp/kv: decode transaction: %w", err)
		}
		tx, err := r.transaction()
		if err != nil {
			return nil, fmt.Errorf("rtp/kv: decode transaction: %w", err)
		}
		result = append(result, tx)
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("rtp/kv: list transactions: %w", err)
	}
	return result, nil
}

// prefixEnd returns the smallest key greater than every key with prefix p.
func prefixEnd(p []byte) []byte {
	end := make([]byte, len(p))
	copy(end, p)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}
