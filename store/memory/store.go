// Package memory provides an in-process store for tests and development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/xraph/rtp"
	"github.com/xraph/rtp/id"
	"github.com/xraph/rtp/point"
	"github.com/xraph/rtp/store"
)

type versioned[T any] struct {
	value   T
	version uint64
}

type Store struct {
	mu sync.RWMutex

	// version counter shared by every state record
	seq uint64

	lastAccepted   map[string]versioned[int64]
	lastConnection *versioned[point.LastConnection]

	// Primary index, sorted by key
	txs  map[id.OrderKey]*point.Transaction
	keys []id.OrderKey

	// Author index, each slice sorted by key
	byAuthor map[string][]id.OrderKey

	closed bool
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		lastAccepted: make(map[string]versioned[int64]),
		txs:          make(map[id.OrderKey]*point.Transaction),
		byAuthor:     make(map[string][]id.OrderKey),
	}
}

func stamp(v uint64) store.Versionstamp {
	return store.Versionstamp(strconv.FormatUint(v, 10))
}

func (s *Store) LoadGrantState(_ context.Context, authorID string) (*store.GrantState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, rtp.ErrStoreClosed
	}

	st := &store.GrantState{}
	if la, ok := s.lastAccepted[authorID]; ok {
		v := la.value
		st.LastAcceptedAt = &v
		st.LastAcceptedVersion = stamp(la.version)
	}
	if s.lastConnection != nil {
		lc := s.lastConnection.value
		st.LastConnection = &lc
		st.LastConnectionVersion = stamp(s.lastConnection.version)
	}
	return st, nil
}

func (s *Store) CommitGrant(_ context.Context, c *store.GrantCommit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return rtp.ErrStoreClosed
	}

	var curAccepted, curConn store.Versionstamp
	if la, ok := s.lastAccepted[c.AuthorID]; ok {
		curAccepted = stamp(la.version)
	}
	if s.lastConnection != nil {
		curConn = stamp(s.lastConnection.version)
	}
	if curAccepted != c.ExpectLastAccepted || curConn != c.ExpectLastConnection {
		return rtp.ErrConflict
	}

	for _, tx := range c.Transactions {
		if tx.Key.IsZero() {
			return fmt.Errorf("rtp/memory: commit grant: transaction without key")
		}
		if _, exists := s.txs[tx.Key]; exists {
			return fmt.Errorf("rtp/memory: commit grant: duplicate key %s", tx.Key)
		}
	}

	s.seq++
	s.lastAccepted[c.AuthorID] = versioned[int64]{value: c.LastAcceptedAt, version: s.seq}
	s.seq++
	s.lastConnection = &versioned[point.LastConnection]{value: c.LastConnection, version: s.seq}

	for _, tx := range c.Transactions {
		cp := *tx
		s.txs[tx.Key] = &cp
		s.keys = insertSorted(s.keys, tx.Key)
		s.byAuthor[tx.AuthorID] = insertSorted(s.byAuthor[tx.AuthorID], tx.Key)
	}
	return nil
}

func insertSorted(keys []id.OrderKey, k id.OrderKey) []id.OrderKey {
	i := sort.Search(len(keys), func(i int) bool { return keys[i] >= k })
	keys = append(keys, "")
	copy(keys[i+1:], keys[i:])
	keys[i] = k
	return keys
}

func (s *Store) GetLastAcceptedAt(_ context.Context, authorID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if la, ok := s.lastAccepted[authorID]; ok {
		return la.value, nil
	}
	return 0, rtp.ErrNotFound
}

func (s *Store) GetLastConnection(_ context.Context) (*point.LastConnection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.lastConnection == nil {
		return nil, rtp.ErrNotFound
	}
	lc := s.lastConnection.value
	return &lc, nil
}

func (s *Store) GetTransaction(_ context.Context, key id.OrderKey) (*point.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if tx, ok := s.txs[key]; ok {
		cp := *tx
		return &cp, nil
	}
	return nil, rtp.ErrNotFound
}

func (s *Store) ListTransactions(_ context.Context, q store.TxQuery) ([]*point.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := s.keys
	if q.AuthorID != "" {
		keys = s.byAuthor[q.AuthorID]
	}

	lo := 0
	if !q.Start.IsZero() {
		lo = sort.Search(len(keys), func(i int) bool { return keys[i] >= q.Start })
	}
	hi := len(keys)
	if !q.End.IsZero() {
		hi = sort.Search(len(keys), func(i int) bool { return keys[i] >= q.End })
	}

	result := make([]*point.Transaction, 0)
	for i := lo; i < hi; i++ {
		if q.Limit > 0 && len(result) >= q.Limit {
			break
		}
		cp := *s.txs[keys[i]]
		result = append(result, &cp)
	}
	return result, nil
}

func (s *Store) Migrate(_ context.Context) error { return nil }

func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return rtp.ErrStoreClosed
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}
