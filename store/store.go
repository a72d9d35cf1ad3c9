// Package store defines the persistence contract of the point ledger.
//
// A backend holds three kinds of record: the last acceptance time per
// author, the global last connection, and the append-only transaction log
// indexed twice (by order key, and by author then order key). Writes happen
// only through CommitGrant, a conditional multi-key commit.
package store

import (
	"context"

	"github.com/xraph/rtp/id"
	"github.com/xraph/rtp/point"
)

// Versionstamp is an opaque fingerprint of a state record as read. The empty
// stamp means the record did not exist.
type Versionstamp string

// GrantState is the state a grant cycle is evaluated against.
type GrantState struct {
	LastAcceptedAt        *int64
	LastAcceptedVersion   Versionstamp
	LastConnection        *point.LastConnection
	LastConnectionVersion Versionstamp
}

// GrantCommit is one atomic state transition.
type GrantCommit struct {
	AuthorID string

	// Expected versions, as returned by LoadGrantState.
	ExpectLastAccepted   Versionstamp
	ExpectLastConnection Versionstamp

	LastAcceptedAt int64
	LastConnection point.LastConnection

	// Transactions to append. Every Key must be set.
	Transactions []*point.Transaction
}

// TxQuery selects transactions in ascending order-key order within
// [Start, End). A zero bound is open. An empty AuthorID scans the primary
// index; otherwise the author index is used.
type TxQuery struct {
	AuthorID string
	Start    id.OrderKey
	End      id.OrderKey
	Limit    int
}

// Store is the unified storage interface of the point ledger.
type Store interface {
	// LoadGrantState reads the author's last acceptance and the global last
	// connection together with their versions.
	LoadGrantState(ctx context.Context, authorID string) (*GrantState, error)

	// CommitGrant applies c if both expected versions still match, writing
	// both state records and every transaction under both indexes in one
	// atomic step. It returns rtp.ErrConflict and writes nothing otherwise.
	CommitGrant(ctx context.Context, c *GrantCommit) error

	// GetLastAcceptedAt returns rtp.ErrNotFound if the author never connected.
	GetLastAcceptedAt(ctx context.Context, authorID string) (int64, error)

	// GetLastConnection returns rtp.ErrNotFound before the first grant.
	GetLastConnection(ctx context.Context) (*point.LastConnection, error)

	GetTransaction(ctx context.Context, key id.OrderKey) (*point.Transaction, error)
	ListTransactions(ctx context.Context, q TxQuery) ([]*point.Transaction, error)

	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
