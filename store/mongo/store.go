package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	"github.com/xraph/rtp"
	"github.com/xraph/rtp/id"
	"github.com/xraph/rtp/point"
	rtpstore "github.com/xraph/rtp/store"
)

// Collection name constants.
const (
	colLastAccepted   = "rtp_last_accepted_at"
	colLastConnection = "rtp_last_connection"
	colTransactions   = "rtp_point_tx"
)

// compile-time interface check
var _ rtpstore.Store = (*Store)(nil)

// Store implements store.Store using MongoDB via Grove ORM. Commits run in a
// multi-document transaction and need a replica set or sharded cluster.
type Store struct {
	db  *grove.DB
	mdb *mongodriver.MongoDB
}

// New creates a new MongoDB store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		mdb: mongodriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates indexes for all rtp collections.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if len(models) == 0 {
			continue
		}
		_, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("rtp/mongo: migrate %s indexes: %w", col, err)
		}
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

	var la lastAcceptedModel
	err := s.mdb.NewFind(&la).Filter(bson.M{"_id": authorID}).Scan(ctx)
	switch {
	case err == nil:
		at := la.AcceptedAt
		st.LastAcceptedAt = &at
		st.LastAcceptedVersion = versionstamp(la.Version)
	case !isNoDocuments(err):
		return nil, fmt.Errorf("rtp/mongo: load last accepted: %w", err)
	}

	var lc lastConnectionModel
	err = s.mdb.NewFind(&lc).Filter(bson.M{"_id": lastConnectionID}).Scan(ctx)
	switch {
	case err == nil:
		st.LastConnection = fromLastConnectionModel(&lc)
		st.LastConnectionVersion = versionstamp(lc.Version)
	case !isNoDocuments(err):
		return nil, fmt.Errorf("rtp/mongo: load last connection: %w", err)
	}

	return st, nil
}

func (s *Store) CommitGrant(ctx context.Context, c *rtpstore.GrantCommit) error {
	acceptedVer, err := parseVersion(c.ExpectLastAccepted)
	if err != nil {
		return fmt.Errorf("rtp/mongo: commit grant: %w", err)
	}
	connVer, err := parseVersion(c.ExpectLastConnection)
	if err != nil {
		return fmt.Errorf("rtp/mongo: commit grant: %w", err)
	}

	docs := make([]any, 0, len(c.Transactions))
	for _, tx := range c.Transactions {
		if tx.Key.IsZero() {
			return errors.New("rtp/mongo: commit grant: transaction without key")
		}
		docs = append(docs, toTxModel(tx))
	}

	client := s.mdb.Collection(colTransactions).Database().Client()
	sess, err := client.StartSession()
	if err != nil {
		return fmt.Errorf("rtp/mongo: start session: %w", err)
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(ctx context.Context) (any, error) {
		accepted := &lastAcceptedModel{AuthorID: c.AuthorID, AcceptedAt: c.LastAcceptedAt, Version: acceptedVer + 1}
		if err := s.compareAndSwap(ctx, colLastAccepted, c.AuthorID, acceptedVer, accepted); err != nil {
			return nil, err
		}
		conn := toLastConnectionModel(c.LastConnection, connVer+1)
		if err := s.compareAndSwap(ctx, colLastConnection, lastConnectionID, connVer, conn); err != nil {
			return nil, err
		}
		if len(docs) > 0 {
			if _, err := s.mdb.Collection(colTransactions).InsertMany(ctx, docs); err != nil {
				return nil, fmt.Errorf("rtp/mongo: append transactions: %w", err)
			}
		}
		return nil, nil
	})
	return err
}

// compareAndSwap replaces the document _id=docID if its version is still
// expect, or inserts doc when expect is 0. A lost race yields rtp.ErrConflict.
func (s *Store) compareAndSwap(ctx context.Context, col, docID string, expect int64, doc any) error {
	coll := s.mdb.Collection(col)

	if expect == 0 {
		_, err := coll.InsertOne(ctx, doc)
		if mongo.IsDuplicateKeyError(err) {
			return rtp.ErrConflict
		}
		if err != nil {
			return fmt.Errorf("rtp/mongo: insert %s: %w", col, err)
		}
		return nil
	}

	res, err := coll.ReplaceOne(ctx, bson.M{"_id": docID, "version": expect}, doc)
	if err != nil {
		return fmt.Errorf("rtp/mongo: replace %s: %w", col, err)
	}
	if res.MatchedCount == 0 {
		return rtp.ErrConflict
	}
	return nil
}

func (s *Store) GetLastAcceptedAt(ctx context.Context, authorID string) (int64, error) {
	var m lastAcceptedModel
	err := s.mdb.NewFind(&m).Filter(bson.M{"_id": authorID}).Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return 0, rtp.ErrNotFound
		}
		return 0, fmt.Errorf("rtp/mongo: get last accepted: %w", err)
	}
	return m.AcceptedAt, nil
}

func (s *Store) GetLastConnection(ctx context.Context) (*point.LastConnection, error) {
	var m lastConnectionModel
	err := s.mdb.NewFind(&m).Filter(bson.M{"_id": lastConnectionID}).Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, rtp.ErrNotFound
		}
		return nil, fmt.Errorf("rtp/mongo: get last connection: %w", err)
	}
	return fromLastConnectionModel(&m), nil
}

// ==================== Transactions ====================

func (s *Store) GetTransaction(ctx context.Context, key id.OrderKey) (*point.Transaction, error) {
	var m txModel
	err := s.mdb.NewFind(&m).Filter(bson.M{"_id": key.String()}).Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, rtp.ErrNotFound
		}
		return nil, fmt.Errorf("rtp/mongo: get transaction: %w", err)
	}
	return fromTxModel(&m)
}

func (s *Store) ListTransactions(ctx context.Context, q rtpstore.TxQuery) ([]*point.Transaction, error) {
	var models []txModel

	filter := bson.M{}
	if q.AuthorID != "" {
		filter["pubkey"] = q.AuthorID
	}
	keyRange := bson.M{}
	if !q.Start.IsZero() {
		keyRange["$gte"] = q.Start.String()
	}
	if !q.End.IsZero() {
		keyRange["$lt"] = q.End.String()
	}
	if len(keyRange) > 0 {
		filter["_id"] = keyRange
	}

	find := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "_id", Value: 1}})
	if q.Limit > 0 {
		find = find.Limit(int64(q.Limit))
	}

	if err := find.Scan(ctx); err != nil {
		return nil, fmt.Errorf("rtp/mongo: list transactions: %w", err)
	}

	result := make([]*point.Transaction, 0, len(models))
	for i := range models {
		tx, err := fromTxModel(&models[i])
		if err != nil {
			return nil, fmt.Errorf("rtp/mongo: decode transaction: %w", err)
		}
		result = append(result, tx)
	}
	return result, nil
}

// ==================== Helpers ====================

func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// migrationIndexes returns the index definitions for all rtp collections.
// The (pubkey, _id) index is the author index over the transaction log; it
// is maintained by the same insert that writes the primary document.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colTransactions: {
			{Keys: bson.D{{Key: "pubkey", Value: 1}, {Key: "_id", Value: 1}}},
			{Keys: bson.D{{Key: "grant_id", Value: 1}}},
		},
		colLastAccepted: {
			{Keys: bson.D{{Key: "_id", Value: 1}, {Key: "version", Value: 1}}},
		},
		colLastConnection: {
			{
				Keys:    bson.D{{Key: "_id", Value: 1}, {Key: "version", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
	}
}
