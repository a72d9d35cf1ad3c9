package mongo

import (
	"fmt"
	"strconv"

	"github.com/xraph/grove"

	"github.com/xraph/rtp/id"
	"github.com/xraph/rtp/point"
	"github.com/xraph/rtp/store"
)

// lastConnectionID is the _id of the single last-connection document.
const lastConnectionID = "last_shiritori_connection"

type lastAcceptedModel struct {
	grove.BaseModel `grove:"table:rtp_last_accepted_at"`

	AuthorID   string `grove:"id,pk"       bson:"_id"`
	AcceptedAt int64  `grove:"accepted_at" bson:"accepted_at"`
	Version    int64  `grove:"version"     bson:"version"`
}

type lastConnectionModel struct {
	grove.BaseModel `grove:"table:rtp_last_connection"`

	ID                  string `grove:"id,pk"                bson:"_id"`
	AuthorID            string `grove:"pubkey"               bson:"pubkey"`
	PostID              string `grove:"event_id"             bson:"event_id"`
	Head                string `grove:"head"                 bson:"head"`
	Last                string `grove:"last"                 bson:"last"`
	AcceptedAt          int64  `grove:"accepted_at"          bson:"accepted_at"`
	HibernationBreaking bool   `grove:"hibernation_breaking" bson:"hibernation_breaking"`
	Version             int64  `grove:"version"              bson:"version"`
}

type txModel struct {
	grove.BaseModel `grove:"table:rtp_point_tx"`

	Key       string `grove:"id,pk"      bson:"_id"`
	GrantID   string `grove:"grant_id"   bson:"grant_id"`
	Type      string `grove:"type"       bson:"type"`
	Amount    int64  `grove:"amount"     bson:"amount"`
	AuthorID  string `grove:"pubkey"     bson:"pubkey"`
	PostID    string `grove:"event_id"   bson:"event_id"`
	GrantedAt int64  `grove:"granted_at" bson:"granted_at"`
}

func versionstamp(v int64) store.Versionstamp {
	return store.Versionstamp(strconv.FormatInt(v, 10))
}

// parseVersion maps a stamp back to the stored counter; 0 means absent.
func parseVersion(v store.Versionstamp) (int64, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(string(v), 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid versionstamp %q", v)
	}
	return n, nil
}

func toLastConnectionModel(lc point.LastConnection, version int64) *lastConnectionModel {
	return &lastConnectionModel{
		ID:                  lastConnectionID,
		AuthorID:            lc.AuthorID,
		PostID:              lc.PostID,
		Head:                lc.Head,
		Last:                lc.Last,
		AcceptedAt:          lc.AcceptedAt,
		HibernationBreaking: lc.HibernationBreaking,
		Version:             version,
	}
}

func fromLastConnectionModel(m *lastConnectionModel) *point.LastConnection {
	return &point.LastConnection{
		ConnectedPost: point.ConnectedPost{
			AuthorID:   m.AuthorID,
			PostID:     m.PostID,
			Head:       m.Head,
			Last:       m.Last,
			AcceptedAt: m.AcceptedAt,
		},
		HibernationBreaking: m.HibernationBreaking,
	}
}

func toTxModel(tx *point.Transaction) *txModel {
	return &txModel{
		Key:       tx.Key.String(),
		GrantID:   tx.GrantID.String(),
		Type:      string(tx.Type),
		Amount:    tx.Amount,
		AuthorID:  tx.AuthorID,
		PostID:    tx.PostID,
		GrantedAt: tx.GrantedAt,
	}
}

func fromTxModel(m *txModel) (*point.Transaction, error) {
	key, err := id.ParseOrderKey(m.Key)
	if err != nil {
		return nil, err
	}
	var grantID id.GrantID
	if m.GrantID != "" {
		if grantID, err = id.ParseGrantID(m.GrantID); err != nil {
			return nil, err
		}
	}
	return &point.Transaction{
		Key:       key,
		GrantID:   grantID,
		Type:      point.Type(m.Type),
		Amount:    m.Amount,
		AuthorID:  m.AuthorID,
		PostID:    m.PostID,
		GrantedAt: m.GrantedAt,
	}, nil
}
