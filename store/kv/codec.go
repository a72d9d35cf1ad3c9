package kv

import (
	"github.com/fxamacker/cbor/v2"

	"github.com/xraph/rtp/id"
	"github.com/xraph/rtp/point"
)

// encMode uses Core Deterministic Encoding so equal records encode to equal
// bytes.
var encMode cbor.EncMode

var decMode cbor.DecMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("rtp/kv: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("rtp/kv: CBOR decoder initialization failed: " + err.Error())
	}
}

type acceptedRecord struct {
	AcceptedAt int64  `cbor:"accepted_at"`
	Version    uint64 `cbor:"version"`
}

type connectionRecord struct {
	AuthorID            string `cbor:"pubkey"`
	PostID              string `cbor:"event_id"`
	Head                string `cbor:"head"`
	Last                string `cbor:"last"`
	AcceptedAt          int64  `cbor:"accepted_at"`
	HibernationBreaking bool   `cbor:"hibernation_breaking"`
	Version             uint64 `cbor:"version"`
}

type txRecord struct {
	Key       string `cbor:"key"`
	GrantID   string `cbor:"grant_id"`
	Type      string `cbor:"type"`
	Amount    int64  `cbor:"amount"`
	AuthorID  string `cbor:"pubkey"`
	PostID    string `cbor:"event_id"`
	GrantedAt int64  `cbor:"granted_at"`
}

func encode(v any) ([]byte, error) { return encMode.Marshal(v) }

func decode(data []byte, v any) error { return decMode.Unmarshal(data, v) }

func toConnectionRecord(lc point.LastConnection, version uint64) connectionRecord {
	return connectionRecord{
		AuthorID:            lc.AuthorID,
		PostID:              lc.PostID,
		Head:                lc.Head,
		Last:                lc.Last,
		AcceptedAt:          lc.AcceptedAt,
		HibernationBreaking: lc.HibernationBreaking,
		Version:             version,
	}
}

func (r connectionRecord) lastConnection() *point.LastConnection {
	return &point.LastConnection{
		ConnectedPost: point.ConnectedPost{
			AuthorID:   r.AuthorID,
			PostID:     r.PostID,
			Head:       r.Head,
			Last:       r.Last,
			AcceptedAt: r.AcceptedAt,
		},
		HibernationBreaking: r.HibernationBreaking,
	}
}

func toTxRecord(tx *point.Transaction) txRecord {
	return txRecord{
		Key:       tx.Key.String(),
		GrantID:   tx.GrantID.String(),
		Type:      string(tx.Type),
		Amount:    tx.Amount,
		AuthorID:  tx.AuthorID,
		PostID:    tx.PostID,
		GrantedAt: tx.GrantedAt,
	}
}

func (r txRecord) transaction() (*point.Transaction, error) {
	key, err := id.ParseOrderKey(r.Key)
	if err != nil {
		return nil, err
	}
	var grantID id.GrantID
	if r.GrantID != "" {
		if grantID, err = id.ParseGrantID(r.GrantID); err != nil {
			return nil, err
		}
	}
	return &point.Transaction{
		Key:       key,
		GrantID:   grantID,
		Type:      point.Type(r.Type),
		Amount:    r.Amount,
		AuthorID:  r.AuthorID,
		PostID:    r.PostID,
		GrantedAt: r.GrantedAt,
	}, nil
}
