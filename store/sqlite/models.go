package sqlite

import (
	"fmt"
	"strconv"

	"github.com/xraph/grove"

	"github.com/xraph/rtp/id"
	"github.com/xraph/rtp/point"
	"github.com/xraph/rtp/store"
)

// lastConnectionID is the primary key of the single last-connection row.
const lastConnectionID = 1

type lastAcceptedModel struct {
	grove.BaseModel `grove:"table:rtp_last_accepted_at"`

	AuthorID   string `grove:"pubkey,pk"`
	AcceptedAt int64  `grove:"accepted_at"`
	Version    int64  `grove:"version"`
}

type lastConnectionModel struct {
	grove.BaseModel `grove:"table:rtp_last_connection"`

	ID                  int64  `grove:"id,pk"`
	AuthorID            string `grove:"pubkey"`
	PostID              string `grove:"event_id"`
	Head                string `grove:"head"`
	Last                string `grove:"last"`
	AcceptedAt          int64  `grove:"accepted_at"`
	HibernationBreaking bool   `grove:"hibernation_breaking"`
	Version             int64  `grove:"version"`
}

type txModel struct {
	grove.BaseModel `grove:"table:rtp_point_tx"`

	Key       string `grove:"order_key,pk"`
	GrantID   string `grove:"grant_id"`
	Type      string `grove:"type"`
	Amount    int64  `grove:"amount"`
	AuthorID  string `grove:"pubkey"`
	PostID    string `grove:"event_id"`
	GrantedAt int64  `grove:"granted_at"`
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

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
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
