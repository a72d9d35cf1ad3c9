// Package point defines the shiritori connection events and the ritrin point
// transactions granted for them.
package point

import (
	"errors"
	"fmt"
	"time"

	"github.com/xraph/rtp/id"
)

// Type is the reason a transaction was granted.
type Type string

const (
	TypeShiritori         Type = "shiritori"
	TypeDaily             Type = "daily"
	TypeHibernationBreak  Type = "hibernation-breaking"
	TypeNicePass          Type = "nice-pass"
	TypeSpecialConnection Type = "special-connection"
)

// Types lists every transaction type in evaluation order.
var Types = []Type{
	TypeShiritori,
	TypeDaily,
	TypeHibernationBreak,
	TypeNicePass,
	TypeSpecialConnection,
}

// IsBonus reports whether t is anything other than the base shiritori point.
func (t Type) IsBonus() bool { return t != TypeShiritori }

// Valid reports whether t is a known type.
func (t Type) Valid() bool {
	for _, k := range Types {
		if t == k {
			return true
		}
	}
	return false
}

// ConnectedPost is a post accepted as a legal continuation of the chain.
type ConnectedPost struct {
	AuthorID   string `json:"pubkey"`
	PostID     string `json:"eventId"`
	Head       string `json:"head"`
	Last       string `json:"last"`
	AcceptedAt int64  `json:"acceptedAt"`
}

// AcceptedTime returns AcceptedAt as a time.Time.
func (p ConnectedPost) AcceptedTime() time.Time {
	return time.Unix(p.AcceptedAt, 0)
}

// Validate reports the first missing or malformed field.
func (p ConnectedPost) Validate() error {
	var errs []error
	if p.AuthorID == "" {
		errs = append(errs, FieldError{Field: "pubkey", Message: "required"})
	}
	if p.PostID == "" {
		errs = append(errs, FieldError{Field: "eventId", Message: "required"})
	}
	if p.Head == "" {
		errs = append(errs, FieldError{Field: "head", Message: "required"})
	}
	if p.Last == "" {
		errs = append(errs, FieldError{Field: "last", Message: "required"})
	}
	if p.AcceptedAt <= 0 {
		errs = append(errs, FieldError{Field: "acceptedAt", Message: fmt.Sprintf("must be positive, got %d", p.AcceptedAt)})
	}
	return errors.Join(errs...)
}

// FieldError describes one invalid field of a ConnectedPost.
type FieldError struct {
	Field   string
	Message string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("point: invalid %s: %s", e.Field, e.Message)
}

// LastConnection is the most recently accepted post system-wide. Exactly one
// exists and it is replaced on every grant.
type LastConnection struct {
	ConnectedPost
	HibernationBreaking bool `json:"hibernationBreaking"`
}

// Transaction is an immutable ledger entry. Key is assigned when the
// transaction is committed.
type Transaction struct {
	Key       id.OrderKey `json:"key,omitempty"`
	GrantID   id.GrantID  `json:"grantId"`
	Type      Type        `json:"type"`
	Amount    int64       `json:"amount"`
	AuthorID  string      `json:"pubkey"`
	PostID    string      `json:"eventId"`
	GrantedAt int64       `json:"grantedAt"`
}

// GrantedTime returns GrantedAt as a time.Time.
func (t Transaction) GrantedTime() time.Time {
	return time.Unix(t.GrantedAt, 0)
}

// Total sums the amounts of txs.
func Total(txs []*Transaction) int64 {
	var sum int64
	for _, t := range txs {
		sum += t.Amount
	}
	return sum
}
