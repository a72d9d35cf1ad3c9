// Package grant decides which ritrin points a connected post earns.
//
// Every rule is a pure function of the prior state and the new post. The
// Evaluator folds an ordered list of rules into a Decision: the transactions
// to append and the record that replaces the global last connection.
package grant

import (
	"github.com/xraph/rtp/point"
	"github.com/xraph/rtp/types"
)

// State is the prior state a grant is evaluated against.
type State struct {
	// LastAcceptedAt is the new author's previous acceptance (unix seconds),
	// nil if the author never connected before.
	LastAcceptedAt *int64

	// Prev is the global last connection, nil before the first grant.
	Prev *point.LastConnection
}

// Decision is the outcome of evaluating one post.
type Decision struct {
	Transactions   []*point.Transaction
	NextConnection point.LastConnection
}

// Has reports whether a transaction of type t was granted.
func (d Decision) Has(t point.Type) bool {
	for _, tx := range d.Transactions {
		if tx.Type == t {
			return true
		}
	}
	return false
}

// Total is the sum of all granted amounts.
func (d Decision) Total() int64 { return point.Total(d.Transactions) }

// RuleFunc returns the transaction a rule grants, if any.
type RuleFunc func(s State, p point.ConnectedPost) (*point.Transaction, bool)

// Rule is one named entry of the evaluation order.
type Rule struct {
	Type  point.Type
	Apply RuleFunc
}

// Evaluator applies the configured rules in order.
type Evaluator struct {
	cfg   Config
	rules []Rule
}

// NewEvaluator returns an evaluator for cfg. A nil SpecialPairs map falls
// back to DefaultSpecialPairs.
func NewEvaluator(cfg Config) *Evaluator {
	if cfg.SpecialPairs == nil {
		cfg.SpecialPairs = DefaultSpecialPairs()
	}
	e := &Evaluator{cfg: cfg}
	e.rules = []Rule{
		{Type: point.TypeShiritori, Apply: e.base},
		{Type: point.TypeDaily, Apply: e.daily},
		{Type: point.TypeHibernationBreak, Apply: e.hibernationBreaking},
		{Type: point.TypeNicePass, Apply: e.nicePass},
		{Type: point.TypeSpecialConnection, Apply: e.specialConnection},
	}
	return e
}

// Config returns the evaluator's configuration.
func (e *Evaluator) Config() Config { return e.cfg }

// Rules returns the rules in evaluation order.
func (e *Evaluator) Rules() []Rule {
	out := make([]Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// Evaluate folds every rule over (s, p).
func (e *Evaluator) Evaluate(s State, p point.ConnectedPost) Decision {
	d := Decision{NextConnection: point.LastConnection{ConnectedPost: p}}
	for _, r := range e.rules {
		tx, ok := r.Apply(s, p)
		if !ok {
			continue
		}
		d.Transactions = append(d.Transactions, tx)
		if r.Type == point.TypeHibernationBreak {
			d.NextConnection.HibernationBreaking = true
		}
	}
	return d
}

func newTx(t point.Type, amount int64, p point.ConnectedPost) *point.Transaction {
	return &point.Transaction{
		Type:      t,
		Amount:    amount,
		AuthorID:  p.AuthorID,
		PostID:    p.PostID,
		GrantedAt: p.AcceptedAt,
	}
}

// authorChanged reports whether p continues someone else's post.
func authorChanged(s State, p point.ConnectedPost) bool {
	return s.Prev != nil && s.Prev.AuthorID != p.AuthorID
}

func (e *Evaluator) base(s State, p point.ConnectedPost) (*point.Transaction, bool) {
	if s.Prev != nil && s.Prev.AuthorID == p.AuthorID {
		return nil, false
	}
	return newTx(point.TypeShiritori, e.cfg.BaseAmount, p), true
}

func (e *Evaluator) daily(s State, p point.ConnectedPost) (*point.Transaction, bool) {
	if s.LastAcceptedAt != nil && types.UnixDayJST(*s.LastAcceptedAt) == types.UnixDayJST(p.AcceptedAt) {
		return nil, false
	}
	return newTx(point.TypeDaily, e.cfg.DailyAmount, p), true
}

func (e *Evaluator) hibernationBreaking(s State, p point.ConnectedPost) (*point.Transaction, bool) {
	if !authorChanged(s, p) || p.Head == p.Last {
		return nil, false
	}
	interval := p.AcceptedAt - s.Prev.AcceptedAt
	amount := HibernationAmount(interval, int64(e.cfg.HibernationMinInterval.Seconds()), e.cfg.HibernationCap)
	if amount <= 0 {
		return nil, false
	}
	return newTx(point.TypeHibernationBreak, amount, p), true
}

// nicePass credits the previous author and post, at the new post's time.
func (e *Evaluator) nicePass(s State, p point.ConnectedPost) (*point.Transaction, bool) {
	if !authorChanged(s, p) || !s.Prev.HibernationBreaking {
		return nil, false
	}
	interval := p.AcceptedAt - s.Prev.AcceptedAt
	amount := NicePassAmount(interval, int64(e.cfg.NicePassMaxInterval.Seconds()), e.cfg.NicePassMaxAmount)
	if amount <= 0 {
		return nil, false
	}
	tx := newTx(point.TypeNicePass, amount, s.Prev.ConnectedPost)
	tx.GrantedAt = p.AcceptedAt
	return tx, true
}

func (e *Evaluator) specialConnection(s State, p point.ConnectedPost) (*point.Transaction, bool) {
	if !authorChanged(s, p) {
		return nil, false
	}
	if head, ok := e.cfg.SpecialPairs[s.Prev.Last]; !ok || head != p.Head {
		return nil, false
	}
	return newTx(point.TypeSpecialConnection, e.cfg.SpecialAmount, p), true
}
