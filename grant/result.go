package grant

import (
	"time"

	"github.com/xraph/rtp/id"
	"github.com/xraph/rtp/point"
)

// Result describes one committed grant cycle.
type Result struct {
	ID       id.GrantID
	Post     point.ConnectedPost
	Prev     *point.LastConnection
	Decision Decision

	// Attempts counts read-evaluate-commit rounds, 1 when uncontended.
	Attempts int
	Elapsed  time.Duration
}

// Transactions returns the committed transactions, keys assigned.
func (r *Result) Transactions() []*point.Transaction { return r.Decision.Transactions }
