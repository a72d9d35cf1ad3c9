package rtp

import "github.com/xraph/rtp/id"

// GrantID identifies one grant cycle.
type GrantID = id.GrantID

// OrderKey is the time-sortable key of a transaction.
type OrderKey = id.OrderKey
