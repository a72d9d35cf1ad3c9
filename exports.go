package rtp

import (
	"github.com/xraph/rtp/grant"
	"github.com/xraph/rtp/point"
	"github.com/xraph/rtp/types"
)

// Re-export common types for convenience so users don't have to import the
// model packages.

// ConnectedPost is re-exported from the point package.
type ConnectedPost = point.ConnectedPost

// Transaction is re-exported from the point package.
type Transaction = point.Transaction

// GrantResult is re-exported from the grant package.
type GrantResult = grant.Result

// Day is re-exported from the types package.
type Day = types.Day

// Re-export day helpers
var (
	ParseDay   = types.ParseDay
	UnixDayJST = types.UnixDayJST
)
