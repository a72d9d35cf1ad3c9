// Package rtp grants ritrin points (RTP) for a shiritori word-chain game
// played over a public social feed.
//
// rtp is designed as a library, not a service. An accepted chain
// continuation is handed to the Engine, which evaluates the bonus rules
// against the shared game state and commits the outcome atomically. It
// provides:
//
//   - A pure, ordered rule list (base, daily, hibernation-breaking,
//     nice-pass, special connection) in package grant
//   - Optimistic compare-and-swap commits with bounded, jittered retry
//   - An append-only transaction log indexed by time and by author
//   - Memory, cosmos-db, SQLite, PostgreSQL and MongoDB (grove) stores
//   - Daily rankings and reaction fan-out as plugins
//
// # Quick Start
//
// Create an engine with your preferred store:
//
//	import (
//	    "github.com/xraph/rtp"
//	    "github.com/xraph/rtp/store/kv"
//	)
//
//	s, err := kv.Open(dataDir)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	e := rtp.New(s, rtp.WithLogger(logger))
//	if err := e.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer e.Stop()
//
// # Granting
//
// Every accepted post runs one grant cycle:
//
//	res, err := e.Grant(ctx, rtp.ConnectedPost{
//	    AuthorID:   pubkey,
//	    PostID:     eventID,
//	    Head:       "リ",
//	    Last:       "ゴ",
//	    AcceptedAt: time.Now().Unix(),
//	})
//
// A cycle reads the author's last acceptance and the global last
// connection, evaluates the rules, and commits only if neither record
// changed in between. Lost races re-read and re-evaluate; Grant never
// reports success without a commit. When every attempt loses, the error
// wraps ErrContentionExhausted.
//
// Day boundaries are fixed at UTC+9 regardless of the host time zone.
//
// # Queries
//
// Package txrepo answers transaction lookups by author, time range and
// calendar day; package ranking aggregates them into daily rankings.
package rtp
