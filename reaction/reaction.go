// Package reaction turns committed grants into emoji reactions and fans them
// out to every configured destination.
package reaction

import (
	"context"

	"github.com/xraph/rtp/grant"
	"github.com/xraph/rtp/point"
)

// Reaction content per bonus type.
const (
	ContentDaily             = "🎁"
	ContentHibernationBreak  = "‼️"
	ContentNicePass          = "🙌"
	ContentSpecialConnection = "🫰"
)

// Default reaction content when no bonus fired.
const (
	ContentEndsWithN   = "🤔"
	ContentStartsWithN = "🥳"
	ContentSameKana    = "❕"
	ContentChained     = "❗"
)

// Reaction is an emoji reaction to one post.
type Reaction struct {
	Content  string `json:"content"`
	PostID   string `json:"eventId"`
	AuthorID string `json:"pubkey"`
}

// Publisher delivers a reaction to one destination (a relay URL, a log, a
// test recorder).
type Publisher interface {
	Publish(ctx context.Context, dest string, r Reaction) error
}

// PublisherFunc is an adapter to use a plain function as a Publisher.
type PublisherFunc func(ctx context.Context, dest string, r Reaction) error

// Publish implements Publisher.
func (f PublisherFunc) Publish(ctx context.Context, dest string, r Reaction) error {
	return f(ctx, dest, r)
}

var bonusContent = map[point.Type]string{
	point.TypeDaily:             ContentDaily,
	point.TypeHibernationBreak:  ContentHibernationBreak,
	point.TypeNicePass:          ContentNicePass,
	point.TypeSpecialConnection: ContentSpecialConnection,
}

// ForResult returns the reactions for a committed grant: one per bonus
// transaction, addressed to the post the bonus was credited for. A nice-pass
// therefore reacts to the previous post. Without any bonus the new post gets
// a single default reaction.
func ForResult(res *grant.Result) []Reaction {
	var rs []Reaction
	for _, tx := range res.Transactions() {
		content, ok := bonusContent[tx.Type]
		if !ok {
			continue
		}
		rs = append(rs, Reaction{Content: content, PostID: tx.PostID, AuthorID: tx.AuthorID})
	}
	if len(rs) > 0 {
		return rs
	}
	return []Reaction{{
		Content:  DefaultContent(res.Post),
		PostID:   res.Post.PostID,
		AuthorID: res.Post.AuthorID,
	}}
}

// DefaultContent picks the reaction for a post that earned no bonus.
func DefaultContent(p point.ConnectedPost) string {
	switch {
	case p.Last == "ン":
		return ContentEndsWithN
	case p.Head == "ン":
		return ContentStartsWithN
	case p.Head == p.Last:
		return ContentSameKana
	default:
		return ContentChained
	}
}
