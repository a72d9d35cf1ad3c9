package reaction_test

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/xraph/rtp/grant"
	"github.com/xraph/rtp/point"
	"github.com/xraph/rtp/reaction"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func post(author, postID, head, last string, at int64) point.ConnectedPost {
	return point.ConnectedPost{AuthorID: author, PostID: postID, Head: head, Last: last, AcceptedAt: at}
}

func evaluate(s grant.State, p point.ConnectedPost) *grant.Result {
	d := grant.NewEvaluator(grant.DefaultConfig()).Evaluate(s, p)
	return &grant.Result{Post: p, Prev: s.Prev, Decision: d}
}

func TestDefaultContent(t *testing.T) {
	tests := []struct {
		head, last string
		want       string
	}{
		{"ア", "ン", reaction.ContentEndsWithN},
		{"ン", "ン", reaction.ContentEndsWithN},
		{"ン", "ア", reaction.ContentStartsWithN},
		{"ア", "ア", reaction.ContentSameKana},
		{"ア", "イ", reaction.ContentChained},
	}

	for _, tt := range tests {
		t.Run(tt.head+tt.last, func(t *testing.T) {
			if got := reaction.DefaultContent(post("p", "e", tt.head, tt.last, 1)); got != tt.want {
				t.Errorf("DefaultContent(%s,%s) = %s, want %s", tt.head, tt.last, got, tt.want)
			}
		})
	}
}

func TestForResult(t *testing.T) {
	const at = int64(1707836400)
	firstAt := at - 10

	t.Run("daily bonus", func(t *testing.T) {
		rs := reaction.ForResult(evaluate(grant.State{}, post("p1", "e1", "ア", "イ", at)))
		if len(rs) != 1 || rs[0].Content != reaction.ContentDaily || rs[0].PostID != "e1" {
			t.Errorf("reactions = %+v, want a single daily reaction on e1", rs)
		}
	})

	t.Run("no bonus falls back to default", func(t *testing.T) {
		prev := &point.LastConnection{ConnectedPost: post("p0", "e0", "カ", "ア", at-5)}
		rs := reaction.ForResult(evaluate(grant.State{LastAcceptedAt: &firstAt, Prev: prev}, post("p1", "e1", "ア", "ア", at)))
		if len(rs) != 1 || rs[0].Content != reaction.ContentSameKana || rs[0].AuthorID != "p1" {
			t.Errorf("reactions = %+v, want a single ❕ on e1", rs)
		}
	})

	t.Run("nice-pass reacts to the previous post", func(t *testing.T) {
		prev := &point.LastConnection{
			ConnectedPost:       post("p0", "e0", "カ", "ア", at-60),
			HibernationBreaking: true,
		}
		rs := reaction.ForResult(evaluate(grant.State{LastAcceptedAt: &firstAt, Prev: prev}, post("p1", "e1", "ア", "イ", at)))
		if len(rs) != 1 {
			t.Fatalf("reactions = %+v, want one", rs)
		}
		if rs[0].Content != reaction.ContentNicePass || rs[0].PostID != "e0" || rs[0].AuthorID != "p0" {
			t.Errorf("reaction = %+v, want 🙌 on e0 by p0", rs[0])
		}
	})

	t.Run("special connection", func(t *testing.T) {
		prev := &point.LastConnection{ConnectedPost: post("p0", "e0", "カ", "ヴ", at-5)}
		rs := reaction.ForResult(evaluate(grant.State{LastAcceptedAt: &firstAt, Prev: prev}, post("p1", "e1", "ブ", "イ", at)))
		if len(rs) != 1 || rs[0].Content != reaction.ContentSpecialConnection {
			t.Errorf("reactions = %+v, want a single 🫰", rs)
		}
	})
}

// destPublisher records deliveries and misbehaves per destination.
type destPublisher struct {
	mu        sync.Mutex
	delivered []string
}

func (d *destPublisher) Publish(ctx context.Context, dest string, r reaction.Reaction) error {
	switch dest {
	case "wss://slow":
		<-ctx.Done()
		return ctx.Err()
	case "wss://broken":
		return errors.New("connection refused")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.delivered = append(d.delivered, dest+" "+r.Content)
	return nil
}

func TestBroadcastIsolatesDestinations(t *testing.T) {
	pub := &destPublisher{}
	b := reaction.NewBroadcaster(pub,
		[]string{"wss://a", "wss://slow", "wss://broken", "wss://b"},
		reaction.WithTimeout(50*time.Millisecond),
	)

	start := time.Now()
	err := b.Broadcast(context.Background(),
		reaction.Reaction{Content: "🎁", PostID: "e1", AuthorID: "p1"},
		reaction.Reaction{Content: "🫰", PostID: "e1", AuthorID: "p1"},
	)
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("broadcast took %s, the slow destination was not cut off", elapsed)
	}

	if err == nil {
		t.Fatal("expected joined delivery errors")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected the slow destination to time out, got %v", err)
	}
	if !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("expected the broken destination error, got %v", err)
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	sort.Strings(pub.delivered)
	want := []string{"wss://a 🎁", "wss://a 🫰", "wss://b 🎁", "wss://b 🫰"}
	if strings.Join(pub.delivered, ",") != strings.Join(want, ",") {
		t.Errorf("delivered = %v, want %v", pub.delivered, want)
	}
}

func TestPluginBroadcastsResult(t *testing.T) {
	var (
		mu  sync.Mutex
		got []reaction.Reaction
	)
	pub := reaction.PublisherFunc(func(_ context.Context, _ string, r reaction.Reaction) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, r)
		return nil
	})
	p := reaction.NewPlugin(reaction.NewBroadcaster(pub, []string{"wss://a"}))

	res := evaluate(grant.State{}, post("p1", "e1", "ア", "イ", 1707836400))
	if err := p.OnPointsGranted(context.Background(), res); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0].Content != reaction.ContentDaily {
		t.Errorf("published %+v, want one daily reaction", got)
	}
}
