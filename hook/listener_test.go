package hook_test

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/xraph/rtp"
	"github.com/xraph/rtp/grant"
	"github.com/xraph/rtp/hook"
	"github.com/xraph/rtp/point"
	"github.com/xraph/rtp/store/memory"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type chanGranter chan point.ConnectedPost

func (c chanGranter) Grant(_ context.Context, p point.ConnectedPost) (*grant.Result, error) {
	c <- p
	return &grant.Result{Post: p}, nil
}

func startListener(t *testing.T, g hook.Granter) *hook.Listener {
	t.Helper()
	l := hook.NewListener(hook.SocketPath(t.TempDir()), g)
	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = l.Stop() })
	return l
}

func TestListenerDeliversPost(t *testing.T) {
	got := make(chanGranter, 1)
	l := startListener(t, got)

	want := point.ConnectedPost{AuthorID: "p1", PostID: "e1", Head: "シ", Last: "リ", AcceptedAt: 1707836400}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := hook.Notify(ctx, l.Path(), want); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	select {
	case p := <-got:
		if p != want {
			t.Errorf("granted %+v, want %+v", p, want)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("post was not delivered")
	}
}

func TestListenerDropsMalformedMessage(t *testing.T) {
	got := make(chanGranter, 2)
	l := startListener(t, got)

	conn, err := net.Dial("unix", l.Path())
	if err != nil {
		t.Fatal(err)
	}
	_, _ = conn.Write([]byte(`{"pubkey": "p1", "eventId": `))
	_ = conn.Close()

	// A well-formed message afterwards still goes through.
	valid := point.ConnectedPost{AuthorID: "p2", PostID: "e2", Head: "ア", Last: "イ", AcceptedAt: 1707836400}
	if err := hook.Notify(context.Background(), l.Path(), valid); err != nil {
		t.Fatal(err)
	}

	select {
	case p := <-got:
		if p.AuthorID != "p2" {
			t.Errorf("granted %+v, the malformed message should have been dropped", p)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("valid post was not delivered")
	}
}

func TestListenerReplacesStaleSocket(t *testing.T) {
	path := filepath.Join(t.TempDir(), hook.SocketName)
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatal(err)
	}

	l := hook.NewListener(path, make(chanGranter, 1))
	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("Start over stale file: %v", err)
	}
	if err := l.Start(context.Background()); err == nil {
		t.Error("second Start should fail")
	}
	if err := l.Stop(); err != nil {
		t.Errorf("Stop: %v", err)
	}
	if err := l.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}

func TestListenerGrantsThroughEngine(t *testing.T) {
	s := memory.New()
	e := rtp.New(s)
	if err := e.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = e.Stop() }()

	l := hook.NewListener(hook.SocketPath(t.TempDir()), e)
	if err := l.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	p := point.ConnectedPost{AuthorID: "p1", PostID: "e1", Head: "シ", Last: "リ", AcceptedAt: 1707836400}
	if err := hook.Notify(context.Background(), l.Path(), p); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := e.LastConnection(context.Background()); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("grant was not committed")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err := l.Stop(); err != nil {
		t.Fatal(err)
	}

	at, err := e.LastAcceptedAt(context.Background(), "p1")
	if err != nil {
		t.Fatal(err)
	}
	if at.Unix() != p.AcceptedAt {
		t.Errorf("last accepted = %d, want %d", at.Unix(), p.AcceptedAt)
	}
}
