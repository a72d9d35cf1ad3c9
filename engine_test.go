package rtp_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/rtp"
	"github.com/xraph/rtp/grant"
	"github.com/xraph/rtp/point"
	"github.com/xraph/rtp/store"
	"github.com/xraph/rtp/store/memory"
	"github.com/xraph/rtp/txrepo"
)

// flakyStore fails the first n commits with ErrConflict.
type flakyStore struct {
	store.Store
	conflicts atomic.Int64
	commits   atomic.Int64
}

func (f *flakyStore) CommitGrant(ctx context.Context, c *store.GrantCommit) error {
	f.commits.Add(1)
	if f.conflicts.Add(-1) >= 0 {
		return rtp.ErrConflict
	}
	return f.Store.CommitGrant(ctx, c)
}

// brokenStore fails every commit with a non-retryable error.
type brokenStore struct {
	store.Store
	err error
}

func (b *brokenStore) CommitGrant(context.Context, *store.GrantCommit) error { return b.err }

// migrateCounter counts schema migrations.
type migrateCounter struct {
	store.Store
	migrations atomic.Int64
}

func (m *migrateCounter) Migrate(ctx context.Context) error {
	m.migrations.Add(1)
	return m.Store.Migrate(ctx)
}

// recorder captures plugin hook calls.
type recorder struct {
	mu        sync.Mutex
	granted   []*grant.Result
	conflicts []int
	failed    []error
}

func (r *recorder) Name() string { return "recorder" }

func (r *recorder) OnPointsGranted(_ context.Context, res *grant.Result) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.granted = append(r.granted, res)
	return nil
}

func (r *recorder) OnGrantConflict(_ context.Context, _ point.ConnectedPost, attempt int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conflicts = append(r.conflicts, attempt)
	return nil
}

func (r *recorder) OnGrantFailed(_ context.Context, _ point.ConnectedPost, err error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, err)
	return nil
}

const t0 = int64(1707836400) // 2024-02-14 00:00:00 JST

func post(author, postID, head, last string, at int64) point.ConnectedPost {
	return point.ConnectedPost{AuthorID: author, PostID: postID, Head: head, Last: last, AcceptedAt: at}
}

func newEngine(t *testing.T, s store.Store, opts ...rtp.Option) *rtp.Engine {
	t.Helper()
	e := rtp.New(s, opts...)
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = e.Stop() })
	return e
}

func TestGrantFirstPost(t *testing.T) {
	e := newEngine(t, memory.New())
	ctx := context.Background()

	res, err := e.Grant(ctx, post("p1", "e1", "シ", "リ", t0))
	if err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if res.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", res.Attempts)
	}
	if got := res.Decision.Total(); got != 4 {
		t.Errorf("total = %d, want 4 (base + daily)", got)
	}
	for _, tx := range res.Transactions() {
		if tx.Key.IsZero() {
			t.Errorf("%s transaction has no key", tx.Type)
		}
		if tx.GrantID.String() != res.ID.String() {
			t.Errorf("%s transaction grant id = %s, want %s", tx.Type, tx.GrantID, res.ID)
		}
	}

	at, err := e.LastAcceptedAt(ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	if at.Unix() != t0 {
		t.Errorf("last accepted = %d, want %d", at.Unix(), t0)
	}

	last, err := e.LastConnection(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if last.PostID != "e1" || last.HibernationBreaking {
		t.Errorf("last connection = %+v", last)
	}
}

func TestGrantChainThroughHibernationAndNicePass(t *testing.T) {
	s := memory.New()
	e := newEngine(t, s)
	ctx := context.Background()

	steps := []point.ConnectedPost{
		post("p1", "e1", "シ", "リ", t0),
		post("p2", "e2", "リ", "ス", t0+13*3600),
		post("p3", "e3", "ス", "イ", t0+13*3600+60),
	}
	for _, p := range steps {
		if _, err := e.Grant(ctx, p); err != nil {
			t.Fatalf("Grant %s: %v", p.PostID, err)
		}
	}

	repo := txrepo.New(s)
	p2, err := repo.FindAllByAuthor(ctx, "p2")
	if err != nil {
		t.Fatal(err)
	}
	types := map[point.Type]int64{}
	for _, tx := range p2 {
		types[tx.Type] += tx.Amount
	}
	// 11 effective hours past the 2h threshold: floor(11/2) = 5.
	if types[point.TypeHibernationBreak] != 5 {
		t.Errorf("hibernation amount = %d, want 5", types[point.TypeHibernationBreak])
	}
	// One minute into a ten minute window: ceil(5*9/10) = 5.
	if types[point.TypeNicePass] != 5 {
		t.Errorf("nice-pass amount = %d, want 5", types[point.TypeNicePass])
	}

	last, err := e.LastConnection(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if last.PostID != "e3" || last.HibernationBreaking {
		t.Errorf("last connection = %+v, want e3 without hibernation", last)
	}
}

func TestGrantRetriesConflicts(t *testing.T) {
	fs := &flakyStore{Store: memory.New()}
	fs.conflicts.Store(3)
	rec := &recorder{}
	e := newEngine(t, fs, rtp.WithPlugin(rec), rtp.WithBackoff(0, 0))

	res, err := e.Grant(context.Background(), post("p1", "e1", "ア", "イ", t0))
	if err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if res.Attempts != 4 {
		t.Errorf("attempts = %d, want 4", res.Attempts)
	}
	if got := fs.commits.Load(); got != 4 {
		t.Errorf("commits = %d, want 4", got)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if fmt.Sprint(rec.conflicts) != "[1 2 3]" {
		t.Errorf("conflict hooks = %v, want [1 2 3]", rec.conflicts)
	}
	if len(rec.granted) != 1 || len(rec.failed) != 0 {
		t.Errorf("granted=%d failed=%d, want 1/0", len(rec.granted), len(rec.failed))
	}
}

func TestGrantContentionExhausted(t *testing.T) {
	fs := &flakyStore{Store: memory.New()}
	fs.conflicts.Store(1 << 30)
	rec := &recorder{}
	e := newEngine(t, fs, rtp.WithPlugin(rec), rtp.WithMaxAttempts(3), rtp.WithBackoff(0, 0))

	_, err := e.Grant(context.Background(), post("p1", "e1", "ア", "イ", t0))
	if !errors.Is(err, rtp.ErrContentionExhausted) {
		t.Fatalf("expected ErrContentionExhausted, got %v", err)
	}
	if got := fs.commits.Load(); got != 3 {
		t.Errorf("commits = %d, want 3", got)
	}

	if _, err := e.LastConnection(context.Background()); !rtp.IsNotFound(err) {
		t.Errorf("nothing should be committed, got %v", err)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.granted) != 0 || len(rec.failed) != 1 {
		t.Errorf("granted=%d failed=%d, want 0/1", len(rec.granted), len(rec.failed))
	}
}

func TestGrantStoreErrorIsNotRetried(t *testing.T) {
	boom := errors.New("disk on fire")
	e := newEngine(t, &brokenStore{Store: memory.New(), err: boom})

	_, err := e.Grant(context.Background(), post("p1", "e1", "ア", "イ", t0))
	if !errors.Is(err, boom) {
		t.Fatalf("expected store error, got %v", err)
	}
	if errors.Is(err, rtp.ErrContentionExhausted) {
		t.Error("store failure must not be reported as contention")
	}
}

func TestGrantRejectsInvalidEvent(t *testing.T) {
	fs := &flakyStore{Store: memory.New()}
	e := newEngine(t, fs)

	tests := []struct {
		name string
		post point.ConnectedPost
	}{
		{"no author", post("", "e1", "ア", "イ", t0)},
		{"no post id", post("p1", "", "ア", "イ", t0)},
		{"no head", post("p1", "e1", "", "イ", t0)},
		{"no accepted time", post("p1", "e1", "ア", "イ", 0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Grant(context.Background(), tt.post)
			if !errors.Is(err, rtp.ErrInvalidEvent) {
				t.Errorf("expected ErrInvalidEvent, got %v", err)
			}
		})
	}
	if got := fs.commits.Load(); got != 0 {
		t.Errorf("commits = %d, want 0", got)
	}
}

func TestGrantHonorsContextDuringBackoff(t *testing.T) {
	fs := &flakyStore{Store: memory.New()}
	fs.conflicts.Store(1 << 30)
	e := newEngine(t, fs, rtp.WithBackoff(time.Hour, time.Hour))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := e.Grant(ctx, post("p1", "e1", "ア", "イ", t0))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestConcurrentGrantsAllCommit(t *testing.T) {
	s := memory.New()
	e := newEngine(t, s, rtp.WithMaxAttempts(1000), rtp.WithBackoff(0, 0))
	ctx := context.Background()

	const n = 16
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p := post(fmt.Sprintf("p%02d", i), fmt.Sprintf("e%02d", i), "ア", "イ", t0+int64(i))
			if _, err := e.Grant(ctx, p); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("Grant: %v", err)
	}

	txs, err := txrepo.New(s).FindAllWithinTimeRange(ctx, txrepo.TimeRange{})
	if err != nil {
		t.Fatal(err)
	}
	counts := map[point.Type]int{}
	for _, tx := range txs {
		counts[tx.Type]++
	}
	if counts[point.TypeShiritori] != n {
		t.Errorf("base transactions = %d, want %d", counts[point.TypeShiritori], n)
	}
	if counts[point.TypeDaily] != n {
		t.Errorf("daily transactions = %d, want %d", counts[point.TypeDaily], n)
	}

	for i := range n {
		if _, err := e.LastAcceptedAt(ctx, fmt.Sprintf("p%02d", i)); err != nil {
			t.Errorf("p%02d: %v", i, err)
		}
	}
}

func TestStartRejectsBadConfig(t *testing.T) {
	e := rtp.New(memory.New(), rtp.WithMaxAttempts(0))
	err := e.Start(context.Background())

	var ve rtp.ValidationError
	if !errors.As(err, &ve) || ve.Field != "max_attempts" {
		t.Fatalf("expected max_attempts ValidationError, got %v", err)
	}
}

func TestStartFailsOnClosedStore(t *testing.T) {
	s := memory.New()
	_ = s.Close()

	err := rtp.New(s).Start(context.Background())
	if !errors.Is(err, rtp.ErrStoreNotReady) {
		t.Fatalf("expected ErrStoreNotReady, got %v", err)
	}
}

func TestStartWithoutMigrate(t *testing.T) {
	t.Run("skips only the migration", func(t *testing.T) {
		s := &migrateCounter{Store: memory.New()}
		e := newEngine(t, s, rtp.WithoutMigrate())
		if got := s.migrations.Load(); got != 0 {
			t.Errorf("migrations = %d, want 0", got)
		}
		if _, err := e.Grant(context.Background(), post("p1", "e1", "ア", "イ", t0)); err != nil {
			t.Fatalf("Grant: %v", err)
		}
	})

	t.Run("still pings the store", func(t *testing.T) {
		s := memory.New()
		_ = s.Close()
		err := rtp.New(s, rtp.WithoutMigrate()).Start(context.Background())
		if !errors.Is(err, rtp.ErrStoreNotReady) {
			t.Fatalf("expected ErrStoreNotReady, got %v", err)
		}
	})

	t.Run("still validates", func(t *testing.T) {
		err := rtp.New(memory.New(), rtp.WithoutMigrate(), rtp.WithMaxAttempts(0)).Start(context.Background())
		var ve rtp.ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
	})
}
