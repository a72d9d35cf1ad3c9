// Package hook receives accepted chain continuations over a unix socket.
//
// A client connects, writes one JSON-encoded point.ConnectedPost and
// disconnects. Nothing is written back.
package hook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/xraph/rtp/grant"
	"github.com/xraph/rtp/point"
)

// SocketName is the socket file created in the resource directory.
const SocketName = "shiritori_connection_hook.sock"

// Defaults for inbound connections.
const (
	DefaultMaxMessageSize = 64 << 10
	DefaultReadTimeout    = 5 * time.Second
)

// SocketPath returns the hook socket path inside resourceDir.
func SocketPath(resourceDir string) string {
	return filepath.Join(resourceDir, SocketName)
}

// Granter grants points for a connected post.
type Granter interface {
	Grant(ctx context.Context, post point.ConnectedPost) (*grant.Result, error)
}

// Listener accepts connections on a unix socket and hands every decoded
// post to a Granter.
type Listener struct {
	path        string
	granter     Granter
	logger      *slog.Logger
	maxMessage  int64
	readTimeout time.Duration

	mu       sync.Mutex
	ln       net.Listener
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopping bool
}

// Option configures a Listener.
type Option func(*Listener)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Listener) { l.logger = logger }
}

// WithMaxMessageSize bounds one inbound message.
func WithMaxMessageSize(n int64) Option {
	return func(l *Listener) {
		if n > 0 {
			l.maxMessage = n
		}
	}
}

// WithReadTimeout bounds how long a client may take to send its message.
func WithReadTimeout(d time.Duration) Option {
	return func(l *Listener) {
		if d > 0 {
			l.readTimeout = d
		}
	}
}

// NewListener creates a Listener for the socket at path.
func NewListener(path string, g Granter, opts ...Option) *Listener {
	l := &Listener{
		path:        path,
		granter:     g,
		logger:      slog.Default(),
		maxMessage:  DefaultMaxMessageSize,
		readTimeout: DefaultReadTimeout,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Path returns the socket path.
func (l *Listener) Path() string { return l.path }

// Start removes a stale socket file, binds the socket and starts accepting.
// Grants run under ctx.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.ln != nil {
		return errors.New("hook: listener already started")
	}

	if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("hook: remove stale socket: %w", err)
	}

	ln, err := net.Listen("unix", l.path)
	if err != nil {
		return fmt.Errorf("hook: listen: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	l.ln = ln
	l.cancel = cancel
	l.stopping = false

	l.wg.Add(1)
	go l.acceptLoop(ctx, ln)

	l.logger.Info("connection hook listening", "socket", l.path)
	return nil
}

// Stop closes the socket and waits for in-flight grants to finish.
func (l *Listener) Stop() error {
	l.mu.Lock()
	ln := l.ln
	cancel := l.cancel
	l.ln = nil
	l.stopping = true
	l.mu.Unlock()

	if ln == nil {
		return nil
	}

	err := ln.Close()
	l.wg.Wait()
	cancel()
	return err
}

func (l *Listener) isStopping() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopping
}

func (l *Listener) acceptLoop(ctx context.Context, ln net.Listener) {
	defer l.wg.Done()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || l.isStopping() {
				return
			}
			l.logger.Error("connection hook accept failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}

		l.wg.Add(1)
		go l.handle(ctx, conn)
	}
}

func (l *Listener) handle(ctx context.Context, conn net.Conn) {
	defer l.wg.Done()

	post, err := l.read(conn)
	_ = conn.Close()
	if err != nil {
		l.logger.Warn("dropping malformed connection hook message", "error", err)
		return
	}

	l.logger.Info("received connected post",
		"author", post.AuthorID,
		"post", post.PostID,
		"head", post.Head,
		"last", post.Last,
		"accepted_at", post.AcceptedAt,
	)

	res, err := l.granter.Grant(ctx, post)
	if err != nil {
		l.logger.Error("failed to grant points",
			"author", post.AuthorID,
			"post", post.PostID,
			"error", err,
		)
		return
	}

	l.logger.Info("granted points",
		"grant_id", res.ID.String(),
		"post", post.PostID,
		"total", res.Decision.Total(),
		"attempts", res.Attempts,
	)
}

func (l *Listener) read(conn net.Conn) (point.ConnectedPost, error) {
	var post point.ConnectedPost

	if err := conn.SetReadDeadline(time.Now().Add(l.readTimeout)); err != nil {
		return post, fmt.Errorf("set read deadline: %w", err)
	}

	dec := json.NewDecoder(io.LimitReader(conn, l.maxMessage))
	if err := dec.Decode(&post); err != nil {
		return post, fmt.Errorf("decode: %w", err)
	}
	return post, nil
}

// Notify sends post to the hook socket at path.
func Notify(ctx context.Context, path string, post point.ConnectedPost) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return fmt.Errorf("hook: dial: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	}
	if err := json.NewEncoder(conn).Encode(post); err != nil {
		return fmt.Errorf("hook: send: %w", err)
	}
	return nil
}
