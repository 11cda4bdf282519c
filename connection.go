// MIT License
//
// Copyright (c) 2016-2017 xtaci
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package rethinkdb

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/lessc0de/rethinkdb/internal/wire"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// writeRequest is a single frame queued for the connection's dedicated
// writer goroutine: one goroutine owns the socket's write side, so
// concurrent callers never race on net.Conn.Write.
type writeRequest struct {
	token     uint64
	queryType wire.QueryType
	body      interface{}
	opts      map[string]interface{}
	result    chan error
}

// Connection is the public lifecycle object: connect/handshake, dispatch,
// wait, close, reconnect.
type Connection struct {
	cfg *Config
	id  string

	mu      sync.Mutex
	conn    net.Conn
	open    bool
	waiters map[uint64]*waiterEntry
	pending map[uint64]pendingResult

	tokens tokenAllocator
	connID uint64

	die      chan struct{}
	dieOnce  sync.Once
	writeCh  chan writeRequest
	readerWG sync.WaitGroup

	recentMu      sync.Mutex
	recentlyStopped map[uint64]time.Time

	sem *semaphore.Weighted

	log *logrus.Entry
}

// Connect opens a TCP connection, performs the handshake, and starts the
// reader and writer goroutines. Fails if the connection is already open.
func Connect(ctx context.Context, cfg *Config) (*Connection, error) {
	if cfg == nil {
		cfg = NewConfig()
	}
	c := &Connection{
		cfg:             cfg,
		id:              uuid.NewString(),
		recentlyStopped: make(map[uint64]time.Time),
	}
	c.log = connLogger(cfg.Logger, c.id)
	if cfg.MaxConcurrentCursors > 0 {
		c.sem = semaphore.NewWeighted(cfg.MaxConcurrentCursors)
	}
	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	defaultEMGuard.Register(c.id, c)
	return c, nil
}

// connect requires the socket to be absent; it dials, handshakes, resets
// the token allocator, bumps conn_id, and starts the reader/writer.
func (c *Connection) connect(ctx context.Context) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return &DriverInternal{Msg: "connect called while a socket is already present"}
	}
	c.mu.Unlock()

	addr := fmt.Sprintf("%s:%d", c.cfg.Host, c.cfg.Port)
	d := net.Dialer{Timeout: c.cfg.Timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return wrapf(err, "dial %s", addr)
	}

	if c.cfg.Timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(c.cfg.Timeout))
	}
	if err := wire.Handshake(conn, c.cfg.AuthKey); err != nil {
		conn.Close()
		return &HandshakeFailure{Diagnostic: err.Error(), Cause: err}
	}
	if c.cfg.Timeout > 0 {
		_ = conn.SetDeadline(time.Time{})
	}

	c.mu.Lock()
	c.conn = conn
	c.open = true
	c.waiters = make(map[uint64]*waiterEntry)
	c.pending = make(map[uint64]pendingResult)
	c.tokens.reset()
	c.connID = atomic.AddUint64(&c.connID, 1)
	c.die = make(chan struct{})
	c.dieOnce = sync.Once{}
	c.writeCh = make(chan writeRequest)
	c.mu.Unlock()

	c.readerWG.Add(1)
	go c.readLoop(conn, c.die)
	go c.writeLoop(conn, c.die, c.writeCh)

	c.log.WithField("conn_id", c.connID).Info("connected")
	return nil
}

// connIDSnapshot returns the current generation counter, for Cursor
// staleness checks.
func (c *Connection) connIDSnapshot() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connID
}

// IsOpen reports whether the connection currently has a live socket and
// an active reader goroutine.
func (c *Connection) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *Connection) reactor() Reactor { return c.cfg.Reactor }

// dispatch hands a request to the writer goroutine, which encodes and
// writes it.
func (c *Connection) dispatch(ctx context.Context, token uint64, qt wire.QueryType, body interface{}, opts map[string]interface{}) error {
	c.mu.Lock()
	writeCh := c.writeCh
	die := c.die
	c.mu.Unlock()
	if writeCh == nil {
		return &ConnectionClosed{Msg: "no active connection"}
	}

	req := writeRequest{token: token, queryType: qt, body: body, opts: opts, result: make(chan error, 1)}
	select {
	case writeCh <- req:
	case <-die:
		return &ConnectionClosed{Msg: "closed while dispatching"}
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.result:
		return err
	case <-die:
		return &ConnectionClosed{Msg: "closed while dispatching"}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// registerWaiter inserts w for token. Fails if token is already present:
// token reuse within a connection generation is a driver bug.
func (c *Connection) registerWaiter(token uint64, w *waiterEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return &ConnectionClosed{Msg: "not open"}
	}
	if _, exists := c.waiters[token]; exists {
		return &DriverInternal{Msg: fmt.Sprintf("token %d already registered", token)}
	}
	c.waiters[token] = w
	return nil
}

// removeWaiter deletes the waiter entry for token, if present.
func (c *Connection) removeWaiter(token uint64) {
	c.mu.Lock()
	delete(c.waiters, token)
	c.mu.Unlock()
}

// run is the central entry point for dispatching a query; handler == nil
// selects the synchronous path.
func (c *Connection) run(ctx context.Context, body Term, opts PerQueryOptions, handler *Handler) (*Result, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	if c.cfg.AutoReconnect && !c.IsOpen() {
		if err := c.Reconnect(ctx); err != nil {
			return nil, err
		}
	}
	if !c.IsOpen() {
		return nil, &ConnectionClosed{Msg: "run called on closed connection"}
	}

	term, err := buildBody(body)
	if err != nil {
		return nil, err
	}

	if handler != nil && handler.wantsStates() {
		opts.IncludeStates = true
	}

	token := c.tokens.allocate()
	wireOpts := opts.toWire(c.cfg.DB)

	if handler != nil {
		return nil, c.runReactive(ctx, token, term, opts, wireOpts, handler)
	}
	return c.runSync(ctx, token, term, opts, wireOpts)
}

func (c *Connection) runSync(ctx context.Context, token uint64, term interface{}, opts PerQueryOptions, wireOpts map[string]interface{}) (*Result, error) {
	if opts.Noreply {
		if err := c.dispatch(ctx, token, wire.QueryStart, term, wireOpts); err != nil {
			return nil, err
		}
		return nil, nil
	}

	w := newBlockingWaiter(opts)
	if err := c.registerWaiter(token, w); err != nil {
		return nil, err
	}
	if err := c.dispatch(ctx, token, wire.QueryStart, term, wireOpts); err != nil {
		c.removeWaiter(token)
		return nil, err
	}

	resp, err := c.wait(ctx, token, 0)
	if err != nil {
		return nil, err
	}
	return shapeResult(c, token, opts, resp)
}

func (c *Connection) runReactive(ctx context.Context, token uint64, term interface{}, opts PerQueryOptions, wireOpts map[string]interface{}, h *Handler) error {
	cb := c.makeHandlerCallback(token, opts, h)
	w := newCallbackWaiter(opts, cb)
	if err := c.registerWaiter(token, w); err != nil {
		return err
	}
	if err := c.dispatch(ctx, token, wire.QueryStart, term, wireOpts); err != nil {
		c.removeWaiter(token)
		return err
	}
	return nil
}

// wait blocks until a pending result for token is available, or the
// timeout/context elapses. timeout == 0 means no explicit deadline beyond
// ctx. Re-checks the pending map on every wakeup to guard against
// spurious wakeups.
func (c *Connection) wait(ctx context.Context, token uint64, timeout time.Duration) (*wire.Response, error) {
	for {
		c.mu.Lock()
		if pr, ok := c.pending[token]; ok {
			delete(c.pending, token)
			delete(c.waiters, token)
			c.mu.Unlock()
			return pr.resp, pr.err
		}
		w, ok := c.waiters[token]
		c.mu.Unlock()
		if !ok {
			return nil, &ConnectionClosed{Msg: "waiter removed"}
		}

		if timeout < 0 {
			// Non-blocking poll: no buffered row, and no grace period.
			select {
			case <-w.ready:
				continue
			default:
				return nil, &Timeout{Msg: fmt.Sprintf("token %d", token)}
			}
		}

		var timeoutCh <-chan time.Time
		if timeout > 0 {
			timer := time.NewTimer(timeout)
			defer timer.Stop()
			timeoutCh = timer.C
		}

		select {
		case <-w.ready:
			continue
		case <-timeoutCh:
			return nil, &Timeout{Msg: fmt.Sprintf("token %d", token)}
		case <-c.die:
			return nil, &ConnectionClosed{Msg: "connection closed"}
		case <-ctx.Done():
			_ = c.Reconnect(context.WithValue(context.Background(), closeOptionsKey{}, false))
			return nil, ctx.Err()
		}
	}
}

// noteData dispatches a decoded response to the registered waiter for its
// token, under the connection lock. Returns a DriverInternal error for
// unknown tokens, unless the token was recently stopped (late CONTINUE
// replies are tolerated for a grace period after Cursor.Close).
func (c *Connection) noteData(token uint64, resp *wire.Response, readErr error) error {
	c.mu.Lock()
	w, ok := c.waiters[token]
	if !ok {
		c.mu.Unlock()
		if c.wasRecentlyStopped(token) {
			c.log.WithField("token", token).Debug("ignoring late response for stopped token")
			return nil
		}
		return &DriverInternal{Msg: fmt.Sprintf("response for unregistered token %d", token)}
	}

	switch w.kind {
	case waiterBlocking:
		c.pending[token] = pendingResult{resp: resp, err: readErr}
		close(w.ready)
		c.mu.Unlock()
		return nil
	case waiterCallback:
		// Single-shot: a SUCCESS_PARTIAL callback re-registers itself for
		// the next batch before dispatching CONTINUE.
		delete(c.waiters, token)
		cb := w.cb
		c.mu.Unlock()
		cb(resp, readErr)
		return nil
	default:
		c.mu.Unlock()
		return &DriverInternal{Msg: "unrecognized waiter kind"}
	}
}

func (c *Connection) markStopped(token uint64) {
	c.recentMu.Lock()
	c.recentlyStopped[token] = time.Now()
	for t, at := range c.recentlyStopped {
		if time.Since(at) > 30*time.Second {
			delete(c.recentlyStopped, t)
		}
	}
	c.recentMu.Unlock()
}

func (c *Connection) wasRecentlyStopped(token uint64) bool {
	c.recentMu.Lock()
	at, ok := c.recentlyStopped[token]
	c.recentMu.Unlock()
	return ok && time.Since(at) < 30*time.Second
}

// readLoop is the sole consumer of the socket's read side.
func (c *Connection) readLoop(conn net.Conn, die chan struct{}) {
	defer c.readerWG.Done()
	for {
		token, length, err := wire.ReadFrameHeader(conn)
		if err != nil {
			c.onReaderFailure(wrapf(err, "read frame header"))
			return
		}
		resp, err := wire.ReadResponse(conn, length)
		if err != nil {
			c.onReaderFailure(wrapf(err, "read frame payload"))
			return
		}
		select {
		case <-die:
			return
		default:
		}
		if err := c.noteData(token, resp, nil); err != nil {
			c.log.WithError(err).WithField("token", token).Error("protocol violation")
		}
	}
}

// onReaderFailure fans a synthetic ConnectionClosed error (carrying the
// read error as its cause) out to every outstanding waiter and terminates the reader without closing the socket; Close()
// is still required to complete teardown.
func (c *Connection) onReaderFailure(err error) {
	c.log.WithError(err).Warn("reader failed")

	c.mu.Lock()
	// The reader is no longer alive, so the connection is now
	// closed-from-client-perspective even though the socket itself is
	// still open. Close() still has to run to actually release the
	// socket.
	c.open = false
	waiters := c.waiters
	c.waiters = make(map[uint64]*waiterEntry)
	c.mu.Unlock()

	synthetic := &ConnectionClosed{Msg: "Connection closed: " + err.Error(), Cause: err}
	for token, w := range waiters {
		c.deliverTeardown(token, w, synthetic)
	}
}

func (c *Connection) deliverTeardown(token uint64, w *waiterEntry, err error) {
	switch w.kind {
	case waiterBlocking:
		c.mu.Lock()
		c.pending[token] = pendingResult{err: err}
		c.mu.Unlock()
		close(w.ready)
	case waiterCallback:
		w.cb(nil, err)
	}
}

// dropCallbackWaiters removes every callback-kind waiter so that late
// responses are silently dropped rather than dispatched to a dead
// reactor.
func (c *Connection) dropCallbackWaiters() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for token, w := range c.waiters {
		if w.kind == waiterCallback {
			delete(c.waiters, token)
		}
	}
}

// writeLoop owns the socket's write side exclusively: caller goroutines
// hand frames over a channel instead of racing on net.Conn.Write directly.
// Each frame is encoded and written by wire.WriteRequest, which uses a
// single vectorised syscall for header+payload when the underlying
// connection supports it.
func (c *Connection) writeLoop(conn net.Conn, die chan struct{}, writeCh chan writeRequest) {
	for {
		select {
		case <-die:
			return
		case req := <-writeCh:
			err := wire.WriteRequest(conn, req.token, req.queryType, req.body, req.opts)
			req.result <- err
			if err != nil && err != io.EOF {
				c.onReaderFailure(wrapf(err, "write failed"))
			}
		}
	}
}

// Use sets the default database term injected into every subsequent
// call's options.
func (c *Connection) Use(db string) { c.cfg.DB = db }

// NoreplyWait issues a synchronous NOREPLY_WAIT query and blocks until the
// server confirms every outstanding noreply query has been processed.
func (c *Connection) NoreplyWait(ctx context.Context) error {
	if !c.IsOpen() {
		return &ConnectionClosed{Msg: "noreply_wait on closed connection"}
	}
	token := c.tokens.allocate()
	w := newBlockingWaiter(PerQueryOptions{})
	if err := c.registerWaiter(token, w); err != nil {
		return err
	}
	if err := c.dispatch(ctx, token, wire.QueryNoreplyWait, nil, nil); err != nil {
		c.removeWaiter(token)
		return err
	}
	resp, err := c.wait(ctx, token, c.cfg.Timeout)
	if err != nil {
		return err
	}
	if resp.Type != wire.ResponseWaitComplete {
		return &DriverInternal{Msg: fmt.Sprintf("expected WAIT_COMPLETE, got response type %d", resp.Type)}
	}
	return nil
}

// Close terminates the reader and writer, closes the socket, and wakes
// every outstanding waiter with ConnectionClosed.
func (c *Connection) Close(ctx context.Context) error {
	c.mu.Lock()
	open := c.open
	c.mu.Unlock()

	if open && c.shouldNoreplyWait(ctx) {
		_ = c.NoreplyWait(ctx)
	}

	c.dieOnce.Do(func() {
		if c.die != nil {
			close(c.die)
		}
	})

	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.open = false
	waiters := c.waiters
	c.waiters = make(map[uint64]*waiterEntry)
	c.pending = make(map[uint64]pendingResult)
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}

	closedErr := &ConnectionClosed{Msg: "closed"}
	for token, w := range waiters {
		c.deliverTeardown(token, w, closedErr)
	}

	c.readerWG.Wait()
	c.log.Info("closed")
	return nil
}

type closeOptionsKey struct{}

// shouldNoreplyWait defaults to true; callers that want to skip the
// drain can use CloseNoDrain.
func (c *Connection) shouldNoreplyWait(ctx context.Context) bool {
	if v, ok := ctx.Value(closeOptionsKey{}).(bool); ok {
		return v
	}
	return true
}

// CloseNoDrain closes the connection without first draining outstanding
// noreply queries via NoreplyWait.
func (c *Connection) CloseNoDrain(ctx context.Context) error {
	return c.Close(context.WithValue(ctx, closeOptionsKey{}, false))
}

// Reconnect closes the connection (draining by default) and connects
// again, bumping conn_id so outstanding Cursors detect staleness.
func (c *Connection) Reconnect(ctx context.Context) error {
	_ = c.Close(ctx)
	return c.connect(ctx)
}
