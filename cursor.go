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
	"encoding/json"
	"sync"
	"time"

	"github.com/lessc0de/rethinkdb/internal/wire"
	"golang.org/x/sync/semaphore"
)

// Cursor is a lazy sequence backed by server-side continuation tokens.
// At most one consumer may drive a Cursor; once fully iterated it is
// terminal and further operations fail.
type Cursor struct {
	conn       *Connection
	connIDSnap uint64
	token      uint64
	opts       PerQueryOptions

	sem      *semaphore.Weighted // shared with owning Connection, may be nil
	semHeld  bool

	mu      sync.Mutex
	buffer  []json.RawMessage
	more    bool
	closed  bool
	started bool // Each() was already called once
}

// newCursor constructs a Cursor from the first SUCCESS_PARTIAL/
// SUCCESS_SEQUENCE response and immediately prefetches the next batch if
// more is true, to keep one fetch in flight at all times.
func newCursor(conn *Connection, token uint64, opts PerQueryOptions, resp *wire.Response, more bool) *Cursor {
	c := &Cursor{
		conn:       conn,
		connIDSnap: conn.connIDSnapshot(),
		token:      token,
		opts:       opts,
		sem:        conn.sem,
		buffer:     append([]json.RawMessage(nil), resp.Results...),
		more:       more,
	}
	if c.more {
		c.prefetch(context.Background())
	}
	return c
}

// prefetch registers a blocking waiter for the cursor's token and
// dispatches a CONTINUE frame; the result is collected lazily by the next
// call that needs it, via Connection.wait.
func (c *Cursor) prefetch(ctx context.Context) {
	if c.sem != nil {
		if err := c.sem.Acquire(ctx, 1); err != nil {
			return
		}
		c.mu.Lock()
		c.semHeld = true
		c.mu.Unlock()
	}

	w := newBlockingWaiter(c.opts)
	if err := c.conn.registerWaiter(c.token, w); err != nil {
		// Registration only fails if the connection is already closed or
		// the token is (impossibly) reused; either way the next call
		// that tries to wait on this token will observe the same error
		// via the connection's closed state.
		c.releaseSem()
		return
	}
	_ = c.conn.dispatch(ctx, c.token, wire.QueryContinue, nil, nil)
}

// releaseSem releases the prefetch concurrency permit if currently held.
func (c *Cursor) releaseSem() {
	if c.sem == nil {
		return
	}
	c.mu.Lock()
	held := c.semHeld
	c.semHeld = false
	c.mu.Unlock()
	if held {
		c.sem.Release(1)
	}
}

// checkStale fails if the owning connection reconnected since this
// Cursor was created, or is no longer open.
func (c *Cursor) checkStale() error {
	if !c.conn.IsOpen() {
		return &ConnectionClosed{Msg: "owning connection is closed"}
	}
	if c.conn.connIDSnapshot() != c.connIDSnap {
		return &ConnectionClosed{Msg: "owning connection has reconnected"}
	}
	return nil
}

// NextWait selects how long Next blocks for the next row.
type NextWait struct {
	indefinite bool
	d          time.Duration
}

// WaitIndefinitely blocks until a row is available.
func WaitIndefinitely() NextWait { return NextWait{indefinite: true} }

// NoWait returns immediately with Timeout if no row is buffered.
func NoWait() NextWait { return NextWait{} }

// WaitFor blocks for at most d.
func WaitFor(d time.Duration) NextWait { return NextWait{d: d} }

// Next returns the next row, blocking per wait's policy. Returns
// *StopIteration once the cursor is exhausted.
func (c *Cursor) Next(ctx context.Context, wait NextWait) (json.RawMessage, error) {
	c.mu.Lock()
	if len(c.buffer) > 0 {
		row := c.buffer[0]
		c.buffer = c.buffer[1:]
		c.mu.Unlock()
		return row, nil
	}
	more := c.more
	closed := c.closed
	c.mu.Unlock()

	if closed || !more {
		return nil, &StopIteration{}
	}

	if err := c.checkStale(); err != nil {
		return nil, err
	}

	resp, err := c.conn.wait(ctx, c.token, timeoutOrNoWait(wait))
	if err != nil {
		return nil, err
	}
	c.releaseSem()
	if resp.Type.IsError() {
		return nil, decodeServerError(resp)
	}

	c.mu.Lock()
	c.buffer = append(c.buffer, resp.Results...)
	c.more = resp.Type == wire.ResponseSuccessPartial
	stillMore := c.more
	c.mu.Unlock()

	if stillMore {
		c.prefetch(ctx)
	}

	c.mu.Lock()
	if len(c.buffer) == 0 {
		c.mu.Unlock()
		return nil, &StopIteration{}
	}
	row := c.buffer[0]
	c.buffer = c.buffer[1:]
	c.mu.Unlock()
	return row, nil
}

func timeoutOrNoWait(wait NextWait) time.Duration {
	if wait.indefinite {
		return 0
	}
	if wait.d > 0 {
		return wait.d
	}
	return -1 // non-blocking poll
}

// Each consumes every remaining row, calling fn for each in order. It may
// be called at most once per Cursor; a second call fails with
// DriverInternal if called a second time.
func (c *Cursor) Each(ctx context.Context, fn func(json.RawMessage) error) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return &DriverInternal{Msg: "cursor already iterated"}
	}
	c.started = true
	c.mu.Unlock()

	for {
		row, err := c.Next(ctx, WaitIndefinitely())
		if err != nil {
			if _, stop := err.(*StopIteration); stop {
				return nil
			}
			return err
		}
		if err := fn(row); err != nil {
			return err
		}
	}
}

// Close stops the cursor: if more batches are outstanding, sends a STOP
// frame with noreply and returns true; otherwise returns false.
func (c *Cursor) Close(ctx context.Context) bool {
	c.mu.Lock()
	if !c.more || c.closed {
		c.closed = true
		c.mu.Unlock()
		return false
	}
	c.more = false
	c.closed = true
	c.mu.Unlock()

	c.conn.markStopped(c.token)
	c.conn.removeWaiter(c.token)
	c.releaseSem()
	opts := map[string]interface{}{"noreply": true}
	_ = c.conn.dispatch(ctx, c.token, wire.QueryStop, nil, opts)
	return true
}
