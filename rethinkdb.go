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

// Package rethinkdb implements the client-side query connection core of a
// driver speaking a length-prefixed, JSON-framed RPC protocol to a
// RethinkDB-compatible query server: connection multiplexing, lazy
// cursors, and change-feed dispatch. The query-building DSL, JSON
// normalization, and reactive event loop integration are left to
// external collaborators; this package only requires a Term and a
// Reactor.
package rethinkdb

import (
	"context"
	"sync"
)

// Run dispatches body synchronously and returns its Result.
func (c *Connection) Run(ctx context.Context, body Term, opts PerQueryOptions) (*Result, error) {
	return c.run(ctx, body, opts, nil)
}

// RunHandled dispatches body on the reactive path: h receives every
// response frame for this query via the connection's Reactor, and
// RunHandled returns immediately once the request has been sent.
func (c *Connection) RunHandled(ctx context.Context, body Term, opts PerQueryOptions, h *Handler) error {
	if h == nil {
		return &ArgumentError{Msg: "RunHandled requires a non-nil Handler"}
	}
	_, err := c.run(ctx, body, opts, h)
	return err
}

var (
	defaultConnMu sync.Mutex
	defaultConn   *Connection
)

// SetDefaultConnection installs the process-wide default connection
// returned by DefaultConnection. A protected singleton, not a
// silent default — callers must opt in explicitly by calling this.
func SetDefaultConnection(c *Connection) {
	defaultConnMu.Lock()
	defaultConn = c
	defaultConnMu.Unlock()
}

// DefaultConnection returns the connection installed by
// SetDefaultConnection, or nil if none was set.
func DefaultConnection() *Connection {
	defaultConnMu.Lock()
	defer defaultConnMu.Unlock()
	return defaultConn
}
