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
	"github.com/lessc0de/rethinkdb/internal/wire"
)

// waiterKind distinguishes how a token's response should be delivered.
type waiterKind int

const (
	waiterBlocking waiterKind = iota
	waiterCallback
)

// callbackFunc receives the decoded response for a token, or a delivery
// error (e.g. on reader failure / connection teardown). Exactly one of
// resp/err is set.
type callbackFunc func(resp *wire.Response, err error)

// waiterEntry is the value held in the connection's waiter table, keyed by
// token. It is only ever mutated while the connection's mutex is held.
type waiterEntry struct {
	kind waiterKind
	opts PerQueryOptions

	// blocking waiters: ready is closed exactly once, when a result (or
	// error) has been placed in the connection's pending map for this
	// token. Callers re-check the pending map after wakeup to guard
	// against spurious wakeups.
	ready chan struct{}

	// callback waiters: cb is invoked by the reader (or by teardown)
	// after the connection lock has been released, not while it is
	// held; it must return quickly and hand heavy work to the reactor.
	cb callbackFunc
}

func newBlockingWaiter(opts PerQueryOptions) *waiterEntry {
	return &waiterEntry{kind: waiterBlocking, opts: opts, ready: make(chan struct{})}
}

func newCallbackWaiter(opts PerQueryOptions, cb callbackFunc) *waiterEntry {
	return &waiterEntry{kind: waiterCallback, opts: opts, cb: cb}
}

// pendingResult is what a blocking waiter finds in the connection's
// pending map once note_data has run for its token.
type pendingResult struct {
	resp *wire.Response
	err  error
}
