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

import "sync/atomic"

// tokenAllocator hands out strictly increasing, connection-scoped request
// identifiers. It resets whenever the owning Connection (re)connects,
// since the server only associates tokens with the current socket.
type tokenAllocator struct {
	next uint64
}

// reset rewinds the counter to zero. Must only be called while no
// concurrent allocations are possible (i.e. before the reader/writer
// goroutines for the new connection start).
func (a *tokenAllocator) reset() {
	atomic.StoreUint64(&a.next, 0)
}

// allocate returns the next token for this connection generation.
func (a *tokenAllocator) allocate() uint64 {
	return atomic.AddUint64(&a.next, 1)
}
