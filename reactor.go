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

import "sync"

// Reactor is the caller-supplied single-threaded event scheduler that owns
// all Handler invocations. The core only requires a reactor capable of
// scheduling a deferred callback on its own thread and registering a
// shutdown hook; a real event-loop integration is left to the caller.
type Reactor interface {
	// Tick schedules fn to run outside the caller's current call stack,
	// and in particular outside the connection's internal lock.
	Tick(fn func())
	// OnShutdown registers fn to run once when the reactor shuts down.
	OnShutdown(fn func())
}

// GoroutineReactor is the default Reactor: each Tick runs on a dedicated
// worker goroutine so that callbacks for a single reactor instance observe
// program order, without ever blocking the connection's reader.
type GoroutineReactor struct {
	mu        sync.Mutex
	work      chan func()
	hooks     []func()
	closeOnce sync.Once
	done      chan struct{}
}

// NewGoroutineReactor creates a ready-to-use GoroutineReactor.
func NewGoroutineReactor() *GoroutineReactor {
	r := &GoroutineReactor{
		work: make(chan func(), 256),
		done: make(chan struct{}),
	}
	go r.loop()
	return r
}

func (r *GoroutineReactor) loop() {
	for {
		select {
		case fn := <-r.work:
			fn()
		case <-r.done:
			return
		}
	}
}

// Tick implements Reactor.
func (r *GoroutineReactor) Tick(fn func()) {
	select {
	case r.work <- fn:
	case <-r.done:
	}
}

// OnShutdown implements Reactor.
func (r *GoroutineReactor) OnShutdown(fn func()) {
	r.mu.Lock()
	r.hooks = append(r.hooks, fn)
	r.mu.Unlock()
}

// Shutdown stops the worker goroutine and runs registered hooks.
func (r *GoroutineReactor) Shutdown() {
	r.closeOnce.Do(func() {
		close(r.done)
		r.mu.Lock()
		hooks := r.hooks
		r.mu.Unlock()
		for _, h := range hooks {
			h()
		}
	})
}

// EMGuard is a process-wide registry of connections using the reactive
// path: on reactor shutdown every registered connection has its
// callback-kind waiters removed so late responses are dropped instead
// of reaching a dead reactor.
//
// Registration uses its own lock, and unregistration is always performed
// outside any per-connection lock to avoid lock-order inversions.
type EMGuard struct {
	mu      sync.Mutex
	entries map[string]*Connection
}

var defaultEMGuard = &EMGuard{entries: make(map[string]*Connection)}

// Register adds conn to the guard under the given key (typically a
// uuid.UUID string identifying the connection instance) and installs an
// OnShutdown hook on conn's reactor that unregisters it.
func (g *EMGuard) Register(key string, conn *Connection) {
	g.mu.Lock()
	g.entries[key] = conn
	g.mu.Unlock()

	conn.reactor().OnShutdown(func() {
		g.Unregister(key)
		conn.dropCallbackWaiters()
	})
}

// Unregister removes the connection registered under key, if any.
func (g *EMGuard) Unregister(key string) {
	g.mu.Lock()
	delete(g.entries, key)
	g.mu.Unlock()
}
