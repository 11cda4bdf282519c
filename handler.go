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
	"fmt"
	"sync"

	"github.com/lessc0de/rethinkdb/internal/wire"
)

// Handler is the polymorphic sink for the reactive path: a capability
// record whose fields default to no-ops. The core invokes a subset of
// these callbacks depending on response type, always on the
// Connection's Reactor, never under the connection's internal lock.
//
// OnOpen/OnClose are enforced idempotent by the core itself (tracked via
// internal opened/closed flags), so a Handler's own callbacks never need
// to guard against being invoked twice.
type Handler struct {
	OnOpen         func()
	OnClose        func()
	OnWaitComplete func()
	OnVal          func(val json.RawMessage)
	OnArray        func(val json.RawMessage)
	OnAtom         func(val json.RawMessage)
	OnStreamVal    func(row json.RawMessage)
	OnChange       func(oldVal, newVal json.RawMessage)
	OnInitialVal   func(newVal json.RawMessage)
	OnChangeError  func(message string)
	OnState        func(state string)
	OnUnrecognizedChange func(row json.RawMessage)
	OnError        func(err error)

	mu      sync.Mutex
	opened  bool
	closedF bool
	stop    bool
}

// Stop causes all further dispatch to this Handler to be suppressed.
// Safe to call from any goroutine, at any time.
func (h *Handler) Stop() {
	h.mu.Lock()
	h.stop = true
	h.mu.Unlock()
}

// Stopped reports whether Stop has been called.
func (h *Handler) Stopped() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stop
}

func (h *Handler) wantsStates() bool { return h.OnState != nil }

func (h *Handler) openOnce() {
	h.mu.Lock()
	already := h.opened
	h.opened = true
	h.mu.Unlock()
	if !already && h.OnOpen != nil {
		h.OnOpen()
	}
}

func (h *Handler) closeOnce() {
	h.mu.Lock()
	already := h.closedF
	h.closedF = true
	h.mu.Unlock()
	if !already && h.OnClose != nil {
		h.OnClose()
	}
}

// changeRow is the shape change-feed entries are probed against.
type changeRow struct {
	OldVal json.RawMessage `json:"old_val"`
	NewVal json.RawMessage `json:"new_val"`
	Error  json.RawMessage `json:"error"`
	State  json.RawMessage `json:"state"`
}

func isJSONArray(raw json.RawMessage) bool {
	for _, b := range raw {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		case '[':
			return true
		default:
			return false
		}
	}
	return false
}

// makeHandlerCallback builds the callback invoked by the reader (or
// teardown) for a reactive-path token; classification runs under the
// reactor, never under the connection lock.
func (c *Connection) makeHandlerCallback(token uint64, opts PerQueryOptions, h *Handler) callbackFunc {
	var cb callbackFunc
	cb = func(resp *wire.Response, readErr error) {
		if h.Stopped() {
			return
		}
		c.reactor().Tick(func() {
			c.dispatchToHandler(token, opts, h, resp, readErr, cb)
		})
	}
	return cb
}

func (c *Connection) dispatchToHandler(token uint64, opts PerQueryOptions, h *Handler, resp *wire.Response, readErr error, cb callbackFunc) {
	if h.Stopped() {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			cause, _ := r.(error)
			h.openOnce()
			if h.OnError != nil {
				h.OnError(&DriverInternal{Msg: fmt.Sprintf("panic in handler dispatch: %v", r), Cause: cause})
			}
			h.closeOnce()
		}
	}()

	if readErr != nil {
		if resp == nil {
			// Synthetic teardown delivery: null response, close only.
			h.closeOnce()
			return
		}
		h.openOnce()
		if h.OnError != nil {
			h.OnError(readErr)
		}
		h.closeOnce()
		return
	}

	if resp == nil {
		h.closeOnce()
		return
	}

	switch {
	case resp.Type.IsError():
		h.openOnce()
		if h.OnError != nil {
			h.OnError(decodeServerError(resp))
		}
		h.closeOnce()

	case resp.Type == wire.ResponseWaitComplete:
		h.openOnce()
		if h.OnWaitComplete != nil {
			h.OnWaitComplete()
		}
		h.closeOnce()

	case resp.Type == wire.ResponseSuccessAtom:
		h.openOnce()
		c.deliverAtom(h, resp)
		h.closeOnce()

	case resp.Type == wire.ResponseSuccessPartial, resp.Type == wire.ResponseSuccessSequence:
		if resp.Type == wire.ResponseSuccessPartial {
			w := newCallbackWaiter(opts, cb)
			if err := c.registerWaiter(token, w); err == nil {
				_ = c.dispatch(context.Background(), token, wire.QueryContinue, nil, nil)
			}
		}
		h.openOnce()
		isFeed := resp.HasFeedNote()
		for _, row := range resp.Results {
			if isFeed {
				deliverChangeRow(h, row)
			} else if h.OnStreamVal != nil {
				h.OnStreamVal(row)
			}
		}
		if resp.Type == wire.ResponseSuccessSequence {
			h.closeOnce()
		}

	default:
		h.openOnce()
		if h.OnError != nil {
			h.OnError(&DriverInternal{Msg: "unrecognized response type"})
		}
		h.closeOnce()
	}
}

func (c *Connection) deliverAtom(h *Handler, resp *wire.Response) {
	var val json.RawMessage
	if len(resp.Results) == 1 {
		val = resp.Results[0]
	} else {
		b, err := json.Marshal(resp.Results)
		if err != nil {
			if h.OnError != nil {
				h.OnError(wrapf(err, "re-marshal atom results"))
			}
			return
		}
		val = b
	}
	if isJSONArray(val) {
		if h.OnArray != nil {
			h.OnArray(val)
		}
	} else if h.OnAtom != nil {
		h.OnAtom(val)
	}
	if h.OnVal != nil {
		h.OnVal(val)
	}
}

func deliverChangeRow(h *Handler, row json.RawMessage) {
	var cr changeRow
	if err := json.Unmarshal(row, &cr); err != nil {
		if h.OnUnrecognizedChange != nil {
			h.OnUnrecognizedChange(row)
		}
		return
	}
	switch {
	case len(cr.NewVal) > 0 && len(cr.OldVal) > 0:
		if h.OnChange != nil {
			h.OnChange(cr.OldVal, cr.NewVal)
		}
	case len(cr.NewVal) > 0:
		if h.OnInitialVal != nil {
			h.OnInitialVal(cr.NewVal)
		}
	case len(cr.Error) > 0:
		if h.OnChangeError != nil {
			var msg string
			if err := json.Unmarshal(cr.Error, &msg); err == nil {
				h.OnChangeError(msg)
			} else {
				h.OnChangeError(string(cr.Error))
			}
		}
	case len(cr.State) > 0:
		if h.OnState != nil {
			var state string
			if err := json.Unmarshal(cr.State, &state); err == nil {
				h.OnState(state)
			} else {
				h.OnState(string(cr.State))
			}
		}
	default:
		if h.OnUnrecognizedChange != nil {
			h.OnUnrecognizedChange(row)
		}
	}
}
