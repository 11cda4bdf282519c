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

	"github.com/lessc0de/rethinkdb/internal/wire"
)

// Result is what Connection.Run returns on the synchronous path:
// either a decoded atom, a Cursor over a sequence or partial result,
// optionally flanked by a query profile.
type Result struct {
	// Atom holds the raw decoded value for SUCCESS_ATOM responses.
	// Nil when Cursor is set.
	Atom json.RawMessage
	// Cursor holds the lazy sequence for SUCCESS_SEQUENCE/SUCCESS_PARTIAL
	// responses. Nil when Atom is set.
	Cursor *Cursor
	// Profile is the optional query profile, present when the server
	// returned a "p" field.
	Profile json.RawMessage
}

// AtomInto unmarshals the atom value into v. Returns an error if this
// Result does not carry an atom.
func (r *Result) AtomInto(v interface{}) error {
	if r.Atom == nil {
		return &ArgumentError{Msg: "result has no atom value"}
	}
	return json.Unmarshal(r.Atom, v)
}

// shapeResult decides how to represent a response's first frame: atom,
// sequence, partial (cursor), or wait-complete.
func shapeResult(c *Connection, token uint64, opts PerQueryOptions, resp *wire.Response) (*Result, error) {
	if resp.Type.IsError() {
		return nil, decodeServerError(resp)
	}

	res := &Result{Profile: resp.Profile}

	switch resp.Type {
	case wire.ResponseSuccessPartial:
		res.Cursor = newCursor(c, token, opts, resp, true)
	case wire.ResponseSuccessSequence:
		res.Cursor = newCursor(c, token, opts, resp, false)
	case wire.ResponseSuccessAtom:
		if len(resp.Results) == 1 {
			res.Atom = resp.Results[0]
		} else {
			b, err := json.Marshal(resp.Results)
			if err != nil {
				return nil, wrapf(err, "re-marshal atom results")
			}
			res.Atom = b
		}
	case wire.ResponseWaitComplete:
		res.Atom = json.RawMessage("true")
	default:
		return nil, &DriverInternal{Msg: "unrecognized response type"}
	}
	return res, nil
}

func decodeServerError(resp *wire.Response) error {
	se := &ServerError{}
	switch resp.Type {
	case wire.ResponseClientError:
		se.Type = "ClientError"
	case wire.ResponseCompileError:
		se.Type = "CompileError"
	case wire.ResponseRuntimeError:
		se.Type = "RuntimeError"
	}
	if len(resp.Results) > 0 {
		var msg string
		if err := json.Unmarshal(resp.Results[0], &msg); err == nil {
			se.Message = msg
		} else {
			se.Message = string(resp.Results[0])
		}
	}
	if len(resp.Backtrace) > 0 {
		var bt []string
		if err := json.Unmarshal(resp.Backtrace, &bt); err == nil {
			se.Backtrace = bt
		}
	}
	return se
}

// RunWithBlock runs body and, once the synchronous result is available,
// invokes fn with it; when fn returns, any Cursor created for the result
// is closed.
func (c *Connection) RunWithBlock(ctx context.Context, body Term, opts PerQueryOptions, fn func(*Result) error) error {
	res, err := c.Run(ctx, body, opts)
	if err != nil {
		return err
	}
	ferr := fn(res)
	if res != nil && res.Cursor != nil {
		_ = res.Cursor.Close(ctx)
	}
	return ferr
}
