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

// Term is the opaque query body the core dispatches to the server. The
// query-building DSL that produces these is an external collaborator;
// this package only needs something JSON-marshalable.
type Term interface {
	// Build returns the JSON-able representation of the term.
	Build() (interface{}, error)
}

// Literal wraps any JSON-marshalable Go value as a trivial Term, for
// callers that already have a serialized query term (e.g. from a DSL
// package) or a plain value to pass through unchanged.
type Literal struct {
	V interface{}
}

// Build implements Term.
func (l Literal) Build() (interface{}, error) { return l.V, nil }

func buildBody(t Term) (interface{}, error) {
	if t == nil {
		return nil, &ArgumentError{Msg: "query body must not be nil"}
	}
	return t.Build()
}
