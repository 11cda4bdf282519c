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

import "fmt"

// ArgumentError reports a malformed option, wrong arity, or unknown key
// supplied by the caller.
type ArgumentError struct {
	Msg string
}

func (e *ArgumentError) Error() string { return "argument error: " + e.Msg }

// ConnectionClosed is raised when an operation is attempted against a
// closed connection, or against a Cursor whose owning connection has
// reconnected since the Cursor was created.
type ConnectionClosed struct {
	Msg   string
	Cause error
}

func (e *ConnectionClosed) Error() string {
	if e.Msg == "" {
		return "connection closed"
	}
	return "connection closed: " + e.Msg
}

func (e *ConnectionClosed) Unwrap() error { return e.Cause }

// Timeout is raised from timed waits (blocking response waits and
// Cursor.Next) when no result arrives before the deadline.
type Timeout struct {
	Msg string
}

func (e *Timeout) Error() string { return "timeout: " + e.Msg }

// DriverInternal indicates a violated invariant: a duplicate token, a
// response for an unregistered token, or an unrecognized waiter kind.
// Seeing this error means the driver has a bug.
type DriverInternal struct {
	Msg   string
	Cause error
}

func (e *DriverInternal) Error() string { return "driver internal error: " + e.Msg }

func (e *DriverInternal) Unwrap() error { return e.Cause }

// ServerError wraps a CLIENT_ERROR / COMPILE_ERROR / RUNTIME_ERROR response
// decoded from the wire.
type ServerError struct {
	Type      string
	Message   string
	Backtrace []string
}

func (e *ServerError) Error() string {
	if e.Type == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// HandshakeFailure is raised when the server's handshake reply is not
// "SUCCESS", or when the handshake I/O itself fails.
type HandshakeFailure struct {
	Diagnostic string
	Cause      error
}

func (e *HandshakeFailure) Error() string {
	return "handshake failed: " + e.Diagnostic
}

func (e *HandshakeFailure) Unwrap() error { return e.Cause }

// StopIteration is raised by Cursor.Next once the cursor is exhausted.
type StopIteration struct{}

func (e *StopIteration) Error() string { return "stop iteration" }

// wrapf wraps cause with a message, preserving it for errors.Unwrap/Is/As.
func wrapf(cause error, format string, args ...interface{}) error {
	if cause == nil {
		return fmt.Errorf(format, args...)
	}
	return fmt.Errorf(format+": %w", append(args, cause)...)
}
