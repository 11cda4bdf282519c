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
	"time"

	"github.com/sirupsen/logrus"
)

// Default connection settings, per spec §6.
const (
	DefaultHost    = "localhost"
	DefaultPort    = 28015
	DefaultTimeout = 20 * time.Second
)

// FormatPref is a per-query decode preference for time/group/binary values.
type FormatPref string

const (
	FormatRaw    FormatPref = "raw"
	FormatNative FormatPref = "native"
)

func (f FormatPref) valid() bool {
	return f == "" || f == FormatRaw || f == FormatNative
}

// Config holds the identity and runtime settings of a Connection. The zero
// value is not usable directly; build one with NewConfig and Options.
type Config struct {
	Host    string
	Port    int
	DB      string
	AuthKey string
	Timeout time.Duration

	AutoReconnect bool

	// MaxConcurrentCursors bounds how many cursors may have a prefetch
	// in flight simultaneously. Zero means unbounded.
	MaxConcurrentCursors int64

	Logger *logrus.Logger

	Reactor Reactor
}

// Option configures a Config.
type Option func(*Config)

// NewConfig builds a Config from library defaults plus the given options.
func NewConfig(opts ...Option) *Config {
	cfg := &Config{
		Host:    DefaultHost,
		Port:    DefaultPort,
		Timeout: DefaultTimeout,
		Logger:  newSilentLogger(),
	}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.Reactor == nil {
		cfg.Reactor = NewGoroutineReactor()
	}
	return cfg
}

// WithHost sets the target host. Empty leaves the default.
func WithHost(host string) Option {
	return func(c *Config) {
		if host != "" {
			c.Host = host
		}
	}
}

// WithPort sets the target port. Zero leaves the default.
func WithPort(port int) Option {
	return func(c *Config) {
		if port != 0 {
			c.Port = port
		}
	}
}

// WithDB sets the default database injected into every query's global opts.
func WithDB(db string) Option {
	return func(c *Config) { c.DB = db }
}

// WithAuthKey sets the key sent during handshake.
func WithAuthKey(key string) Option {
	return func(c *Config) { c.AuthKey = key }
}

// WithTimeout sets the timeout applied to handshake reads and explicit
// wait timeouts. Zero or negative leaves the default.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.Timeout = d
		}
	}
}

// WithAutoReconnect enables transparent reconnection from Connection.Run
// when the connection is not currently open.
func WithAutoReconnect(enabled bool) Option {
	return func(c *Config) { c.AutoReconnect = enabled }
}

// WithMaxConcurrentCursors bounds in-flight cursor prefetches across the
// connection using a weighted semaphore. Zero (the default) is unbounded.
func WithMaxConcurrentCursors(n int64) Option {
	return func(c *Config) {
		if n > 0 {
			c.MaxConcurrentCursors = n
		}
	}
}

// WithLogger overrides the structured logger used for lifecycle events.
// The default logger discards all output.
func WithLogger(l *logrus.Logger) Option {
	return func(c *Config) {
		if l != nil {
			c.Logger = l
		}
	}
}

// WithReactor overrides the Reactor used to schedule handler callbacks.
// The default is a serialized goroutine-per-connection reactor.
func WithReactor(r Reactor) Option {
	return func(c *Config) {
		if r != nil {
			c.Reactor = r
		}
	}
}

// PerQueryOptions is the caller-supplied, per-call option set merged with
// connection defaults before a query is dispatched.
type PerQueryOptions struct {
	Noreply      bool
	DB           string
	TimeFormat   FormatPref
	GroupFormat  FormatPref
	BinaryFormat FormatPref
	IncludeStates bool
	Extra        map[string]interface{}
}

// validate checks the recognized per-query options for well-formedness.
func (o *PerQueryOptions) validate() error {
	if !o.TimeFormat.valid() {
		return &ArgumentError{Msg: "time_format must be \"raw\" or \"native\""}
	}
	if !o.GroupFormat.valid() {
		return &ArgumentError{Msg: "group_format must be \"raw\" or \"native\""}
	}
	if !o.BinaryFormat.valid() {
		return &ArgumentError{Msg: "binary_format must be \"raw\" or \"native\""}
	}
	return nil
}

// toWire merges the connection default DB with per-query overrides and
// produces the JSON-able global options object for the request frame.
func (o *PerQueryOptions) toWire(defaultDB string) map[string]interface{} {
	out := map[string]interface{}{}
	for k, v := range o.Extra {
		out[k] = v
	}
	out["noreply"] = o.Noreply
	db := o.DB
	if db == "" {
		db = defaultDB
	}
	if db != "" {
		out["db"] = []interface{}{14, []interface{}{db}} // DB term, literal form
	}
	if o.TimeFormat != "" {
		out["time_format"] = string(o.TimeFormat)
	}
	if o.GroupFormat != "" {
		out["group_format"] = string(o.GroupFormat)
	}
	if o.BinaryFormat != "" {
		out["binary_format"] = string(o.BinaryFormat)
	}
	if o.IncludeStates {
		out["include_states"] = true
	}
	return out
}
