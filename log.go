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

import "github.com/sirupsen/logrus"

// newSilentLogger is the Config default: a logrus.Logger with output
// discarded, so the library never writes to a caller's stdout/stderr
// unless WithLogger overrides it.
func newSilentLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(discardWriter{})
	return l
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// connLogger builds the per-connection structured logger entry, tagging
// every subsequent log line with the connection's identity.
func connLogger(base *logrus.Logger, connID string) *logrus.Entry {
	return base.WithField("conn", connID)
}

// AdjustLogLevel raises or lowers the level of the given logger by one step,
// mirroring notary's level-adjustment helper for interactive tools like
// cmd/rethinkping's --verbose flag.
func AdjustLogLevel(l *logrus.Logger, increment bool) error {
	lvl := l.GetLevel()
	if increment {
		if lvl == logrus.TraceLevel {
			return &ArgumentError{Msg: "already at the most verbose log level"}
		}
		l.SetLevel(lvl + 1)
		return nil
	}
	if lvl == logrus.PanicLevel {
		return &ArgumentError{Msg: "already at the least verbose log level"}
	}
	l.SetLevel(lvl - 1)
	return nil
}
