// Package wiretest implements a minimal in-process stub server speaking
// the same length-prefixed, JSON-framed protocol as internal/wire, for use
// by the package's own tests. It is not a query engine: callers script the
// exact frames it should hand back for a given incoming token.
package wiretest

import (
	"encoding/binary"
	"encoding/json"
	"net"
	"sync"

	"github.com/lessc0de/rethinkdb/internal/wire"
	"golang.org/x/sync/errgroup"
)

// Server accepts any number of connections concurrently, performs the
// handshake on each, and then replies to incoming request frames according
// to a caller-installed Script.
type Server struct {
	ln net.Listener

	mu     sync.Mutex
	script Script

	authKey string
}

// Script decides how to respond to an incoming request frame. It may
// return zero or more responses (e.g. a SUCCESS_PARTIAL followed later by
// nothing, with a second call supplying the SUCCESS_SEQUENCE for the
// CONTINUE that follows).
type Script func(token uint64, queryType wire.QueryType, body, opts json.RawMessage) []wire.Response

// New starts listening on an ephemeral loopback port.
func New(authKey string) (*Server, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	return &Server{ln: ln, authKey: authKey}, nil
}

// Addr returns the host:port the server is listening on.
func (s *Server) Addr() string { return s.ln.Addr().String() }

// SetScript installs the response script consulted for every request frame
// read after the call, on every connection the server is servicing.
func (s *Server) SetScript(fn Script) {
	s.mu.Lock()
	s.script = fn
	s.mu.Unlock()
}

// Serve accepts connections in a loop and services each one concurrently
// in its own goroutine, tracked by an errgroup.Group, until the listener
// is closed. Intended to run in its own goroutine; a single client that
// connects once (the common case in this package's tests) is serviced the
// same way as any number of concurrent clients.
func (s *Server) Serve() error {
	var g errgroup.Group
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			werr := g.Wait()
			if werr != nil {
				return werr
			}
			return nil
		}
		g.Go(func() error {
			return s.serveConn(conn)
		})
	}
}

// serveConn handshakes conn and services frames on it until the client
// disconnects or a protocol error occurs.
func (s *Server) serveConn(conn net.Conn) error {
	defer conn.Close()

	if err := s.handshake(conn); err != nil {
		return err
	}

	for {
		token, length, err := wire.ReadFrameHeader(conn)
		if err != nil {
			return nil
		}
		payload := make([]byte, length)
		if _, err := readFull(conn, payload); err != nil {
			return nil
		}

		var req [3]json.RawMessage
		if err := json.Unmarshal(payload, &req); err != nil {
			return err
		}
		var qt int
		_ = json.Unmarshal(req[0], &qt)

		s.mu.Lock()
		script := s.script
		s.mu.Unlock()
		if script == nil {
			continue
		}
		for _, resp := range script(token, wire.QueryType(qt), req[1], req[2]) {
			if err := writeResponse(conn, token, resp); err != nil {
				return err
			}
		}
	}
}

// Close stops accepting new connections. Connections already being
// serviced by Serve's errgroup run to completion; Serve returns once
// Accept starts failing and every in-flight serveConn has returned.
func (s *Server) Close() error { return s.ln.Close() }

func (s *Server) handshake(conn net.Conn) error {
	var hdr [8]byte
	if _, err := readFull(conn, hdr[:]); err != nil {
		return err
	}
	keyLen := binary.LittleEndian.Uint32(hdr[4:8])
	if keyLen > 0 {
		buf := make([]byte, keyLen)
		if _, err := readFull(conn, buf); err != nil {
			return err
		}
	}
	var proto [4]byte
	if _, err := readFull(conn, proto[:]); err != nil {
		return err
	}
	_, err := conn.Write(append([]byte("SUCCESS"), 0))
	return err
}

func writeResponse(conn net.Conn, token uint64, resp wire.Response) error {
	payload, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	hdr := make([]byte, wire.HeaderSize)
	binary.LittleEndian.PutUint64(hdr[0:8], token)
	binary.LittleEndian.PutUint32(hdr[8:12], uint32(len(payload)))
	if _, err := conn.Write(append(hdr, payload...)); err != nil {
		return err
	}
	return nil
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
