package rethinkdb

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lessc0de/rethinkdb/internal/wire"
	"github.com/lessc0de/rethinkdb/internal/wiretest"
)

func dialTestServer(t *testing.T, srv *wiretest.Server) *Connection {
	t.Helper()
	host, portStr, err := net.SplitHostPort(srv.Addr())
	require.NoError(t, err)

	conn, err := Connect(context.Background(), NewConfig(WithHost(host), WithPort(mustAtoi(t, portStr)), WithTimeout(2*time.Second)))
	require.NoError(t, err)
	return conn
}

func mustAtoi(t *testing.T, s string) int {
	t.Helper()
	n := 0
	for _, r := range s {
		require.True(t, r >= '0' && r <= '9')
		n = n*10 + int(r-'0')
	}
	return n
}

func TestConnection_RunAtom(t *testing.T) {
	srv, err := wiretest.New("")
	require.NoError(t, err)
	defer srv.Close()

	srv.SetScript(func(token uint64, qt wire.QueryType, body, opts json.RawMessage) []wire.Response {
		if qt != wire.QueryStart {
			return nil
		}
		return []wire.Response{{Type: wire.ResponseSuccessAtom, Results: []json.RawMessage{json.RawMessage(`42`)}}}
	})
	go srv.Serve()

	conn := dialTestServer(t, srv)
	defer conn.Close(context.Background())

	res, err := conn.Run(context.Background(), Literal{V: []interface{}{1}}, PerQueryOptions{})
	require.NoError(t, err)
	require.Nil(t, res.Cursor)

	var v int
	require.NoError(t, res.AtomInto(&v))
	require.Equal(t, 42, v)
}

func TestConnection_NoreplyThenWait(t *testing.T) {
	srv, err := wiretest.New("")
	require.NoError(t, err)
	defer srv.Close()

	srv.SetScript(func(token uint64, qt wire.QueryType, body, opts json.RawMessage) []wire.Response {
		switch qt {
		case wire.QueryStart:
			return nil // noreply: nothing comes back
		case wire.QueryNoreplyWait:
			return []wire.Response{{Type: wire.ResponseWaitComplete}}
		default:
			return nil
		}
	})
	go srv.Serve()

	conn := dialTestServer(t, srv)
	defer conn.Close(context.Background())

	res, err := conn.Run(context.Background(), Literal{V: []interface{}{1}}, PerQueryOptions{Noreply: true})
	require.NoError(t, err)
	require.Nil(t, res)

	require.NoError(t, conn.NoreplyWait(context.Background()))
}

func TestConnection_ConcurrentCallersTokenIsolation(t *testing.T) {
	srv, err := wiretest.New("")
	require.NoError(t, err)
	defer srv.Close()

	srv.SetScript(func(token uint64, qt wire.QueryType, body, opts json.RawMessage) []wire.Response {
		if qt != wire.QueryStart {
			return nil
		}
		return []wire.Response{{Type: wire.ResponseSuccessAtom, Results: []json.RawMessage{body}}}
	})
	go srv.Serve()

	conn := dialTestServer(t, srv)
	defer conn.Close(context.Background())

	const n = 20
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			res, err := conn.Run(context.Background(), Literal{V: i}, PerQueryOptions{})
			if err != nil {
				errs <- err
				return
			}
			var got int
			if err := res.AtomInto(&got); err != nil {
				errs <- err
				return
			}
			if got != i {
				errs <- &DriverInternal{Msg: "token/value mismatch"}
				return
			}
			errs <- nil
		}(i)
	}
	for i := 0; i < n; i++ {
		require.NoError(t, <-errs)
	}
}

func TestWait_NonBlockingTimeout(t *testing.T) {
	c := &Connection{
		open:    true,
		waiters: make(map[uint64]*waiterEntry),
		pending: make(map[uint64]pendingResult),
		die:     make(chan struct{}),
	}
	w := newBlockingWaiter(PerQueryOptions{})
	c.waiters[1] = w

	_, err := c.wait(context.Background(), 1, -1)
	require.Error(t, err)
	require.IsType(t, &Timeout{}, err)
}

func TestCursor_CheckStaleAfterReconnect(t *testing.T) {
	c := &Connection{open: true, connID: 5}
	cur := &Cursor{conn: c, connIDSnap: 5}
	require.NoError(t, cur.checkStale())

	c.connID = 6
	err := cur.checkStale()
	require.Error(t, err)
	require.Contains(t, err.Error(), "reconnected")
}

func TestConnection_ReaderFailureFansOutToWaiters(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		hdr := make([]byte, 8)
		io_readFull(c, hdr)
		keyLen := le32(hdr[4:8])
		if keyLen > 0 {
			buf := make([]byte, keyLen)
			io_readFull(c, buf)
		}
		proto := make([]byte, 4)
		io_readFull(c, proto)
		c.Write(append([]byte("SUCCESS"), 0))
		accepted <- c
	}()

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	conn, err := Connect(context.Background(), NewConfig(WithHost(host), WithPort(mustAtoi(t, portStr)), WithTimeout(2*time.Second)))
	require.NoError(t, err)

	serverSide := <-accepted

	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := conn.Run(context.Background(), Literal{V: 1}, PerQueryOptions{})
			results <- err
		}()
	}

	time.Sleep(50 * time.Millisecond)
	serverSide.Close()

	for i := 0; i < 2; i++ {
		err := <-results
		require.Error(t, err)
		require.IsType(t, &ConnectionClosed{}, err)
	}
	require.False(t, conn.IsOpen())
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func io_readFull(c net.Conn, buf []byte) {
	total := 0
	for total < len(buf) {
		n, err := c.Read(buf[total:])
		total += n
		if err != nil {
			return
		}
	}
}
