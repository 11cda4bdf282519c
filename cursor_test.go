package rethinkdb

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lessc0de/rethinkdb/internal/wire"
	"github.com/lessc0de/rethinkdb/internal/wiretest"
)

func TestCursor_PagedSequenceAcrossBatches(t *testing.T) {
	srv, err := wiretest.New("")
	require.NoError(t, err)
	defer srv.Close()

	srv.SetScript(func(token uint64, qt wire.QueryType, body, opts json.RawMessage) []wire.Response {
		switch qt {
		case wire.QueryStart:
			return []wire.Response{{Type: wire.ResponseSuccessPartial, Results: []json.RawMessage{
				json.RawMessage(`1`), json.RawMessage(`2`),
			}}}
		case wire.QueryContinue:
			return []wire.Response{{Type: wire.ResponseSuccessSequence, Results: []json.RawMessage{
				json.RawMessage(`3`),
			}}}
		default:
			return nil
		}
	})
	go srv.Serve()

	conn := dialTestServer(t, srv)
	defer conn.Close(context.Background())

	res, err := conn.Run(context.Background(), Literal{V: []interface{}{1}}, PerQueryOptions{})
	require.NoError(t, err)
	require.NotNil(t, res.Cursor)

	var got []int
	err = res.Cursor.Each(context.Background(), func(row json.RawMessage) error {
		var v int
		if err := json.Unmarshal(row, &v); err != nil {
			return err
		}
		got = append(got, v)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []int{1, 2, 3}, got)
}

func TestCursor_EachTwiceFails(t *testing.T) {
	srv, err := wiretest.New("")
	require.NoError(t, err)
	defer srv.Close()

	srv.SetScript(func(token uint64, qt wire.QueryType, body, opts json.RawMessage) []wire.Response {
		if qt != wire.QueryStart {
			return nil
		}
		return []wire.Response{{Type: wire.ResponseSuccessSequence, Results: []json.RawMessage{json.RawMessage(`1`)}}}
	})
	go srv.Serve()

	conn := dialTestServer(t, srv)
	defer conn.Close(context.Background())

	res, err := conn.Run(context.Background(), Literal{V: []interface{}{1}}, PerQueryOptions{})
	require.NoError(t, err)

	require.NoError(t, res.Cursor.Each(context.Background(), func(json.RawMessage) error { return nil }))

	err = res.Cursor.Each(context.Background(), func(json.RawMessage) error { return nil })
	require.Error(t, err)
	require.IsType(t, &DriverInternal{}, err)
}

func TestCursor_CloseStopsOutstandingFetch(t *testing.T) {
	srv, err := wiretest.New("")
	require.NoError(t, err)
	defer srv.Close()

	stopSeen := make(chan struct{}, 1)
	srv.SetScript(func(token uint64, qt wire.QueryType, body, opts json.RawMessage) []wire.Response {
		switch qt {
		case wire.QueryStart:
			return []wire.Response{{Type: wire.ResponseSuccessPartial, Results: []json.RawMessage{json.RawMessage(`1`)}}}
		case wire.QueryStop:
			select {
			case stopSeen <- struct{}{}:
			default:
			}
			return nil
		default:
			return nil
		}
	})
	go srv.Serve()

	conn := dialTestServer(t, srv)
	defer conn.Close(context.Background())

	res, err := conn.Run(context.Background(), Literal{V: []interface{}{1}}, PerQueryOptions{})
	require.NoError(t, err)

	stopped := res.Cursor.Close(context.Background())
	require.True(t, stopped)

	select {
	case <-stopSeen:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a STOP frame to be dispatched")
	}
}

func TestCursor_CloseWithNoOutstandingFetchIsNoop(t *testing.T) {
	srv, err := wiretest.New("")
	require.NoError(t, err)
	defer srv.Close()

	srv.SetScript(func(token uint64, qt wire.QueryType, body, opts json.RawMessage) []wire.Response {
		if qt != wire.QueryStart {
			return nil
		}
		return []wire.Response{{Type: wire.ResponseSuccessSequence, Results: []json.RawMessage{json.RawMessage(`1`)}}}
	})
	go srv.Serve()

	conn := dialTestServer(t, srv)
	defer conn.Close(context.Background())

	res, err := conn.Run(context.Background(), Literal{V: []interface{}{1}}, PerQueryOptions{})
	require.NoError(t, err)

	require.False(t, res.Cursor.Close(context.Background()))
}
