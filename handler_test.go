package rethinkdb

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lessc0de/rethinkdb/internal/wire"
)

func TestDispatchToHandler_ChangeFeedClassification(t *testing.T) {
	var (
		initial  json.RawMessage
		oldV     json.RawMessage
		newV     json.RawMessage
		errMsg   string
		state    string
		unrec    json.RawMessage
		opened   int
		closed   int
	)
	h := &Handler{
		OnOpen:       func() { opened++ },
		OnClose:      func() { closed++ },
		OnInitialVal: func(v json.RawMessage) { initial = v },
		OnChange: func(o, n json.RawMessage) {
			oldV = o
			newV = n
		},
		OnChangeError:        func(msg string) { errMsg = msg },
		OnState:              func(s string) { state = s },
		OnUnrecognizedChange: func(row json.RawMessage) { unrec = row },
	}

	c := &Connection{cfg: NewConfig()}

	resp := &wire.Response{
		Type:  wire.ResponseSuccessSequence,
		Notes: []wire.ResponseNote{wire.NoteSequenceFeed},
		Results: []json.RawMessage{
			json.RawMessage(`{"new_val":"first"}`),
			json.RawMessage(`{"old_val":"a","new_val":"b"}`),
			json.RawMessage(`{"error":"gone"}`),
			json.RawMessage(`{"state":"ready"}`),
			json.RawMessage(`{"nonsense":true}`),
		},
	}

	c.dispatchToHandler(1, PerQueryOptions{}, h, resp, nil, nil)

	require.Equal(t, 1, opened)
	require.Equal(t, 1, closed) // SUCCESS_SEQUENCE closes after dispatch
	require.JSONEq(t, `"first"`, string(initial))
	require.JSONEq(t, `"a"`, string(oldV))
	require.JSONEq(t, `"b"`, string(newV))
	require.Equal(t, "gone", errMsg)
	require.Equal(t, "ready", state)
	require.JSONEq(t, `{"nonsense":true}`, string(unrec))
}

func TestDispatchToHandler_PlainStreamValues(t *testing.T) {
	var rows []json.RawMessage
	h := &Handler{
		OnStreamVal: func(row json.RawMessage) { rows = append(rows, row) },
	}
	c := &Connection{cfg: NewConfig()}

	resp := &wire.Response{
		Type:    wire.ResponseSuccessSequence,
		Results: []json.RawMessage{json.RawMessage(`1`), json.RawMessage(`2`)},
	}
	c.dispatchToHandler(1, PerQueryOptions{}, h, resp, nil, nil)

	require.Len(t, rows, 2)
}

func TestDispatchToHandler_ServerErrorRoutesToOnError(t *testing.T) {
	var gotErr error
	h := &Handler{OnError: func(err error) { gotErr = err }}
	c := &Connection{cfg: NewConfig()}

	resp := &wire.Response{
		Type:    wire.ResponseRuntimeError,
		Results: []json.RawMessage{json.RawMessage(`"boom"`)},
	}
	c.dispatchToHandler(1, PerQueryOptions{}, h, resp, nil, nil)

	require.Error(t, gotErr)
	require.IsType(t, &ServerError{}, gotErr)
}

func TestHandler_StopSuppressesFurtherDispatch(t *testing.T) {
	calls := 0
	h := &Handler{OnAtom: func(json.RawMessage) { calls++ }}
	c := &Connection{cfg: NewConfig()}
	h.Stop()

	resp := &wire.Response{Type: wire.ResponseSuccessAtom, Results: []json.RawMessage{json.RawMessage(`1`)}}
	c.dispatchToHandler(1, PerQueryOptions{}, h, resp, nil, nil)

	require.Equal(t, 0, calls)
	require.True(t, h.Stopped())
}

func TestHandler_OpenCloseIdempotent(t *testing.T) {
	h := &Handler{}
	h.openOnce()
	h.openOnce()
	h.closeOnce()
	h.closeOnce()
	require.True(t, h.opened)
	require.True(t, h.closedF)
}
