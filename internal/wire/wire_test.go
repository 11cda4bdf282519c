package wire

import (
	"bytes"
	"encoding/json"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeRequestAndReadResponse(t *testing.T) {
	frame, err := EncodeRequest(7, QueryStart, []interface{}{15, []interface{}{}}, map[string]interface{}{"db": "test"})
	require.NoError(t, err)

	r := bytes.NewReader(frame)
	token, length, err := ReadFrameHeader(r)
	require.NoError(t, err)
	require.Equal(t, uint64(7), token)

	payload := make([]byte, length)
	_, err = r.Read(payload)
	require.NoError(t, err)

	var arr []json.RawMessage
	require.NoError(t, json.Unmarshal(payload, &arr))
	require.Len(t, arr, 3)
}

func TestReadResponseDecodesEnvelope(t *testing.T) {
	body := []byte(`{"t":1,"r":[42],"n":[1]}`)
	resp, err := ReadResponse(bytes.NewReader(body), uint32(len(body)))
	require.NoError(t, err)
	require.Equal(t, ResponseSuccessAtom, resp.Type)
	require.True(t, resp.Notes[0].IsFeed())
	require.Len(t, resp.Results, 1)
}

func TestResponseTypeIsError(t *testing.T) {
	require.True(t, ResponseClientError.IsError())
	require.True(t, ResponseCompileError.IsError())
	require.True(t, ResponseRuntimeError.IsError())
	require.False(t, ResponseSuccessAtom.IsError())
}

func TestHandshakeSuccess(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		hdr := make([]byte, 8)
		io_ReadFull(server, hdr)
		keyLen := le32(hdr[4:8])
		if keyLen > 0 {
			buf := make([]byte, keyLen)
			io_ReadFull(server, buf)
		}
		proto := make([]byte, 4)
		io_ReadFull(server, proto)
		server.Write(append([]byte("SUCCESS"), 0))
	}()

	err := Handshake(client, "secret")
	require.NoError(t, err)
}

func TestHandshakeFailureDiagnostic(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		hdr := make([]byte, 8)
		io_ReadFull(server, hdr)
		proto := make([]byte, 4)
		io_ReadFull(server, proto)
		server.Write(append([]byte("ERROR: bad protocol"), 0))
	}()

	err := Handshake(client, "")
	require.Error(t, err)
	require.Contains(t, err.Error(), "ERROR: bad protocol")
}

func io_ReadFull(r net.Conn, buf []byte) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return
		}
	}
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
