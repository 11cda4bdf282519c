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

// Package wire implements the length-prefixed, JSON-framed request/response
// protocol spoken between the connection core and the query server: frame
// encoding, the connect-time handshake, and the response envelope shape.
package wire

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/sagernet/sing/common/bufio"
)

// QueryType is the first element of a request's JSON payload array.
type QueryType int

const (
	QueryStart        QueryType = 1
	QueryContinue     QueryType = 2
	QueryStop         QueryType = 3
	QueryNoreplyWait  QueryType = 4
)

// ResponseType is the "t" field of a decoded response object.
type ResponseType int

const (
	ResponseSuccessAtom    ResponseType = 1
	ResponseSuccessSequence ResponseType = 2
	ResponseSuccessPartial ResponseType = 3
	ResponseWaitComplete   ResponseType = 4
	ResponseClientError    ResponseType = 16
	ResponseCompileError   ResponseType = 17
	ResponseRuntimeError   ResponseType = 18
)

func (t ResponseType) IsError() bool {
	switch t {
	case ResponseClientError, ResponseCompileError, ResponseRuntimeError:
		return true
	default:
		return false
	}
}

// ResponseNote is an entry of the response's "n" array.
type ResponseNote int

const (
	NoteSequenceFeed ResponseNote = 1
	NoteAtomFeed     ResponseNote = 2
	NoteOrderByLimitFeed ResponseNote = 3
	NoteUnionedFeed  ResponseNote = 4
)

func (n ResponseNote) IsFeed() bool {
	switch n {
	case NoteSequenceFeed, NoteAtomFeed, NoteOrderByLimitFeed, NoteUnionedFeed:
		return true
	default:
		return false
	}
}

// Response is the decoded body of a response frame.
type Response struct {
	Type      ResponseType      `json:"t"`
	Results   []json.RawMessage `json:"r"`
	Notes     []ResponseNote    `json:"n,omitempty"`
	Profile   json.RawMessage   `json:"p,omitempty"`
	Backtrace json.RawMessage   `json:"b,omitempty"`
}

// HasFeedNote reports whether the response carries any change-feed note.
func (r *Response) HasFeedNote() bool {
	for _, n := range r.Notes {
		if n.IsFeed() {
			return true
		}
	}
	return false
}

// magic and wire protocol constants for the V0_4 handshake.
const (
	MagicV0_4      uint32 = 0x400c2d20
	WireProtoJSON  uint32 = 0x7e6970c7
)

// frame header sizes.
const (
	tokenSize  = 8
	lengthSize = 4
	HeaderSize = tokenSize + lengthSize
)

// EncodeRequest builds a complete request frame: token, length, JSON payload.
// payload is the ordered triple [queryType, body, globalOpts].
func EncodeRequest(token uint64, queryType QueryType, body interface{}, opts map[string]interface{}) ([]byte, error) {
	var arr [3]interface{}
	arr[0] = int(queryType)
	arr[1] = body
	if opts == nil {
		opts = map[string]interface{}{}
	}
	arr[2] = opts

	payload, err := json.Marshal(arr)
	if err != nil {
		return nil, fmt.Errorf("encode request payload: %w", err)
	}

	buf := make([]byte, HeaderSize+len(payload))
	binary.LittleEndian.PutUint64(buf[0:8], token)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(len(payload)))
	copy(buf[HeaderSize:], payload)
	return buf, nil
}

// WriteRequest writes a request frame to w, using vectorised I/O when the
// connection supports it (single syscall for header+payload) and falling
// back to a single contiguous write otherwise.
func WriteRequest(w io.Writer, token uint64, queryType QueryType, body interface{}, opts map[string]interface{}) error {
	var arr [3]interface{}
	arr[0] = int(queryType)
	arr[1] = body
	if opts == nil {
		opts = map[string]interface{}{}
	}
	arr[2] = opts

	payload, err := json.Marshal(arr)
	if err != nil {
		return fmt.Errorf("encode request payload: %w", err)
	}

	header := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint64(header[0:8], token)
	binary.LittleEndian.PutUint32(header[8:12], uint32(len(payload)))

	if vw, ok := bufio.CreateVectorisedWriter(w); ok {
		_, err := bufio.WriteVectorised(vw, [][]byte{header, payload})
		return err
	}

	if _, err := w.Write(append(header, payload...)); err != nil {
		return err
	}
	return nil
}

// ReadFrameHeader reads and decodes the 12-byte frame header (token, length).
func ReadFrameHeader(r io.Reader) (token uint64, length uint32, err error) {
	var hdr [HeaderSize]byte
	if _, err = io.ReadFull(r, hdr[:]); err != nil {
		return 0, 0, err
	}
	token = binary.LittleEndian.Uint64(hdr[0:8])
	length = binary.LittleEndian.Uint32(hdr[8:12])
	return token, length, nil
}

// ReadResponse reads length bytes from r and decodes them as a Response.
func ReadResponse(r io.Reader, length uint32) (*Response, error) {
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	var resp Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, fmt.Errorf("decode response payload: %w", err)
	}
	return &resp, nil
}

// Handshake performs the client-side connect handshake: magic, auth key,
// wire protocol, then reads the NUL-terminated server reply. Returns nil
// if the reply is "SUCCESS", otherwise an error carrying the server's
// diagnostic string.
func Handshake(rw io.ReadWriter, authKey string) error {
	var hdr [4 + 4]byte
	binary.LittleEndian.PutUint32(hdr[0:4], MagicV0_4)
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(len(authKey)))
	if _, err := rw.Write(hdr[:]); err != nil {
		return fmt.Errorf("write handshake header: %w", err)
	}
	if len(authKey) > 0 {
		if _, err := rw.Write([]byte(authKey)); err != nil {
			return fmt.Errorf("write auth key: %w", err)
		}
	}
	var proto [4]byte
	binary.LittleEndian.PutUint32(proto[:], WireProtoJSON)
	if _, err := rw.Write(proto[:]); err != nil {
		return fmt.Errorf("write wire protocol: %w", err)
	}

	reply, err := readNULTerminated(rw)
	if err != nil {
		return fmt.Errorf("read handshake reply: %w", err)
	}
	if reply != "SUCCESS" {
		return fmt.Errorf("%s", reply)
	}
	return nil
}

func readNULTerminated(r io.Reader) (string, error) {
	var buf bytes.Buffer
	one := make([]byte, 1)
	for {
		if _, err := io.ReadFull(r, one); err != nil {
			return "", err
		}
		if one[0] == 0 {
			return buf.String(), nil
		}
		buf.WriteByte(one[0])
		if buf.Len() > 64*1024 {
			return "", fmt.Errorf("handshake reply exceeded size limit")
		}
	}
}
