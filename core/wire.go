package core

// wire.go – request/response codec for the length-framed exchange
// protocol. Every exchange starts with a fixed-width NUL-padded request
// tag; structured payloads are length-prefixed JSON; file bodies are
// length-prefixed raw bytes. All widths are protocol constants shared
// by every peer.
// -----------------------------------------------------------------------------

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

//---------------------------------------------------------------------
// Protocol constants
//---------------------------------------------------------------------

const (
	// RequestTagWidth is the fixed byte width of a request token.
	RequestTagWidth = 20
	// ResponseTagWidth is the fixed byte width of a response token.
	ResponseTagWidth = 2
	// LengthPrefixWidth is the byte width of the big-endian length
	// preceding every variable-size payload.
	LengthPrefixWidth = 8

	// DefaultChunkSize is the conventional body transfer chunk.
	DefaultChunkSize = 4 * 1024

	// maxPayloadBytes caps structured (JSON) payload allocation. File
	// bodies are streamed and not subject to this cap.
	maxPayloadBytes = 32 * 1024 * 1024
)

// statusOk is the only defined response token.
const statusOk = "Ok"

// RequestType is one of the closed set of request tokens.
type RequestType string

const (
	ReqAddMe            RequestType = "AddMe"
	ReqUserJoined       RequestType = "UserJoined"
	ReqRequestPeerList  RequestType = "RequestPeerList"
	ReqSendFiles        RequestType = "SendFiles"
	ReqRequestFiles     RequestType = "RequestFiles"
	ReqSendSyncFiles    RequestType = "SendSyncFiles"
	ReqRequestSyncFiles RequestType = "RequestSyncFiles"
	ReqDownloadFile     RequestType = "DownloadFile"
	ReqSubscribeFile    RequestType = "SubscribeFile"
	ReqUserSubscribed   RequestType = "UserSubscribed"
	ReqSyncFileUpdate   RequestType = "SyncFileUpdate"
)

var knownRequests = map[RequestType]struct{}{
	ReqAddMe:            {},
	ReqUserJoined:       {},
	ReqRequestPeerList:  {},
	ReqSendFiles:        {},
	ReqRequestFiles:     {},
	ReqSendSyncFiles:    {},
	ReqRequestSyncFiles: {},
	ReqDownloadFile:     {},
	ReqSubscribeFile:    {},
	ReqUserSubscribed:   {},
	ReqSyncFileUpdate:   {},
}

var (
	// ErrUnknownRequest is returned for a tag outside the closed set.
	ErrUnknownRequest = errors.New("wire: unknown request tag")
	// ErrShortRead is returned when the stream ends before a declared
	// length was satisfied.
	ErrShortRead = errors.New("wire: stream ended before declared length")
	// ErrPayloadTooLarge guards structured payload allocation.
	ErrPayloadTooLarge = errors.New("wire: payload exceeds limit")
	// ErrNotOk is returned when a response tag other than Ok arrives.
	ErrNotOk = errors.New("wire: unexpected response tag")
)

//---------------------------------------------------------------------
// Tag framing
//---------------------------------------------------------------------

// padTag right-pads token with NUL bytes to width. Tokens longer than
// the width are a programming error caught at send time.
func padTag(token string, width int) ([]byte, error) {
	if len(token) > width {
		return nil, fmt.Errorf("wire: token %q exceeds tag width %d", token, width)
	}
	buf := make([]byte, width)
	copy(buf, token)
	return buf, nil
}

// readTag reads exactly width bytes and strips the NUL padding. A
// stream that cannot produce width bytes is a protocol error.
func readTag(r io.Reader, width int) (string, error) {
	buf := make([]byte, width)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("%w: tag field: %v", ErrShortRead, err)
	}
	return string(bytes.TrimRight(buf, "\x00")), nil
}

// WriteRequest sends a request tag.
func WriteRequest(w io.Writer, rt RequestType) error {
	buf, err := padTag(string(rt), RequestTagWidth)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

// ReadRequest reads and validates a request tag.
func ReadRequest(r io.Reader) (RequestType, error) {
	token, err := readTag(r, RequestTagWidth)
	if err != nil {
		return "", err
	}
	rt := RequestType(token)
	if _, ok := knownRequests[rt]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownRequest, token)
	}
	return rt, nil
}

// WriteOk sends the Ok response tag.
func WriteOk(w io.Writer) error {
	buf, err := padTag(statusOk, ResponseTagWidth)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

// ExpectOk reads a response tag and fails unless it is Ok.
func ExpectOk(r io.Reader) error {
	token, err := readTag(r, ResponseTagWidth)
	if err != nil {
		return err
	}
	if token != statusOk {
		return fmt.Errorf("%w: %q", ErrNotOk, token)
	}
	return nil
}

//---------------------------------------------------------------------
// Length prefixes
//---------------------------------------------------------------------

// WriteLength sends the big-endian length prefix.
func WriteLength(w io.Writer, n uint64) error {
	buf := make([]byte, LengthPrefixWidth)
	binary.BigEndian.PutUint64(buf, n)
	_, err := w.Write(buf)
	return err
}

// ReadLength reads the big-endian length prefix.
func ReadLength(r io.Reader) (uint64, error) {
	buf := make([]byte, LengthPrefixWidth)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, fmt.Errorf("%w: length prefix: %v", ErrShortRead, err)
	}
	return binary.BigEndian.Uint64(buf), nil
}

//---------------------------------------------------------------------
// Structured payloads
//---------------------------------------------------------------------

// WriteJSONPayload marshals v and sends it length-prefixed.
func WriteJSONPayload(w io.Writer, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("wire: marshal payload: %w", err)
	}
	if err := WriteLength(w, uint64(len(data))); err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// ReadPayloadBytes reads one length-prefixed payload in full. A zero
// length returns an empty slice without blocking.
func ReadPayloadBytes(r io.Reader) ([]byte, error) {
	n, err := ReadLength(r)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	if n > maxPayloadBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("%w: payload body: %v", ErrShortRead, err)
	}
	return buf, nil
}

// ReadJSONPayload reads a length-prefixed payload and unmarshals it
// into v. An empty payload leaves v untouched and reports false.
func ReadJSONPayload(r io.Reader, v interface{}) (bool, error) {
	data, err := ReadPayloadBytes(r)
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("wire: unmarshal payload: %w", err)
	}
	return true, nil
}

//---------------------------------------------------------------------
// File bodies
//---------------------------------------------------------------------

// WriteBody sends a size prefix followed by size bytes copied from src
// in chunkSize pieces.
func WriteBody(w io.Writer, src io.Reader, size uint64, chunkSize int) error {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if err := WriteLength(w, size); err != nil {
		return err
	}
	written, err := io.CopyBuffer(w, io.LimitReader(src, int64(size)), make([]byte, chunkSize))
	if err != nil {
		return err
	}
	if uint64(written) != size {
		return fmt.Errorf("%w: sent %d of %d body bytes", ErrShortRead, written, size)
	}
	return nil
}

// ReadBody reads a size prefix and copies exactly that many bytes into
// dst. Returns the body size; a zero prefix copies nothing.
func ReadBody(r io.Reader, dst io.Writer, chunkSize int) (uint64, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	size, err := ReadLength(r)
	if err != nil {
		return 0, err
	}
	if size == 0 {
		return 0, nil
	}
	copied, err := io.CopyBuffer(dst, io.LimitReader(r, int64(size)), make([]byte, chunkSize))
	if err != nil {
		return uint64(copied), err
	}
	if uint64(copied) != size {
		return uint64(copied), fmt.Errorf("%w: got %d of %d body bytes", ErrShortRead, copied, size)
	}
	return size, nil
}
