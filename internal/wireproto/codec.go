// Package wireproto implements the length-prefixed framing the Messenger
// uses to exchange request/response records with a worker: every frame is
// a 4-byte big-endian length prefix followed by a JSON-encoded record. Two
// record kinds make up one logical exchange — a RequestHeader plus a typed
// body, and a ResponseHeader plus a typed body — matching section 6 of the
// design exactly. JSON stands in for "a protocol-buffer-compatible record"
// here: the pack carries no protobuf toolchain or .proto schema for this
// domain, and every teacher package that frames structured records over
// the wire (the job queue's own Job.Marshal/UnmarshalJob) already does so
// with encoding/json.
package wireproto

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// MaxFrameBytes bounds a single frame to guard against a corrupt or
// malicious length prefix causing an unbounded allocation.
const MaxFrameBytes = 256 << 20 // 256 MiB

// WriteFrame marshals v to JSON and writes it as one length-prefixed frame.
func WriteFrame(w io.Writer, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("wireproto: marshal frame: %w", err)
	}
	if len(body) > MaxFrameBytes {
		return fmt.Errorf("wireproto: frame of %d bytes exceeds max %d", len(body), MaxFrameBytes)
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	bw := bufio.NewWriter(w)
	if _, err := bw.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("wireproto: write length prefix: %w", err)
	}
	if _, err := bw.Write(body); err != nil {
		return fmt.Errorf("wireproto: write frame body: %w", err)
	}
	return bw.Flush()
}

// ReadFrame reads one length-prefixed frame and returns its raw body,
// leaving the caller to unmarshal it against the expected record type.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err // EOF is meaningful to callers; do not wrap it
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > MaxFrameBytes {
		return nil, fmt.Errorf("wireproto: frame length %d exceeds max %d", n, MaxFrameBytes)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("wireproto: read frame body: %w", err)
	}
	return body, nil
}

// Unmarshal is a thin convenience wrapper so call sites don't import
// encoding/json directly just to decode a frame body.
func Unmarshal(body []byte, v interface{}) error {
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("wireproto: unmarshal frame: %w", err)
	}
	return nil
}

// MarshalBody encodes a typed request/response body into the raw form a
// Frame carries. A nil body marshals to nil.
func MarshalBody(v interface{}) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("wireproto: marshal body: %w", err)
	}
	return json.RawMessage(b), nil
}
