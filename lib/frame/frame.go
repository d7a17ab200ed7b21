// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package frame

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"unicode/utf8"
)

// HeaderSize is the length of the frame length prefix in bytes.
const HeaderSize = 4

// DefaultMaxSize is the largest frame body accepted when the caller
// does not configure a limit. The largest legitimate request is a
// virt-customize command list or an address book, both a few KB.
const DefaultMaxSize = 1024 * 1024

// Stage identifies where in the frame a decode failure happened.
type Stage string

const (
	StageHeader Stage = "header"
	StageSize   Stage = "size"
	StageBody   Stage = "body"
	StageJSON   Stage = "json"
)

// ProtocolError reports a framing failure. It is connection-fatal:
// the reader cannot find the next frame boundary after one.
type ProtocolError struct {
	Stage Stage
	Err   error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error (%s): %v", e.Stage, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// IsProtocolError reports whether err is (or wraps) a *ProtocolError.
func IsProtocolError(err error) bool {
	var protocolError *ProtocolError
	return errors.As(err, &protocolError)
}

func effectiveMax(maxSize int) int {
	if maxSize <= 0 {
		return DefaultMaxSize
	}
	if maxSize > math.MaxUint32 {
		return math.MaxUint32
	}
	return maxSize
}

// Encode marshals message as JSON and prepends the length prefix.
// Messages whose body would exceed DefaultMaxSize are refused; use
// EncodeLimit to apply a different bound.
func Encode(message any) ([]byte, error) {
	return EncodeLimit(message, DefaultMaxSize)
}

// EncodeLimit is Encode with an explicit maximum body size.
func EncodeLimit(message any, maxSize int) ([]byte, error) {
	body, err := json.Marshal(message)
	if err != nil {
		return nil, fmt.Errorf("encoding frame body: %w", err)
	}
	limit := effectiveMax(maxSize)
	if len(body) > limit {
		return nil, fmt.Errorf("frame body is %d bytes, limit is %d", len(body), limit)
	}

	encoded := make([]byte, HeaderSize+len(body))
	binary.BigEndian.PutUint32(encoded[:HeaderSize], uint32(len(body)))
	copy(encoded[HeaderSize:], body)
	return encoded, nil
}

// Write encodes message and writes the whole frame to w in one call.
func Write(w io.Writer, message any, maxSize int) error {
	encoded, err := EncodeLimit(message, maxSize)
	if err != nil {
		return err
	}
	if _, err := w.Write(encoded); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}

// ReadBody reads one frame from r and returns its raw JSON body
// without parsing it.
func ReadBody(r io.Reader, maxSize int) ([]byte, error) {
	var header [HeaderSize]byte
	if read, err := io.ReadFull(r, header[:]); err != nil {
		if read == 0 && errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, &ProtocolError{Stage: StageHeader, Err: fmt.Errorf("read %d of %d length bytes: %w", read, HeaderSize, err)}
	}

	length := binary.BigEndian.Uint32(header[:])
	limit := effectiveMax(maxSize)
	if uint64(length) > uint64(limit) {
		return nil, &ProtocolError{Stage: StageSize, Err: fmt.Errorf("declared length %d exceeds limit %d", length, limit)}
	}

	// io.ReadFull loops over short reads until the body is complete or
	// the stream ends.
	body := make([]byte, length)
	if read, err := io.ReadFull(r, body); err != nil {
		return nil, &ProtocolError{Stage: StageBody, Err: fmt.Errorf("read %d of %d body bytes: %w", read, length, err)}
	}
	return body, nil
}

// Decode reads one frame from r and unmarshals its body into target.
// Numbers decode as json.Number when target holds interface values,
// so integer parameters keep full precision.
func Decode(r io.Reader, maxSize int, target any) error {
	body, err := ReadBody(r, maxSize)
	if err != nil {
		return err
	}
	return Unmarshal(body, target)
}

// Unmarshal parses a frame body into target with the same settings as
// Decode. The body must be valid UTF-8, and anything but whitespace
// after the first JSON value is rejected.
func Unmarshal(body []byte, target any) error {
	if !utf8.Valid(body) {
		return &ProtocolError{Stage: StageJSON, Err: errors.New("body is not valid UTF-8")}
	}
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()
	if err := decoder.Decode(target); err != nil {
		return &ProtocolError{Stage: StageJSON, Err: err}
	}
	if _, err := decoder.Token(); err != io.EOF {
		return &ProtocolError{Stage: StageJSON, Err: errors.New("trailing data after JSON value")}
	}
	return nil
}

// Read reads one frame whose body must be a JSON object.
func Read(r io.Reader, maxSize int) (map[string]any, error) {
	var message map[string]any
	if err := Decode(r, maxSize, &message); err != nil {
		return nil, err
	}
	if message == nil {
		return nil, &ProtocolError{Stage: StageJSON, Err: errors.New("frame body is null, want an object")}
	}
	return message, nil
}
