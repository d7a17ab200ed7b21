// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package frame

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"reflect"
	"testing"
	"testing/iotest"
)

func TestEncodeLayout(t *testing.T) {
	encoded, err := Encode(map[string]any{"action": "ping"})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	body := []byte(`{"action":"ping"}`)
	if got := binary.BigEndian.Uint32(encoded[:HeaderSize]); got != uint32(len(body)) {
		t.Errorf("length prefix = %d, want %d", got, len(body))
	}
	if !bytes.Equal(encoded[HeaderSize:], body) {
		t.Errorf("body = %q, want %q", encoded[HeaderSize:], body)
	}
}

func TestRoundTrip(t *testing.T) {
	messages := []map[string]any{
		{"action": "ip6-route-add", "params": map[string]any{"address": "2001:db8::1/128", "dev": "vmbr0"}},
		{"ok": true, "output": ""},
		{"ok": false, "error": "unknown action: nope"},
		{"nested": map[string]any{"list": []any{"a", 1, 2.5, true, nil}}, "unicode": "ünïcødé ✓"},
		{},
	}

	for _, message := range messages {
		encoded, err := Encode(message)
		if err != nil {
			t.Fatalf("Encode(%v): %v", message, err)
		}
		decoded, err := Read(bytes.NewReader(encoded), 0)
		if err != nil {
			t.Fatalf("Read(%v): %v", message, err)
		}

		// Compare through a plain JSON round trip so json.Number and
		// float64 representations of the same value are equal.
		if !reflect.DeepEqual(normalize(t, decoded), normalize(t, message)) {
			t.Errorf("round trip mismatch:\n got  %v\n want %v", decoded, message)
		}
	}
}

func normalize(t *testing.T, value any) any {
	t.Helper()
	data, err := json.Marshal(value)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return out
}

func TestReadAcrossShortReads(t *testing.T) {
	encoded, err := Encode(map[string]any{"action": "qm-start", "params": map[string]any{"vmid": 100}})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	// OneByteReader returns a single byte per Read call, forcing the
	// decoder to accumulate both the header and the body.
	decoded, err := Read(iotest.OneByteReader(bytes.NewReader(encoded)), 0)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	params := decoded["params"].(map[string]any)
	if params["vmid"] != json.Number("100") {
		t.Errorf("vmid = %#v, want json.Number(\"100\")", params["vmid"])
	}
}

func TestReadSequentialFrames(t *testing.T) {
	var stream bytes.Buffer
	for _, action := range []string{"first", "second"} {
		if err := Write(&stream, map[string]any{"action": action}, 0); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	for _, want := range []string{"first", "second"} {
		message, err := Read(&stream, 0)
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		if message["action"] != want {
			t.Errorf("action = %v, want %s", message["action"], want)
		}
	}
	if _, err := Read(&stream, 0); !errors.Is(err, io.EOF) {
		t.Errorf("Read at end of stream = %v, want io.EOF", err)
	}
}

func TestReadTruncatedBody(t *testing.T) {
	var header [HeaderSize]byte
	binary.BigEndian.PutUint32(header[:], 100)
	stream := append(header[:], []byte(`{"action":"`)...)

	message, err := Read(bytes.NewReader(stream), 0)
	if message != nil {
		t.Errorf("Read returned partial message %v", message)
	}
	var protocolError *ProtocolError
	if !errors.As(err, &protocolError) {
		t.Fatalf("Read error = %v, want *ProtocolError", err)
	}
	if protocolError.Stage != StageBody {
		t.Errorf("stage = %s, want %s", protocolError.Stage, StageBody)
	}
}

func TestReadTruncatedHeader(t *testing.T) {
	_, err := Read(bytes.NewReader([]byte{0, 0}), 0)
	var protocolError *ProtocolError
	if !errors.As(err, &protocolError) {
		t.Fatalf("Read error = %v, want *ProtocolError", err)
	}
	if protocolError.Stage != StageHeader {
		t.Errorf("stage = %s, want %s", protocolError.Stage, StageHeader)
	}
}

func TestReadOversizedFrame(t *testing.T) {
	var header [HeaderSize]byte
	binary.BigEndian.PutUint32(header[:], 0xFFFFFFFF)

	// The reader must reject the length before trying to read (or
	// allocate) the body, so a stream holding only the header is
	// enough to trigger the size error.
	_, err := Read(bytes.NewReader(header[:]), 1024)
	var protocolError *ProtocolError
	if !errors.As(err, &protocolError) {
		t.Fatalf("Read error = %v, want *ProtocolError", err)
	}
	if protocolError.Stage != StageSize {
		t.Errorf("stage = %s, want %s", protocolError.Stage, StageSize)
	}
}

func TestReadMalformedJSON(t *testing.T) {
	bodies := []string{
		`{"action":`,
		`not json`,
		`{"a":1} {"b":2}`,
		`null`,
		`{"action":"x"}}`,
		`{"action":"x"}]`,
		`{"action":"x"}}}]]`,
		"{\"action\":\"a\xff\xfeb\"}",
	}
	for _, body := range bodies {
		var header [HeaderSize]byte
		binary.BigEndian.PutUint32(header[:], uint32(len(body)))
		stream := append(header[:], body...)

		_, err := Read(bytes.NewReader(stream), 0)
		if !IsProtocolError(err) {
			t.Errorf("Read(%q) error = %v, want ProtocolError", body, err)
		}
	}
}

func TestReadAllowsTrailingWhitespace(t *testing.T) {
	body := "{\"action\":\"x\"}\n \t"
	var header [HeaderSize]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(body)))
	stream := append(header[:], body...)

	message, err := Read(bytes.NewReader(stream), 0)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if message["action"] != "x" {
		t.Errorf("action = %v, want x", message["action"])
	}
}

func TestReadRejectsInvalidUTF8(t *testing.T) {
	var message map[string]any
	err := Unmarshal([]byte("{\"action\":\"a\xff\xfeb\"}"), &message)
	var protocolError *ProtocolError
	if !errors.As(err, &protocolError) {
		t.Fatalf("Unmarshal error = %v, want ProtocolError", err)
	}
	if protocolError.Stage != StageJSON {
		t.Errorf("stage = %s, want %s", protocolError.Stage, StageJSON)
	}
}

func TestEncodeRejectsOversizedMessage(t *testing.T) {
	message := map[string]any{"blob": string(make([]byte, 64))}
	if _, err := EncodeLimit(message, 16); err == nil {
		t.Fatal("EncodeLimit should refuse a body over the limit")
	}
}
