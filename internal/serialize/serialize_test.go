package serialize

import (
	"bytes"
	"io"
	"testing"
)

func TestInstance_RoundTripsKeyValuePairs(t *testing.T) {
	var buf bytes.Buffer
	s := Instance{}.SerializeStream(&buf)
	pairs := [][2]string{{"alpha", "1"}, {"b", ""}, {"", "v"}, {"gamma", "longer value here"}}
	for _, p := range pairs {
		if err := s.WriteKey([]byte(p[0])); err != nil {
			t.Fatalf("WriteKey: %v", err)
		}
		if err := s.WriteValue([]byte(p[1])); err != nil {
			t.Fatalf("WriteValue: %v", err)
		}
	}
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	r := NewReader(&buf)
	for i, want := range pairs {
		key, err := r.ReadChunk()
		if err != nil {
			t.Fatalf("ReadChunk key %d: %v", i, err)
		}
		val, err := r.ReadChunk()
		if err != nil {
			t.Fatalf("ReadChunk value %d: %v", i, err)
		}
		if string(key) != want[0] || string(val) != want[1] {
			t.Fatalf("pair %d = (%q,%q), want (%q,%q)", i, key, val, want[0], want[1])
		}
	}
	if _, err := r.ReadChunk(); err != io.EOF {
		t.Fatalf("ReadChunk past end = %v, want io.EOF", err)
	}
}

func TestReader_ReadChunkEmptyPayload(t *testing.T) {
	var buf bytes.Buffer
	s := Instance{}.SerializeStream(&buf)
	s.WriteKey(nil)
	r := NewReader(&buf)
	chunk, err := r.ReadChunk()
	if err != nil {
		t.Fatalf("ReadChunk: %v", err)
	}
	if len(chunk) != 0 {
		t.Fatalf("ReadChunk = %v, want empty", chunk)
	}
}

func TestReader_TruncatedPayloadIsCorruption(t *testing.T) {
	// A length prefix that claims more payload bytes than are actually
	// present must surface as a wrapped error, not io.EOF (only a missing
	// length prefix is a clean end of stream).
	var buf bytes.Buffer
	buf.Write([]byte{200, 1}) // uvarint claiming a large length
	r := NewReader(&buf)
	if _, err := r.ReadChunk(); err == nil || err == io.EOF {
		t.Fatalf("ReadChunk with truncated payload = %v, want non-EOF error", err)
	}
}
