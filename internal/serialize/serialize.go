// Package serialize provides the default SerializerInstance: each key and
// value is written as a uvarint length prefix followed by its raw bytes.
// JSON-lines (the teacher's format, internal/worker/executor.go) was
// rejected for this role specifically because a length-prefixed spill file
// gets sliced at arbitrary byte offsets during merge (spec §4.4.2's
// length-limited per-spill reads) — a newline-delimited format would break
// if a split landed inside a record, where length-prefixing never can.
package serialize

import (
	"encoding/binary"
	"fmt"
	"io"

	"mapshuffle/internal/shuffle"
)

// Instance is the default SerializerInstance.
type Instance struct{}

func (Instance) SerializeStream(sink io.Writer) shuffle.SerializationStream {
	return &stream{sink: sink}
}

type stream struct {
	sink io.Writer
	buf  [binary.MaxVarintLen64]byte
}

func (s *stream) WriteKey(key []byte) error     { return s.writeChunk(key) }
func (s *stream) WriteValue(value []byte) error { return s.writeChunk(value) }

func (s *stream) writeChunk(b []byte) error {
	n := binary.PutUvarint(s.buf[:], uint64(len(b)))
	if _, err := s.sink.Write(s.buf[:n]); err != nil {
		return fmt.Errorf("serialize: write length prefix: %w", err)
	}
	if len(b) == 0 {
		return nil
	}
	if _, err := s.sink.Write(b); err != nil {
		return fmt.Errorf("serialize: write payload: %w", err)
	}
	return nil
}

// Flush is a no-op: stream writes straight through to sink with no internal
// buffering of its own.
func (s *stream) Flush() error { return nil }

// Close is a no-op: the stream does not own sink.
func (s *stream) Close() error { return nil }

// Reader decodes a stream produced by Instance back into (key, value) pairs.
// Used by tests that round-trip records through a spill file.
type Reader struct {
	src io.Reader
}

func NewReader(src io.Reader) *Reader {
	return &Reader{src: src}
}

// ReadChunk reads one length-prefixed chunk. Returns io.EOF only when the
// length prefix itself is missing (a clean end of stream). A partial length
// prefix returns io.ErrUnexpectedEOF unwrapped; a payload shorter than its
// prefix claims returns a wrapped error.
func (r *Reader) ReadChunk() ([]byte, error) {
	br, ok := r.src.(io.ByteReader)
	if !ok {
		br = &byteReader{r: r.src}
	}
	n, err := binary.ReadUvarint(br)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r.src, buf); err != nil {
			return nil, fmt.Errorf("serialize: read payload of length %d: %w", n, err)
		}
	}
	return buf, nil
}

type byteReader struct {
	r   io.Reader
	one [1]byte
}

func (b *byteReader) ReadByte() (byte, error) {
	if _, err := io.ReadFull(b.r, b.one[:]); err != nil {
		return 0, err
	}
	return b.one[0], nil
}
