package codec

import (
	"io"

	"github.com/golang/snappy"
)

// Snappy wraps golang/snappy's framed stream format. Snappy's framing is
// not safe to concatenate opaquely (each frame stream carries its own
// magic/header state), so this codec forces the slow merge path per spec
// §4.4's strategy table.
type Snappy struct{}

func (Snappy) CompressedOutputStream(w io.Writer) (io.WriteCloser, error) {
	return snappy.NewBufferedWriter(w), nil
}

func (Snappy) CompressedInputStream(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(snappy.NewReader(r)), nil
}

func (Snappy) SupportsConcatenation() bool { return false }
