package shuffle

import "io"

// shieldedWriter wraps an io.Writer so that Close is a no-op. Codec layers
// (compression, encryption, time-tracking) are closed in LIFO order to
// flush their trailers; the shield sits innermost so that chain teardown
// never reaches the real partition sink until the outer controller decides.
type shieldedWriter struct {
	io.Writer
}

func shieldWriter(w io.Writer) *shieldedWriter { return &shieldedWriter{Writer: w} }

func (s *shieldedWriter) Close() error { return nil }

func (s *shieldedWriter) Flush() error {
	if f, ok := s.Writer.(interface{ Flush() error }); ok {
		return f.Flush()
	}
	return nil
}

// shieldedReader is the read-side equivalent, used when a spill input must
// survive across several per-partition decoder chains (slow merge opens the
// file once; each partition wraps it in a fresh decoder that must not close
// the shared file).
type shieldedReader struct {
	io.Reader
}

func shieldReader(r io.Reader) *shieldedReader { return &shieldedReader{Reader: r} }

func (s *shieldedReader) Close() error { return nil }
