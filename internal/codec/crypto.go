package codec

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

// frameSize is the plaintext chunk size encrypted into each AEAD frame. A
// fixed frame size keeps per-frame memory bounded regardless of partition
// length, matching the spirit of the stream-merge path's configurable
// buffer sizes (spec §6).
const frameSize = 64 * 1024

// AEAD encrypts a stream in independently authenticated frames of up to
// frameSize plaintext bytes using chacha20poly1305, following the golang.org/x/crypto stack
// several rsc-tmp modules in the retrieval pack pull in.
type AEAD struct {
	key [chacha20poly1305.KeySize]byte
}

// NewAEAD constructs an AEAD encryptor from a 32-byte key.
func NewAEAD(key [chacha20poly1305.KeySize]byte) AEAD {
	return AEAD{key: key}
}

func (a AEAD) EncryptWriter(w io.Writer) (io.WriteCloser, error) {
	aead, err := chacha20poly1305.New(a.key[:])
	if err != nil {
		return nil, fmt.Errorf("codec: init aead: %w", err)
	}
	return &encWriter{w: w, aead: aead, buf: make([]byte, 0, frameSize)}, nil
}

func (a AEAD) DecryptReader(r io.Reader) (io.ReadCloser, error) {
	aead, err := chacha20poly1305.New(a.key[:])
	if err != nil {
		return nil, fmt.Errorf("codec: init aead: %w", err)
	}
	return &decReader{r: r, aead: aead}, nil
}

type encWriter struct {
	w    io.Writer
	aead interface {
		Seal(dst, nonce, plaintext, additionalData []byte) []byte
		NonceSize() int
		Overhead() int
	}
	buf []byte
	seq uint64
}

func (e *encWriter) Write(p []byte) (int, error) {
	total := len(p)
	for len(p) > 0 {
		room := frameSize - len(e.buf)
		if room > len(p) {
			room = len(p)
		}
		e.buf = append(e.buf, p[:room]...)
		p = p[room:]
		if len(e.buf) == frameSize {
			if err := e.flushFrame(); err != nil {
				return total - len(p), err
			}
		}
	}
	return total, nil
}

func (e *encWriter) flushFrame() error {
	if len(e.buf) == 0 {
		return nil
	}
	nonce := make([]byte, e.aead.NonceSize())
	binary.LittleEndian.PutUint64(nonce, e.seq)
	e.seq++
	sealed := e.aead.Seal(nil, nonce, e.buf, nil)
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(sealed)))
	if _, err := e.w.Write(hdr[:]); err != nil {
		return fmt.Errorf("codec: write frame header: %w", err)
	}
	if _, err := e.w.Write(sealed); err != nil {
		return fmt.Errorf("codec: write frame body: %w", err)
	}
	e.buf = e.buf[:0]
	return nil
}

func (e *encWriter) Close() error {
	return e.flushFrame()
}

type decReader struct {
	r    io.Reader
	aead interface {
		Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
		NonceSize() int
	}
	seq     uint64
	pending []byte
}

func (d *decReader) Read(p []byte) (int, error) {
	for len(d.pending) == 0 {
		var hdr [4]byte
		if _, err := io.ReadFull(d.r, hdr[:]); err != nil {
			if err == io.ErrUnexpectedEOF {
				return 0, io.EOF
			}
			return 0, err
		}
		n := binary.LittleEndian.Uint32(hdr[:])
		sealed := make([]byte, n)
		if _, err := io.ReadFull(d.r, sealed); err != nil {
			return 0, fmt.Errorf("codec: read frame body: %w", err)
		}
		nonce := make([]byte, d.aead.NonceSize())
		binary.LittleEndian.PutUint64(nonce, d.seq)
		d.seq++
		plain, err := d.aead.Open(nil, nonce, sealed, nil)
		if err != nil {
			return 0, fmt.Errorf("codec: authenticate frame: %w", err)
		}
		d.pending = plain
	}
	n := copy(p, d.pending)
	d.pending = d.pending[n:]
	return n, nil
}

func (d *decReader) Close() error { return nil }

// GenerateKey returns a fresh random chacha20poly1305 key, for callers that
// don't derive one from an external key-management system.
func GenerateKey() ([chacha20poly1305.KeySize]byte, error) {
	var key [chacha20poly1305.KeySize]byte
	if _, err := rand.Read(key[:]); err != nil {
		return key, fmt.Errorf("codec: generate key: %w", err)
	}
	return key, nil
}
