package codec

import (
	"fmt"
	"io"

	"mapshuffle/internal/shuffle"
)

// Manager is the default SerializerManager. WrapStream builds the writer
// chain innermost-out as encrypt then compress, so data actually flows
// compress-then-encrypt on the way to disk (on-disk bytes are
// Encrypt(Compress(plaintext))); WrapStreamForRead must reverse that same
// order, decrypting before decompressing, to stay its inverse. Closing the
// writer WrapStream returns closes every layer, outermost first, so each
// layer's trailer is flushed through the layers beneath it.
type Manager struct {
	Codec     shuffle.CompressionCodec // nil disables compression
	Encryptor shuffle.Encryptor        // nil disables encryption
}

func (m Manager) EncryptionEnabled() bool { return m.Encryptor != nil }

func (m Manager) WrapStream(blockID string, s io.Writer) (io.WriteCloser, error) {
	var chain io.WriteCloser = nopWriteCloser{s}
	var layers []io.Closer // outermost first
	if m.Encryptor != nil {
		enc, err := m.Encryptor.EncryptWriter(chain)
		if err != nil {
			return nil, fmt.Errorf("codec: wrap stream %s for encryption: %w", blockID, err)
		}
		chain = enc
		layers = append([]io.Closer{enc}, layers...)
	}
	if m.Codec != nil {
		comp, err := m.Codec.CompressedOutputStream(chain)
		if err != nil {
			return nil, fmt.Errorf("codec: wrap stream %s for compression: %w", blockID, err)
		}
		chain = comp
		layers = append([]io.Closer{comp}, layers...)
	}
	return layeredWriteCloser{Writer: chain, layers: layers}, nil
}

// layeredWriteCloser writes through the outermost layer of a wrapper chain
// and closes every layer, outermost first, returning the first close error.
type layeredWriteCloser struct {
	io.Writer
	layers []io.Closer
}

func (l layeredWriteCloser) Close() error {
	var first error
	for _, c := range l.layers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m Manager) WrapStreamForRead(blockID string, s io.Reader) (io.ReadCloser, error) {
	var chain io.ReadCloser = io.NopCloser(s)
	if m.Encryptor != nil {
		dec, err := m.Encryptor.DecryptReader(chain)
		if err != nil {
			return nil, fmt.Errorf("codec: wrap read stream %s for decryption: %w", blockID, err)
		}
		chain = dec
	}
	if m.Codec != nil {
		comp, err := m.Codec.CompressedInputStream(chain)
		if err != nil {
			return nil, fmt.Errorf("codec: wrap read stream %s for decompression: %w", blockID, err)
		}
		chain = comp
	}
	return chain, nil
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
