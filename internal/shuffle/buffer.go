package shuffle

// DefaultBufferCapacity is the initial capacity of a SerializationBuffer,
// per spec.md §4.1.
const DefaultBufferCapacity = 1 << 20 // 1 MiB

// SerializationBuffer is a reusable, growable byte sink. One record is
// encoded into it at a time, then handed to the sorter via RawView so the
// sorter can copy it into a page without the caller allocating a fresh
// slice per record.
type SerializationBuffer struct {
	buf []byte
}

// NewSerializationBuffer allocates a buffer with the given initial capacity.
// A capacity <= 0 uses DefaultBufferCapacity.
func NewSerializationBuffer(initialCapacity int) *SerializationBuffer {
	if initialCapacity <= 0 {
		initialCapacity = DefaultBufferCapacity
	}
	return &SerializationBuffer{buf: make([]byte, 0, initialCapacity)}
}

// Reset truncates the buffer to zero length without releasing capacity.
func (b *SerializationBuffer) Reset() {
	b.buf = b.buf[:0]
}

// Write appends p to the buffer, growing it if needed. It always returns
// len(p), nil — matching io.Writer so a SerializationStream can write
// directly into it.
func (b *SerializationBuffer) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	return len(p), nil
}

// Len returns the number of bytes written since the last Reset.
func (b *SerializationBuffer) Len() int {
	return len(b.buf)
}

// RawView returns an immutable view of the first Len() bytes of the backing
// storage. The returned slice is only valid until the next Write or Reset;
// callers that need to retain the bytes (the sorter, on insert) must copy
// them before calling back into the buffer.
func (b *SerializationBuffer) RawView() []byte {
	return b.buf
}
