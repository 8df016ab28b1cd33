package codec

import (
	"bytes"
	"io"
	"testing"
)

func TestZstd_RoundTrip(t *testing.T) {
	z := NewZstd(0)
	var buf bytes.Buffer
	w, err := z.CompressedOutputStream(&buf)
	if err != nil {
		t.Fatalf("CompressedOutputStream: %v", err)
	}
	want := []byte("the quick brown fox jumps over the lazy dog, repeated, repeated, repeated")
	if _, err := w.Write(want); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := z.CompressedInputStream(&buf)
	if err != nil {
		t.Fatalf("CompressedInputStream: %v", err)
	}
	defer r.Close()
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("round trip = %q, want %q", got, want)
	}
}

func TestZstd_SupportsConcatenation(t *testing.T) {
	if !(Zstd{}).SupportsConcatenation() {
		t.Fatal("Zstd.SupportsConcatenation() = false, want true")
	}
}

func TestZstd_ConcatenatedFramesDecodeAsOneStream(t *testing.T) {
	z := NewZstd(0)
	var combined bytes.Buffer
	for _, s := range []string{"alpha-", "beta-", "gamma"} {
		var part bytes.Buffer
		w, err := z.CompressedOutputStream(&part)
		if err != nil {
			t.Fatalf("CompressedOutputStream: %v", err)
		}
		w.Write([]byte(s))
		w.Close()
		combined.Write(part.Bytes())
	}
	r, err := z.CompressedInputStream(&combined)
	if err != nil {
		t.Fatalf("CompressedInputStream: %v", err)
	}
	defer r.Close()
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != "alpha-beta-gamma" {
		t.Fatalf("concatenated decode = %q, want %q", got, "alpha-beta-gamma")
	}
}

func TestSnappy_RoundTrip(t *testing.T) {
	s := Snappy{}
	var buf bytes.Buffer
	w, err := s.CompressedOutputStream(&buf)
	if err != nil {
		t.Fatalf("CompressedOutputStream: %v", err)
	}
	want := []byte("some payload bytes for snappy")
	if _, err := w.Write(want); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	r, err := s.CompressedInputStream(&buf)
	if err != nil {
		t.Fatalf("CompressedInputStream: %v", err)
	}
	defer r.Close()
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("round trip = %q, want %q", got, want)
	}
}

func TestSnappy_DoesNotSupportConcatenation(t *testing.T) {
	if (Snappy{}).SupportsConcatenation() {
		t.Fatal("Snappy.SupportsConcatenation() = true, want false")
	}
}

func TestAEAD_RoundTrip(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	a := NewAEAD(key)

	var buf bytes.Buffer
	w, err := a.EncryptWriter(&buf)
	if err != nil {
		t.Fatalf("EncryptWriter: %v", err)
	}
	want := bytes.Repeat([]byte("frame-spanning plaintext "), 10000) // several frames
	if _, err := w.Write(want); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := a.DecryptReader(&buf)
	if err != nil {
		t.Fatalf("DecryptReader: %v", err)
	}
	defer r.Close()
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("round trip length = %d, want %d", len(got), len(want))
	}
}

func TestAEAD_WrongKeyFailsAuthentication(t *testing.T) {
	key, _ := GenerateKey()
	other, _ := GenerateKey()
	a := NewAEAD(key)

	var buf bytes.Buffer
	w, _ := a.EncryptWriter(&buf)
	w.Write([]byte("secret"))
	w.Close()

	wrong := NewAEAD(other)
	r, err := wrong.DecryptReader(&buf)
	if err != nil {
		t.Fatalf("DecryptReader: %v", err)
	}
	defer r.Close()
	if _, err := io.ReadAll(r); err == nil {
		t.Fatal("expected authentication failure with wrong key, got nil error")
	}
}

func TestManager_WrapStreamRoundTrip_CompressionOnly(t *testing.T) {
	m := Manager{Codec: NewZstd(0)}
	var buf bytes.Buffer
	w, err := m.WrapStream("p0", &buf)
	if err != nil {
		t.Fatalf("WrapStream: %v", err)
	}
	want := []byte("compressed payload")
	w.Write(want)
	w.Close()

	r, err := m.WrapStreamForRead("p0", &buf)
	if err != nil {
		t.Fatalf("WrapStreamForRead: %v", err)
	}
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("round trip = %q, want %q", got, want)
	}
}

func TestManager_WrapStreamRoundTrip_EncryptionOnly(t *testing.T) {
	key, _ := GenerateKey()
	m := Manager{Encryptor: NewAEAD(key)}
	if !m.EncryptionEnabled() {
		t.Fatal("EncryptionEnabled() = false, want true")
	}
	var buf bytes.Buffer
	w, err := m.WrapStream("p0", &buf)
	if err != nil {
		t.Fatalf("WrapStream: %v", err)
	}
	want := []byte("encrypted payload")
	w.Write(want)
	w.Close()

	r, err := m.WrapStreamForRead("p0", &buf)
	if err != nil {
		t.Fatalf("WrapStreamForRead: %v", err)
	}
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("round trip = %q, want %q", got, want)
	}
}

func TestManager_WrapStreamRoundTrip_CompressionAndEncryption(t *testing.T) {
	key, _ := GenerateKey()
	m := Manager{Codec: Snappy{}, Encryptor: NewAEAD(key)}
	var buf bytes.Buffer
	w, err := m.WrapStream("p0", &buf)
	if err != nil {
		t.Fatalf("WrapStream: %v", err)
	}
	want := []byte("both layers applied to this payload")
	w.Write(want)
	w.Close()

	r, err := m.WrapStreamForRead("p0", &buf)
	if err != nil {
		t.Fatalf("WrapStreamForRead: %v", err)
	}
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("round trip = %q, want %q", got, want)
	}
}

func TestManager_NoCodecOrEncryptorIsPassthrough(t *testing.T) {
	m := Manager{}
	var buf bytes.Buffer
	w, err := m.WrapStream("p0", &buf)
	if err != nil {
		t.Fatalf("WrapStream: %v", err)
	}
	want := []byte("plain bytes")
	w.Write(want)
	w.Close()
	if !bytes.Equal(buf.Bytes(), want) {
		t.Fatalf("passthrough wrote %q, want %q", buf.Bytes(), want)
	}
}
