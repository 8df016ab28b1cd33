package localio

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"mapshuffle/internal/shuffle"
)

func writePartitions(t *testing.T, w *Writer, payloads [][]byte) {
	t.Helper()
	for _, p := range payloads {
		pw, err := w.GetNextPartitionWriter()
		if err != nil {
			t.Fatalf("GetNextPartitionWriter: %v", err)
		}
		stream, err := pw.ToStream()
		if err != nil {
			t.Fatalf("ToStream: %v", err)
		}
		if _, err := stream.Write(p); err != nil {
			t.Fatalf("Write: %v", err)
		}
		if err := pw.Close(); err != nil {
			t.Fatalf("Close partition writer: %v", err)
		}
	}
}

func readIndex(t *testing.T, path string, numPartitions int) []int64 {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read index: %v", err)
	}
	if len(data) != numPartitions*8 {
		t.Fatalf("index file size = %d, want %d", len(data), numPartitions*8)
	}
	out := make([]int64, numPartitions)
	for i := range out {
		out[i] = int64(binary.LittleEndian.Uint64(data[i*8 : i*8+8]))
	}
	return out
}

func TestWriter_CommitProducesDataAndIndexFiles(t *testing.T) {
	dir := t.TempDir()
	w, err := New(dir, 1, 0, 3, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	writePartitions(t, w, [][]byte{[]byte("aa"), []byte("bbb"), []byte("c")})

	status, err := w.CommitAllPartitions()
	if err != nil {
		t.Fatalf("CommitAllPartitions: %v", err)
	}
	want := []int64{2, 3, 1}
	for i, n := range want {
		if status.PartitionLengths[i] != n {
			t.Errorf("PartitionLengths[%d] = %d, want %d", i, status.PartitionLengths[i], n)
		}
	}

	base := filepath.Join(dir, "shuffle_1_0")
	data, err := os.ReadFile(base + ".data")
	if err != nil {
		t.Fatalf("read data file: %v", err)
	}
	if string(data) != "aabbbc" {
		t.Fatalf("data file = %q, want %q", data, "aabbbc")
	}
	lengths := readIndex(t, base+".index", 3)
	for i, n := range want {
		if lengths[i] != n {
			t.Errorf("index[%d] = %d, want %d", i, lengths[i], n)
		}
	}
}

func TestWriter_CommitWithNoPartitionsIssuedProducesZeroLengths(t *testing.T) {
	dir := t.TempDir()
	w, err := New(dir, 2, 7, 4, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	status, err := w.CommitAllPartitions()
	if err != nil {
		t.Fatalf("CommitAllPartitions: %v", err)
	}
	if len(status.PartitionLengths) != 4 {
		t.Fatalf("len(PartitionLengths) = %d, want 4", len(status.PartitionLengths))
	}
	for i, n := range status.PartitionLengths {
		if n != 0 {
			t.Errorf("PartitionLengths[%d] = %d, want 0", i, n)
		}
	}
}

func TestWriter_GetNextPartitionWriterFailsIfPreviousNotClosed(t *testing.T) {
	dir := t.TempDir()
	w, err := New(dir, 1, 0, 2, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := w.GetNextPartitionWriter(); err != nil {
		t.Fatalf("first GetNextPartitionWriter: %v", err)
	}
	if _, err := w.GetNextPartitionWriter(); !errors.Is(err, shuffle.ErrIllegalState) {
		t.Fatalf("second GetNextPartitionWriter (prior unclosed) = %v, want ErrIllegalState", err)
	}
}

func TestWriter_GetNextPartitionWriterFailsPastNumPartitions(t *testing.T) {
	dir := t.TempDir()
	w, err := New(dir, 1, 0, 1, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	pw, err := w.GetNextPartitionWriter()
	if err != nil {
		t.Fatalf("GetNextPartitionWriter: %v", err)
	}
	pw.Close()
	if _, err := w.GetNextPartitionWriter(); !errors.Is(err, shuffle.ErrIllegalState) {
		t.Fatalf("GetNextPartitionWriter past numPartitions = %v, want ErrIllegalState", err)
	}
}

func TestWriter_CommitFailsIfLastPartitionWriterNotClosed(t *testing.T) {
	dir := t.TempDir()
	w, err := New(dir, 1, 0, 1, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := w.GetNextPartitionWriter(); err != nil {
		t.Fatalf("GetNextPartitionWriter: %v", err)
	}
	if _, err := w.CommitAllPartitions(); !errors.Is(err, shuffle.ErrIllegalState) {
		t.Fatalf("CommitAllPartitions with open writer = %v, want ErrIllegalState", err)
	}
}

func TestWriter_AbortRemovesTempDataFile(t *testing.T) {
	dir := t.TempDir()
	w, err := New(dir, 1, 0, 1, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	pw, err := w.GetNextPartitionWriter()
	if err != nil {
		t.Fatalf("GetNextPartitionWriter: %v", err)
	}
	stream, _ := pw.ToStream()
	stream.Write([]byte("partial"))
	pw.Close()

	tmpPath := w.tmpDataPath
	if err := w.Abort(errors.New("injected failure")); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	if _, err := os.Stat(tmpPath); !os.IsNotExist(err) {
		t.Fatalf("temp data file %s still exists after Abort", tmpPath)
	}
	// Abort must be idempotent and a no-op once already aborted.
	if err := w.Abort(errors.New("second call")); err != nil {
		t.Fatalf("second Abort: %v", err)
	}
}

func TestWriter_AbortAfterCommitIsNoOp(t *testing.T) {
	dir := t.TempDir()
	w, err := New(dir, 1, 0, 1, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	pw, _ := w.GetNextPartitionWriter()
	pw.Close()
	if _, err := w.CommitAllPartitions(); err != nil {
		t.Fatalf("CommitAllPartitions: %v", err)
	}
	if err := w.Abort(errors.New("too late")); err != nil {
		t.Fatalf("Abort after commit: %v", err)
	}
	base := filepath.Join(dir, "shuffle_1_0")
	if _, err := os.Stat(base + ".data"); err != nil {
		t.Fatalf("committed data file missing after Abort: %v", err)
	}
}

func TestWriter_PartitionWriterNumBytesWrittenLiveDuringStream(t *testing.T) {
	dir := t.TempDir()
	w, err := New(dir, 1, 0, 1, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	pw, err := w.GetNextPartitionWriter()
	if err != nil {
		t.Fatalf("GetNextPartitionWriter: %v", err)
	}
	stream, err := pw.ToStream()
	if err != nil {
		t.Fatalf("ToStream: %v", err)
	}
	// outputBufSizeKB=0 falls back to a 32KiB buffer; a small write alone
	// is not flushed to the file yet, but NumBytesWritten must still reflect
	// it because countingWriter sits above bufio.
	stream.Write([]byte("hello"))
	if n := pw.NumBytesWritten(); n != 5 {
		t.Fatalf("NumBytesWritten() = %d, want 5", n)
	}
	pw.Close()
}
