// Package localio implements the Map Output Writer collaborator (spec §4, §6)
// against the local filesystem: one data file with partitions concatenated
// in ascending order, plus a fixed-width binary index of per-partition
// lengths. Grounded on the teacher's createPartitionWriters/generateMeta
// pair in internal/worker/executor.go, generalized from one-file-per-
// partition to the single-data-file-plus-index layout the spec requires.
package localio

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"mapshuffle/internal/shuffle"
)

// Support is the ShuffleWriteSupport collaborator for the local disk backend:
// it roots every map task's output under BaseDir/shuffle_<shuffleID>/ and sizes each
// partition's output buffer from the writer's own config.
type Support struct {
	BaseDir         string
	OutputBufSizeKB int
}

// CreateMapOutputWriter opens a fresh local-disk MapOutputWriter for one map
// task.
func (s Support) CreateMapOutputWriter(shuffleID, mapID int64, numPartitions int) (shuffle.MapOutputWriter, error) {
	dir := filepath.Join(s.BaseDir, fmt.Sprintf("shuffle_%d", shuffleID))
	return New(dir, shuffleID, mapID, numPartitions, s.OutputBufSizeKB)
}

// Writer is the local-disk MapOutputWriter. It owns one temp data file for
// the lifetime of a merge and commits both the data and index files
// atomically via rename once the last issued partition writer is closed;
// partitions never issued are committed with length zero.
type Writer struct {
	dir           string
	shuffleID     int64
	mapID         int64
	numPartitions int
	outputBufSize int

	dataFile    *os.File
	tmpDataPath string
	finalData   string
	finalIndex  string

	nextIndex int
	current   *partitionWriter
	lengths   []int64

	committed bool
	aborted   bool
}

// New creates the temp data file for one map task's output. outputBufSizeKB
// sizes each partition's write buffer (shuffle.unsafe.file.output-buffer-size).
func New(dir string, shuffleID, mapID int64, numPartitions, outputBufSizeKB int) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("localio: create output dir: %w", err)
	}
	f, err := os.CreateTemp(dir, fmt.Sprintf("shuffle_%d_%d_data_*.tmp", shuffleID, mapID))
	if err != nil {
		return nil, fmt.Errorf("localio: create temp data file: %w", err)
	}
	base := fmt.Sprintf("shuffle_%d_%d", shuffleID, mapID)
	bufSize := outputBufSizeKB * 1024
	if bufSize <= 0 {
		bufSize = 32 * 1024
	}
	return &Writer{
		dir:           dir,
		shuffleID:     shuffleID,
		mapID:         mapID,
		numPartitions: numPartitions,
		outputBufSize: bufSize,
		dataFile:      f,
		tmpDataPath:   f.Name(),
		finalData:     filepath.Join(dir, base+".data"),
		finalIndex:    filepath.Join(dir, base+".index"),
		lengths:       make([]int64, numPartitions),
	}, nil
}

// GetNextPartitionWriter returns the writer for the next partition in
// ascending order. The previous partition writer must already be closed.
func (w *Writer) GetNextPartitionWriter() (shuffle.PartitionWriter, error) {
	if w.current != nil {
		return nil, fmt.Errorf("%w: previous partition writer not closed", shuffle.ErrIllegalState)
	}
	if w.nextIndex >= w.numPartitions {
		return nil, fmt.Errorf("%w: all %d partition writers already issued", shuffle.ErrIllegalState, w.numPartitions)
	}
	startPos, err := w.dataFile.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, fmt.Errorf("localio: seek data file: %w", err)
	}
	pw := &partitionWriter{owner: w, file: w.dataFile, startPos: startPos, index: w.nextIndex}
	w.current = pw
	w.nextIndex++
	return pw, nil
}

// CommitAllPartitions fsyncs and finalizes the data file, writes and fsyncs
// the index, then atomically publishes both under their final names. Every
// partition writer obtained so far must already be closed; a map output
// with no spills at all (spec §4.4's empty-merge strategy never calls
// GetNextPartitionWriter) is valid too — every partition beyond the ones
// actually issued simply gets a zero-length index entry, since w.lengths
// starts zeroed.
func (w *Writer) CommitAllPartitions() (shuffle.MapStatus, error) {
	if w.current != nil {
		return shuffle.MapStatus{}, fmt.Errorf("%w: last partition writer not closed before commit", shuffle.ErrIllegalState)
	}
	if err := w.dataFile.Sync(); err != nil {
		return shuffle.MapStatus{}, fmt.Errorf("localio: fsync data file: %w", err)
	}
	if err := w.dataFile.Close(); err != nil {
		return shuffle.MapStatus{}, fmt.Errorf("localio: close data file: %w", err)
	}

	if err := w.writeIndex(); err != nil {
		return shuffle.MapStatus{}, err
	}

	if err := os.Rename(w.tmpDataPath, w.finalData); err != nil {
		return shuffle.MapStatus{}, fmt.Errorf("localio: publish data file: %w", err)
	}
	w.committed = true

	out := make([]int64, len(w.lengths))
	copy(out, w.lengths)
	return shuffle.MapStatus{MapID: w.mapID, PartitionLengths: out}, nil
}

func (w *Writer) writeIndex() error {
	tmp, err := os.CreateTemp(w.dir, fmt.Sprintf("shuffle_%d_%d_index_*.tmp", w.shuffleID, w.mapID))
	if err != nil {
		return fmt.Errorf("localio: create temp index file: %w", err)
	}
	bw := bufio.NewWriter(tmp)
	for _, n := range w.lengths {
		if err := binary.Write(bw, binary.LittleEndian, n); err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			return fmt.Errorf("localio: write index entry: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("localio: flush index file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("localio: fsync index file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("localio: close index file: %w", err)
	}
	if err := os.Rename(tmp.Name(), w.finalIndex); err != nil {
		return fmt.Errorf("localio: publish index file: %w", err)
	}
	return nil
}

// Abort discards the in-progress output. Safe to call after a partial
// commit failure; a no-op once CommitAllPartitions has already succeeded.
func (w *Writer) Abort(cause error) error {
	if w.committed || w.aborted {
		return nil
	}
	w.aborted = true
	var errs []error
	if w.dataFile != nil {
		if err := w.dataFile.Close(); err != nil && !errIsClosed(err) {
			errs = append(errs, err)
		}
	}
	if err := os.Remove(w.tmpDataPath); err != nil && !os.IsNotExist(err) {
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("localio: abort after %v: cleanup errors %v", cause, errs)
}

func errIsClosed(err error) bool {
	return err != nil && err.Error() == os.ErrClosed.Error()
}

// partitionWriter is one partition's sink within the shared data file. The
// length recorded in the index is derived from the file's write cursor delta
// at Close, so it is correct whether the Merge Engine drives it via ToStream
// (buffered writes) or ToChannel (sendfile, which advances the same fd's
// cursor without passing through user-space buffering at all).
// NumBytesWritten reports the live stream count once ToStream has been
// used, and the cursor delta otherwise.
type partitionWriter struct {
	owner    *Writer
	file     *os.File
	bw       *bufio.Writer
	counter  *countingWriter
	startPos int64
	index    int
	closed   bool
	written  int64
}

// ToStream returns a buffered sink counted live, so NumBytesWritten is
// accurate even before Close (the Partition-Pair Writer polls it mid-stream
// per spec §4.5).
func (p *partitionWriter) ToStream() (io.Writer, error) {
	if p.closed {
		return nil, fmt.Errorf("%w: partition writer closed", shuffle.ErrIllegalState)
	}
	if p.bw == nil {
		p.bw = bufio.NewWriterSize(p.file, p.owner.outputBufSize)
		p.counter = &countingWriter{w: p.bw}
	}
	return p.counter, nil
}

// ToChannel hands back the raw file for sendfile-driven zero-copy transfer;
// its byte count is only known once Close reconciles the file's cursor
// delta, since sendfile bypasses any user-space counting.
func (p *partitionWriter) ToChannel() (*os.File, error) {
	if p.closed {
		return nil, fmt.Errorf("%w: partition writer closed", shuffle.ErrIllegalState)
	}
	return p.file, nil
}

func (p *partitionWriter) NumBytesWritten() int64 {
	if p.counter != nil {
		return p.counter.n
	}
	return p.written
}

func (p *partitionWriter) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	if p.bw != nil {
		if err := p.bw.Flush(); err != nil {
			return fmt.Errorf("localio: flush partition %d: %w", p.index, err)
		}
	}
	endPos, err := p.file.Seek(0, io.SeekCurrent)
	if err != nil {
		return fmt.Errorf("localio: seek partition %d end: %w", p.index, err)
	}
	p.written = endPos - p.startPos
	p.owner.lengths[p.index] = p.written
	p.owner.current = nil
	return nil
}

// countingWriter counts bytes handed to a partition's buffered sink, so the
// count includes bytes still held in bufio's buffer.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
