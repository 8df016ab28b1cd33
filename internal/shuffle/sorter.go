package shuffle

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
)

// partitionBits is how many of the packed pointer word's 64 bits hold the
// partition id. It must be wide enough for DefaultPartitionCeiling.
const partitionBits = 24
const seqMask = (uint64(1) << (64 - partitionBits)) - 1

func packPointer(partitionID int, seq uint64) uint64 {
	return (uint64(partitionID) << (64 - partitionBits)) | (seq & seqMask)
}

func unpackSeq(word uint64) uint64 {
	return word & seqMask
}

func unpackPartition(word uint64) int {
	return int(word >> (64 - partitionBits))
}

// recordLocation is where one inserted record lives: which page, at what
// offset, and how long its payload is (the page's own 4-byte length header
// is at offset-4).
type recordLocation struct {
	pageIdx int
	offset  int
	length  int
}

// page is a contiguous byte region owned by the sorter. Records are packed
// back to back as {length uint32}{bytes}; a page never spans a record.
type page struct {
	buf  []byte
	used int
}

func (p *page) remaining() int { return len(p.buf) - p.used }

// SpillDescriptor describes one spilled, partition-sorted run on disk.
// Invariant: sum(PartitionLengths) == size of the file at FilePath.
type SpillDescriptor struct {
	FilePath         string
	PartitionLengths []int64
	RecordCount      int64
}

// TotalBytes returns the sum of the per-partition lengths, which by
// invariant equals the spill file's size.
func (d SpillDescriptor) TotalBytes() int64 {
	var total int64
	for _, n := range d.PartitionLengths {
		total += n
	}
	return total
}

// ExternalSorter accepts (partition_id, bytes) records, buffers them in
// memory-manager-granted pages, and spills partition-sorted runs to disk
// under memory pressure. See spec §4.2.
type ExternalSorter struct {
	mem           MemoryManager
	serMgr        SerializerManager // may be nil: raw bytes, no wrap
	numPartitions int
	pageSize      int64
	spillDir      string

	mu       sync.Mutex
	spilling bool

	pages      []*page
	locations  []recordLocation
	pointers   []uint64
	nextSeq    uint64
	memHeld    int64
	peakMemory int64

	spills []SpillDescriptor

	stopWatch chan struct{}
	watchOnce sync.Once
}

// spillSignaler is implemented by a MemoryManager that can wake a waiting
// sorter from outside the goroutine driving Insert, per spec §5's "the
// memory manager may invoke spill from a different thread" (the internal/
// memmgr.Manager concrete type carries it). ExternalSorter type-asserts for
// it rather than requiring it on the MemoryManager interface, since most
// MemoryManager implementations (including every test fake in this package)
// have no external reclaimer to speak for.
type spillSignaler interface {
	SpillTrigger() <-chan struct{}
}

// defaultPageSize is the memory manager grant requested per page when a
// record's own size does not already demand a larger page.
const defaultPageSize = 4 << 20 // 4 MiB

// NewExternalSorter constructs a sorter for a map task with numPartitions
// output buckets, spilling into spillDir. serMgr wraps each partition's
// byte range within a spill file in compression/encryption exactly as the
// Writer Facade's own open-stream path would, so that a partition's spilled
// segment is always a complete, independently decodable unit: the single-
// spill and fast-merge paths can then copy it opaquely, and concatenating
// one such unit per spill is exactly what "codec supports concatenation"
// means. Pass nil to disable wrapping (raw bytes).
func NewExternalSorter(mem MemoryManager, serMgr SerializerManager, numPartitions int, spillDir string) *ExternalSorter {
	s := &ExternalSorter{
		mem:           mem,
		serMgr:        serMgr,
		numPartitions: numPartitions,
		pageSize:      defaultPageSize,
		spillDir:      spillDir,
	}
	if signaler, ok := mem.(spillSignaler); ok {
		s.stopWatch = make(chan struct{})
		go s.watchSpillTrigger(signaler.SpillTrigger())
	}
	return s
}

// watchSpillTrigger spills on every external signal until the sorter is
// closed or cleaned up. A signal that arrives while Insert (or its own
// pressure spill) holds the sorter's mutex waits for the mutex and then
// spills whatever is buffered at that point, which is a no-op if nothing is.
func (s *ExternalSorter) watchSpillTrigger(trigger <-chan struct{}) {
	for {
		select {
		case <-trigger:
			s.Spill()
		case <-s.stopWatch:
			return
		}
	}
}

// stopWatching halts watchSpillTrigger's goroutine, if one was started.
// Idempotent.
func (s *ExternalSorter) stopWatching() {
	if s.stopWatch == nil {
		return
	}
	s.watchOnce.Do(func() { close(s.stopWatch) })
}

// Insert appends payload to the current page (allocating a fresh one if it
// does not fit) and records a pointer entry for it. It spills once, on its
// own, if memory is denied, and only fails with ErrOutOfMemory if the
// memory manager still refuses after that attempt.
func (s *ExternalSorter) Insert(payload []byte, partitionID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	needed := 4 + len(payload)
	if s.currentPage() == nil || s.currentPage().remaining() < needed {
		if err := s.allocatePageLocked(needed); err != nil {
			return err
		}
	}

	p := s.currentPage()
	pageIdx := len(s.pages) - 1
	offset := p.used
	binary.LittleEndian.PutUint32(p.buf[offset:], uint32(len(payload)))
	copy(p.buf[offset+4:], payload)
	p.used += needed

	seq := s.nextSeq
	s.nextSeq++
	s.locations = append(s.locations, recordLocation{pageIdx: pageIdx, offset: offset + 4, length: len(payload)})
	s.pointers = append(s.pointers, packPointer(partitionID, seq))
	return nil
}

func (s *ExternalSorter) currentPage() *page {
	if len(s.pages) == 0 {
		return nil
	}
	return s.pages[len(s.pages)-1]
}

func (s *ExternalSorter) allocatePageLocked(minSize int) error {
	want := s.pageSize
	if int64(minSize) > want {
		want = int64(minSize)
	}
	granted := s.mem.Acquire(want)
	if granted < int64(minSize) {
		// One spill attempt to free pages, then retry once.
		if err := s.spillLocked(); err != nil {
			return err
		}
		granted = s.mem.Acquire(want)
		if granted < int64(minSize) {
			s.mem.Release(granted)
			return fmt.Errorf("%w: need %d bytes, granted %d", ErrOutOfMemory, minSize, granted)
		}
	}
	s.pages = append(s.pages, &page{buf: make([]byte, granted)})
	s.memHeld += granted
	if s.memHeld > s.peakMemory {
		s.peakMemory = s.memHeld
	}
	return nil
}

// Spill sorts the pointer array by (partition_id, insertion order), streams
// records in that order to a fresh temp file recording per-partition byte
// totals, then releases all pages and truncates the pointer array. It is a
// no-op if nothing is currently buffered.
func (s *ExternalSorter) Spill() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spillLocked()
}

func (s *ExternalSorter) spillLocked() error {
	if s.spilling {
		return fmt.Errorf("%w: spill already in progress", ErrIllegalState)
	}
	if len(s.pointers) == 0 {
		return nil
	}
	s.spilling = true
	defer func() { s.spilling = false }()

	sort.Slice(s.pointers, func(i, j int) bool { return s.pointers[i] < s.pointers[j] })

	f, err := os.CreateTemp(s.spillDir, "spill-*.bin")
	if err != nil {
		return fmt.Errorf("shuffle: create spill file: %w", err)
	}
	path := f.Name()
	w := bufio.NewWriter(f)

	// Each partition's run of records is written as one complete,
	// independently wrapped (compressed/encrypted) segment, so the merge
	// engine can later copy a partition's segment from this spill opaquely,
	// and concatenating one such segment per spill is what "codec supports
	// concatenation" relies on.
	lengths := make([]int64, s.numPartitions)
	for i := 0; i < len(s.pointers); {
		partID := unpackPartition(s.pointers[i])
		j := i + 1
		for j < len(s.pointers) && unpackPartition(s.pointers[j]) == partID {
			j++
		}
		n, werr := s.writeSpillSegment(w, s.pointers[i:j], partID)
		if werr != nil {
			w.Flush()
			f.Close()
			os.Remove(path)
			return werr
		}
		lengths[partID] = n
		i = j
	}

	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("shuffle: flush spill file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return fmt.Errorf("shuffle: close spill file: %w", err)
	}

	s.spills = append(s.spills, SpillDescriptor{
		FilePath:         path,
		PartitionLengths: lengths,
		RecordCount:      int64(len(s.pointers)),
	})

	s.releasePagesLocked()
	s.locations = s.locations[:0]
	s.pointers = s.pointers[:0]
	s.nextSeq = 0
	return nil
}

// writeSpillSegment writes one partition's contiguous run of records to w,
// wrapped through s.serMgr if configured, and returns the number of bytes
// the wrapped stream actually emitted (the compressed/encrypted size, not
// the raw payload size — that emitted size is what partition_lengths must
// record).
func (s *ExternalSorter) writeSpillSegment(w io.Writer, words []uint64, partID int) (int64, error) {
	cw := &countingWriter{w: w}
	var sink io.Writer = cw
	var closer io.Closer
	if s.serMgr != nil {
		wrapped, err := s.serMgr.WrapStream(fmt.Sprintf("spill-partition-%d", partID), cw)
		if err != nil {
			return 0, fmt.Errorf("shuffle: wrap spill segment for partition %d: %w", partID, err)
		}
		sink = wrapped
		closer = wrapped
	}
	for _, word := range words {
		loc := s.locations[unpackSeq(word)]
		pg := s.pages[loc.pageIdx]
		if _, err := sink.Write(pg.buf[loc.offset : loc.offset+loc.length]); err != nil {
			return 0, fmt.Errorf("shuffle: write spill record: %w", err)
		}
	}
	if closer != nil {
		if err := closer.Close(); err != nil {
			return 0, fmt.Errorf("shuffle: close spill segment wrapper for partition %d: %w", partID, err)
		}
	}
	return cw.n, nil
}

// countingWriter counts bytes actually handed downstream, used to measure a
// wrapped (compressed/encrypted) segment's true on-disk length.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

func (s *ExternalSorter) releasePagesLocked() {
	for _, p := range s.pages {
		s.mem.Release(int64(len(p.buf)))
		s.memHeld -= int64(len(p.buf))
	}
	s.pages = s.pages[:0]
}

// CloseAndGetSpills flushes any remaining in-memory records as one final
// spill and returns the ordered list of all spills produced over this
// sorter's lifetime. The caller (Writer) is responsible for classifying the
// last spill's bytes into the task's write metrics, since this sorter has
// no opinion on which spill was "the final drain" versus "a pressure spill
// that happened to be last" — see DESIGN.md.
func (s *ExternalSorter) CloseAndGetSpills() ([]SpillDescriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.spillLocked(); err != nil {
		return nil, err
	}
	s.stopWatching()
	out := s.spills
	s.spills = nil
	return out, nil
}

// PeakMemoryUsed reports the high-water mark of bytes held in pages.
func (s *ExternalSorter) PeakMemoryUsed() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peakMemory
}

// CleanupResources releases any pages still held and deletes any spill
// files this sorter still owns (i.e. were never returned by
// CloseAndGetSpills). Idempotent.
func (s *ExternalSorter) CleanupResources() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopWatching()
	s.releasePagesLocked()
	s.locations = nil
	s.pointers = nil
	for _, d := range s.spills {
		os.Remove(d.FilePath)
	}
	s.spills = nil
}
