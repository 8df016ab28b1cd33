package shuffle

import (
	"fmt"
	"log/slog"
	"os"
)

// Record is one (key, value) pair offered to Write. Payloads are opaque
// bytes; the caller is responsible for having already encoded them into
// whatever wire format the configured SerializerInstance expects.
type Record struct {
	Key   []byte
	Value []byte
}

// Writer orchestrates one map task's shuffle write end to end: serialize ->
// sort -> spill -> merge -> commit, per spec §4.3. One Writer serves exactly
// one map task; it is not safe for concurrent use.
type Writer struct {
	partitioner Partitioner
	serializer  SerializerInstance
	serMgr      SerializerManager
	support     ShuffleWriteSupport
	mem         MemoryManager
	reporter    WriteMetricsReporter
	merge       *MergeEngine
	cfg         Config

	shuffleID int64
	mapID     int64
	spillDir  string

	sorter     *ExternalSorter
	buf        *SerializationBuffer
	wroteAny   bool
	stopped    bool
	peakMemory int64
	lastStatus MapStatus
	logger     *slog.Logger
}

// NewWriter constructs a Writer for one map task. It checks cfg's partition
// ceiling against partitioner.NumPartitions() before allocating anything and
// fails with ErrConfiguration if the ceiling is exceeded.
func NewWriter(
	cfg Config,
	shuffleID, mapID int64,
	partitioner Partitioner,
	serializer SerializerInstance,
	serMgr SerializerManager,
	support ShuffleWriteSupport,
	mem MemoryManager,
	merge *MergeEngine,
	reporter WriteMetricsReporter,
	spillDir string,
	logger *slog.Logger,
) (*Writer, error) {
	if err := cfg.CheckPartitionCeiling(partitioner.NumPartitions()); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	sorter := NewExternalSorter(mem, serMgr, partitioner.NumPartitions(), spillDir)
	if cfg.InitBufferSize > 0 {
		sorter.pointers = make([]uint64, 0, cfg.InitBufferSize)
		sorter.locations = make([]recordLocation, 0, cfg.InitBufferSize)
	}
	return &Writer{
		partitioner: partitioner,
		serializer:  serializer,
		serMgr:      serMgr,
		support:     support,
		mem:         mem,
		reporter:    reporter,
		merge:       merge,
		cfg:         cfg,
		shuffleID:   shuffleID,
		mapID:       mapID,
		spillDir:    spillDir,
		sorter:      sorter,
		buf:         NewSerializationBuffer(0),
		logger:      logger,
	}, nil
}

// Write consumes a finite sequence of records, serializing and inserting
// each one into the sorter, then runs close_and_write_output. The resulting
// MapStatus is handed back by a later Stop(true), per spec §4.3; Write
// itself only reports whether the task failed. Any failure during iteration
// or close triggers sorter cleanup before the error is returned.
func (w *Writer) Write(records []Record) error {
	if w.stopped {
		return fmt.Errorf("%w: write after stop", ErrIllegalState)
	}
	for _, rec := range records {
		if err := w.insertOne(rec); err != nil {
			w.sorter.CleanupResources()
			return err
		}
	}
	w.wroteAny = true
	status, err := w.closeAndWriteOutput()
	if err != nil {
		w.sorter.CleanupResources()
		return err
	}
	w.lastStatus = status
	return nil
}

func (w *Writer) insertOne(rec Record) error {
	partitionID := w.partitioner.GetPartition(rec.Key)

	w.buf.Reset()
	stream := w.serializer.SerializeStream(w.buf)
	if err := stream.WriteKey(rec.Key); err != nil {
		return fmt.Errorf("shuffle: serialize key: %w", err)
	}
	if err := stream.WriteValue(rec.Value); err != nil {
		return fmt.Errorf("shuffle: serialize value: %w", err)
	}
	if err := stream.Flush(); err != nil {
		return fmt.Errorf("shuffle: flush serialized record: %w", err)
	}
	if w.buf.Len() == 0 {
		return fmt.Errorf("%w: serialized record has zero length", ErrIllegalState)
	}
	if err := w.sorter.Insert(w.buf.RawView(), partitionID); err != nil {
		return err
	}
	return nil
}

// closeAndWriteOutput implements spec §4.3's close_and_write_output: snapshot
// peak memory, collect spills, create a MapOutputWriter, merge, delete every
// spill file, then commit. Any failure before commit triggers Abort.
func (w *Writer) closeAndWriteOutput() (MapStatus, error) {
	w.peakMemory = w.sorter.PeakMemoryUsed()
	w.buf = nil

	spills, err := w.sorter.CloseAndGetSpills()
	if err != nil {
		return MapStatus{}, err
	}
	spillsDeleted := false
	deleteSpills := func() {
		if spillsDeleted {
			return
		}
		spillsDeleted = true
		for _, s := range spills {
			if rerr := os.Remove(s.FilePath); rerr != nil && !os.IsNotExist(rerr) {
				w.logger.Warn("shuffle: failed to delete spill file", "path", s.FilePath, "error", rerr)
			}
		}
	}
	defer deleteSpills()

	// The sorter's final in-memory drain (if any) is classified as shuffle
	// write, not spill, per spec §7 — whichever spill CloseAndGetSpills put
	// last absorbs that classification, regardless of whether it was a true
	// end-of-stream drain or a pressure spill that happened to come last.
	// The Merge Engine backs this count out for N>=2 once it has re-counted
	// every spill's bytes while actually copying them; see merge.go finish.
	if len(spills) > 0 {
		last := spills[len(spills)-1]
		w.reporter.IncBytesWritten(last.TotalBytes())
		w.reporter.IncRecordsWritten(last.RecordCount)
	}

	mapWriter, err := w.support.CreateMapOutputWriter(w.shuffleID, w.mapID, w.partitioner.NumPartitions())
	if err != nil {
		return MapStatus{}, err
	}

	status, mergeErr := w.merge.Merge(spills, mapWriter, w.partitioner.NumPartitions())
	deleteSpills()
	if mergeErr != nil {
		if aerr := mapWriter.Abort(mergeErr); aerr != nil {
			w.logger.Error("shuffle: abort failed after merge error", "error", aerr)
		}
		return MapStatus{}, mergeErr
	}

	committed, err := mapWriter.CommitAllPartitions()
	if err != nil {
		if aerr := mapWriter.Abort(err); aerr != nil {
			w.logger.Error("shuffle: abort failed after commit error", "error", aerr)
		}
		return MapStatus{}, err
	}
	if len(committed.PartitionLengths) != len(status.PartitionLengths) {
		return MapStatus{}, fmt.Errorf("%w: commit reported %d partitions, merge produced %d", ErrIllegalState, len(committed.PartitionLengths), len(status.PartitionLengths))
	}
	committed.MapID = w.mapID
	return committed, nil
}

// Stop is idempotent: only the first call releases anything, and a repeated
// call with the same success flag returns the same result. If success, it
// returns the map status recorded by Write — callers must have called Write
// first, or Stop fails with ErrIllegalState. If !success, sorter resources
// are released (on the first call) and no status is returned.
func (w *Writer) Stop(success bool) (MapStatus, error) {
	if !w.stopped {
		w.stopped = true
		if !success {
			w.sorter.CleanupResources()
		}
	}
	if !success {
		return MapStatus{}, nil
	}
	if !w.wroteAny {
		return MapStatus{}, fmt.Errorf("%w: stop(true) called without a prior write", ErrIllegalState)
	}
	return w.lastStatus, nil
}

// PeakMemoryUsed reports the sorter's high-water mark, valid after
// closeAndWriteOutput has run.
func (w *Writer) PeakMemoryUsed() int64 {
	return w.peakMemory
}
