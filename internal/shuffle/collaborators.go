package shuffle

import (
	"io"
	"os"
	"time"
)

// Partitioner assigns opaque keys to one of NumPartitions() buckets.
// Implementations live outside this package (internal/partition has the
// default); the sorter only ever sees the resulting partition id.
type Partitioner interface {
	GetPartition(key []byte) int
	NumPartitions() int
}

// SerializationStream writes a sequence of key/value pairs onto a sink.
// WriteKey and WriteValue are always called in pairs, key first.
type SerializationStream interface {
	WriteKey(key []byte) error
	WriteValue(value []byte) error
	Flush() error
	Close() error
}

// SerializerInstance opens a SerializationStream over a raw sink.
type SerializerInstance interface {
	SerializeStream(sink io.Writer) SerializationStream
}

// SerializerManager wraps a raw partition sink with encryption and/or
// compression according to configuration, and reports whether encryption is
// active (which the Merge Engine needs to pick a merge strategy).
type SerializerManager interface {
	WrapStream(blockID string, s io.Writer) (io.WriteCloser, error)
	WrapStreamForRead(blockID string, s io.Reader) (io.ReadCloser, error)
	EncryptionEnabled() bool
}

// CompressionCodec is the compression side of a SerializerManager. Codecs
// that can be concatenated frame-for-frame without decoding (e.g. zstd's
// independent frames) are eligible for fast merge; others are not.
type CompressionCodec interface {
	CompressedOutputStream(s io.Writer) (io.WriteCloser, error)
	CompressedInputStream(s io.Reader) (io.ReadCloser, error)
	SupportsConcatenation() bool
}

// Encryptor is the encryption side of a SerializerManager, kept separate
// from CompressionCodec because the Merge Engine needs to decrypt-then-
// re-encrypt independently of whatever it does (or doesn't) do with
// compression — see spec §4.4.2.
type Encryptor interface {
	EncryptWriter(w io.Writer) (io.WriteCloser, error)
	DecryptReader(r io.Reader) (io.ReadCloser, error)
}

// MemoryManager grants and revokes byte pages to the External Partition
// Sorter. Acquire may return less than requested (or zero); the sorter must
// treat a short grant as an allocation failure for the page it was sizing.
type MemoryManager interface {
	Acquire(bytes int64) int64
	Release(bytes int64)
}

// PartitionWriter is a single partition's output sink, valid for the
// duration of one partition's writes. Each PartitionWriter instance reports
// only the bytes written through it, never bytes from any other partition.
type PartitionWriter interface {
	ToStream() (io.Writer, error)
	// ToChannel exposes the sink as a plain *os.File so the Merge Engine can
	// drive the host's zero-copy transfer primitive (sendfile) between file
	// descriptors directly; Go has no portable zero-copy abstraction above
	// the raw descriptor.
	ToChannel() (*os.File, error)
	NumBytesWritten() int64
	Close() error
}

// MapOutputWriter produces PartitionWriters in ascending partition order and
// finalizes the whole map output atomically.
type MapOutputWriter interface {
	GetNextPartitionWriter() (PartitionWriter, error)
	CommitAllPartitions() (MapStatus, error)
	Abort(cause error) error
}

// ShuffleWriteSupport is the factory the driver provides for a given map
// task's output.
type ShuffleWriteSupport interface {
	CreateMapOutputWriter(shuffleID, mapID int64, numPartitions int) (MapOutputWriter, error)
}

// WriteMetricsReporter accumulates the task's shuffle-write metrics.
type WriteMetricsReporter interface {
	IncBytesWritten(delta int64)
	DecBytesWritten(delta int64)
	IncRecordsWritten(delta int64)
	IncWriteTime(d time.Duration)
}

// MapStatus announces, per partition, the bytes produced for this map task.
type MapStatus struct {
	MapID            int64
	PartitionLengths []int64
}
