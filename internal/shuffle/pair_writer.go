package shuffle

import "fmt"

// metricsRefreshInterval is how often PairWriter re-polls the partition
// writer's byte count mid-stream, per spec §4.5.
const metricsRefreshInterval = 16384

// PairWriter is the non-serialized sibling of the Writer Facade: it writes
// (key, value) pairs directly into a single partition's sink with no
// sorter, no spill, no merge. It shares the stream-ownership and metrics-
// accounting discipline with the serialized path.
type PairWriter struct {
	pw       PartitionWriter
	serMgr   SerializerManager
	serInst  SerializerInstance
	blockID  string
	reporter WriteMetricsReporter

	stream       SerializationStream
	wrapped      interface{ Close() error }
	opened       bool
	closed       bool
	recordCount  int64
	lastReported int64
}

// NewPairWriter constructs a PairWriter over a single partition's sink. The
// chain (serializer-manager wrap -> serialization stream) is opened lazily
// on the first Write.
func NewPairWriter(pw PartitionWriter, serMgr SerializerManager, serInst SerializerInstance, blockID string, reporter WriteMetricsReporter) *PairWriter {
	return &PairWriter{pw: pw, serMgr: serMgr, serInst: serInst, blockID: blockID, reporter: reporter}
}

// Write encodes one (key, value) pair. It lazily opens the sink chain on the
// first call.
func (p *PairWriter) Write(key, value []byte) error {
	if p.closed {
		return fmt.Errorf("%w: write after close", ErrIllegalState)
	}
	if !p.opened {
		if err := p.open(); err != nil {
			return err
		}
	}
	if err := p.stream.WriteKey(key); err != nil {
		return fmt.Errorf("shuffle: pair writer key: %w", err)
	}
	if err := p.stream.WriteValue(value); err != nil {
		return fmt.Errorf("shuffle: pair writer value: %w", err)
	}
	p.recordCount++
	if p.recordCount%metricsRefreshInterval == 0 {
		p.reporter.IncRecordsWritten(metricsRefreshInterval)
		p.refreshBytesWritten()
	}
	return nil
}

// refreshBytesWritten reports the delta since the last refresh, so repeated
// calls (periodic mid-stream, then once more on Close) never double-count.
func (p *PairWriter) refreshBytesWritten() {
	current := p.pw.NumBytesWritten()
	if delta := current - p.lastReported; delta != 0 {
		p.reporter.IncBytesWritten(delta)
		p.lastReported = current
	}
}

func (p *PairWriter) open() error {
	raw, err := p.pw.ToStream()
	if err != nil {
		return fmt.Errorf("shuffle: pair writer open sink: %w", err)
	}
	sink := raw
	if p.serMgr != nil {
		wrapped, werr := p.serMgr.WrapStream(p.blockID, raw)
		if werr != nil {
			return fmt.Errorf("shuffle: pair writer wrap sink: %w", werr)
		}
		sink = wrapped
		p.wrapped = wrapped
	}
	p.stream = p.serInst.SerializeStream(sink)
	p.opened = true
	return nil
}

// Close closes the chain LIFO — serialization stream, then the serializer-
// manager wrapper, then the partition writer — with each step independently
// guarded so a failure in one does not skip the rest. It then refreshes the
// bytes-written metric from the partition writer and reports any remaining
// unreported records. Idempotent.
func (p *PairWriter) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true

	var first error
	record := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}

	if p.opened {
		if p.stream != nil {
			record(p.stream.Flush())
			record(p.stream.Close())
		}
		if p.wrapped != nil {
			record(p.wrapped.Close())
		}
	}
	record(p.pw.Close())

	if rem := p.recordCount % metricsRefreshInterval; rem != 0 {
		p.reporter.IncRecordsWritten(rem)
	}
	p.refreshBytesWritten()

	return first
}

// NumBytesWritten reports the partition writer's current byte count.
func (p *PairWriter) NumBytesWritten() int64 {
	return p.pw.NumBytesWritten()
}
