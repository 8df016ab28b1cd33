package shuffle

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"runtime"
)

// MergeEngine reads a spill set and writes the final, per-partition merged
// output through a MapOutputWriter, choosing one of three strategies per
// spec §4.4.
type MergeEngine struct {
	cfg       Config
	codec     CompressionCodec // nil when compression is disabled
	encryptor Encryptor        // nil when encryption is disabled
	encrypted bool
	reporter  WriteMetricsReporter
}

// NewMergeEngine constructs a merge engine. codec and encryptor may be nil;
// encrypted must agree with encryptor != nil and reflects
// SerializerManager.EncryptionEnabled().
func NewMergeEngine(cfg Config, codec CompressionCodec, encryptor Encryptor, encrypted bool, reporter WriteMetricsReporter) *MergeEngine {
	return &MergeEngine{cfg: cfg, codec: codec, encryptor: encryptor, encrypted: encrypted, reporter: reporter}
}

type mergeStrategy int

const (
	strategyEmpty mergeStrategy = iota
	strategySingleSpill
	strategyZeroCopy
	strategyStreamFast
	strategySlow
)

func (m *MergeEngine) selectStrategy(n int) mergeStrategy {
	if n == 0 {
		return strategyEmpty
	}
	if n == 1 {
		return strategySingleSpill
	}
	compressionDisabled := !m.cfg.Compress
	supportsConcat := m.codec != nil && m.codec.SupportsConcatenation()
	codecFastEligible := compressionDisabled || supportsConcat
	if !m.cfg.FastMergeEnabled || !codecFastEligible {
		return strategySlow
	}
	zeroCopyAvailable := m.cfg.TransferToEnabled && runtime.GOOS == "linux"
	if zeroCopyAvailable && !m.encrypted {
		return strategyZeroCopy
	}
	return strategyStreamFast
}

// Merge dispatches to the selected strategy and returns the final
// per-partition byte lengths.
func (m *MergeEngine) Merge(spills []SpillDescriptor, mw MapOutputWriter, numPartitions int) (MapStatus, error) {
	switch m.selectStrategy(len(spills)) {
	case strategyEmpty:
		return MapStatus{PartitionLengths: make([]int64, numPartitions)}, nil
	case strategySingleSpill:
		return m.mergeSingleSpill(spills[0], mw, numPartitions)
	case strategyZeroCopy:
		lengths, err := m.mergeZeroCopy(spills, mw, numPartitions)
		return m.finish(lengths, spills, err)
	case strategyStreamFast:
		lengths, err := m.mergeStream(spills, mw, numPartitions, nil)
		return m.finish(lengths, spills, err)
	default:
		lengths, err := m.mergeStream(spills, mw, numPartitions, m.codec)
		return m.finish(lengths, spills, err)
	}
}

// finish reconciles the metrics reporter against the pre-merge baseline: the
// Writer Facade counts the last spill's bytes and records into the reporter
// right after CloseAndGetSpills, before it knows whether that spill will end
// up "the" final output or just one of several inputs to a real merge.
// mergeZeroCopy and mergeStream re-count every spill's bytes as they stream
// through the partition writers above, so once that has succeeded the last
// spill's pre-merge byte count is backed out here to avoid counting it
// twice, and the records of every spill except the last (not yet counted
// anywhere) are added.
func (m *MergeEngine) finish(lengths []int64, spills []SpillDescriptor, err error) (MapStatus, error) {
	if err != nil {
		return MapStatus{}, err
	}
	last := spills[len(spills)-1]
	m.reporter.DecBytesWritten(last.TotalBytes())
	m.reporter.IncRecordsWritten(totalRecords(spills) - last.RecordCount)
	return MapStatus{PartitionLengths: lengths}, nil
}

func totalRecords(spills []SpillDescriptor) int64 {
	var total int64
	for _, s := range spills {
		total += s.RecordCount
	}
	return total
}

// closeSpillFiles closes every opened spill file. When threw is true (the
// caller is already unwinding on an error), close failures are swallowed so
// they don't mask the root cause; otherwise the first close failure is
// returned.
func closeSpillFiles(files []*os.File, threw bool) error {
	var first error
	for _, f := range files {
		if f == nil {
			continue
		}
		if cerr := f.Close(); cerr != nil && !threw && first == nil {
			first = cerr
		}
	}
	return first
}

// mergeSingleSpill implements spec §4.4's single-spill fast copy, with the
// §9 ambiguity resolved: the spill input is opened once and closed after
// all partitions have been copied, not per partition.
func (m *MergeEngine) mergeSingleSpill(spill SpillDescriptor, mw MapOutputWriter, numPartitions int) (status MapStatus, err error) {
	f, err := os.Open(spill.FilePath)
	if err != nil {
		return MapStatus{}, fmt.Errorf("shuffle: open spill for single-spill merge: %w", err)
	}
	threw := true
	defer func() {
		if cerr := closeSpillFiles([]*os.File{f}, threw); cerr != nil {
			err = newCleanupError(err, cerr)
		}
	}()

	lengths := make([]int64, numPartitions)
	for p := 0; p < numPartitions; p++ {
		pw, perr := mw.GetNextPartitionWriter()
		if perr != nil {
			return MapStatus{}, perr
		}
		dst, serr := pw.ToStream()
		if serr != nil {
			pw.Close()
			return MapStatus{}, serr
		}
		n := spill.PartitionLengths[p]
		copied, cerr := io.CopyN(dst, f, n)
		if cerr != nil && cerr != io.EOF {
			pw.Close()
			return MapStatus{}, fmt.Errorf("shuffle: copy partition %d from spill: %w", p, cerr)
		}
		if cerr := pw.Close(); cerr != nil {
			return MapStatus{}, cerr
		}
		lengths[p] = copied
	}
	threw = false
	return MapStatus{PartitionLengths: lengths}, nil
}

// mergeZeroCopy implements spec §4.4.1.
func (m *MergeEngine) mergeZeroCopy(spills []SpillDescriptor, mw MapOutputWriter, numPartitions int) (lengths []int64, err error) {
	files := make([]*os.File, len(spills))
	offsets := make([]int64, len(spills))
	threw := true
	defer func() {
		if cerr := closeSpillFiles(files, threw); cerr != nil {
			err = newCleanupError(err, cerr)
		}
	}()
	for i, s := range spills {
		f, oerr := os.Open(s.FilePath)
		if oerr != nil {
			return nil, fmt.Errorf("shuffle: open spill %d for zero-copy merge: %w", i, oerr)
		}
		files[i] = f
	}

	lengths = make([]int64, numPartitions)
	for p := 0; p < numPartitions; p++ {
		pw, perr := mw.GetNextPartitionWriter()
		if perr != nil {
			return nil, perr
		}
		dst, cerr := pw.ToChannel()
		if cerr != nil {
			pw.Close()
			return nil, cerr
		}
		var partitionTotal int64
		for i, s := range spills {
			n := s.PartitionLengths[p]
			if n == 0 {
				continue
			}
			transferred, terr := sendfileAll(int(dst.Fd()), int(files[i].Fd()), &offsets[i], n)
			partitionTotal += transferred
			if terr != nil {
				pw.Close()
				return nil, fmt.Errorf("shuffle: zero-copy transfer partition %d spill %d: %w", p, i, terr)
			}
			if transferred != n {
				pw.Close()
				return nil, fmt.Errorf("shuffle: zero-copy transfer partition %d spill %d: short transfer %d of %d", p, i, transferred, n)
			}
		}
		if cerr := pw.Close(); cerr != nil {
			return nil, cerr
		}
		if pw.NumBytesWritten() != partitionTotal {
			return nil, fmt.Errorf("shuffle: partition %d writer reported %d bytes, transferred %d", p, pw.NumBytesWritten(), partitionTotal)
		}
		m.reporter.IncBytesWritten(partitionTotal)
		lengths[p] = partitionTotal
	}

	for i, f := range files {
		info, serr := f.Stat()
		if serr != nil {
			return nil, serr
		}
		if offsets[i] != info.Size() {
			return nil, fmt.Errorf("shuffle: spill %d ended at offset %d, file size %d", i, offsets[i], info.Size())
		}
	}
	threw = false
	return lengths, nil
}

// mergeStream implements spec §4.4.2. codec is nil for the fast-merge
// variant (opaque concatenation, no decode) and non-nil for the slow-merge
// variant (full decode/re-encode).
func (m *MergeEngine) mergeStream(spills []SpillDescriptor, mw MapOutputWriter, numPartitions int, codec CompressionCodec) (lengths []int64, err error) {
	inputBufSize := m.cfg.FileBufferSizeKB * 1024
	files := make([]*os.File, len(spills))
	readers := make([]io.Reader, len(spills))
	threw := true
	defer func() {
		if cerr := closeSpillFiles(files, threw); cerr != nil {
			err = newCleanupError(err, cerr)
		}
	}()
	for i, s := range spills {
		f, oerr := os.Open(s.FilePath)
		if oerr != nil {
			return nil, fmt.Errorf("shuffle: open spill %d for stream merge: %w", i, oerr)
		}
		files[i] = f
		readers[i] = bufio.NewReaderSize(f, inputBufSize)
	}

	lengths = make([]int64, numPartitions)
	for p := 0; p < numPartitions; p++ {
		pw, perr := mw.GetNextPartitionWriter()
		if perr != nil {
			return nil, perr
		}
		rawOut, serr := pw.ToStream()
		if serr != nil {
			pw.Close()
			return nil, serr
		}

		out, cerr := m.buildOutputChain(rawOut, codec)
		if cerr != nil {
			pw.Close()
			return nil, cerr
		}

		for i, s := range spills {
			n := s.PartitionLengths[p]
			if n == 0 {
				continue
			}
			limited := io.LimitReader(readers[i], n)
			decoded, derr := m.buildInputChain(limited, codec)
			if derr != nil {
				out.Close()
				pw.Close()
				return nil, derr
			}
			if _, cpErr := io.Copy(out, decoded); cpErr != nil {
				decoded.Close()
				out.Close()
				pw.Close()
				return nil, fmt.Errorf("shuffle: stream merge partition %d spill %d: %w", p, i, cpErr)
			}
			if derr := decoded.Close(); derr != nil {
				out.Close()
				pw.Close()
				return nil, derr
			}
		}

		if cerr := out.Close(); cerr != nil {
			pw.Close()
			return nil, cerr
		}
		if cerr := pw.Close(); cerr != nil {
			return nil, cerr
		}
		lengths[p] = pw.NumBytesWritten()
		m.reporter.IncBytesWritten(lengths[p])
	}
	threw = false
	return lengths, nil
}

// buildOutputChain wraps raw built inside-out as shield, then encryption,
// then compression, then time-tracking outermost, so that data flows
// compress-then-encrypt on the way to disk (on-disk bytes are
// Encrypt(Compress(plaintext))) — matching codec.Manager.WrapStream's
// convention for spill segments and the original implementation's own wrap
// order, and matching buildInputChain's decrypt-then-decompress decode
// assumption below. outputCodec is nil for the fast-merge variant (spill
// segments are already-compressed opaque units, concatenated without a
// fresh compression layer) and the slow-merge codec otherwise; it is passed
// through from the caller rather than read from m.codec so fast merge never
// re-applies compression.
func (m *MergeEngine) buildOutputChain(raw io.Writer, outputCodec CompressionCodec) (io.WriteCloser, error) {
	var chain io.WriteCloser = shieldWriter(raw)
	var layers []io.Closer // outermost first
	if m.encrypted && m.encryptor != nil {
		e, err := m.encryptor.EncryptWriter(chain)
		if err != nil {
			return nil, err
		}
		chain = e
		layers = append([]io.Closer{e}, layers...)
	}
	if outputCodec != nil {
		c, err := outputCodec.CompressedOutputStream(chain)
		if err != nil {
			return nil, err
		}
		chain = c
		layers = append([]io.Closer{c}, layers...)
	}
	return trackWriteTime(&chainWriteCloser{Writer: chain, layers: layers}, m.reporter), nil
}

// chainWriteCloser writes through the outermost codec layer and, on Close,
// closes every codec layer LIFO (outermost first), so each layer's trailer
// is flushed through the layers beneath it down to the shield.
type chainWriteCloser struct {
	io.Writer
	layers []io.Closer
}

func (c *chainWriteCloser) Close() error {
	var first error
	for _, l := range c.layers {
		if err := l.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// buildInputChain wraps a length-limited spill slice in decrypt then
// decompress decoders, the inverse of buildOutputChain's
// compress-then-encrypt write order (decodeCodec is nil for the fast-merge
// variant, which copies compressed bytes through opaquely).
func (m *MergeEngine) buildInputChain(limited io.Reader, decodeCodec CompressionCodec) (io.ReadCloser, error) {
	var chain io.ReadCloser = shieldReader(limited)
	if m.encrypted && m.encryptor != nil {
		d, err := m.encryptor.DecryptReader(chain)
		if err != nil {
			return nil, err
		}
		chain = d
	}
	if decodeCodec != nil {
		d, err := decodeCodec.CompressedInputStream(chain)
		if err != nil {
			return nil, err
		}
		chain = d
	}
	return chain, nil
}
