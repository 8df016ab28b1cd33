// Command mapwrite drives one or more simulated map tasks' shuffle writes
// end to end: generate synthetic records, partition/serialize/sort/spill/
// merge them through internal/shuffle, commit the output to local disk, and
// register the resulting MapStatus. With -jobs > 1 it runs that many map
// tasks concurrently (as a real shuffle stage would run many map tasks of
// the same shuffle in parallel across executor slots), sharing one memory
// manager and one driver registry the way a single executor process hosting
// several task slots would.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"mapshuffle/internal/codec"
	"mapshuffle/internal/driver"
	"mapshuffle/internal/localio"
	"mapshuffle/internal/memmgr"
	"mapshuffle/internal/metrics"
	"mapshuffle/internal/partition"
	"mapshuffle/internal/serialize"
	"mapshuffle/internal/shuffle"
)

func main() {
	shuffleID := flag.Int64("shuffle-id", 1, "shuffle id for this map task's output")
	numJobs := flag.Int("jobs", 1, "number of map tasks to run concurrently for this shuffle")
	numPartitions := flag.Int("partitions", 4, "number of output partitions")
	numRecords := flag.Int("records", 10000, "number of synthetic records to write per map task")
	outDir := flag.String("out", "data/shuffle", "base directory for shuffle output")
	spillDir := flag.String("spill-dir", os.TempDir(), "directory for spill temp files")
	memLimitMB := flag.Int64("mem-limit-mb", 8, "total memory budget shared by all map tasks' external sorters, MiB")
	compress := flag.Bool("compress", true, "enable compression")
	codecName := flag.String("codec", "zstd", "compression codec: zstd or snappy")
	encrypt := flag.Bool("encrypt", false, "enable chacha20poly1305 encryption")
	fastMerge := flag.Bool("fast-merge", true, "enable fast merge when conditions allow")
	zeroCopy := flag.Bool("zero-copy", true, "enable zero-copy (transferTo) merge when available")
	spillSignalInterval := flag.Duration("spill-signal-interval", 0, "if > 0, periodically signal the shared memory manager to spill, simulating an external reclaimer independent of normal allocation pressure")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	cfg := shuffle.DefaultConfig()
	cfg.Compress = *compress
	cfg.FastMergeEnabled = *fastMerge
	cfg.TransferToEnabled = *zeroCopy

	var compCodec shuffle.CompressionCodec
	if *compress {
		switch *codecName {
		case "zstd":
			compCodec = codec.NewZstd(0)
		case "snappy":
			compCodec = codec.Snappy{}
		default:
			fmt.Fprintf(os.Stderr, "unknown codec %q\n", *codecName)
			os.Exit(1)
		}
	}

	var encryptor shuffle.Encryptor
	if *encrypt {
		key, err := codec.GenerateKey()
		if err != nil {
			logger.Error("generate encryption key", "error", err)
			os.Exit(1)
		}
		encryptor = codec.NewAEAD(key)
	}

	part := partition.New(*numPartitions)
	if err := cfg.CheckPartitionCeiling(part.NumPartitions()); err != nil {
		logger.Error("configuration rejected", "error", err)
		os.Exit(1)
	}

	// One memory manager is shared across every concurrently-running map
	// task's sorter, the same way a real executor's memory manager
	// arbitrates pages across every task slot it hosts; ExternalSorter's
	// own mutex only protects one sorter's pages, so concurrent tasks are
	// safe exactly because each task owns an independent sorter instance.
	mem := memmgr.New(*memLimitMB * 1024 * 1024)
	reg := driver.NewRegistry()

	if *spillSignalInterval > 0 {
		stopSignaling := make(chan struct{})
		defer close(stopSignaling)
		go runSpillSignaler(mem, *spillSignalInterval, stopSignaling)
	}

	g := new(errgroup.Group)
	for job := 0; job < *numJobs; job++ {
		mapID := int64(job)
		g.Go(func() error {
			return runMapTask(logger, cfg, *shuffleID, mapID, part, compCodec, encryptor, mem, reg, *outDir, *spillDir, *numRecords)
		})
	}
	if err := g.Wait(); err != nil {
		logger.Error("one or more map tasks failed", "error", err)
		os.Exit(1)
	}

	if total, err := reg.PartitionTotal(*shuffleID, 0); err == nil {
		logger.Info("partition 0 total bytes across all map tasks", "shuffle_id", *shuffleID, "map_tasks", *numJobs, "bytes", total)
	}
}

// runSpillSignaler periodically wakes every sorter watching mem's
// SpillTrigger, standing in for a host-wide memory watchdog that can force a
// spill independent of any task's own allocation-driven pressure (spec §5).
// Since every concurrently-running map task's sorter watches the same
// shared manager, each tick's signal is consumed by whichever sorter is
// currently waiting, not broadcast to all of them.
func runSpillSignaler(mem *memmgr.Manager, interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			mem.Signal()
		case <-stop:
			return
		}
	}
}

func runMapTask(
	logger *slog.Logger,
	cfg shuffle.Config,
	shuffleID, mapID int64,
	part shuffle.Partitioner,
	compCodec shuffle.CompressionCodec,
	encryptor shuffle.Encryptor,
	mem *memmgr.Manager,
	reg *driver.Registry,
	outDir, spillDir string,
	numRecords int,
) error {
	serMgr := codec.Manager{Codec: compCodec, Encryptor: encryptor}
	reporter := &metrics.TaskMetrics{}
	merge := shuffle.NewMergeEngine(cfg, compCodec, encryptor, encryptor != nil, reporter)
	support := localio.Support{BaseDir: outDir, OutputBufSizeKB: cfg.OutputBufferSizeKB}

	w, err := shuffle.NewWriter(cfg, shuffleID, mapID, part, serialize.Instance{}, serMgr, support, mem, merge, reporter, spillDir, logger)
	if err != nil {
		return fmt.Errorf("map %d: construct writer: %w", mapID, err)
	}

	records := generateRecords(mapID, numRecords)
	if err := w.Write(records); err != nil {
		if _, serr := w.Stop(false); serr != nil {
			logger.Error("stop(false) failed", "map_id", mapID, "error", serr)
		}
		return fmt.Errorf("map %d: write: %w", mapID, err)
	}

	status, err := w.Stop(true)
	if err != nil {
		return fmt.Errorf("map %d: stop(true): %w", mapID, err)
	}
	reg.RecordMapStatus(shuffleID, status)

	logger.Info("map task complete",
		"shuffle_id", shuffleID,
		"map_id", mapID,
		"partitions", len(status.PartitionLengths),
		"bytes_written", reporter.BytesWritten(),
		"records_written", reporter.RecordsWritten(),
		"peak_memory", w.PeakMemoryUsed(),
	)
	return nil
}

func generateRecords(mapID int64, n int) []shuffle.Record {
	records := make([]shuffle.Record, n)
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("key-%d-%d", mapID, i%997)
		value := fmt.Sprintf("value-%d-%d-payload", mapID, i)
		records[i] = shuffle.Record{Key: []byte(key), Value: []byte(value)}
	}
	return records
}
