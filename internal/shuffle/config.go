package shuffle

import (
	"fmt"
	"strconv"
)

// Recognized configuration keys, spec.md §6. The fast-merge key has a
// misspelled alias from the original source (spec.md §9); both resolve to
// the same field. LoadConfig reads the alias first and the canonical key
// second, so the canonical key wins when both are set.
const (
	KeyCompress              = "shuffle.compress"
	KeyFastMergeEnabled      = "shuffle.unsafe.fast-merge.enabled"
	KeyFastMergeEnabledAlias = "SHUFFLE_UNDAFE_FAST_MERGE_ENABLE"
	KeyTransferTo            = "shuffle.file.transferTo"
	KeyInitBufferSize        = "shuffle.sort.init-buffer-size"
	KeyFileBufferSizeKB      = "shuffle.file.buffer-size"
	KeyOutputBufferSizeKB    = "shuffle.unsafe.file.output-buffer-size"
)

// DefaultPartitionCeiling bounds the serialized-mode partition count, per
// spec.md §6's "Ceiling". 1<<24 matches the packed-pointer layout in
// sorter.go, which reserves 24 bits for the partition id.
const DefaultPartitionCeiling = 1 << 24

// Config holds the parsed, validated recognized options.
type Config struct {
	Compress           bool
	FastMergeEnabled   bool
	TransferToEnabled  bool
	InitBufferSize     int
	FileBufferSizeKB   int
	OutputBufferSizeKB int
	PartitionCeiling   int
}

// DefaultConfig matches spec.md §6's stated defaults plus SPEC_FULL.md §6's
// additions for options spec.md leaves unspecified.
func DefaultConfig() Config {
	return Config{
		Compress:           false,
		FastMergeEnabled:   false,
		TransferToEnabled:  false,
		InitBufferSize:     4096,
		FileBufferSizeKB:   32,
		OutputBufferSizeKB: 32,
		PartitionCeiling:   DefaultPartitionCeiling,
	}
}

// LoadConfig overlays string-valued options (as they would arrive from a
// generic key/value configuration source) onto DefaultConfig.
func LoadConfig(opts map[string]string) (Config, error) {
	cfg := DefaultConfig()

	if v, ok := opts[KeyCompress]; ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", KeyCompress, err)
		}
		cfg.Compress = b
	}

	fastMerge, hasFastMerge := opts[KeyFastMergeEnabled]
	fastMergeAlias, hasAlias := opts[KeyFastMergeEnabledAlias]
	if hasAlias {
		b, err := strconv.ParseBool(fastMergeAlias)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", KeyFastMergeEnabledAlias, err)
		}
		cfg.FastMergeEnabled = b
	}
	if hasFastMerge {
		b, err := strconv.ParseBool(fastMerge)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", KeyFastMergeEnabled, err)
		}
		cfg.FastMergeEnabled = b
	}

	if v, ok := opts[KeyTransferTo]; ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", KeyTransferTo, err)
		}
		cfg.TransferToEnabled = b
	}

	if v, ok := opts[KeyInitBufferSize]; ok {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("%s: invalid value %q", KeyInitBufferSize, v)
		}
		cfg.InitBufferSize = n
	}

	if v, ok := opts[KeyFileBufferSizeKB]; ok {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("%s: invalid value %q", KeyFileBufferSizeKB, v)
		}
		cfg.FileBufferSizeKB = n
	}

	if v, ok := opts[KeyOutputBufferSizeKB]; ok {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("%s: invalid value %q", KeyOutputBufferSizeKB, v)
		}
		cfg.OutputBufferSizeKB = n
	}

	return cfg, nil
}

// CheckPartitionCeiling enforces the ceiling at construction time, before
// any sorter resource is allocated.
func (c Config) CheckPartitionCeiling(numPartitions int) error {
	ceiling := c.PartitionCeiling
	if ceiling <= 0 {
		ceiling = DefaultPartitionCeiling
	}
	if numPartitions > ceiling {
		return fmt.Errorf("%w: %d partitions exceeds ceiling %d", ErrConfiguration, numPartitions, ceiling)
	}
	return nil
}
