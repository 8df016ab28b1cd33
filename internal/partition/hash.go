// Package partition provides the default Partitioner collaborator. The
// teacher hashes keys with fnv32a (internal/worker/executor.go,
// getPartitionID); this generalizes that to xxhash, following
// tamirms-streamhash's choice of github.com/cespare/xxhash/v2 for the same
// "hash an opaque key to a bucket" job.
package partition

import "github.com/cespare/xxhash/v2"

// HashPartitioner assigns a key to partition hash(key) % NumPartitions.
type HashPartitioner struct {
	numPartitions int
}

// New constructs a HashPartitioner with the given number of output buckets.
// A numPartitions below 1 is clamped to 1.
func New(numPartitions int) HashPartitioner {
	if numPartitions < 1 {
		numPartitions = 1
	}
	return HashPartitioner{numPartitions: numPartitions}
}

func (p HashPartitioner) GetPartition(key []byte) int {
	return int(xxhash.Sum64(key) % uint64(p.numPartitions))
}

func (p HashPartitioner) NumPartitions() int {
	return p.numPartitions
}
