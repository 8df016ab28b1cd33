// Package driver is a minimal driver-side registry of shuffle map outputs,
// adapted from the teacher's JobStore (internal/storage/memory.go) and
// WorkerRegistry (internal/master/registry.go): a mutex-guarded map plus
// query helpers, generalized from job/task reports to shuffle map statuses.
// The spec scopes the real driver-side registration and transport protocol
// out (spec.md §1's out-of-scope list); this exists only so cmd/mapwrite has
// somewhere to hand the MapStatus a real driver would receive over RPC.
package driver

import (
	"fmt"
	"sync"

	"mapshuffle/internal/shuffle"
)

// Registry records, per shuffle id, the MapStatus reported by each map task
// that has finished writing its output.
type Registry struct {
	mu        sync.RWMutex
	byShuffle map[int64]map[int64]shuffle.MapStatus
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{byShuffle: make(map[int64]map[int64]shuffle.MapStatus)}
}

// RecordMapStatus stores the output status for one map task, overwriting
// any previous registration for the same (shuffleID, mapID) pair — a
// re-executed map task's latest status wins.
func (r *Registry) RecordMapStatus(shuffleID int64, status shuffle.MapStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	byMap, ok := r.byShuffle[shuffleID]
	if !ok {
		byMap = make(map[int64]shuffle.MapStatus)
		r.byShuffle[shuffleID] = byMap
	}
	byMap[status.MapID] = status
}

// MapStatuses returns every registered status for a shuffle id, in no
// particular order.
func (r *Registry) MapStatuses(shuffleID int64) []shuffle.MapStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	byMap := r.byShuffle[shuffleID]
	out := make([]shuffle.MapStatus, 0, len(byMap))
	for _, s := range byMap {
		out = append(out, s)
	}
	return out
}

// PartitionTotal sums partition p's bytes across every map task registered
// for shuffleID — the total a reduce task fetching partition p would expect
// to read.
func (r *Registry) PartitionTotal(shuffleID int64, partition int) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	byMap, ok := r.byShuffle[shuffleID]
	if !ok {
		return 0, fmt.Errorf("driver: no map statuses registered for shuffle %d", shuffleID)
	}
	var total int64
	for _, status := range byMap {
		if partition >= len(status.PartitionLengths) {
			return 0, fmt.Errorf("driver: map %d has %d partitions, asked for %d", status.MapID, len(status.PartitionLengths), partition)
		}
		total += status.PartitionLengths[partition]
	}
	return total, nil
}
