package driver

import (
	"testing"

	"mapshuffle/internal/shuffle"
)

func TestRegistry_RecordAndQuery(t *testing.T) {
	r := NewRegistry()
	r.RecordMapStatus(1, shuffle.MapStatus{MapID: 0, PartitionLengths: []int64{10, 20}})
	r.RecordMapStatus(1, shuffle.MapStatus{MapID: 1, PartitionLengths: []int64{5, 15}})

	statuses := r.MapStatuses(1)
	if len(statuses) != 2 {
		t.Fatalf("len(MapStatuses) = %d, want 2", len(statuses))
	}

	total, err := r.PartitionTotal(1, 0)
	if err != nil {
		t.Fatalf("PartitionTotal: %v", err)
	}
	if total != 15 {
		t.Fatalf("PartitionTotal(shuffle 1, partition 0) = %d, want 15", total)
	}
	total1, err := r.PartitionTotal(1, 1)
	if err != nil {
		t.Fatalf("PartitionTotal: %v", err)
	}
	if total1 != 35 {
		t.Fatalf("PartitionTotal(shuffle 1, partition 1) = %d, want 35", total1)
	}
}

func TestRegistry_RecordMapStatusOverwritesSameMapID(t *testing.T) {
	r := NewRegistry()
	r.RecordMapStatus(1, shuffle.MapStatus{MapID: 0, PartitionLengths: []int64{1}})
	r.RecordMapStatus(1, shuffle.MapStatus{MapID: 0, PartitionLengths: []int64{99}})

	statuses := r.MapStatuses(1)
	if len(statuses) != 1 {
		t.Fatalf("len(MapStatuses) = %d, want 1 (re-execution should overwrite)", len(statuses))
	}
	if statuses[0].PartitionLengths[0] != 99 {
		t.Fatalf("PartitionLengths[0] = %d, want 99 (latest status should win)", statuses[0].PartitionLengths[0])
	}
}

func TestRegistry_PartitionTotalUnknownShuffleErrors(t *testing.T) {
	r := NewRegistry()
	if _, err := r.PartitionTotal(42, 0); err == nil {
		t.Fatal("expected error for unregistered shuffle id")
	}
}

func TestRegistry_PartitionTotalOutOfRangePartitionErrors(t *testing.T) {
	r := NewRegistry()
	r.RecordMapStatus(1, shuffle.MapStatus{MapID: 0, PartitionLengths: []int64{1, 2}})
	if _, err := r.PartitionTotal(1, 5); err == nil {
		t.Fatal("expected error for out-of-range partition")
	}
}

func TestRegistry_MapStatusesForUnknownShuffleIsEmpty(t *testing.T) {
	r := NewRegistry()
	statuses := r.MapStatuses(999)
	if len(statuses) != 0 {
		t.Fatalf("MapStatuses for unregistered shuffle = %v, want empty", statuses)
	}
}
