// Package metrics provides the default WriteMetricsReporter, backed by
// atomic counters so it can be read concurrently with the single writer
// goroutine that updates it (spec §5: the memory manager may signal spill
// from another thread, and a caller may want to sample metrics mid-task).
package metrics

import (
	"sync/atomic"
	"time"
)

// TaskMetrics accumulates one map task's shuffle-write metrics.
type TaskMetrics struct {
	bytesWritten   atomic.Int64
	recordsWritten atomic.Int64
	writeTimeNanos atomic.Int64
}

func (t *TaskMetrics) IncBytesWritten(delta int64)   { t.bytesWritten.Add(delta) }
func (t *TaskMetrics) DecBytesWritten(delta int64)   { t.bytesWritten.Add(-delta) }
func (t *TaskMetrics) IncRecordsWritten(delta int64) { t.recordsWritten.Add(delta) }
func (t *TaskMetrics) IncWriteTime(d time.Duration)  { t.writeTimeNanos.Add(d.Nanoseconds()) }

func (t *TaskMetrics) BytesWritten() int64   { return t.bytesWritten.Load() }
func (t *TaskMetrics) RecordsWritten() int64 { return t.recordsWritten.Load() }
func (t *TaskMetrics) WriteTime() time.Duration {
	return time.Duration(t.writeTimeNanos.Load())
}
