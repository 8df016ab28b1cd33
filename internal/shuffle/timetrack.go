package shuffle

import (
	"io"
	"time"
)

// timeTrackingWriter reports the wall-clock time spent in each Write call to
// a WriteMetricsReporter as that call returns. It is always the
// outermost layer of a stream-merge wrapper chain so its timing covers
// every inner codec's work too.
type timeTrackingWriter struct {
	inner    io.WriteCloser
	reporter WriteMetricsReporter
}

func trackWriteTime(inner io.WriteCloser, reporter WriteMetricsReporter) *timeTrackingWriter {
	return &timeTrackingWriter{inner: inner, reporter: reporter}
}

func (t *timeTrackingWriter) Write(p []byte) (int, error) {
	start := time.Now()
	n, err := t.inner.Write(p)
	t.reporter.IncWriteTime(time.Since(start))
	return n, err
}

func (t *timeTrackingWriter) Close() error {
	return t.inner.Close()
}
