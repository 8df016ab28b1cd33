package shuffle

import (
	"errors"
	"fmt"
)

// Sentinel errors forming the taxonomy of spec.md §7. Use errors.Is to test
// for these; IOError conditions are plain wrapped errors (fmt.Errorf with
// %w), not a distinct sentinel, matching the teacher's error-handling idiom.
var (
	// ErrConfiguration is returned at construction time when the requested
	// partition count exceeds the configured ceiling.
	ErrConfiguration = errors.New("shuffle: invalid configuration")

	// ErrOutOfMemory is returned by the sorter when the memory manager
	// refuses an allocation even after a spill attempt.
	ErrOutOfMemory = errors.New("shuffle: out of memory")

	// ErrIllegalState covers stop(true) without a prior write, re-entrant
	// spill, and use of a writer after stop.
	ErrIllegalState = errors.New("shuffle: illegal state")
)

// CleanupError wraps a secondary failure encountered while cleaning up after
// a primary error. It never replaces the primary error; callers that care
// only about the primary error should unwrap once.
type CleanupError struct {
	Primary error
	Cleanup error
}

func (e *CleanupError) Error() string {
	return fmt.Sprintf("%v (cleanup also failed: %v)", e.Primary, e.Cleanup)
}

func (e *CleanupError) Unwrap() error { return e.Primary }

// newCleanupError attaches a cleanup failure to a primary error without
// masking it. If primary is nil there is nothing to preserve, so the
// cleanup error is surfaced directly.
func newCleanupError(primary, cleanup error) error {
	if primary == nil {
		return cleanup
	}
	return &CleanupError{Primary: primary, Cleanup: cleanup}
}
