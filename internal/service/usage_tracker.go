package service

import (
	"fmt"

	"github.com/devrev/pairdb/storage-rent/internal/errors"
)

// UsageReader exposes the host's running byte-usage counter
type UsageReader interface {
	StorageUsage() uint64
}

// UsageTracker measures the byte delta of one bracketed mutation.
// Idle -> Track -> Tracking{baseline} -> Finish -> Idle.
type UsageTracker struct {
	tracking bool
	baseline uint64
}

// NewUsageTracker creates an idle tracker
func NewUsageTracker() *UsageTracker {
	return &UsageTracker{}
}

// IsTracking reports whether a measurement is in progress
func (t *UsageTracker) IsTracking() bool {
	return t.tracking
}

// Track records the current usage as the baseline
func (t *UsageTracker) Track(r UsageReader) error {
	if t.tracking {
		return errors.TrackerState("storage tracking is already enabled")
	}
	t.baseline = r.StorageUsage()
	t.tracking = true
	return nil
}

// Finish returns base adjusted by the usage delta since Track. The tracker
// is idle afterwards even when the adjustment fails.
func (t *UsageTracker) Finish(r UsageReader, base uint64) (uint64, error) {
	if !t.tracking {
		return 0, errors.TrackerState("storage tracking is not enabled")
	}

	now := r.StorageUsage()
	baseline := t.baseline
	t.reset()

	if now >= baseline {
		grown := now - baseline
		if base > ^uint64(0)-grown {
			return 0, errors.Overflow("storage usage").
				WithDetail("base", base).
				WithDetail("delta", grown)
		}
		return base + grown, nil
	}

	shrunk := baseline - now
	if shrunk > base {
		return 0, errors.Overflow("storage usage").
			WithDetail("base", base).
			WithDetail("delta", fmt.Sprintf("-%d", shrunk))
	}
	return base - shrunk, nil
}

// reset returns the tracker to Idle. The runtime calls it when rolling back
// a failed call.
func (t *UsageTracker) reset() {
	t.tracking = false
	t.baseline = 0
}
