package importer

import (
	"time"
)

// ImportStats is the aggregate progress of one batch.
type ImportStats struct {
	CompletedBytes int64
	TotalBytes     int64
	RateInBytes    float64
	Elapsed        time.Duration
}

// statsThrottle limits progress publication to at most once per interval
// unless at least byteDelta new bytes have completed since the last publish.
type statsThrottle struct {
	interval    time.Duration
	byteDelta   int64
	lastPublish time.Time
	lastBytes   int64
}

func newStatsThrottle(interval time.Duration, byteDelta int64) *statsThrottle {
	return &statsThrottle{interval: interval, byteDelta: byteDelta}
}

// shouldPublish reports whether a progress update is due and records the
// publish when it is. Terminal updates bypass the throttle via force.
func (t *statsThrottle) shouldPublish(now time.Time, completedBytes int64, force bool) bool {
	if !force &&
		now.Sub(t.lastPublish) < t.interval &&
		completedBytes-t.lastBytes < t.byteDelta {
		return false
	}
	t.lastPublish = now
	t.lastBytes = completedBytes
	return true
}
