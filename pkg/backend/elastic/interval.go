package elastic

import (
	"fmt"
	"time"
)

// formatInterval renders d as fixed interval, e.g. "5m" or "1500ms".
func formatInterval(d time.Duration) string {
	switch {
	case d%(24*time.Hour) == 0:
		return fmt.Sprintf("%dd", d/(24*time.Hour))
	case d%time.Hour == 0:
		return fmt.Sprintf("%dh", d/time.Hour)
	case d%time.Minute == 0:
		return fmt.Sprintf("%dm", d/time.Minute)
	case d%time.Second == 0:
		return fmt.Sprintf("%ds", d/time.Second)
	default:
		return fmt.Sprintf("%dms", d/time.Millisecond)
	}
}

var autoIntervals = []time.Duration{
	time.Second,
	5 * time.Second,
	10 * time.Second,
	30 * time.Second,
	time.Minute,
	5 * time.Minute,
	10 * time.Minute,
	30 * time.Minute,
	time.Hour,
	3 * time.Hour,
	12 * time.Hour,
	24 * time.Hour,
	7 * 24 * time.Hour,
	30 * 24 * time.Hour,
}

// targetBuckets is the number of buckets autoInterval aims for.
const targetBuckets = 100

// autoInterval picks the smallest interval which splits a range of the given
// length into at most targetBuckets buckets.
func autoInterval(length time.Duration) time.Duration {
	for _, interval := range autoIntervals {
		if length/interval <= targetBuckets {
			return interval
		}
	}
	return autoIntervals[len(autoIntervals)-1]
}
