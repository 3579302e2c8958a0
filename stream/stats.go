//go:build linux
// +build linux

package stream

import (
	"fmt"
	"time"
)

// timeStats tracks min / max / average of a duration over one statistics
// period
type timeStats struct {
	min, max, total time.Duration
	count           int64
}

func (t *timeStats) update(d time.Duration) {
	if t.count == 0 || d < t.min {
		t.min = d
	}
	if d > t.max {
		t.max = d
	}
	t.total += d
	t.count++
}

func (t *timeStats) average() time.Duration {
	if t.count == 0 {
		return 0
	}
	return t.total / time.Duration(t.count)
}

func (t *timeStats) reset() {
	*t = timeStats{}
}

func (t *timeStats) String() string {
	return fmt.Sprintf("min: %s, max: %s, avg: %s (n: %d)", t.min, t.max, t.average(), t.count)
}
