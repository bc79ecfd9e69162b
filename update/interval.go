// Package update provides the host tick source: the periodic event that
// drives the scheduler once per frame.
package update

import (
	"fmt"
	"strings"
	"time"
)

// Interval is a tick-rate preset in milliseconds.
type Interval int

const (
	Fast   Interval = 16  // 16ms - ~60 frames per second, smooth previews
	Medium Interval = 33  // 33ms - ~30 frames per second
	Slow   Interval = 100 // 100ms - idle editor refresh
)

// Duration returns the interval as a time.Duration. Panics on invalid value.
func (i Interval) Duration() time.Duration {
	switch i {
	case Fast, Medium, Slow:
		return time.Duration(i) * time.Millisecond
	default:
		panic(fmt.Sprintf("invalid update.Interval: %d (must be Fast/Medium/Slow)", i))
	}
}

// String returns string representation.
func (i Interval) String() string {
	switch i {
	case Fast:
		return "Fast(16ms)"
	case Medium:
		return "Medium(33ms)"
	case Slow:
		return "Slow(100ms)"
	default:
		return fmt.Sprintf("Invalid(%d)", i)
	}
}

// ParseInterval accepts "fast", "medium" or "slow" (any case).
func ParseInterval(s string) (Interval, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fast":
		return Fast, nil
	case "medium":
		return Medium, nil
	case "slow":
		return Slow, nil
	default:
		return 0, fmt.Errorf("invalid tick rate %q (must be fast, medium or slow)", s)
	}
}
