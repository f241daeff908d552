package timespec

import (
	"fmt"
	"strconv"
	"time"
)

// Parse parses a config time specification into a duration.
// Supports two formats:
//   - Go duration format: "3s", "500ms", "1m30s"
//   - bare numbers, interpreted as seconds: "3", "0.5"
//
// Bare numbers keep kitchen files terse for the common whole-second case.
func Parse(spec string) (time.Duration, error) {
	if spec == "" {
		return 0, fmt.Errorf("empty time specification")
	}

	if d, err := time.ParseDuration(spec); err == nil {
		if d < 0 {
			return 0, fmt.Errorf("negative time specification: %s", spec)
		}
		return d, nil
	}

	if seconds, err := strconv.ParseFloat(spec, 64); err == nil {
		if seconds < 0 {
			return 0, fmt.Errorf("negative time specification: %s", spec)
		}
		return time.Duration(seconds * float64(time.Second)), nil
	}

	return 0, fmt.Errorf("invalid time specification: %s (use a duration like '1m30s' or seconds like '2.5')", spec)
}

// Range is a multiplicative variation range applied to simulated action
// durations.
type Range struct {
	Min float64
	Max float64
}

// ParseRange validates a two-element variation range.
func ParseRange(bounds []float64) (Range, error) {
	if len(bounds) != 2 {
		return Range{}, fmt.Errorf("variation must have exactly two elements, got %d", len(bounds))
	}
	r := Range{Min: bounds[0], Max: bounds[1]}
	if r.Min <= 0 {
		return Range{}, fmt.Errorf("variation lower bound must be positive, got %v", r.Min)
	}
	if r.Max < r.Min {
		return Range{}, fmt.Errorf("variation upper bound %v is below lower bound %v", r.Max, r.Min)
	}
	return r, nil
}
