package timeline

import (
	"sort"
	"time"
)

// Classify returns the index of the interval containing at. Intervals must be
// sorted by Start. Points before the first interval are unmatched.
func Classify(at time.Time, intervals []Interval) (int, bool) {
	i := sort.Search(len(intervals), func(i int) bool {
		return intervals[i].Start.After(at)
	})
	if i == 0 {
		return -1, false
	}
	if !intervals[i-1].Contains(at) {
		return -1, false
	}
	return i - 1, true
}
