package viewer

import "sort"

// DefaultThresholds are the visibility ratios a page reports changes at.
var DefaultThresholds = []float64{.2, .4, .5, .6, .8, 1}

// IntersectionEntry is one viewport observation of a page.
type IntersectionEntry struct {
	IsIntersecting    bool    `json:"is_intersecting"`
	IntersectionRatio float64 `json:"intersection_ratio"`
}

// Tracker turns raw visibility ratios into entries the way browser
// intersection observers do: an entry is produced only when the ratio moves
// across a threshold or the intersecting flag flips.
type Tracker struct {
	thresholds []float64
	seen       bool
	bucket     int
	last       IntersectionEntry
}

// NewTracker copies and sorts thresholds; nil means DefaultThresholds.
func NewTracker(thresholds []float64) *Tracker {
	return &Tracker{thresholds: normalizeThresholds(thresholds)}
}

func normalizeThresholds(th []float64) []float64 {
	if len(th) == 0 {
		th = DefaultThresholds
	}
	out := append([]float64(nil), th...)
	sort.Float64s(out)
	return out
}

// Observe feeds a ratio in [0, 1]. The bool is false when nothing crossed.
func (t *Tracker) Observe(ratio float64) (IntersectionEntry, bool) {
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}
	entry := IntersectionEntry{IsIntersecting: ratio > 0, IntersectionRatio: ratio}
	bucket := sort.SearchFloat64s(t.thresholds, ratio)
	if bucket < len(t.thresholds) && t.thresholds[bucket] == ratio {
		bucket++
	}
	changed := !t.seen || bucket != t.bucket || entry.IsIntersecting != t.last.IsIntersecting
	t.seen = true
	t.bucket = bucket
	if !changed {
		return t.last, false
	}
	t.last = entry
	return entry, true
}
