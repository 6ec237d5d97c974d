// Copyright 2024 Parallel Software and Systems Group, University of
// Maryland. See the top-level LICENSE file for details.
//
// SPDX-License-Identifier: MIT

package metrics

import (
	"sort"

	"github.com/hpcgroup/pipit-sub000/trace"
)

// FlatProfileRow aggregates the time spent in all calls sharing one name.
type FlatProfileRow struct {
	Name string
	// Count is the number of matched calls with this name.
	Count int
	// Inclusive is the summed inclusive time of this name's calls.
	Inclusive trace.Dur
	// Exclusive is the summed exclusive time of this name's calls.
	Exclusive trace.Dur
}

// FlatProfile aggregates the matched Enter events of the provided trace by
// name, summing their exclusive and inclusive times.  Rows are sorted by
// descending exclusive time, ties broken by name.
func FlatProfile(t *trace.Trace, r *Result) []FlatProfileRow {
	byName := map[string]*FlatProfileRow{}
	for idx := 0; idx < t.NumEvents(); idx++ {
		if !r.Defined(idx) {
			continue
		}
		name := t.At(idx).Name
		row, ok := byName[name]
		if !ok {
			row = &FlatProfileRow{Name: name}
			byName[name] = row
		}
		row.Count++
		row.Inclusive += r.Inclusive[idx]
		row.Exclusive += r.Exclusive[idx]
	}
	rows := make([]FlatProfileRow, 0, len(byName))
	for _, row := range byName {
		rows = append(rows, *row)
	}
	sort.Slice(rows, func(a, b int) bool {
		if rows[a].Exclusive != rows[b].Exclusive {
			return rows[a].Exclusive > rows[b].Exclusive
		}
		return rows[a].Name < rows[b].Name
	})
	return rows
}

// TimeBin is one bucket of a time-binned profile.  The bucket covers
// [Start, End); the final bucket of a profile is closed at both ends so the
// trace's last timestamp has a home.
type TimeBin struct {
	Start, End trace.Time
	// Exclusive holds the summed exclusive time per name of the matched
	// calls entered within this bucket.
	Exclusive map[string]trace.Dur
}

// TimeProfile splits the trace's timestamp range into bins buckets of equal
// width and aggregates exclusive time by name within each, attributing each
// matched call to the bucket containing its Enter timestamp.  Returns nil
// for an empty trace or a non-positive bin count.
func TimeProfile(t *trace.Trace, r *Result, bins int) []TimeBin {
	min, max, ok := t.TimeRange()
	if !ok || bins <= 0 {
		return nil
	}
	width := (max - min) / trace.Time(bins)
	if width <= 0 {
		width = 1
	}
	out := make([]TimeBin, bins)
	for b := range out {
		out[b].Start = min + trace.Time(b)*width
		out[b].End = out[b].Start + width
		out[b].Exclusive = map[string]trace.Dur{}
	}
	// The final bucket absorbs rounding slack and is closed at max.
	out[bins-1].End = max
	for idx := 0; idx < t.NumEvents(); idx++ {
		if !r.Defined(idx) {
			continue
		}
		ev := t.At(idx)
		b := int((ev.Timestamp - min) / width)
		if b >= bins {
			b = bins - 1
		}
		out[b].Exclusive[ev.Name] += r.Exclusive[idx]
	}
	return out
}
