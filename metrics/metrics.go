// Copyright 2024 Parallel Software and Systems Group, University of
// Maryland. See the top-level LICENSE file for details.
//
// SPDX-License-Identifier: MIT

// Package metrics derives per-event time metrics from matched traces:
// inclusive time (the full extent of a call, Enter to matching Leave) and
// exclusive time (inclusive time minus the inclusive time of the call's
// direct children).
//
// Both columns are defined only for matched Enter events.  Times are
// expected to be non-negative; a negative inclusive or exclusive value
// indicates a matching or nesting anomaly upstream and is reported as a
// NegativeDuration anomaly, with the computed value kept as-is so
// downstream analysis can observe it.
package metrics

import (
	"fmt"

	"github.com/hpcgroup/pipit-sub000/match"
	"github.com/hpcgroup/pipit-sub000/trace"
)

// Result holds the derived time columns for a trace, indexed by event
// index.  Entries are only meaningful for events with Defined(index) true.
type Result struct {
	// Inclusive holds matching_timestamp − timestamp per matched Enter.
	Inclusive []trace.Dur
	// Exclusive holds each matched Enter's inclusive time minus the summed
	// inclusive time of its direct children; equal to Inclusive for leaf
	// calls.
	Exclusive []trace.Dur
	// Anomalies accumulates NegativeDuration anomalies, in ascending event
	// order.
	Anomalies []trace.Anomaly

	defined []bool
}

// Defined returns true if the metric columns are defined for the event with
// the provided index: that is, if it is a matched Enter event.
func (r *Result) Defined(index int) bool {
	return r.defined[index]
}

// Compute derives the inclusive and exclusive time columns for the provided
// matched trace.  The pass is a single bounded scan: inclusive times come
// straight from the matching columns, and each call's inclusive time is
// then subtracted from its direct parent's exclusive time.
func Compute(t *trace.Trace, m *match.Result) *Result {
	n := t.NumEvents()
	r := &Result{
		Inclusive: make([]trace.Dur, n),
		Exclusive: make([]trace.Dur, n),
		defined:   make([]bool, n),
	}
	for idx := 0; idx < n; idx++ {
		ev := t.At(idx)
		if ev.Kind != trace.Enter || !m.Matched(idx) {
			continue
		}
		r.defined[idx] = true
		r.Inclusive[idx] = m.MatchingTimestamp[idx] - ev.Timestamp
		r.Exclusive[idx] = r.Inclusive[idx]
	}
	for idx := 0; idx < n; idx++ {
		if !r.defined[idx] {
			continue
		}
		if parent := m.Parent[idx]; parent != match.None && r.defined[parent] {
			r.Exclusive[parent] -= r.Inclusive[idx]
		}
	}
	for idx := 0; idx < n; idx++ {
		if !r.defined[idx] {
			continue
		}
		if r.Inclusive[idx] < 0 {
			r.Anomalies = append(r.Anomalies, trace.Anomaly{
				Kind:   trace.NegativeDuration,
				Event:  idx,
				Detail: fmt.Sprintf("inclusive time %d", r.Inclusive[idx]),
			})
		} else if r.Exclusive[idx] < 0 {
			r.Anomalies = append(r.Anomalies, trace.Anomaly{
				Kind:   trace.NegativeDuration,
				Event:  idx,
				Detail: fmt.Sprintf("exclusive time %d", r.Exclusive[idx]),
			})
		}
	}
	return r
}
