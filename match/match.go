// Copyright 2024 Parallel Software and Systems Group, University of
// Maryland. See the top-level LICENSE file for details.
//
// SPDX-License-Identifier: MIT

// Package match pairs Enter and Leave events within each (process, thread)
// stream of a trace, and derives the call-structure columns the rest of the
// analysis builds upon: each event's matching partner, its nesting depth,
// and its direct caller.
//
// Matching is a single pass per stream with an explicit stack, O(n) time and
// O(max nesting depth) space.  It is tolerant: a Leave is matched with the
// Enter on top of the stack regardless of name equality, with differing
// names reported as a NameMismatch anomaly.  A Leave with no open Enter, or
// Enters still open at stream end (trace truncation), are reported as
// anomalies and never silently matched to unrelated events.  Anomalies are
// accumulated and returned alongside the columns; only a non-monotonic
// timestamp within a stream aborts the pass, since it voids the stack
// discipline itself.
package match

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/hpcgroup/pipit-sub000/trace"
)

// None marks an absent value in the derived integer columns.
const None = -1

// Result holds the derived matching columns for a trace.  Each column is
// indexed by event index; None marks events for which the column is not
// defined (Instants in the matching columns and Depth, Leave/Enter events
// whose partner is missing, events outside any call in Parent).
type Result struct {
	// MatchingIndex holds, for each matched Enter or Leave, the index of
	// its partner event.
	MatchingIndex []int
	// MatchingTimestamp holds the partner event's timestamp.  It is only
	// meaningful where MatchingIndex is not None.
	MatchingTimestamp []trace.Time
	// Depth holds each Enter event's nesting level; root calls are depth 0.
	Depth []int
	// Parent holds the event index of each Enter event's direct caller
	// and, for Instant events, the innermost Enter open at their position.
	Parent []int
	// Anomalies accumulates the per-event anomalies observed during
	// matching, in ascending event order.
	Anomalies []trace.Anomaly
}

// Matched returns true if the event with the provided index was paired with
// a partner.
func (r *Result) Matched(index int) bool {
	return r.MatchingIndex[index] != None
}

func newResult(n int) *Result {
	r := &Result{
		MatchingIndex:     make([]int, n),
		MatchingTimestamp: make([]trace.Time, n),
		Depth:             make([]int, n),
		Parent:            make([]int, n),
	}
	for i := 0; i < n; i++ {
		r.MatchingIndex[i] = None
		r.Depth[i] = None
		r.Parent[i] = None
	}
	return r
}

// A frame on the matching stack: one open Enter event.
type frame struct {
	index     int
	timestamp trace.Time
	name      string
}

// Stream matches one stream's events into the provided Result, whose
// columns must already cover every event index in the stream, and returns
// the anomalies observed.  Distinct streams write disjoint column slots, so
// Stream may be invoked concurrently for different streams over a shared
// Result as long as the caller merges the returned anomalies itself.
func Stream(t *trace.Trace, s *trace.Stream, r *Result) ([]trace.Anomaly, error) {
	var anomalies []trace.Anomaly
	var stack []frame
	prev := trace.Time(0)
	for pos, idx := range s.Events {
		ev := t.At(idx)
		if pos > 0 && ev.Timestamp < prev {
			return nil, &trace.InputOrderingError{
				Stream:    s.Key,
				Event:     idx,
				Timestamp: ev.Timestamp,
				Previous:  prev,
			}
		}
		prev = ev.Timestamp
		switch ev.Kind {
		case trace.Enter:
			r.Depth[idx] = len(stack)
			if len(stack) > 0 {
				r.Parent[idx] = stack[len(stack)-1].index
			}
			stack = append(stack, frame{index: idx, timestamp: ev.Timestamp, name: ev.Name})
		case trace.Leave:
			if len(stack) == 0 {
				anomalies = append(anomalies, trace.Anomaly{
					Kind:  trace.UnmatchedLeave,
					Event: idx,
				})
				continue
			}
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			r.MatchingIndex[top.index] = idx
			r.MatchingTimestamp[top.index] = ev.Timestamp
			r.MatchingIndex[idx] = top.index
			r.MatchingTimestamp[idx] = top.timestamp
			r.Depth[idx] = r.Depth[top.index]
			r.Parent[idx] = r.Parent[top.index]
			if top.name != ev.Name {
				anomalies = append(anomalies, trace.Anomaly{
					Kind:   trace.NameMismatch,
					Event:  idx,
					Detail: fmt.Sprintf("Leave %q closes Enter %q (event %d)", ev.Name, top.name, top.index),
				})
			}
		case trace.Instant:
			// Not pushed, but the innermost open call is recorded so
			// later phases can recover the enclosing interval.
			if len(stack) > 0 {
				r.Parent[idx] = stack[len(stack)-1].index
			}
		}
	}
	// Frames still open at stream end are open calls at trace truncation.
	for _, f := range stack {
		anomalies = append(anomalies, trace.Anomaly{
			Kind:  trace.UnmatchedEnter,
			Event: f.index,
		})
	}
	return anomalies, nil
}

// Events matches every stream of the provided trace, running streams
// concurrently.  The returned Result's anomalies are ordered by event
// index, so matching is deterministic and idempotent: the same trace always
// yields identical columns and anomaly order.  If any stream's timestamps
// are non-monotonic, Events returns a nil Result and the joined
// InputOrderingErrors; no partial columns escape.
func Events(ctx context.Context, t *trace.Trace) (*Result, error) {
	r := newResult(t.NumEvents())
	streams := t.Streams()
	perStream := make([][]trace.Anomaly, len(streams))
	g, ctx := errgroup.WithContext(ctx)
	for i := range streams {
		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			anomalies, err := Stream(t, &streams[i], r)
			if err != nil {
				return err
			}
			perStream[i] = anomalies
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for _, anomalies := range perStream {
		r.Anomalies = append(r.Anomalies, anomalies...)
	}
	sort.SliceStable(r.Anomalies, func(a, b int) bool {
		return r.Anomalies[a].Event < r.Anomalies[b].Event
	})
	return r, nil
}

// IsOrderingError returns the InputOrderingError wrapped in err, if any.
func IsOrderingError(err error) (*InputOrdering, bool) {
	var oe *trace.InputOrderingError
	if errors.As(err, &oe) {
		return oe, true
	}
	return nil, false
}

// InputOrdering aliases the trace package's ordering error for callers that
// only import match.
type InputOrdering = trace.InputOrderingError
