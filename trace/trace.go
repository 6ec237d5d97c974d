// Copyright 2024 Parallel Software and Systems Group, University of
// Maryland. See the top-level LICENSE file for details.
//
// SPDX-License-Identifier: MIT

package trace

import (
	"sort"
)

// StreamKey identifies one (process, thread) event stream within a Trace.
type StreamKey struct {
	Process int
	Thread  int
}

// Stream is the ordered subsequence of a Trace's events belonging to one
// (process, thread) pair.  Events holds indices into the Trace's global
// event sequence, in input order.
type Stream struct {
	Key    StreamKey
	Events []int
}

// Trace owns a normalized event sequence and its per-stream grouping.  A
// Trace is immutable after construction; the analysis packages attach
// derived columns alongside it rather than mutating it.
type Trace struct {
	events    []Event
	streams   []Stream
	byKey     map[StreamKey]int
	processes []int
}

// New returns a Trace over the provided events.  Event indices are assigned
// from the events' positions in the slice; any Index values already present
// are overwritten.  Events are grouped into (process, thread) streams in
// input order.  Streams are reported in ascending (process, thread) order
// regardless of the order in which they first appear.
func New(events []Event) *Trace {
	t := &Trace{
		events: events,
		byKey:  map[StreamKey]int{},
	}
	procs := map[int]struct{}{}
	for i := range events {
		events[i].Index = i
		key := StreamKey{Process: events[i].Process, Thread: events[i].Thread}
		pos, ok := t.byKey[key]
		if !ok {
			pos = len(t.streams)
			t.streams = append(t.streams, Stream{Key: key})
			t.byKey[key] = pos
		}
		t.streams[pos].Events = append(t.streams[pos].Events, i)
		procs[events[i].Process] = struct{}{}
	}
	sort.Slice(t.streams, func(a, b int) bool {
		if t.streams[a].Key.Process != t.streams[b].Key.Process {
			return t.streams[a].Key.Process < t.streams[b].Key.Process
		}
		return t.streams[a].Key.Thread < t.streams[b].Key.Thread
	})
	for pos, s := range t.streams {
		t.byKey[s.Key] = pos
	}
	for p := range procs {
		t.processes = append(t.processes, p)
	}
	sort.Ints(t.processes)
	return t
}

// Events returns the trace's global event sequence.  The returned slice is
// owned by the Trace and must not be modified.
func (t *Trace) Events() []Event {
	return t.events
}

// NumEvents returns the number of events in the trace.
func (t *Trace) NumEvents() int {
	return len(t.events)
}

// At returns the event with the provided index.
func (t *Trace) At(index int) *Event {
	return &t.events[index]
}

// Streams returns the trace's (process, thread) streams in ascending key
// order.
func (t *Trace) Streams() []Stream {
	return t.streams
}

// Stream returns the stream with the provided key, or nil if the trace has
// no events for that key.
func (t *Trace) Stream(process, thread int) *Stream {
	pos, ok := t.byKey[StreamKey{Process: process, Thread: thread}]
	if !ok {
		return nil
	}
	return &t.streams[pos]
}

// Processes returns the sorted set of process ids observed in the trace.
func (t *Trace) Processes() []int {
	return t.processes
}

// TimeRange returns the earliest and latest timestamps in the trace.  ok is
// false for an empty trace.
func (t *Trace) TimeRange() (min, max Time, ok bool) {
	if len(t.events) == 0 {
		return 0, 0, false
	}
	min, max = t.events[0].Timestamp, t.events[0].Timestamp
	for i := 1; i < len(t.events); i++ {
		ts := t.events[i].Timestamp
		if ts < min {
			min = ts
		}
		if ts > max {
			max = ts
		}
	}
	return min, max, true
}
