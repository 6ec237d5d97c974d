// Copyright 2024 Parallel Software and Systems Group, University of
// Maryland. See the top-level LICENSE file for details.
//
// SPDX-License-Identifier: MIT

package trace

import (
	"fmt"
	"strings"
)

// AnomalyKind enumerates the per-event data anomalies the analysis packages
// can detect.  Anomalies are accumulated and returned alongside results;
// they never abort processing.
type AnomalyKind uint8

const (
	// UnmatchedLeave reports a Leave event observed with no open Enter on
	// its stream's stack.  The event's matching columns are left absent.
	UnmatchedLeave AnomalyKind = iota
	// UnmatchedEnter reports an Enter event still open at the end of its
	// stream (an open call at trace truncation).
	UnmatchedEnter
	// NameMismatch reports a Leave whose name differs from the Enter it was
	// matched with by stack order.  The match is still recorded.
	NameMismatch
	// NegativeDuration reports an inclusive or exclusive time computed as
	// negative, indicating a matching or nesting anomaly upstream.  The
	// value is reported as computed, never clamped.
	NegativeDuration
)

func (k AnomalyKind) String() string {
	switch k {
	case UnmatchedLeave:
		return "unmatched Leave"
	case UnmatchedEnter:
		return "unmatched Enter"
	case NameMismatch:
		return "name mismatch"
	case NegativeDuration:
		return "negative duration"
	default:
		return fmt.Sprintf("AnomalyKind(%d)", uint8(k))
	}
}

// Anomaly is a non-fatal per-event data anomaly.
type Anomaly struct {
	Kind   AnomalyKind
	Event  int
	Detail string
}

func (a Anomaly) String() string {
	if a.Detail == "" {
		return fmt.Sprintf("event %d: %v", a.Event, a.Kind)
	}
	return fmt.Sprintf("event %d: %v: %s", a.Event, a.Kind, a.Detail)
}

// InputOrderingError reports timestamps that are not monotonically
// non-decreasing within a single (process, thread) stream.  It is fatal for
// that stream's matching pass: the stack discipline cannot be guaranteed.
type InputOrderingError struct {
	Stream    StreamKey
	Event     int
	Timestamp Time
	Previous  Time
}

func (e *InputOrderingError) Error() string {
	return fmt.Sprintf(
		"non-monotonic timestamps in stream (process %d, thread %d): event %d at %d precedes previous timestamp %d",
		e.Stream.Process, e.Stream.Thread, e.Event, e.Timestamp, e.Previous)
}

// GraphConsistencyError reports an internal consistency failure in the
// partition graph: a cycle surviving SCC merging, or a reference to an
// absorbed partition id.  It indicates an implementation bug, not bad user
// input, and aborts the partition analysis; no partial graph is returned.
type GraphConsistencyError struct {
	Op         string
	Partitions []int
}

func (e *GraphConsistencyError) Error() string {
	ids := make([]string, len(e.Partitions))
	for i, id := range e.Partitions {
		ids[i] = fmt.Sprintf("%d", id)
	}
	return fmt.Sprintf("partition graph inconsistency in %s: partitions [%s]",
		e.Op, strings.Join(ids, " "))
}
