// Copyright 2024 Parallel Software and Systems Group, University of
// Maryland. See the top-level LICENSE file for details.
//
// SPDX-License-Identifier: MIT

// Package trace defines the normalized in-memory event model consumed by the
// analysis packages in this repository.
//
// A Trace is an ordered sequence of Events, each tagged with a Kind (Enter,
// Leave, or Instant), a timestamp, a name, and free-form attributes.  Events
// are grouped into streams, one per (process, thread) pair, preserving the
// order in which the reader produced them.  Readers must deliver timestamps
// in non-decreasing order within each stream; the core never re-sorts.
//
// Derived columns (matching indices, call depth, inclusive/exclusive times,
// calling-context node ids, partition and step assignment) are computed by
// the match, cct, metrics, and partition packages and are stored alongside,
// not inside, the events: every derived column is a slice indexed by
// Event.Index, so augmenting a trace never mutates it.
package trace

import (
	"fmt"
	"strconv"
)

// Time is a trace timestamp, in nanoseconds from an arbitrary origin.
// Timestamps are monotonically non-decreasing within a single stream.
type Time = int64

// Dur is a span of trace time, in nanoseconds.  Derived durations may be
// negative when the underlying matching is anomalous; negative values are
// reported, never clamped.
type Dur = int64

// Kind enumerates the kinds of trace events.
type Kind uint8

const (
	// Enter marks the beginning of a function or region's execution
	// interval on one process/thread.
	Enter Kind = iota
	// Leave marks the end of a function or region's execution interval.
	Leave
	// Instant is a zero-duration marker, such as a message send or receive
	// point.  Instant events are not subject to stack matching.
	Instant
)

func (k Kind) String() string {
	switch k {
	case Enter:
		return "Enter"
	case Leave:
		return "Leave"
	case Instant:
		return "Instant"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// ValueKind enumerates the scalar kinds an attribute Value may hold.
// Readers normalize free-form trace attributes into this fixed set at
// ingestion; the core performs no reflective dispatch.
type ValueKind uint8

const (
	// IntKind denotes an int64-valued attribute.
	IntKind ValueKind = iota
	// FloatKind denotes a float64-valued attribute.
	FloatKind
	// StringKind denotes a string-valued attribute.
	StringKind
	// BoolKind denotes a bool-valued attribute.
	BoolKind
)

// Value is a tagged union over the scalar attribute kinds.
type Value struct {
	kind ValueKind
	i    int64
	f    float64
	s    string
	b    bool
}

// IntValue returns a Value holding the provided int64.
func IntValue(i int64) Value {
	return Value{kind: IntKind, i: i}
}

// FloatValue returns a Value holding the provided float64.
func FloatValue(f float64) Value {
	return Value{kind: FloatKind, f: f}
}

// StringValue returns a Value holding the provided string.
func StringValue(s string) Value {
	return Value{kind: StringKind, s: s}
}

// BoolValue returns a Value holding the provided bool.
func BoolValue(b bool) Value {
	return Value{kind: BoolKind, b: b}
}

// Kind returns the receiver's ValueKind.
func (v Value) Kind() ValueKind {
	return v.kind
}

// Int returns the receiver's int64 value and true, or 0 and false if the
// receiver is not an IntKind Value.
func (v Value) Int() (int64, bool) {
	return v.i, v.kind == IntKind
}

// Float returns the receiver's float64 value and true, or 0 and false if the
// receiver is not a FloatKind Value.
func (v Value) Float() (float64, bool) {
	return v.f, v.kind == FloatKind
}

// Str returns the receiver's string value and true, or "" and false if the
// receiver is not a StringKind Value.
func (v Value) Str() (string, bool) {
	return v.s, v.kind == StringKind
}

// Bool returns the receiver's bool value and true, or false and false if the
// receiver is not a BoolKind Value.
func (v Value) Bool() (bool, bool) {
	return v.b, v.kind == BoolKind
}

func (v Value) String() string {
	switch v.kind {
	case IntKind:
		return strconv.FormatInt(v.i, 10)
	case FloatKind:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case StringKind:
		return v.s
	case BoolKind:
		return strconv.FormatBool(v.b)
	default:
		return "<invalid>"
	}
}

// Attributes is an open string-keyed map of scalar attribute values.
type Attributes map[string]Value

// Int returns the int64 value of the named attribute and true, or 0 and
// false if the attribute is absent or not integral.
func (a Attributes) Int(key string) (int64, bool) {
	v, ok := a[key]
	if !ok {
		return 0, false
	}
	return v.Int()
}

// Event is a single trace record.  Index is the event's stable identity:
// its position in the trace's global event sequence, assigned by New.
type Event struct {
	Index     int
	Process   int
	Thread    int
	Timestamp Time
	Kind      Kind
	Name      string
	Attrs     Attributes
}
