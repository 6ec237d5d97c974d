// Copyright 2024 Parallel Software and Systems Group, University of
// Maryland. See the top-level LICENSE file for details.
//
// SPDX-License-Identifier: MIT

// Package testtrace facilitates fluently building small synthetic traces in
// tests.  A Builder accumulates events in input order; Build assembles them
// into a trace.Trace.  Communication pairs are emitted with their partner
// attributes already matched, the way a conforming reader would produce
// them.
package testtrace

import (
	"github.com/hpcgroup/pipit-sub000/trace"
)

// MatchKey is the attribute under which builders record an event's
// communication partner index.
const MatchKey = "matching_event"

// SizeKey is the attribute under which Message records a send's size.
const SizeKey = "msg_size"

// Default communication event names used by SendRecv.
const (
	SendName = "MpiSend"
	RecvName = "MpiRecv"
)

// Builder accumulates synthetic trace events for tests.
type Builder struct {
	events []trace.Event
	thread int
}

// NewBuilder returns a new, empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// OnThread sets the thread id applied to subsequently added events,
// returning the receiver for fluent invocation.  The default thread is 0.
func (b *Builder) OnThread(thread int) *Builder {
	b.thread = thread
	return b
}

func (b *Builder) add(process int, ts trace.Time, kind trace.Kind, name string, attrs trace.Attributes) int {
	idx := len(b.events)
	b.events = append(b.events, trace.Event{
		Index:     idx,
		Process:   process,
		Thread:    b.thread,
		Timestamp: ts,
		Kind:      kind,
		Name:      name,
		Attrs:     attrs,
	})
	return idx
}

// Enter appends an Enter event, returning the receiver for fluent
// invocation.
func (b *Builder) Enter(process int, ts trace.Time, name string) *Builder {
	b.add(process, ts, trace.Enter, name, nil)
	return b
}

// Leave appends a Leave event, returning the receiver for fluent
// invocation.
func (b *Builder) Leave(process int, ts trace.Time, name string) *Builder {
	b.add(process, ts, trace.Leave, name, nil)
	return b
}

// Instant appends an Instant event, returning the receiver for fluent
// invocation.
func (b *Builder) Instant(process int, ts trace.Time, name string) *Builder {
	b.add(process, ts, trace.Instant, name, nil)
	return b
}

// Call appends an Enter at start and a Leave at end around the events added
// by the provided body function, returning the receiver for fluent
// invocation.  A nil body yields an empty call.
func (b *Builder) Call(process int, start, end trace.Time, name string, body func(b *Builder)) *Builder {
	b.Enter(process, start, name)
	if body != nil {
		body(b)
	}
	return b.Leave(process, end, name)
}

// SendRecv appends a matched send/receive Instant pair with the default
// communication names, each carrying the other's index under MatchKey,
// returning the receiver for fluent invocation.  Note that the events are
// appended in send-then-receive order, so the receive must not precede any
// later-added event on its own stream.
func (b *Builder) SendRecv(sendProcess int, sendTS trace.Time, recvProcess int, recvTS trace.Time) *Builder {
	sendIdx := b.add(sendProcess, sendTS, trace.Instant, SendName, trace.Attributes{})
	recvIdx := b.add(recvProcess, recvTS, trace.Instant, RecvName, trace.Attributes{})
	b.events[sendIdx].Attrs[MatchKey] = trace.IntValue(int64(recvIdx))
	b.events[recvIdx].Attrs = trace.Attributes{MatchKey: trace.IntValue(int64(sendIdx))}
	return b
}

// Message appends a matched send/receive pair like SendRecv, with the
// message size recorded on the send under SizeKey, returning the receiver
// for fluent invocation.
func (b *Builder) Message(sendProcess int, sendTS trace.Time, recvProcess int, recvTS trace.Time, size int64) *Builder {
	b.SendRecv(sendProcess, sendTS, recvProcess, recvTS)
	b.events[len(b.events)-2].Attrs[SizeKey] = trace.IntValue(size)
	return b
}

// Send appends an unmatched send Instant, returning the receiver for fluent
// invocation.
func (b *Builder) Send(process int, ts trace.Time) *Builder {
	b.add(process, ts, trace.Instant, SendName, nil)
	return b
}

// Build assembles the accumulated events into a Trace.  Within each
// (process, thread) stream, events keep the order in which they were added;
// Build does not sort or validate timestamps, so tests can also construct
// deliberately malformed streams.
func (b *Builder) Build() *trace.Trace {
	events := make([]trace.Event, len(b.events))
	copy(events, b.events)
	return trace.New(events)
}
