// Copyright 2024 Parallel Software and Systems Group, University of
// Maryland. See the top-level LICENSE file for details.
//
// SPDX-License-Identifier: MIT

package testtrace

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/hpcgroup/pipit-sub000/trace"
)

func TestBuilder(t *testing.T) {
	trc := NewBuilder().
		Call(0, 0, 10, "main", func(b *Builder) {
			b.Instant(0, 5, "marker")
		}).
		OnThread(1).
		Enter(0, 2, "worker").
		Leave(0, 8, "worker").
		Build()

	want := []trace.Event{
		{Index: 0, Process: 0, Thread: 0, Timestamp: 0, Kind: trace.Enter, Name: "main"},
		{Index: 1, Process: 0, Thread: 0, Timestamp: 5, Kind: trace.Instant, Name: "marker"},
		{Index: 2, Process: 0, Thread: 0, Timestamp: 10, Kind: trace.Leave, Name: "main"},
		{Index: 3, Process: 0, Thread: 1, Timestamp: 2, Kind: trace.Enter, Name: "worker"},
		{Index: 4, Process: 0, Thread: 1, Timestamp: 8, Kind: trace.Leave, Name: "worker"},
	}
	if diff := cmp.Diff(want, trc.Events(), cmp.AllowUnexported(trace.Value{})); diff != "" {
		t.Errorf("Events() got diff (-want +got):\n%s", diff)
	}
	if got := len(trc.Streams()); got != 2 {
		t.Errorf("len(Streams()) = %d, want 2", got)
	}
}

func TestBuilderSendRecv(t *testing.T) {
	trc := NewBuilder().
		SendRecv(0, 1, 1, 3).
		Send(0, 5).
		Build()

	send, recv := trc.At(0), trc.At(1)
	if send.Name != SendName || recv.Name != RecvName {
		t.Errorf("pair named (%q, %q), want (%q, %q)", send.Name, recv.Name, SendName, RecvName)
	}
	if got, ok := send.Attrs.Int(MatchKey); !ok || got != 1 {
		t.Errorf("send partner = (%d, %t), want (1, true)", got, ok)
	}
	if got, ok := recv.Attrs.Int(MatchKey); !ok || got != 0 {
		t.Errorf("recv partner = (%d, %t), want (0, true)", got, ok)
	}
	if _, ok := trc.At(2).Attrs.Int(MatchKey); ok {
		t.Error("unmatched send carries a partner, want none")
	}
}
