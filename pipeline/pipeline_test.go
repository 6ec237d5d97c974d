// Copyright 2024 Parallel Software and Systems Group, University of
// Maryland. See the top-level LICENSE file for details.
//
// SPDX-License-Identifier: MIT

package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/hpcgroup/pipit-sub000/testtrace"
	"github.com/hpcgroup/pipit-sub000/trace"
)

// pingPong builds two processes that exchange one message each way, with
// communication points wrapped in their MPI calls and some computation in
// between.
func pingPong() *trace.Trace {
	b := testtrace.NewBuilder()
	b.Enter(0, 0, "main")      // 0
	b.Enter(1, 0, "main")      // 1
	b.Enter(0, 1, "MPI_Send")  // 2
	b.Enter(1, 1, "MPI_Recv")  // 3
	b.SendRecv(0, 2, 1, 4)     // 4: send, 5: recv
	b.Leave(0, 3, "MPI_Send")  // 6
	b.Leave(1, 5, "MPI_Recv")  // 7
	b.Call(0, 4, 9, "compute", nil)  // 8, 9
	b.Call(1, 6, 11, "compute", nil) // 10, 11
	b.Enter(1, 12, "MPI_Send") // 12
	b.Enter(0, 13, "MPI_Recv") // 13
	b.SendRecv(1, 13, 0, 15)   // 14: send, 15: recv
	b.Leave(1, 14, "MPI_Send") // 16
	b.Leave(0, 16, "MPI_Recv") // 17
	b.Leave(0, 20, "main")     // 18
	b.Leave(1, 21, "main")     // 19
	return b.Build()
}

func TestAnalyze(t *testing.T) {
	a, err := Analyze(context.Background(), pingPong(), DefaultConfig())
	if err != nil {
		t.Fatalf("Analyze() = %v, want no error", err)
	}

	if len(a.Anomalies) != 0 {
		t.Errorf("Anomalies = %v, want none", a.Anomalies)
	}
	// Both processes share one calling context tree: main with its three
	// children.
	wantCCT := "main\n\tMPI_Send\n\tcompute\n\tMPI_Recv\n"
	if got := a.Graph.String(); got != wantCCT {
		t.Errorf("Graph.String() = %q, want %q", got, wantCCT)
	}
	if a.Nodes[0] != a.Nodes[1] {
		t.Errorf("main nodes differ across processes: %d vs %d", a.Nodes[0], a.Nodes[1])
	}
	// Metrics line up with the matching columns.
	if got := a.Metrics.Inclusive[0]; got != 20 {
		t.Errorf("inclusive(main, process 0) = %d, want 20", got)
	}
	if got := a.Metrics.Exclusive[0]; got != 20-2-5-3 {
		t.Errorf("exclusive(main, process 0) = %d, want %d", got, 20-2-5-3)
	}
	// The round trip partitions into two complete leaps and four steps.
	if a.Partition == nil {
		t.Fatal("Partition = nil, want partition analysis")
	}
	if got := len(a.Partition.Leaps); got != 2 {
		t.Fatalf("len(Leaps) = %d, want 2", got)
	}
	for pos, leap := range a.Partition.Leaps {
		if !leap.Complete {
			t.Errorf("leap %d incomplete, want complete", pos)
		}
	}
	wantSteps := map[int]int{4: 0, 5: 1, 14: 2, 15: 3}
	for idx := 0; idx < a.Trace.NumEvents(); idx++ {
		want, comm := wantSteps[idx]
		if !comm {
			want = -1
		}
		if got := a.Partition.GlobalStep[idx]; got != want {
			t.Errorf("GlobalStep[%d] = %d, want %d", idx, got, want)
		}
	}
}

func TestAnalyzeWithoutPartitioning(t *testing.T) {
	a, err := Analyze(context.Background(), pingPong(), Config{})
	if err != nil {
		t.Fatalf("Analyze() = %v, want no error", err)
	}
	if a.Partition != nil {
		t.Errorf("Partition = %+v, want nil", a.Partition)
	}
	if a.Match == nil || a.Metrics == nil || a.Graph == nil {
		t.Error("matching, metrics, and CCT must run regardless of configuration")
	}
}

func TestAnalyzeAccumulatesAnomalies(t *testing.T) {
	trc := testtrace.NewBuilder().
		Enter(0, 0, "main").
		Leave(0, 5, "man"). // typo in the leave name
		Leave(0, 6, "stray").
		Build()
	a, err := Analyze(context.Background(), trc, Config{})
	if err != nil {
		t.Fatalf("Analyze() = %v, want no error", err)
	}
	want := []trace.Anomaly{
		{Kind: trace.NameMismatch, Event: 1, Detail: `Leave "man" closes Enter "main" (event 0)`},
		{Kind: trace.UnmatchedLeave, Event: 2},
	}
	if diff := cmp.Diff(want, a.Anomalies); diff != "" {
		t.Errorf("Anomalies got diff (-want +got):\n%s", diff)
	}
}

func TestAnalyzePropagatesOrderingErrors(t *testing.T) {
	trc := testtrace.NewBuilder().
		Enter(0, 9, "main").
		Leave(0, 4, "main").
		Build()
	a, err := Analyze(context.Background(), trc, DefaultConfig())
	if err == nil {
		t.Fatal("Analyze() succeeded on a non-monotonic stream, want error")
	}
	if a != nil {
		t.Errorf("Analyze() returned a partial result %+v, want nil", a)
	}
	var oe *trace.InputOrderingError
	if !errors.As(err, &oe) {
		t.Errorf("Analyze() = %v, want an InputOrderingError", err)
	}
}
