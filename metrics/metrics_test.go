// Copyright 2024 Parallel Software and Systems Group, University of
// Maryland. See the top-level LICENSE file for details.
//
// SPDX-License-Identifier: MIT

package metrics

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/hpcgroup/pipit-sub000/match"
	"github.com/hpcgroup/pipit-sub000/testtrace"
	"github.com/hpcgroup/pipit-sub000/trace"
)

func buildMatched(t *testing.T, build func(b *testtrace.Builder)) (*trace.Trace, *match.Result) {
	t.Helper()
	b := testtrace.NewBuilder()
	build(b)
	trc := b.Build()
	m, err := match.Events(context.Background(), trc)
	if err != nil {
		t.Fatalf("match.Events() = %v, want no error", err)
	}
	return trc, m
}

func TestComputeInclusiveAndExclusive(t *testing.T) {
	trc, m := buildMatched(t, func(b *testtrace.Builder) {
		b.Call(0, 0, 20, "main", func(b *testtrace.Builder) {
			b.Call(0, 5, 10, "foo", nil)
		})
	})
	r := Compute(trc, m)

	// Events: Enter main(0), Enter foo(1), Leave foo(2), Leave main(3).
	if got := r.Inclusive[0]; got != 20 {
		t.Errorf("inclusive(main) = %d, want 20", got)
	}
	if got := r.Inclusive[1]; got != 5 {
		t.Errorf("inclusive(foo) = %d, want 5", got)
	}
	if got := r.Exclusive[0]; got != 15 {
		t.Errorf("exclusive(main) = %d, want 15", got)
	}
	if got := r.Exclusive[1]; got != 5 {
		t.Errorf("exclusive(foo) = %d, want 5", got)
	}
	for idx, want := range []bool{true, true, false, false} {
		if got := r.Defined(idx); got != want {
			t.Errorf("Defined(%d) = %t, want %t", idx, got, want)
		}
	}
	if len(r.Anomalies) != 0 {
		t.Errorf("Anomalies = %v, want none", r.Anomalies)
	}
}

func TestComputeSubtractsAllDirectChildren(t *testing.T) {
	trc, m := buildMatched(t, func(b *testtrace.Builder) {
		b.Call(0, 0, 50, "main", func(b *testtrace.Builder) {
			b.Call(0, 1, 4, "a", func(b *testtrace.Builder) {
				b.Call(0, 2, 3, "leaf", nil)
			})
			b.Call(0, 10, 19, "b", nil)
		})
	})
	r := Compute(trc, m)

	// main gets only its direct children subtracted; leaf is charged to a.
	if got := r.Exclusive[0]; got != 50-3-9 {
		t.Errorf("exclusive(main) = %d, want %d", got, 50-3-9)
	}
	if got := r.Exclusive[1]; got != 3-1 {
		t.Errorf("exclusive(a) = %d, want %d", got, 3-1)
	}
	// Inclusive time is recoverable from exclusive plus children, at every
	// level of the tree.
	for idx := 0; idx < trc.NumEvents(); idx++ {
		if !r.Defined(idx) {
			continue
		}
		sum := r.Exclusive[idx]
		for child := 0; child < trc.NumEvents(); child++ {
			if r.Defined(child) && m.Parent[child] == idx {
				sum += r.Inclusive[child]
			}
		}
		if sum != r.Inclusive[idx] {
			t.Errorf("event %d: exclusive + children inclusive = %d, want inclusive %d",
				idx, sum, r.Inclusive[idx])
		}
	}
}

func TestComputeLeavesUnmatchedEventsUndefined(t *testing.T) {
	trc, m := buildMatched(t, func(b *testtrace.Builder) {
		b.Enter(0, 0, "open")
		b.Instant(0, 1, "marker")
		b.Leave(0, 2, "stray")
	})
	r := Compute(trc, m)

	// "open" is matched to "stray" by stack order; only the Enter carries
	// metrics, the Instant and the Leave stay undefined.
	for idx, want := range []bool{true, false, false} {
		if got := r.Defined(idx); got != want {
			t.Errorf("Defined(%d) = %t, want %t", idx, got, want)
		}
	}
	if got := r.Inclusive[0]; got != 2 {
		t.Errorf("inclusive(open) = %d, want 2", got)
	}
}

func TestComputeReportsNegativeDurations(t *testing.T) {
	// A reader-supplied matching can pair an Enter with an earlier
	// timestamp; the negative inclusive time must be reported, not fixed.
	trc := trace.New([]trace.Event{
		{Process: 0, Timestamp: 10, Kind: trace.Enter, Name: "f"},
		{Process: 0, Timestamp: 4, Kind: trace.Leave, Name: "f"},
	})
	m := &match.Result{
		MatchingIndex:     []int{1, 0},
		MatchingTimestamp: []trace.Time{4, 10},
		Depth:             []int{0, 0},
		Parent:            []int{match.None, match.None},
	}
	r := Compute(trc, m)

	if got := r.Inclusive[0]; got != -6 {
		t.Errorf("inclusive(f) = %d, want -6", got)
	}
	want := []trace.Anomaly{
		{Kind: trace.NegativeDuration, Event: 0, Detail: "inclusive time -6"},
	}
	if diff := cmp.Diff(want, r.Anomalies); diff != "" {
		t.Errorf("Anomalies got diff (-want +got):\n%s", diff)
	}
}

func TestFlatProfile(t *testing.T) {
	trc, m := buildMatched(t, func(b *testtrace.Builder) {
		b.Call(0, 0, 20, "main", func(b *testtrace.Builder) {
			b.Call(0, 1, 4, "foo", nil)
			b.Call(0, 5, 10, "foo", nil)
		})
		b.Call(1, 0, 6, "main", func(b *testtrace.Builder) {
			b.Call(1, 1, 3, "bar", nil)
		})
	})
	r := Compute(trc, m)

	want := []FlatProfileRow{
		{Name: "main", Count: 2, Inclusive: 26, Exclusive: 16},
		{Name: "foo", Count: 2, Inclusive: 8, Exclusive: 8},
		{Name: "bar", Count: 1, Inclusive: 2, Exclusive: 2},
	}
	if diff := cmp.Diff(want, FlatProfile(trc, r)); diff != "" {
		t.Errorf("FlatProfile() got diff (-want +got):\n%s", diff)
	}
}

func TestTimeProfile(t *testing.T) {
	trc, m := buildMatched(t, func(b *testtrace.Builder) {
		b.Call(0, 0, 20, "main", func(b *testtrace.Builder) {
			b.Call(0, 5, 10, "foo", nil)
			b.Call(0, 12, 16, "bar", nil)
		})
	})
	r := Compute(trc, m)

	want := []TimeBin{
		{Start: 0, End: 10, Exclusive: map[string]trace.Dur{"main": 11, "foo": 5}},
		{Start: 10, End: 20, Exclusive: map[string]trace.Dur{"bar": 4}},
	}
	if diff := cmp.Diff(want, TimeProfile(trc, r, 2)); diff != "" {
		t.Errorf("TimeProfile() got diff (-want +got):\n%s", diff)
	}

	if got := TimeProfile(trc, r, 0); got != nil {
		t.Errorf("TimeProfile() with no bins = %v, want nil", got)
	}
	empty := trace.New(nil)
	if got := TimeProfile(empty, Compute(empty, &match.Result{}), 4); got != nil {
		t.Errorf("TimeProfile() on empty trace = %v, want nil", got)
	}
}
