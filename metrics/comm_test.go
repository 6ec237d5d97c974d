// Copyright 2024 Parallel Software and Systems Group, University of
// Maryland. See the top-level LICENSE file for details.
//
// SPDX-License-Identifier: MIT

package metrics

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/hpcgroup/pipit-sub000/testtrace"
)

func TestCommMatrix(t *testing.T) {
	trc := testtrace.NewBuilder().
		Message(0, 1, 1, 2, 4).
		Message(0, 3, 1, 4, 8).
		Message(1, 5, 2, 6, 16).
		Message(1, 7, 2, 8, 16).
		Send(2, 9). // no receive, never counted
		Build()
	cfg := DefaultCommConfig()

	wantCount := [][]int64{
		{0, 2, 0},
		{0, 0, 2},
		{0, 0, 0},
	}
	if diff := cmp.Diff(wantCount, CommMatrix(trc, cfg, CountVolume)); diff != "" {
		t.Errorf("CommMatrix(CountVolume) got diff (-want +got):\n%s", diff)
	}
	wantSize := [][]int64{
		{0, 12, 0},
		{0, 0, 32},
		{0, 0, 0},
	}
	if diff := cmp.Diff(wantSize, CommMatrix(trc, cfg, SizeVolume)); diff != "" {
		t.Errorf("CommMatrix(SizeVolume) got diff (-want +got):\n%s", diff)
	}
}

func TestCommMatrixSkipsUnsizedSendsForSizeVolume(t *testing.T) {
	trc := testtrace.NewBuilder().
		Message(0, 1, 1, 2, 64).
		SendRecv(1, 3, 0, 4). // matched but unsized
		Build()
	cfg := DefaultCommConfig()

	wantCount := [][]int64{
		{0, 1},
		{1, 0},
	}
	if diff := cmp.Diff(wantCount, CommMatrix(trc, cfg, CountVolume)); diff != "" {
		t.Errorf("CommMatrix(CountVolume) got diff (-want +got):\n%s", diff)
	}
	wantSize := [][]int64{
		{0, 64},
		{0, 0},
	}
	if diff := cmp.Diff(wantSize, CommMatrix(trc, cfg, SizeVolume)); diff != "" {
		t.Errorf("CommMatrix(SizeVolume) got diff (-want +got):\n%s", diff)
	}
}

func TestMessageHistogram(t *testing.T) {
	trc := testtrace.NewBuilder().
		Message(0, 1, 1, 2, 4).
		Message(0, 3, 1, 4, 8).
		Message(1, 5, 2, 6, 16).
		Message(1, 7, 2, 8, 16).
		Build()
	cfg := DefaultCommConfig()

	want := []MessageBin{
		{Start: 4, End: 8, Count: 1},
		{Start: 8, End: 12, Count: 1},
		{Start: 12, End: 16, Count: 2},
	}
	if diff := cmp.Diff(want, MessageHistogram(trc, cfg, 3)); diff != "" {
		t.Errorf("MessageHistogram() got diff (-want +got):\n%s", diff)
	}

	if got := MessageHistogram(trc, cfg, 0); got != nil {
		t.Errorf("MessageHistogram() with no bins = %v, want nil", got)
	}
	unsized := testtrace.NewBuilder().SendRecv(0, 1, 1, 2).Build()
	if got := MessageHistogram(unsized, cfg, 4); got != nil {
		t.Errorf("MessageHistogram() without sized sends = %v, want nil", got)
	}
}
