// Copyright 2024 Parallel Software and Systems Group, University of
// Maryland. See the top-level LICENSE file for details.
//
// SPDX-License-Identifier: MIT

package partition

import (
	"sort"

	"github.com/hpcgroup/pipit-sub000/match"
	"github.com/hpcgroup/pipit-sub000/trace"
)

// assignSteps walks the completed leaps in order, computing each member
// event's stride within its leap by longest-path relaxation over the leap's
// event DAG, offsetting strides by a running global step counter, and
// finally deriving lateness per global step.
func (b *builder) assignSteps() (*Result, error) {
	n := b.t.NumEvents()
	res := &Result{
		Graph:        b.g,
		Leaps:        b.snapshotLeaps(),
		PartitionID:  make([]ID, n),
		LeapID:       make([]int, n),
		GlobalStep:   make([]int, n),
		Lateness:     make([]trace.Dur, n),
		DiffLateness: make([]trace.Dur, n),
	}
	for i := 0; i < n; i++ {
		res.PartitionID[i] = None
		res.LeapID[i] = -1
		res.GlobalStep[i] = -1
	}
	for idx := range b.comms {
		id := b.partitionOf(idx)
		res.PartitionID[idx] = id
		res.LeapID[idx] = b.distance[id]
	}
	nextGlobal := 0
	for pos, ls := range b.leaps {
		events := b.leapEvents(ls)
		strides, err := b.leapStrides(pos, events)
		if err != nil {
			return nil, err
		}
		maxStride := 0
		for _, idx := range events {
			step := nextGlobal + strides[idx]
			res.GlobalStep[idx] = step
			if strides[idx] > maxStride {
				maxStride = strides[idx]
			}
		}
		if len(events) > 0 {
			nextGlobal += maxStride + 1
		}
	}
	b.computeLateness(res)
	return res, nil
}

// leapEvents returns the indices of all events belonging to the leap's
// partitions, ascending.
func (b *builder) leapEvents(ls *leapState) []int {
	var events []int
	for _, id := range ls.members() {
		events = append(events, b.g.arena[id].events...)
	}
	sort.Ints(events)
	return events
}

// leapStrides computes the stride of each event in the leap: the longest
// path to it through the leap's event DAG, whose edges are same-process
// succession and send-to-receive communication restricted to the leap.
// Following the lateness literature, a receive propagates its stride along
// its outgoing edges without incrementing, placing it in the same logical
// step as the work it unblocks; all other events increment.  A cycle in the
// event DAG is a structural bug: the per-process chains are acyclic, and
// cross-process edges only run send to receive.
func (b *builder) leapStrides(leap int, events []int) (map[int]int, error) {
	inLeap := map[int]struct{}{}
	for _, idx := range events {
		inLeap[idx] = struct{}{}
	}
	edges := func(idx int) []int {
		ce := b.comms[idx]
		var out []int
		if ce.next != match.None {
			if _, ok := inLeap[ce.next]; ok {
				out = append(out, ce.next)
			}
		}
		if ce.isSend && ce.partner != match.None {
			if _, ok := inLeap[ce.partner]; ok {
				out = append(out, ce.partner)
			}
		}
		return out
	}
	pending := map[int]int{}
	for _, idx := range events {
		for _, succ := range edges(idx) {
			pending[succ]++
		}
	}
	strides := map[int]int{}
	var queue []int
	for _, idx := range events {
		strides[idx] = 0
		if pending[idx] == 0 {
			queue = append(queue, idx)
		}
	}
	processed := 0
	for len(queue) > 0 {
		idx := queue[0]
		queue = queue[1:]
		processed++
		increment := 1
		if !b.comms[idx].isSend {
			increment = 0
		}
		for _, succ := range edges(idx) {
			if strides[idx]+increment > strides[succ] {
				strides[succ] = strides[idx] + increment
			}
			pending[succ]--
			if pending[succ] == 0 {
				queue = append(queue, succ)
			}
		}
	}
	if processed != len(events) {
		var stuck []int
		for _, idx := range events {
			if pending[idx] > 0 {
				stuck = append(stuck, idx)
			}
		}
		return nil, &trace.GraphConsistencyError{Op: "leap stride relaxation", Partitions: stuck}
	}
	return strides, nil
}

// computeLateness fills the lateness columns: within each global step,
// lateness is the difference between an event's completion time and the
// step's earliest completion time; differential lateness subtracts the
// lateness already present at the event's predecessors (its same-process
// predecessor, and for a receive, its matching send), floored at zero.
func (b *builder) computeLateness(res *Result) {
	minEnd := map[int]trace.Time{}
	for idx, ce := range b.comms {
		step := res.GlobalStep[idx]
		if step < 0 {
			continue
		}
		if cur, ok := minEnd[step]; !ok || ce.end < cur {
			minEnd[step] = ce.end
		}
	}
	for idx, ce := range b.comms {
		if res.GlobalStep[idx] < 0 {
			continue
		}
		res.Lateness[idx] = ce.end - minEnd[res.GlobalStep[idx]]
	}
	for idx, ce := range b.comms {
		if res.GlobalStep[idx] < 0 {
			continue
		}
		var inherited trace.Dur
		if ce.prev != match.None && res.GlobalStep[ce.prev] >= 0 {
			inherited = res.Lateness[ce.prev]
		}
		if !ce.isSend && ce.partner != match.None && res.GlobalStep[ce.partner] >= 0 {
			if l := res.Lateness[ce.partner]; l > inherited {
				inherited = l
			}
		}
		diff := res.Lateness[idx] - inherited
		if diff < 0 {
			diff = 0
		}
		res.DiffLateness[idx] = diff
	}
}
