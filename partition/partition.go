// Copyright 2024 Parallel Software and Systems Group, University of
// Maryland. See the top-level LICENSE file for details.
//
// SPDX-License-Identifier: MIT

// Package partition groups a trace's communication events into causally
// ordered partitions for cross-process lateness and critical-path analysis.
//
// Each matched communication event initially forms a singleton partition.
// Partitions are connected by happens-before edges (sequential order within
// a process, and send-to-receive communication), merged with their
// communication partners, reduced with Tarjan's strongly-connected-component
// algorithm until the graph is a DAG, and finally grouped by
// distance-from-root into leaps.  Incomplete leaps (those not covering every
// process) are completed by heuristic merging, after which every event in a
// leap receives a global logical step and a lateness value.
//
// Partitions live in an arena owned by the Graph.  Merging is destructive:
// the absorbed partition's id is tombstoned and never resurfaces; its
// members and edges transfer to the survivor.  All readers of the arena
// filter tombstoned ids, so no element is ever physically removed
// mid-iteration.
package partition

import (
	"sort"

	"github.com/hpcgroup/pipit-sub000/trace"
)

// ID identifies a partition within a Graph's arena.
type ID int32

// None is the ID of no partition.
const None ID = -1

// Partition is a set of events grouped for causal analysis, with
// happens-before edges to other partitions.
type Partition struct {
	id       ID
	absorbed bool
	// Forwarding id installed when this partition is absorbed, so members
	// recorded under the old id can still be resolved internally.
	forward ID

	events    []int
	processes map[int]struct{}
	minStart  trace.Time
	maxEnd    trace.Time
	parents   map[ID]struct{}
	children  map[ID]struct{}
}

// ID returns the partition's id.
func (p *Partition) ID() ID {
	return p.id
}

// Events returns the indices of the partition's member events, in insertion
// order.
func (p *Partition) Events() []int {
	return p.events
}

// Processes returns the sorted process ids the partition touches.
func (p *Partition) Processes() []int {
	return sortedInts(p.processes)
}

// TimeSpan returns the partition's [min event start, max event end] span.
func (p *Partition) TimeSpan() (trace.Time, trace.Time) {
	return p.minStart, p.maxEnd
}

// Parents returns the sorted ids of the partition's happens-before
// predecessors.
func (p *Partition) Parents() []ID {
	return sortedIDs(p.parents)
}

// Children returns the sorted ids of the partition's happens-before
// successors.
func (p *Partition) Children() []ID {
	return sortedIDs(p.children)
}

// Graph is an arena of partitions connected by happens-before edges.
type Graph struct {
	arena []*Partition
	alive int
}

// NewGraph returns a new, empty partition graph.
func NewGraph() *Graph {
	return &Graph{}
}

// NewPartition creates a new, empty partition and returns its id.
func (g *Graph) NewPartition() ID {
	id := ID(len(g.arena))
	g.arena = append(g.arena, &Partition{
		id:        id,
		forward:   None,
		processes: map[int]struct{}{},
		parents:   map[ID]struct{}{},
		children:  map[ID]struct{}{},
	})
	g.alive++
	return id
}

// Partition returns the live partition with the provided id.  Referencing
// an absorbed or unknown id is a GraphConsistencyError: absorbed ids must
// never resurface.
func (g *Graph) Partition(id ID) (*Partition, error) {
	if id < 0 || int(id) >= len(g.arena) || g.arena[id].absorbed {
		return nil, &trace.GraphConsistencyError{Op: "partition lookup", Partitions: []int{int(id)}}
	}
	return g.arena[id], nil
}

// NumAlive returns the number of live (non-absorbed) partitions.
func (g *Graph) NumAlive() int {
	return g.alive
}

// Alive returns the ids of all live partitions, ascending.
func (g *Graph) Alive() []ID {
	ids := make([]ID, 0, g.alive)
	for _, p := range g.arena {
		if !p.absorbed {
			ids = append(ids, p.id)
		}
	}
	return ids
}

// resolve follows absorption forwarding from id to the live partition that
// now holds its members.
func (g *Graph) resolve(id ID) ID {
	for g.arena[id].absorbed {
		id = g.arena[id].forward
	}
	return id
}

// addEvent records a member event in the partition with the provided id.
func (g *Graph) addEvent(id ID, event int, process int, start, end trace.Time) {
	p := g.arena[id]
	p.events = append(p.events, event)
	p.processes[process] = struct{}{}
	if len(p.events) == 1 || start < p.minStart {
		p.minStart = start
	}
	if len(p.events) == 1 || end > p.maxEnd {
		p.maxEnd = end
	}
}

// addEdge records that parent happens before child.  Self edges are
// dropped.
func (g *Graph) addEdge(parent, child ID) {
	if parent == child {
		return
	}
	g.arena[parent].children[child] = struct{}{}
	g.arena[child].parents[parent] = struct{}{}
}

// absorb merges the victim partition into the survivor: members, process
// coverage, time span, and edges transfer, neighbor edges are re-pointed at
// the survivor, and the victim is tombstoned with forwarding installed.
// Absorbing an already-absorbed partition, or a partition into itself, is a
// GraphConsistencyError.
func (g *Graph) absorb(survivor, victim ID) error {
	if survivor == victim {
		return &trace.GraphConsistencyError{Op: "absorb", Partitions: []int{int(survivor)}}
	}
	if g.arena[survivor].absorbed || g.arena[victim].absorbed {
		return &trace.GraphConsistencyError{Op: "absorb", Partitions: []int{int(survivor), int(victim)}}
	}
	s, v := g.arena[survivor], g.arena[victim]
	sEmpty, vEmpty := len(s.events) == 0, len(v.events) == 0
	s.events = append(s.events, v.events...)
	for proc := range v.processes {
		s.processes[proc] = struct{}{}
	}
	if !vEmpty && (sEmpty || v.minStart < s.minStart) {
		s.minStart = v.minStart
	}
	if !vEmpty && (sEmpty || v.maxEnd > s.maxEnd) {
		s.maxEnd = v.maxEnd
	}
	for parent := range v.parents {
		delete(g.arena[parent].children, victim)
		if parent != survivor {
			g.addEdge(parent, survivor)
		}
	}
	for child := range v.children {
		delete(g.arena[child].parents, victim)
		if child != survivor {
			g.addEdge(survivor, child)
		}
	}
	delete(s.parents, victim)
	delete(s.children, victim)
	v.absorbed = true
	v.forward = survivor
	v.parents, v.children = nil, nil
	g.alive--
	return nil
}

// FindCycle seeks a cycle among the live partitions, following children
// edges, with an iterative three-color depth-first search.  Returns the
// ids along one cycle, or nil if the graph is acyclic.
func (g *Graph) FindCycle() []ID {
	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := make([]uint8, len(g.arena))
	parent := make([]ID, len(g.arena))
	for i := range parent {
		parent[i] = None
	}
	type visit struct {
		id   ID
		post bool
	}
	for _, root := range g.Alive() {
		if color[root] != white {
			continue
		}
		stack := []visit{{id: root}}
		for len(stack) > 0 {
			v := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if v.post {
				color[v.id] = black
				continue
			}
			if color[v.id] != white {
				continue
			}
			color[v.id] = grey
			stack = append(stack, visit{id: v.id, post: true})
			for _, child := range g.arena[v.id].Children() {
				switch color[child] {
				case white:
					parent[child] = v.id
					stack = append(stack, visit{id: child})
				case grey:
					// Back edge: walk parent links to recover the cycle.
					cycle := []ID{child}
					for cursor := v.id; cursor != child && cursor != None; cursor = parent[cursor] {
						cycle = append(cycle, cursor)
					}
					sort.Slice(cycle, func(a, b int) bool { return cycle[a] < cycle[b] })
					return cycle
				}
			}
		}
	}
	return nil
}

func sortedInts(set map[int]struct{}) []int {
	ret := make([]int, 0, len(set))
	for v := range set {
		ret = append(ret, v)
	}
	sort.Ints(ret)
	return ret
}

func sortedIDs(set map[ID]struct{}) []ID {
	ret := make([]ID, 0, len(set))
	for v := range set {
		ret = append(ret, v)
	}
	sort.Slice(ret, func(a, b int) bool { return ret[a] < ret[b] })
	return ret
}
