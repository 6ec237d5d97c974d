// Copyright 2024 Parallel Software and Systems Group, University of
// Maryland. See the top-level LICENSE file for details.
//
// SPDX-License-Identifier: MIT

// Package cct constructs the calling context tree of a matched trace: the
// minimal tree in which every distinct call path has exactly one node.  Two
// events with identical call paths share the same node, whether they occur
// on the same process or on different ones, which keeps multi-process CCTs
// compact.
//
// Nodes live in an arena owned by the Graph and refer to each other by
// integer NodeID; parent references are non-owning indices, so the graph
// contains no cyclic pointers.  Events hold back-references to their nodes
// through the per-event column returned by Build.  A Graph is built once per
// trace and is immutable afterwards, so unsynchronized concurrent reads are
// safe.
package cct

import (
	"strings"

	"github.com/hpcgroup/pipit-sub000/match"
	"github.com/hpcgroup/pipit-sub000/trace"
)

// NodeID identifies a node within a Graph's arena.
type NodeID int32

// None is the NodeID of no node.
const None NodeID = -1

// Node is a single calling context: a name reached through a unique chain of
// ancestor names.  Nodes are owned by their Graph; Parent and Children are
// arena indices.
type Node struct {
	ID     NodeID
	Name   string
	Parent NodeID
	Depth  int
	// Children holds the node's children in creation order.
	Children []NodeID
	// CallingContextIDs holds the indices of the Enter events mapped to
	// this node, across all processes and threads.
	CallingContextIDs []int

	// Name-keyed child lookup, for O(1) call-path extension.
	childByName map[string]NodeID
}

// Graph is an arena of CCT nodes plus the root list.
type Graph struct {
	nodes      []Node
	roots      []NodeID
	rootByName map[string]NodeID
}

func newGraph() *Graph {
	return &Graph{rootByName: map[string]NodeID{}}
}

// Node returns the node with the provided id, or nil if the id is None or
// out of range.
func (g *Graph) Node(id NodeID) *Node {
	if id < 0 || int(id) >= len(g.nodes) {
		return nil
	}
	return &g.nodes[id]
}

// Roots returns the graph's root nodes in creation order.
func (g *Graph) Roots() []NodeID {
	return g.roots
}

// NumNodes returns the number of nodes in the graph.
func (g *Graph) NumNodes() int {
	return len(g.nodes)
}

func (g *Graph) newNode(name string, parent NodeID) NodeID {
	id := NodeID(len(g.nodes))
	depth := 0
	if parent != None {
		depth = g.nodes[parent].Depth + 1
	}
	g.nodes = append(g.nodes, Node{
		ID:     id,
		Name:   name,
		Parent: parent,
		Depth:  depth,
	})
	if parent == None {
		g.roots = append(g.roots, id)
		g.rootByName[name] = id
	} else {
		p := &g.nodes[parent]
		if p.childByName == nil {
			p.childByName = map[string]NodeID{}
		}
		p.Children = append(p.Children, id)
		p.childByName[name] = id
	}
	return id
}

// child returns the existing node for name under parent (None for a root),
// creating it if necessary.
func (g *Graph) child(parent NodeID, name string) NodeID {
	if parent == None {
		if id, ok := g.rootByName[name]; ok {
			return id
		}
		return g.newNode(name, None)
	}
	if id, ok := g.nodes[parent].childByName[name]; ok {
		return id
	}
	return g.newNode(name, parent)
}

// Path returns the names along the call path from a root to the node with
// the provided id, separated by slashes.
func (g *Graph) Path(id NodeID) string {
	var names []string
	for cursor := id; cursor != None; cursor = g.nodes[cursor].Parent {
		names = append(names, g.nodes[cursor].Name)
	}
	for i, j := 0, len(names)-1; i < j; i, j = i+1, j-1 {
		names[i], names[j] = names[j], names[i]
	}
	return strings.Join(names, "/")
}

// Intersection returns the deepest node ancestral to both arguments, or
// None if they do not share a root.  The walk is iterative: the deeper
// node is first raised to the shallower one's depth, then both are walked
// upward in lockstep.
func (g *Graph) Intersection(a, b NodeID) NodeID {
	if a == None || b == None {
		return None
	}
	for g.nodes[a].Depth > g.nodes[b].Depth {
		a = g.nodes[a].Parent
	}
	for g.nodes[b].Depth > g.nodes[a].Depth {
		b = g.nodes[b].Parent
	}
	for a != b {
		if a == None || b == None {
			return None
		}
		a = g.nodes[a].Parent
		b = g.nodes[b].Parent
	}
	return a
}

// NodeList returns the chain of nodes from the provided node upward, ending
// just above minDepth: the node itself first, its ancestors after, stopping
// before any node of depth minDepth or less.
func (g *Graph) NodeList(id NodeID, minDepth int) []NodeID {
	var ret []NodeID
	for cursor := id; cursor != None && g.nodes[cursor].Depth > minDepth; cursor = g.nodes[cursor].Parent {
		ret = append(ret, cursor)
	}
	return ret
}

// String renders the graph as an indented tree, one node per line, with an
// explicit stack rather than recursion so deep call trees cannot overflow.
func (g *Graph) String() string {
	type visit struct {
		id    NodeID
		level int
	}
	var sb strings.Builder
	var stack []visit
	for i := len(g.roots) - 1; i >= 0; i-- {
		stack = append(stack, visit{g.roots[i], 0})
	}
	for len(stack) > 0 {
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		node := &g.nodes[v.id]
		sb.WriteString(strings.Repeat("\t", v.level))
		sb.WriteString(node.Name)
		sb.WriteString("\n")
		for i := len(node.Children) - 1; i >= 0; i-- {
			stack = append(stack, visit{node.Children[i], v.level + 1})
		}
	}
	return sb.String()
}

// Build constructs the calling context tree for the provided matched trace,
// returning the graph and the per-event node column: each Enter event's
// calling context node, each matched Leave's Enter node, and for each
// Instant the innermost call open at its position (None where no call is
// open).  Streams are merged sequentially into the shared graph, in
// ascending stream order, so node ids are deterministic.
func Build(t *trace.Trace, m *match.Result) (*Graph, []NodeID) {
	g := newGraph()
	nodes := make([]NodeID, t.NumEvents())
	for i := range nodes {
		nodes[i] = None
	}
	for _, s := range t.Streams() {
		var stack []NodeID
		for _, idx := range s.Events {
			ev := t.At(idx)
			switch ev.Kind {
			case trace.Enter:
				parent := None
				if len(stack) > 0 {
					parent = stack[len(stack)-1]
				}
				id := g.child(parent, ev.Name)
				node := g.Node(id)
				node.CallingContextIDs = append(node.CallingContextIDs, idx)
				nodes[idx] = id
				stack = append(stack, id)
			case trace.Leave:
				if len(stack) == 0 {
					// Already reported by the matcher.
					continue
				}
				stack = stack[:len(stack)-1]
				if m.Matched(idx) {
					nodes[idx] = nodes[m.MatchingIndex[idx]]
				}
			case trace.Instant:
				if len(stack) > 0 {
					nodes[idx] = stack[len(stack)-1]
				}
			}
		}
	}
	return g, nodes
}
