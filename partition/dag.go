// Copyright 2024 Parallel Software and Systems Group, University of
// Maryland. See the top-level LICENSE file for details.
//
// SPDX-License-Identifier: MIT

package partition

import (
	"math"
	"sort"

	"github.com/hpcgroup/pipit-sub000/match"
	"github.com/hpcgroup/pipit-sub000/trace"
)

// Options configures partition analysis.  The zero value is not useful;
// start from DefaultOptions.
type Options struct {
	// SendName and RecvName are the names of the Instant events marking
	// message send and receive points.
	SendName string
	RecvName string
	// MatchKey is the attribute under which a communication event carries
	// its partner's event index.  Communication matching is supplied by the
	// reader; events without a resolvable partner participate only in
	// sequential happens-before edges.
	MatchKey string
	// MuchSmallerRatio is the leap-completion heuristic threshold: a
	// partition moves to the previous leap when its incoming time gap is
	// smaller than its outgoing gap divided by this ratio.  A policy
	// constant from the lateness literature, not a correctness requirement.
	MuchSmallerRatio float64
	// MaxCompletionRounds bounds the per-leap refinement loop, which is
	// heuristic-driven and could otherwise oscillate.
	MaxCompletionRounds int
	// ForceMerge absorbs the entire next leap into any leap still
	// incomplete after refinement, guaranteeing every final leap covers all
	// processes.
	ForceMerge bool
}

// DefaultOptions returns the default partition analysis options.
func DefaultOptions() Options {
	return Options{
		SendName:            "MpiSend",
		RecvName:            "MpiRecv",
		MatchKey:            "matching_event",
		MuchSmallerRatio:    10,
		MaxCompletionRounds: 64,
		ForceMerge:          true,
	}
}

// Leap is a set of partitions at equal DAG distance from the roots.
type Leap struct {
	// Partitions holds the leap's member partition ids, ascending.
	Partitions []ID
	// Processes is the sorted process coverage of the member partitions.
	Processes []int
	// Complete is true when the leap's coverage includes every process in
	// the trace.
	Complete bool
	// MinStart and MaxEnd delimit the leap's time span.
	MinStart, MaxEnd trace.Time
}

// Result holds the partition analysis outputs.  The per-event columns are
// indexed by event index; None / -1 marks events outside any partition
// (everything but matched communication events).
type Result struct {
	Graph *Graph
	Leaps []Leap
	// PartitionID holds each communication event's final partition.
	PartitionID []ID
	// LeapID holds the position, in Leaps, of each communication event's
	// leap.
	LeapID []int
	// GlobalStep holds each communication event's global logical time step.
	GlobalStep []int
	// Lateness holds, for each stepped event, the difference between its
	// completion time and the earliest completion time in its global step.
	Lateness []trace.Dur
	// DiffLateness holds each stepped event's lateness in excess of the
	// lateness it inherited from its predecessors.
	DiffLateness []trace.Dur
}

// A commEvent is one communication Instant plus the call interval enclosing
// it, as recovered from the matcher's columns.
type commEvent struct {
	index   int
	process int
	isSend  bool
	// partner is the matched partner's event index, or match.None.
	partner int
	// prev and next chain communication events on the same process, in
	// stream order; match.None at the chain ends.
	prev, next int
	// start and end are the enclosing call's interval; for a communication
	// event with no enclosing call, both are the event's own timestamp.
	start, end trace.Time
}

type builder struct {
	t     *trace.Trace
	m     *match.Result
	opts  Options
	g     *Graph
	comms map[int]*commEvent // by event index
	// home maps each communication event to the partition that first held
	// it; resolve() maps it onward to the live partition.
	home map[int]ID
	// distance and leap state, filled by later phases.
	distance map[ID]int
	leaps    []*leapState
	allProcs map[int]struct{}
}

type leapState struct {
	partitions map[ID]struct{}
	processes  map[int]struct{}
	minStart   trace.Time
	maxEnd     trace.Time
	span       bool
}

// Analyze runs the full partition analysis over a matched trace: partition
// graph construction, communication merging, SCC reduction, leap grouping
// and completion, and global step and lateness assignment.  Structural
// inconsistencies (a cycle surviving SCC reduction, an absorbed id
// resurfacing) abort with a GraphConsistencyError and no partial result.
func Analyze(t *trace.Trace, m *match.Result, opts Options) (*Result, error) {
	b := &builder{
		t:        t,
		m:        m,
		opts:     opts,
		g:        NewGraph(),
		comms:    map[int]*commEvent{},
		home:     map[int]ID{},
		allProcs: map[int]struct{}{},
	}
	for _, p := range t.Processes() {
		b.allProcs[p] = struct{}{}
	}
	b.collectComms()
	b.buildGraph()
	if err := b.mergeCommPartners(); err != nil {
		return nil, err
	}
	if err := b.mergeSCCs(); err != nil {
		return nil, err
	}
	if cycle := b.g.FindCycle(); cycle != nil {
		ids := make([]int, len(cycle))
		for i, id := range cycle {
			ids[i] = int(id)
		}
		return nil, &trace.GraphConsistencyError{Op: "post-SCC cycle check", Partitions: ids}
	}
	if err := b.computeDistances(); err != nil {
		return nil, err
	}
	b.createLeaps()
	if err := b.completeLeaps(); err != nil {
		return nil, err
	}
	return b.assignSteps()
}

// collectComms gathers the trace's communication Instants per process, in
// stream order, chaining each to its same-process neighbors and recovering
// the enclosing call interval from the matcher's parent column.
func (b *builder) collectComms() {
	prevByProc := map[int]int{}
	for _, s := range b.t.Streams() {
		for _, idx := range s.Events {
			ev := b.t.At(idx)
			if ev.Kind != trace.Instant ||
				(ev.Name != b.opts.SendName && ev.Name != b.opts.RecvName) {
				continue
			}
			ce := &commEvent{
				index:   idx,
				process: ev.Process,
				isSend:  ev.Name == b.opts.SendName,
				partner: match.None,
				prev:    match.None,
				next:    match.None,
				start:   ev.Timestamp,
				end:     ev.Timestamp,
			}
			if partner, ok := ev.Attrs.Int(b.opts.MatchKey); ok {
				ce.partner = int(partner)
			}
			if parent := b.m.Parent[idx]; parent != match.None {
				ce.start = b.t.At(parent).Timestamp
				if b.m.Matched(parent) {
					ce.end = b.m.MatchingTimestamp[parent]
				}
			}
			if prev, ok := prevByProc[ev.Process]; ok {
				ce.prev = prev
				b.comms[prev].next = idx
			}
			prevByProc[ev.Process] = idx
			b.comms[idx] = ce
		}
	}
}

// buildGraph creates one singleton partition per communication event and
// chains same-process partitions with sequential happens-before edges.
func (b *builder) buildGraph() {
	for _, idx := range b.commIndices() {
		ce := b.comms[idx]
		id := b.g.NewPartition()
		b.g.addEvent(id, idx, ce.process, ce.start, ce.end)
		b.home[idx] = id
		if ce.prev != match.None {
			b.g.addEdge(b.home[ce.prev], id)
		}
	}
}

// commIndices returns the communication event indices in ascending order.
func (b *builder) commIndices() []int {
	ret := make([]int, 0, len(b.comms))
	for idx := range b.comms {
		ret = append(ret, idx)
	}
	sort.Ints(ret)
	return ret
}

// partitionOf maps a communication event to its current live partition.
func (b *builder) partitionOf(event int) ID {
	return b.g.resolve(b.home[event])
}

// mergeCommPartners merges each send partition with its matched receive
// partition.  Only send events drive the merge, so each pair merges once;
// a partner index that is not a communication event is ignored (the event
// keeps only its sequential edges).
func (b *builder) mergeCommPartners() error {
	for _, idx := range b.commIndices() {
		ce := b.comms[idx]
		if !ce.isSend || ce.partner == match.None {
			continue
		}
		if _, ok := b.comms[ce.partner]; !ok {
			continue
		}
		survivor := b.partitionOf(idx)
		victim := b.partitionOf(ce.partner)
		if survivor == victim {
			continue
		}
		if err := b.g.absorb(survivor, victim); err != nil {
			return err
		}
	}
	return nil
}

// mergeSCCs reduces the partition graph to a DAG.  Merging communication
// partners can introduce circular happens-before relations; they must not
// survive here.
func (b *builder) mergeSCCs() error {
	return b.g.MergeSCCs()
}

// MergeSCCs collapses every strongly connected component of the graph into
// a single partition, absorbing each component's members into its first
// member in discovery order.  Afterwards the graph is acyclic.
func (g *Graph) MergeSCCs() error {
	for _, component := range g.stronglyConnected() {
		if len(component) < 2 {
			continue
		}
		survivor := component[0]
		for _, victim := range component[1:] {
			if err := g.absorb(survivor, victim); err != nil {
				return err
			}
		}
	}
	return nil
}

// stronglyConnected returns the graph's strongly connected components in
// Tarjan discovery order, each component's members in stack-pop order.  The
// depth-first search uses an explicit frame stack so deep partition chains
// cannot overflow the goroutine stack.
func (g *Graph) stronglyConnected() [][]ID {
	const unvisited = -1
	index := make([]int, len(g.arena))
	lowLink := make([]int, len(g.arena))
	onStack := make([]bool, len(g.arena))
	for i := range index {
		index[i] = unvisited
	}
	next := 0
	var sccStack []ID
	var components [][]ID

	type dfsFrame struct {
		id       ID
		children []ID
		child    int
	}
	for _, root := range g.Alive() {
		if index[root] != unvisited {
			continue
		}
		stack := []dfsFrame{{id: root, children: g.arena[root].Children()}}
		index[root], lowLink[root] = next, next
		next++
		sccStack = append(sccStack, root)
		onStack[root] = true
		for len(stack) > 0 {
			frame := &stack[len(stack)-1]
			if frame.child < len(frame.children) {
				child := frame.children[frame.child]
				frame.child++
				if index[child] == unvisited {
					index[child], lowLink[child] = next, next
					next++
					sccStack = append(sccStack, child)
					onStack[child] = true
					stack = append(stack, dfsFrame{id: child, children: g.arena[child].Children()})
				} else if onStack[child] {
					if index[child] < lowLink[frame.id] {
						lowLink[frame.id] = index[child]
					}
				}
				continue
			}
			// Frame exhausted: pop, close its component if it is a root,
			// and propagate its low link to its parent.
			stack = stack[:len(stack)-1]
			if lowLink[frame.id] == index[frame.id] {
				var component []ID
				for {
					top := sccStack[len(sccStack)-1]
					sccStack = sccStack[:len(sccStack)-1]
					onStack[top] = false
					component = append(component, top)
					if top == frame.id {
						break
					}
				}
				components = append(components, component)
			}
			if len(stack) > 0 {
				parent := stack[len(stack)-1].id
				if lowLink[frame.id] < lowLink[parent] {
					lowLink[parent] = lowLink[frame.id]
				}
			}
		}
	}
	return components
}

// computeDistances assigns each live partition its longest distance from a
// root (a partition with no parents) by relaxing children in topological
// order.  A partition left unprocessed means a cycle survived SCC merging,
// which is a structural bug.
func (b *builder) computeDistances() error {
	b.distance = map[ID]int{}
	pending := map[ID]int{}
	var queue []ID
	alive := b.g.Alive()
	for _, id := range alive {
		n := len(b.g.arena[id].parents)
		pending[id] = n
		if n == 0 {
			b.distance[id] = 0
			queue = append(queue, id)
		}
	}
	processed := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		processed++
		for _, child := range b.g.arena[id].Children() {
			if b.distance[id]+1 > b.distance[child] {
				b.distance[child] = b.distance[id] + 1
			}
			pending[child]--
			if pending[child] == 0 {
				queue = append(queue, child)
			}
		}
	}
	if processed != len(alive) {
		var stuck []int
		for _, id := range alive {
			if pending[id] > 0 {
				stuck = append(stuck, int(id))
			}
		}
		return &trace.GraphConsistencyError{Op: "distance relaxation", Partitions: stuck}
	}
	return nil
}

// createLeaps groups the live partitions into leaps by distance value.
func (b *builder) createLeaps() {
	maxDistance := 0
	for _, d := range b.distance {
		if d > maxDistance {
			maxDistance = d
		}
	}
	b.leaps = make([]*leapState, maxDistance+1)
	for i := range b.leaps {
		b.leaps[i] = &leapState{
			partitions: map[ID]struct{}{},
			processes:  map[int]struct{}{},
		}
	}
	for _, id := range b.g.Alive() {
		b.leaps[b.distance[id]].add(b.g, id)
	}
}

func (ls *leapState) add(g *Graph, id ID) {
	ls.partitions[id] = struct{}{}
	p := g.arena[id]
	for proc := range p.processes {
		ls.processes[proc] = struct{}{}
	}
	if !ls.span || p.minStart < ls.minStart {
		ls.minStart = p.minStart
	}
	if !ls.span || p.maxEnd > ls.maxEnd {
		ls.maxEnd = p.maxEnd
	}
	ls.span = true
}

// recalc rebuilds the leap's process coverage and time span from its
// current membership.
func (ls *leapState) recalc(g *Graph) {
	ls.processes = map[int]struct{}{}
	ls.span = false
	members := ls.members()
	ls.partitions = map[ID]struct{}{}
	for _, id := range members {
		ls.add(g, id)
	}
}

func (ls *leapState) members() []ID {
	ret := make([]ID, 0, len(ls.partitions))
	for id := range ls.partitions {
		ret = append(ret, id)
	}
	sort.Slice(ret, func(a, b int) bool { return ret[a] < ret[b] })
	return ret
}

func (b *builder) leapComplete(ls *leapState) bool {
	if len(ls.processes) != len(b.allProcs) {
		return false
	}
	for proc := range b.allProcs {
		if _, ok := ls.processes[proc]; !ok {
			return false
		}
	}
	return true
}

// leapGap returns the time gap between a partition and the leap at the
// provided position: for incoming gaps, from the previous leap's end to the
// partition's start; for outgoing, from the partition's end to the next
// leap's start.  Out-of-range leap positions yield +Inf.
func (b *builder) leapGap(p *Partition, leap int, incoming bool) float64 {
	if leap < 0 || leap >= len(b.leaps) || len(b.leaps[leap].partitions) == 0 {
		return math.Inf(1)
	}
	if incoming {
		return float64(p.minStart - b.leaps[leap].maxEnd)
	}
	return float64(b.leaps[leap].minStart - p.maxEnd)
}

// completeLeaps runs the leap-completion refinement: while a leap does not
// cover all processes, partitions whose incoming gap is much smaller than
// their outgoing gap retreat into the previous leap, and children that
// would expand process coverage are absorbed.  Each leap's refinement is
// bounded by MaxCompletionRounds; leaps still incomplete are, when
// ForceMerge is set, merged with their successors wholesale.  Emptied leaps
// are dropped at the end.
func (b *builder) completeLeaps() error {
	k := 0
	for k < len(b.leaps) {
		leap := b.leaps[k]
		rounds := 0
		changed := true
		for changed && !b.leapComplete(leap) && rounds < b.opts.MaxCompletionRounds {
			changed = false
			rounds++
			for _, id := range leap.members() {
				if _, still := leap.partitions[id]; !still {
					continue
				}
				p, err := b.g.Partition(id)
				if err != nil {
					return err
				}
				incoming := b.leapGap(p, k-1, true)
				outgoing := b.leapGap(p, k+1, false)
				if incoming < outgoing/b.opts.MuchSmallerRatio {
					// The partition sits much closer to the previous leap;
					// it belongs there.
					delete(leap.partitions, id)
					b.leaps[k-1].add(b.g, id)
					b.distance[id] = k - 1
					leap.recalc(b.g)
					changed = true
					continue
				}
				for _, child := range p.Children() {
					if b.expandsCoverage(child, leap) {
						if err := b.absorbIntoLeap(id, child, k); err != nil {
							return err
						}
						changed = true
						break
					}
				}
			}
		}
		if !b.leapComplete(leap) && b.opts.ForceMerge && k+1 < len(b.leaps) {
			b.absorbNextLeap(k)
			continue
		}
		k++
	}
	// Drop emptied leaps; remaining leaps keep their relative order.
	kept := b.leaps[:0]
	for _, ls := range b.leaps {
		if len(ls.partitions) > 0 {
			kept = append(kept, ls)
		}
	}
	b.leaps = kept
	for pos, ls := range b.leaps {
		for id := range ls.partitions {
			b.distance[id] = pos
		}
	}
	return nil
}

// expandsCoverage returns true if the provided partition touches processes
// the leap does not yet cover.
func (b *builder) expandsCoverage(id ID, ls *leapState) bool {
	p := b.g.arena[id]
	for proc := range p.processes {
		if _, ok := ls.processes[proc]; !ok {
			return true
		}
	}
	return false
}

// absorbIntoLeap merges the child partition into the parent partition,
// removing the child from whichever leap holds it and refreshing the
// parent's leap.
func (b *builder) absorbIntoLeap(parent, child ID, leap int) error {
	childLeap := b.distance[child]
	if err := b.g.absorb(parent, child); err != nil {
		return err
	}
	delete(b.leaps[childLeap].partitions, child)
	b.leaps[childLeap].recalc(b.g)
	delete(b.distance, child)
	if childLeap != leap {
		b.leaps[leap].recalc(b.g)
	}
	return nil
}

// absorbNextLeap merges leap k+1's membership into leap k.  Removing the
// leap shifts all later leaps down one position, so their partitions'
// distances must be re-pointed at the new positions.
func (b *builder) absorbNextLeap(k int) {
	for id := range b.leaps[k+1].partitions {
		b.leaps[k].add(b.g, id)
		b.distance[id] = k
	}
	b.leaps = append(b.leaps[:k+1], b.leaps[k+2:]...)
	for pos := k + 1; pos < len(b.leaps); pos++ {
		for id := range b.leaps[pos].partitions {
			b.distance[id] = pos
		}
	}
}

// snapshotLeaps converts the final leap states into exported Leaps.
func (b *builder) snapshotLeaps() []Leap {
	ret := make([]Leap, len(b.leaps))
	for i, ls := range b.leaps {
		ret[i] = Leap{
			Partitions: ls.members(),
			Processes:  sortedInts(ls.processes),
			Complete:   b.leapComplete(ls),
			MinStart:   ls.minStart,
			MaxEnd:     ls.maxEnd,
		}
	}
	return ret
}
