package regalloc

import (
	"math/bits"
	"slices"

	"github.com/raymyers/ralph-irc/pkg/target"
	"tlog.app/go/tlog"
)

// DefaultMaxPasses bounds how often a function is recolored after its
// short-lived temps were split by spill code.
const DefaultMaxPasses = 20

// Options tune an allocation.
type Options struct {
	// MaxPasses bounds restarts after spill code was inserted for
	// short-lived temps. Zero means DefaultMaxPasses.
	MaxPasses int
	// NoCoalesce freezes every move instead of coalescing it.
	NoCoalesce bool
	// Check verifies the degree bookkeeping after every step.
	Check bool
}

func (o Options) maxPasses() int {
	if o.MaxPasses <= 0 {
		return DefaultMaxPasses
	}
	return o.MaxPasses
}

// Stats counts what one coloring attempt did.
type Stats struct {
	Nodes       int
	Edges       int
	Moves       int
	Steps       int // worklist transitions of the main loop
	Simplified  int
	Coalesced   int
	Constrained int
	Frozen      int
	Optimistic  int // spill candidates pushed optimistically
	Spilled     int
}

// Allocator runs Iterated Register Coalescing over an InterferenceGraph.
// It is single-use: the graph is consumed by coloring.
type Allocator struct {
	g     *InterferenceGraph
	opts  Options
	stats Stats

	mark  []int // stamps for the conservative test
	stamp int
	ncl   []int
}

// NewAllocator prepares to color g.
func NewAllocator(g *InterferenceGraph, opts Options) *Allocator {
	return &Allocator{
		g:    g,
		opts: opts,
		mark: make([]int, len(g.nodes)),
		ncl:  make([]int, g.m.NumClasses()+1),
	}
}

// Coloring is the outcome of coloring a graph.
type Coloring struct {
	g *InterferenceGraph

	// Spilled lists the nodes that got no color, coalesced ones included.
	Spilled []NodeID
	Stats   Stats
}

// Color returns the register assigned to n, or -1 if n was spilled.
func (c *Coloring) Color(n NodeID) int {
	if c.g.nodes[n].list == onSpilled {
		return -1
	}
	return c.g.nodes[n].color
}

// Alias returns the node n was coalesced into, or n itself.
func (c *Coloring) Alias(n NodeID) NodeID { return c.g.alias(n) }

// Color colors g. The graph cannot be colored again afterwards.
func (g *InterferenceGraph) Color(opts Options) (c *Coloring, err error) {
	defer recoverFatal(&err)
	return NewAllocator(g, opts).Allocate(), nil
}

// Allocate runs the worklist loop and assigns colors. Internal errors
// panic with a fatal value; Color and AllocateFunction recover them.
func (a *Allocator) Allocate() *Coloring {
	g := a.g
	a.stats.Nodes = len(g.nodes)
	a.stats.Edges = g.nedges
	a.stats.Moves = len(g.moves)

	a.mkWorklist()
	if a.opts.Check {
		a.checkDegrees()
	}

	for {
		switch {
		case !g.lists[onSimplify].empty():
			a.simplify()
		case !g.moveLists[moveWorklist].empty():
			a.coalesce()
		case !g.lists[onFreeze].empty():
			a.freeze()
		case !g.lists[onSpill].empty():
			a.selectSpill()
		default:
			a.assignColors()
			return a.coloring()
		}
		a.stats.Steps++
		if a.opts.Check {
			a.checkDegrees()
		}
	}
}

func (a *Allocator) coloring() *Coloring {
	c := &Coloring{g: a.g}
	a.g.lists[onSpilled].each(a.g.nodeLink, func(i int) bool {
		c.Spilled = append(c.Spilled, NodeID(i))
		return true
	})
	slices.Sort(c.Spilled)
	a.stats.Spilled = len(c.Spilled)
	c.Stats = a.stats
	return c
}

func (a *Allocator) trivial(n NodeID) bool {
	nd := &a.g.nodes[n]
	ok, err := a.g.m.TriviallyColorable(nd.class, nd.nclass)
	if err != nil {
		fatalErr(err)
	}
	return ok
}

func (a *Allocator) mkWorklist() {
	g := a.g
	for !g.lists[onInitial].empty() {
		n := NodeID(g.lists[onInitial].head)
		switch {
		case !a.trivial(n):
			g.setList(n, onSpill)
		case g.moveRelated(n):
			g.setList(n, onFreeze)
		default:
			g.setList(n, onSimplify)
		}
	}
	if a.opts.NoCoalesce {
		for !g.moveLists[moveWorklist].empty() {
			g.setMoveState(g.moveLists[moveWorklist].head, moveFrozen)
		}
		// Nothing is move related any more.
		for !g.lists[onFreeze].empty() {
			g.setList(NodeID(g.lists[onFreeze].head), onSimplify)
		}
	}
}

func (a *Allocator) simplify() {
	g := a.g
	n := NodeID(g.lists[onSimplify].head)
	g.setList(n, onSelect)
	a.stats.Simplified++
	tlog.V("regalloc").Printw("simplify", "node", g.nodeName(n))

	for _, w := range g.nodes[n].adj {
		if g.gone(w) || g.precolored(w) {
			continue
		}
		a.decrementDegree(w, g.nodes[n].class)
	}
}

// decrementDegree drops one class-c neighbor from w. When that makes w
// trivially colorable its moves and its neighbors' moves become
// candidates again and w leaves the spill worklist.
func (a *Allocator) decrementDegree(w NodeID, c target.Class) {
	g := a.g
	nd := &g.nodes[w]
	was := a.trivial(w)
	nd.nclass[c]--
	if nd.nclass[c] < 0 {
		fatalf(ErrInvariant, "%s: negative %s neighbor count", g.nodeName(w), g.m.ClassName(c))
	}
	if was == a.trivial(w) {
		return
	}
	a.enableMoves(w)
	for _, t := range nd.adj {
		if !g.gone(t) {
			a.enableMoves(t)
		}
	}
	if g.moveRelated(w) {
		g.setList(w, onFreeze)
	} else {
		g.setList(w, onSimplify)
	}
}

func (a *Allocator) enableMoves(n NodeID) {
	g := a.g
	for _, mi := range g.nodes[n].moves {
		if g.moves[mi].state == moveActive {
			g.setMoveState(mi, moveWorklist)
		}
	}
}

func (a *Allocator) addWorkList(u NodeID) {
	g := a.g
	if g.precolored(u) || g.nodes[u].list != onFreeze {
		return
	}
	if !g.moveRelated(u) && a.trivial(u) {
		g.setList(u, onSimplify)
	}
}

func (a *Allocator) coalesce() {
	g := a.g
	mi := g.moveLists[moveWorklist].head
	mv := &g.moves[mi]

	x, y := g.alias(mv.src), g.alias(mv.dst)
	u, v := x, y
	if g.precolored(y) {
		u, v = y, x
	}
	if g.nodes[u].class != g.nodes[v].class {
		fatalf(ErrClassMismatch, "coalescing %s with %s", g.nodeName(u), g.nodeName(v))
	}

	switch {
	case u == v:
		g.setMoveState(mi, moveCoalesced)
		a.addWorkList(u)
	case g.precolored(v) || g.Interfere(u, v):
		g.setMoveState(mi, moveConstrained)
		a.stats.Constrained++
		a.addWorkList(u)
		a.addWorkList(v)
	case g.precolored(u) && a.george(v, u), !g.precolored(u) && a.briggs(u, v):
		g.setMoveState(mi, moveCoalesced)
		a.stats.Coalesced++
		tlog.V("regalloc").Printw("coalesce", "u", g.nodeName(u), "v", g.nodeName(v))
		a.combine(u, v)
		a.addWorkList(u)
	default:
		g.setMoveState(mi, moveActive)
	}
}

// george is the coalescing test against a precolored u: every live
// neighbor t of v must be harmless to merge with u.
func (a *Allocator) george(v, u NodeID) bool {
	g := a.g
	for _, t := range g.nodes[v].adj {
		if g.gone(t) {
			continue
		}
		if !a.ok(t, u) {
			return false
		}
	}
	return true
}

func (a *Allocator) ok(t, r NodeID) bool {
	g := a.g
	return g.precolored(t) ||
		a.trivial(t) ||
		g.Interfere(t, r) ||
		g.m.AliasMask(g.nodes[t].class, g.nodes[r].reg) == 0
}

// briggs is the conservative test for two uncolored nodes: the merged node
// must stay trivially colorable counting only its neighbors that are not.
// Precolored neighbors always count.
func (a *Allocator) briggs(u, v NodeID) bool {
	g := a.g
	m := g.m
	a.stamp++
	for i := range a.ncl {
		a.ncl[i] = 0
	}
	saturated := 0
	classes := m.NumClasses()

scan:
	for _, n := range [2]NodeID{u, v} {
		for _, t := range g.nodes[n].adj {
			if g.gone(t) || a.mark[t] == a.stamp {
				continue
			}
			a.mark[t] = a.stamp
			c := g.nodes[t].class
			if a.ncl[c] == m.K(c) {
				continue
			}
			if g.precolored(t) || !a.trivial(t) {
				a.ncl[c]++
			}
			if a.ncl[c] == m.K(c) {
				// Once every class is saturated the answer cannot change.
				if saturated++; saturated == classes {
					break scan
				}
			}
		}
	}
	ok, err := m.TriviallyColorable(g.nodes[u].class, a.ncl)
	if err != nil {
		fatalErr(err)
	}
	return ok
}

// combine merges v into u.
func (a *Allocator) combine(u, v NodeID) {
	g := a.g
	g.setList(v, onCoalesced)
	g.nodes[v].alias = u

	for _, mv := range g.nodes[v].moves {
		dup := false
		for _, mu := range g.nodes[u].moves {
			if mu == mv {
				dup = true
				break
			}
		}
		if !dup {
			g.nodes[u].moves = append(g.nodes[u].moves, mv)
		}
	}
	a.enableMoves(v)

	pu := g.precolored(u)
	for _, t := range g.nodes[v].adj {
		if g.gone(t) {
			continue
		}
		// A precolored u only matters to neighbors it can block.
		if !pu || g.m.AliasMask(g.nodes[t].class, g.nodes[u].reg) != 0 {
			g.AddEdge(t, u)
		}
		if !g.precolored(t) {
			a.decrementDegree(t, g.nodes[v].class)
		}
	}
	if !pu && g.nodes[u].list == onFreeze && !a.trivial(u) {
		g.setList(u, onSpill)
	}
}

func (a *Allocator) freeze() {
	g := a.g
	u := NodeID(g.lists[onFreeze].head)
	g.setList(u, onSimplify)
	a.stats.Frozen++
	tlog.V("regalloc").Printw("freeze", "node", g.nodeName(u))
	a.freezeMoves(u)
}

func (a *Allocator) freezeMoves(u NodeID) {
	g := a.g
	for _, mi := range g.nodes[u].moves {
		mv := &g.moves[mi]
		if mv.state != moveWorklist && mv.state != moveActive {
			continue
		}
		v := g.alias(mv.dst)
		if v == g.alias(u) {
			v = g.alias(mv.src)
		}
		g.setMoveState(mi, moveFrozen)
		if g.nodes[v].list == onFreeze && !g.moveRelated(v) {
			g.setList(v, onSimplify)
		}
	}
}

// selectSpill picks a node to push optimistically. Callee-saved register
// variables go first since spilling one only costs a save and restore,
// then long-lived temps, then anything whose value is not trivially
// recomputed, and only then spill code and scratch registers.
func (a *Allocator) selectSpill() {
	g := a.g
	spill := &g.lists[onSpill]

	pick := -1
	prefer := func(f func(nd *node) bool) {
		if pick >= 0 {
			return
		}
		spill.each(g.nodeLink, func(i int) bool {
			if f(&g.nodes[i]) {
				pick = i
				return false
			}
			return true
		})
	}
	prefer(func(nd *node) bool { return nd.kind == permNode })
	prefer(func(nd *node) bool { return nd.kind == longNode && !nd.rewritten })
	prefer(func(nd *node) bool { return nd.kind == shortNode && !nd.leaf && !nd.rewritten })
	prefer(func(nd *node) bool { return nd.kind == shortNode && !nd.rewritten })
	if pick < 0 {
		pick = spill.head
	}

	n := NodeID(pick)
	a.stats.Optimistic++
	tlog.V("regalloc").Printw("select spill", "node", g.nodeName(n), "kind", nodeKindNames[g.nodes[n].kind])
	g.setList(n, onSimplify)
	a.freezeMoves(n)
}

func (a *Allocator) assignColors() {
	g := a.g
	m := g.m
	for !g.lists[onSelect].empty() {
		w := NodeID(g.lists[onSelect].head)
		nd := &g.nodes[w]
		okColors := m.ClassMask(nd.class)
		for _, x := range nd.adj {
			o := g.alias(x)
			if l := g.nodes[o].list; l == onColored || l == onPrecolored {
				okColors &^= m.AliasMask(nd.class, g.nodes[o].color)
			}
		}
		if okColors == 0 {
			g.setList(w, onSpilled)
			tlog.V("regalloc").Printw("spill", "node", g.nodeName(w))
			continue
		}
		g.setList(w, onColored)
		nd.color = m.ColorToReg(nd.class, bits.TrailingZeros64(okColors))
		tlog.V("regalloc").Printw("color", "node", g.nodeName(w), "reg", m.RegName(nd.color))
	}

	var coalesced []NodeID
	g.lists[onCoalesced].each(g.nodeLink, func(i int) bool {
		coalesced = append(coalesced, NodeID(i))
		return true
	})
	for _, w := range coalesced {
		root := g.alias(w)
		if g.nodes[root].list == onSpilled {
			g.nodes[w].alias = root
			g.setList(w, onSpilled)
			continue
		}
		g.nodes[w].color = g.nodes[root].color
	}
}
