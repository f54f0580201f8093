package regalloc

import (
	"fmt"

	"github.com/raymyers/ralph-irc/pkg/ir"
	"github.com/raymyers/ralph-irc/pkg/target"
	"tlog.app/go/tlog"
)

// NodeID indexes the node arena of an InterferenceGraph. The first
// NumRegs nodes are the precolored physical registers, node r standing for
// register r.
type NodeID int

type nodeKind uint8

const (
	precoloredNode nodeKind = iota
	permNode                // callee-saved register kept in a register variable
	longNode                // temp live across block boundaries
	shortNode               // temp confined to one block
	scratchNode             // extra register an instruction needs
)

var nodeKindNames = [...]string{"reg", "perm", "long", "short", "scratch"}

// listID tags which worklist owns a node.
type listID uint8

const (
	onPrecolored listID = iota
	onInitial
	onSimplify
	onFreeze
	onSpill
	onSpilled
	onCoalesced
	onColored
	onSelect
	numNodeLists
)

var listNames = [...]string{"precolored", "initial", "simplify", "freeze", "spill", "spilled", "coalesced", "colored", "select"}

type node struct {
	link
	kind   nodeKind
	class  target.Class
	list   listID
	adj    []NodeID
	nclass []int // live neighbors per class
	moves  []int
	alias  NodeID
	color  int // physical register, -1 until colored
	reg    int // precolored: its register; perm: the register it stands for

	temp      ir.Temp
	instr     *ir.Instr // scratch: the owning instruction
	leaf      bool      // defined without reading any register
	rewritten bool      // introduced by spill code
}

// moveState tags which move list owns a move.
type moveState uint8

const (
	moveWorklist moveState = iota
	moveActive
	moveCoalesced
	moveConstrained
	moveFrozen
	numMoveLists
)

type move struct {
	link
	dst, src NodeID
	state    moveState
	instr    *ir.Instr
}

type edgeKey struct{ u, v NodeID }

// InterferenceGraph holds the nodes, interference edges and move
// candidates of one allocation attempt, together with the worklists that
// own them.
type InterferenceGraph struct {
	m      *target.Machine
	nodes  []node
	moves  []move
	edges  map[edgeKey]struct{}
	nedges int

	lists     [numNodeLists]list
	moveLists [numMoveLists]list
}

// NewGraph creates a graph holding one precolored node per register of m.
func NewGraph(m *target.Machine) *InterferenceGraph {
	g := &InterferenceGraph{
		m:     m,
		edges: make(map[edgeKey]struct{}),
	}
	for i := range g.lists {
		g.lists[i] = newList()
	}
	for i := range g.moveLists {
		g.moveLists[i] = newList()
	}
	for r := 0; r < m.NumRegs(); r++ {
		n := g.newNode(precoloredNode, m.RegClass(r))
		g.nodes[n].color = r
		g.nodes[n].reg = r
	}
	return g
}

// Machine returns the target the graph colors against.
func (g *InterferenceGraph) Machine() *target.Machine { return g.m }

// NumNodes returns the size of the node arena.
func (g *InterferenceGraph) NumNodes() int { return len(g.nodes) }

// NumEdges returns the number of distinct interference edges added.
func (g *InterferenceGraph) NumEdges() int { return g.nedges }

// NumMoves returns the number of move candidates.
func (g *InterferenceGraph) NumMoves() int { return len(g.moves) }

// Precolored returns the node of physical register r.
func (g *InterferenceGraph) Precolored(r int) NodeID { return NodeID(r) }

// AddNode adds an uncolored value node of class c.
func (g *InterferenceGraph) AddNode(c target.Class) NodeID {
	if !g.m.ValidClass(c) {
		panic(fmt.Sprintf("regalloc: AddNode: invalid class %d", int(c)))
	}
	return g.newNode(longNode, c)
}

// Class returns the class of n.
func (g *InterferenceGraph) Class(n NodeID) target.Class { return g.nodes[n].class }

// Adjacent returns the neighbors recorded for n. Precolored nodes have none.
func (g *InterferenceGraph) Adjacent(n NodeID) []NodeID { return g.nodes[n].adj }

func (g *InterferenceGraph) newNode(kind nodeKind, c target.Class) NodeID {
	id := NodeID(len(g.nodes))
	g.nodes = append(g.nodes, node{
		link:   link{prev: -1, next: -1},
		kind:   kind,
		class:  c,
		nclass: make([]int, g.m.NumClasses()+1),
		alias:  -1,
		color:  -1,
		reg:    -1,
	})
	if kind == precoloredNode {
		g.nodes[id].list = onPrecolored
		g.lists[onPrecolored].push(int(id), g.nodeLink)
	} else {
		g.nodes[id].list = onInitial
		g.lists[onInitial].push(int(id), g.nodeLink)
	}
	return id
}

func (g *InterferenceGraph) nodeLink(i int) *link { return &g.nodes[i].link }
func (g *InterferenceGraph) moveLink(i int) *link { return &g.moves[i].link }

func (g *InterferenceGraph) precolored(n NodeID) bool {
	return g.nodes[n].kind == precoloredNode
}

// setList moves n from its current worklist to l.
func (g *InterferenceGraph) setList(n NodeID, l listID) {
	nd := &g.nodes[n]
	g.lists[nd.list].remove(int(n), g.nodeLink)
	nd.list = l
	g.lists[l].push(int(n), g.nodeLink)
}

func (g *InterferenceGraph) setMoveState(mi int, s moveState) {
	mv := &g.moves[mi]
	g.moveLists[mv.state].remove(mi, g.moveLink)
	mv.state = s
	g.moveLists[s].push(mi, g.moveLink)
}

// gone reports whether n no longer takes part in the graph: it was
// simplified onto the select stack or merged into another node.
func (g *InterferenceGraph) gone(n NodeID) bool {
	l := g.nodes[n].list
	return l == onSelect || l == onCoalesced
}

// Interfere reports whether u and v are known to interfere.
//
// For a precolored u the answer is also yes when v already interferes with
// a precolored register that blocks every color u would block for v, so an
// edge to a register pair makes edges to its halves redundant.
func (g *InterferenceGraph) Interfere(u, v NodeID) bool {
	if g.precolored(v) && !g.precolored(u) {
		u, v = v, u
	}
	if g.precolored(u) {
		if g.precolored(v) {
			return g.m.Interferes(g.nodes[u].reg, g.nodes[v].reg)
		}
		c := g.nodes[v].class
		need := g.m.AliasMask(c, g.nodes[u].reg)
		for _, t := range g.nodes[v].adj {
			if g.precolored(t) && need&^g.m.AliasMask(c, g.nodes[t].reg) == 0 {
				return true
			}
		}
		return false
	}
	_, ok := g.edges[keyOf(u, v)]
	return ok
}

func keyOf(u, v NodeID) edgeKey {
	if u > v {
		u, v = v, u
	}
	return edgeKey{u, v}
}

// AddEdge records that u and v cannot share a register. Adding an edge
// twice is a no-op. Edges between two precolored registers are never
// stored; the target's overlap table answers for them.
func (g *InterferenceGraph) AddEdge(u, v NodeID) {
	if u == v {
		return
	}
	pu, pv := g.precolored(u), g.precolored(v)
	if pu && pv {
		return
	}
	if g.Interfere(u, v) {
		return
	}
	g.edges[keyOf(u, v)] = struct{}{}
	g.nedges++

	if tlog.If("regalloc_edges") {
		tlog.Printw("add edge", "u", g.nodeName(u), "v", g.nodeName(v))
	}

	if !pu {
		g.nodes[u].adj = append(g.nodes[u].adj, v)
		g.nodes[u].nclass[g.nodes[v].class]++
	}
	if !pv {
		g.nodes[v].adj = append(g.nodes[v].adj, u)
		g.nodes[v].nclass[g.nodes[u].class]++
	}
}

// AddMove records a copy from src to dst as a coalescing candidate. The
// endpoints must be of the same class.
func (g *InterferenceGraph) AddMove(dst, src NodeID) (err error) {
	defer recoverFatal(&err)
	g.addMove(dst, src, nil)
	return nil
}

func (g *InterferenceGraph) addMove(dst, src NodeID, in *ir.Instr) {
	if dst == src || g.precolored(dst) && g.precolored(src) {
		return
	}
	if g.nodes[dst].class != g.nodes[src].class {
		fatalf(ErrClassMismatch, "%s (%s) <- %s (%s)%s",
			g.nodeName(dst), g.m.ClassName(g.nodes[dst].class),
			g.nodeName(src), g.m.ClassName(g.nodes[src].class), instrSuffix(in))
	}
	mi := len(g.moves)
	g.moves = append(g.moves, move{
		link:  link{prev: -1, next: -1},
		dst:   dst,
		src:   src,
		state: moveWorklist,
		instr: in,
	})
	g.moveLists[moveWorklist].push(mi, g.moveLink)
	g.nodes[dst].moves = append(g.nodes[dst].moves, mi)
	g.nodes[src].moves = append(g.nodes[src].moves, mi)
}

// moveRelated reports whether n still has a move that could be coalesced.
func (g *InterferenceGraph) moveRelated(n NodeID) bool {
	for _, mi := range g.nodes[n].moves {
		if s := g.moves[mi].state; s == moveWorklist || s == moveActive {
			return true
		}
	}
	return false
}

// alias follows coalescing to the node n was merged into.
func (g *InterferenceGraph) alias(n NodeID) NodeID {
	root := n
	for g.nodes[root].list == onCoalesced {
		root = g.nodes[root].alias
	}
	// Compress the path so later lookups are direct.
	for n != root {
		next := g.nodes[n].alias
		g.nodes[n].alias = root
		n = next
	}
	return root
}

func (g *InterferenceGraph) nodeName(n NodeID) string {
	if n < 0 || int(n) >= len(g.nodes) {
		return fmt.Sprintf("n%d", int(n))
	}
	nd := &g.nodes[n]
	switch nd.kind {
	case precoloredNode:
		return "%" + g.m.RegName(nd.reg)
	case permNode:
		return "perm(" + g.m.RegName(nd.reg) + ")"
	case longNode, shortNode:
		if nd.temp != 0 {
			return nd.temp.String()
		}
	}
	return fmt.Sprintf("n%d", int(n))
}

func instrSuffix(in *ir.Instr) string {
	if in == nil {
		return ""
	}
	if in.Line > 0 {
		return fmt.Sprintf(" in %s at line %d", in.Op, in.Line)
	}
	return " in " + in.Op
}
