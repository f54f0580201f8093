package regalloc

import (
	"io"

	"github.com/raymyers/ralph-irc/pkg/ir"
	"github.com/raymyers/ralph-irc/pkg/target"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/encoding"
	"gonum.org/v1/gonum/graph/encoding/dot"
	"gonum.org/v1/gonum/graph/simple"
)

// BuildGraph returns the interference graph of the first allocation
// attempt of fn, before any coloring.
func BuildGraph(fn *ir.Func, m *target.Machine) (g *InterferenceGraph, err error) {
	defer recoverFatal(&err)
	if err := fn.Validate(m); err != nil {
		return nil, err
	}
	p := newProgram(fn, m, nil, nil)
	p.build(p.liveness())
	return p.g, nil
}

type dotNode struct {
	id    int64
	label string
	reg   bool
}

func (n dotNode) ID() int64     { return n.id }
func (n dotNode) DOTID() string { return n.label }

func (n dotNode) Attributes() []encoding.Attribute {
	if n.reg {
		return []encoding.Attribute{{Key: "shape", Value: "box"}}
	}
	return nil
}

type dotEdge struct {
	f, t graph.Node
	move bool
}

func (e dotEdge) From() graph.Node { return e.f }
func (e dotEdge) To() graph.Node   { return e.t }
func (e dotEdge) ReversedEdge() graph.Edge {
	return dotEdge{f: e.t, t: e.f, move: e.move}
}

func (e dotEdge) Attributes() []encoding.Attribute {
	if e.move {
		return []encoding.Attribute{{Key: "style", Value: "dashed"}}
	}
	return nil
}

// WriteDOT writes g in Graphviz form. Interference edges are solid, moves
// that are not also interferences are dashed. Registers appear only when
// something interferes with or moves to them.
func (g *InterferenceGraph) WriteDOT(w io.Writer, name string) error {
	dg := simple.NewUndirectedGraph()
	nodes := make(map[NodeID]graph.Node)
	get := func(n NodeID) graph.Node {
		if dn, ok := nodes[n]; ok {
			return dn
		}
		dn := dotNode{id: int64(n), label: g.nodeName(n), reg: g.precolored(n)}
		dg.AddNode(dn)
		nodes[n] = dn
		return dn
	}

	for i := range g.nodes {
		if n := NodeID(i); !g.precolored(n) {
			get(n)
		}
	}
	for e := range g.edges {
		dg.SetEdge(dotEdge{f: get(e.u), t: get(e.v)})
	}
	for _, mv := range g.moves {
		f, t := get(mv.dst), get(mv.src)
		if dg.HasEdgeBetween(f.ID(), t.ID()) {
			continue
		}
		dg.SetEdge(dotEdge{f: f, t: t, move: true})
	}

	buf, err := dot.Marshal(dg, name, "", "  ")
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}
