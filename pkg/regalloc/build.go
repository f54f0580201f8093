package regalloc

import (
	"github.com/bits-and-blooms/bitset"
	"github.com/raymyers/ralph-irc/pkg/ir"
)

// builder walks each block backwards from its live-out set and adds the
// interference edges and move candidates of every instruction.
type builder struct {
	p     *program
	g     *InterferenceGraph
	live  *bitset.BitSet // tracked nodes
	short []NodeID       // live short-lived temps and scratch registers
}

// build adds every edge and move of the function to p's graph.
func (p *program) build(li *LivenessInfo) {
	b := &builder{p: p, g: p.g}

	// Register variables are live together for the whole function.
	for i, u := range p.perm {
		for _, v := range p.perm[i+1:] {
			p.g.AddEdge(u, v)
		}
		p.g.addMove(u, p.g.Precolored(p.g.nodes[u].reg), nil)
	}

	for bi, blk := range p.fn.Blocks {
		b.live = li.Out[bi].Clone()
		b.short = b.short[:0]
		for j := len(blk.Instrs) - 1; j >= 0; j-- {
			b.instr(blk.Instrs[j])
		}
	}
}

func (b *builder) liveAdd(n NodeID) {
	if b.p.tracked(n) {
		b.live.Set(uint(n))
		return
	}
	for _, s := range b.short {
		if s == n {
			return
		}
	}
	b.short = append(b.short, n)
}

func (b *builder) liveDel(n NodeID) {
	if b.p.tracked(n) {
		b.live.Clear(uint(n))
		return
	}
	for i, s := range b.short {
		if s == n {
			b.short = append(b.short[:i], b.short[i+1:]...)
			return
		}
	}
}

// addAllEdges makes n interfere with everything live, except the source
// of a copy into n.
func (b *builder) addAllEdges(n, except NodeID) {
	for i, ok := b.live.NextSet(0); ok; i, ok = b.live.NextSet(i + 1) {
		if t := NodeID(i); t != except {
			b.g.AddEdge(t, n)
		}
	}
	for _, t := range b.short {
		if t != except {
			b.g.AddEdge(t, n)
		}
	}
}

func (b *builder) instr(in *ir.Instr) {
	p, g := b.p, b.g

	d := p.node(in.Dst)
	srcs := make([]NodeID, len(in.Srcs))
	for i, s := range in.Srcs {
		srcs[i] = p.node(s)
	}

	copyFrom := NodeID(-1)
	if in.Kind == ir.Move && d >= 0 {
		copyFrom = srcs[0]
	}

	// The result is written while everything live after the instruction
	// still holds its value. A copy does not conflict with its source.
	if d >= 0 {
		b.liveDel(d)
		b.addAllEdges(d, copyFrom)
		if copyFrom >= 0 {
			g.addMove(d, copyFrom, in)
		}
	}

	// Scratch registers are busy during the instruction: they conflict
	// with the result, with each other, with what stays live, and with the
	// sources unless they may share them.
	scratch := p.scratchNodes(in, d)
	for i, s := range scratch {
		if s != d {
			b.addAllEdges(s, -1)
			if d >= 0 {
				g.AddEdge(s, d)
			}
		}
		for _, o := range scratch[:i] {
			g.AddEdge(s, o)
		}
		if !in.ScratchShares(i) {
			for _, r := range srcs {
				if r >= 0 {
					g.AddEdge(s, r)
				}
			}
		}
	}

	if in.Kind == ir.Call {
		if d >= 0 {
			if ret, ok := p.m.RetReg(g.nodes[d].class); ok {
				g.addMove(d, g.Precolored(ret), in)
			}
		}
		for _, r := range p.m.Temp {
			b.addAllEdges(g.Precolored(r), -1)
		}
	}

	// Two-operand form: the result starts as a copy of one source and must
	// not sit in the register of any other.
	if in.Reuse.Kind == ir.ReuseSrc && d >= 0 {
		if s := srcs[in.Reuse.Index]; s >= 0 {
			g.addMove(d, s, in)
		}
		for j, r := range srcs {
			if j != in.Reuse.Index && r >= 0 {
				g.AddEdge(d, r)
			}
		}
	}

	for _, fx := range in.Fixed {
		reg := g.Precolored(fx.Reg)
		switch fx.Kind {
		case ir.FixedSrc:
			b.addAllEdges(reg, -1)
			for j, r := range srcs {
				if r < 0 {
					continue
				}
				if j == fx.Index {
					g.addMove(r, reg, in)
				} else {
					g.AddEdge(r, reg)
				}
			}
		case ir.FixedNotSrc:
			if r := srcs[fx.Index]; r >= 0 {
				g.AddEdge(r, reg)
			}
		case ir.FixedResult:
			b.addAllEdges(reg, -1)
			if d >= 0 {
				g.addMove(d, reg, in)
			}
		case ir.FixedClobber:
			b.addAllEdges(reg, -1)
		}
	}

	for _, r := range srcs {
		if r >= 0 {
			b.liveAdd(r)
		}
	}
}
