package regalloc

import (
	"fmt"
	"io"

	"github.com/bits-and-blooms/bitset"
	"github.com/raymyers/ralph-irc/pkg/ir"
	"github.com/raymyers/ralph-irc/pkg/target"
	"tlog.app/go/tlog"
)

// LivenessInfo holds block-level liveness of physical registers,
// register variables and long-lived temps. Bit i stands for NodeID i.
type LivenessInfo struct {
	Gen, Kill []*bitset.BitSet
	In, Out   []*bitset.BitSet
	// Iterations of the fixed point loop.
	Iterations int

	p *program
}

// AnalyzeLiveness computes block liveness for fn as the first allocation
// attempt would see it.
func AnalyzeLiveness(fn *ir.Func, m *target.Machine) (li *LivenessInfo, err error) {
	defer recoverFatal(&err)
	if err := fn.Validate(m); err != nil {
		return nil, err
	}
	p := newProgram(fn, m, nil, nil)
	return p.liveness(), nil
}

// bit returns the liveness bit of operand o, or -1 if block liveness does
// not track it.
func (p *program) bit(o ir.Operand) int {
	n := p.node(o)
	if n < 0 || !p.tracked(n) {
		return -1
	}
	return int(n)
}

func (p *program) liveness() *LivenessInfo {
	nb := len(p.fn.Blocks)
	size := uint(p.nbits)
	li := &LivenessInfo{
		Gen:  make([]*bitset.BitSet, nb),
		Kill: make([]*bitset.BitSet, nb),
		In:   make([]*bitset.BitSet, nb),
		Out:  make([]*bitset.BitSet, nb),
		p:    p,
	}

	for i, b := range p.fn.Blocks {
		gen, kill := bitset.New(size), bitset.New(size)
		for j := len(b.Instrs) - 1; j >= 0; j-- {
			in := b.Instrs[j]
			if d := p.bit(in.Dst); d >= 0 {
				gen.Clear(uint(d))
				kill.Set(uint(d))
			}
			for _, s := range in.Srcs {
				if u := p.bit(s); u >= 0 {
					gen.Set(uint(u))
				}
			}
		}
		li.Gen[i], li.Kill[i] = gen, kill
		li.In[i] = gen.Clone()
		li.Out[i] = bitset.New(size)
	}

	// Register variables hold the callee-saved values until the function
	// returns.
	for _, e := range p.fn.Exits() {
		for _, n := range p.perm {
			li.Out[e].Set(uint(n))
		}
	}

	for changed := true; changed; {
		changed = false
		li.Iterations++
		for i := nb - 1; i >= 0; i-- {
			out := li.Out[i]
			for _, s := range p.fn.Blocks[i].Succs {
				out.InPlaceUnion(li.In[s])
			}
			in := out.Difference(li.Kill[i])
			in.InPlaceUnion(li.Gen[i])
			if !in.Equal(li.In[i]) {
				li.In[i] = in
				changed = true
			}
		}
	}
	tlog.V("regalloc").Printw("liveness", "func", p.fn.Name, "blocks", nb, "bits", p.nbits, "iterations", li.Iterations)
	return li
}

// LiveIn returns the temps live on entry to block b.
func (li *LivenessInfo) LiveIn(b int) []ir.Temp { return li.temps(li.In[b]) }

// LiveOut returns the temps live on exit from block b.
func (li *LivenessInfo) LiveOut(b int) []ir.Temp { return li.temps(li.Out[b]) }

func (li *LivenessInfo) temps(s *bitset.BitSet) []ir.Temp {
	var ts []ir.Temp
	for i, ok := s.NextSet(0); ok; i, ok = s.NextSet(i + 1) {
		if t := li.p.g.nodes[i].temp; t != 0 {
			ts = append(ts, t)
		}
	}
	return ts
}

// Format writes the per-block sets.
func (li *LivenessInfo) Format(w io.Writer) {
	p := li.p
	fmt.Fprintf(w, "%s: liveness converged after %d iterations\n", p.fn.Name, li.Iterations)
	for i, b := range p.fn.Blocks {
		label := b.Label
		if label == "" {
			label = fmt.Sprintf("b%d", i)
		}
		fmt.Fprintf(w, "%s:\n", label)
		for _, row := range []struct {
			name string
			set  *bitset.BitSet
		}{{"gen", li.Gen[i]}, {"kill", li.Kill[i]}, {"in", li.In[i]}, {"out", li.Out[i]}} {
			fmt.Fprintf(w, "  %-4s", row.name)
			for j, ok := row.set.NextSet(0); ok; j, ok = row.set.NextSet(j + 1) {
				fmt.Fprintf(w, " %s", p.g.nodeName(NodeID(j)))
			}
			fmt.Fprintln(w)
		}
	}
}
