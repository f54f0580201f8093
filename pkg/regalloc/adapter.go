package regalloc

import (
	"slices"

	"github.com/raymyers/ralph-irc/pkg/ir"
	"github.com/raymyers/ralph-irc/pkg/target"
)

// program is one allocation attempt's view of a function: which node
// stands for each temp, callee-saved register and scratch register.
//
// Node numbering: precolored registers first, then the register-variable
// nodes of the callee-saved registers, then long-lived temps. All of those
// are tracked by block liveness and their NodeID is their bit index. Short-
// lived temps and scratch registers follow; they never cross a block
// boundary and are tracked per block during the build walk.
type program struct {
	fn *ir.Func
	m  *target.Machine
	g  *InterferenceGraph

	temps   map[ir.Temp]NodeID
	perm    []NodeID
	nbits   int
	scratch map[*ir.Instr][]NodeID
}

type tempUse struct {
	block    int
	multi    bool // referenced in more than one block
	firstDef bool // first reference is a definition
	leaf     bool // first definition reads no register
	defined  bool
}

// newProgram builds the nodes for fn. saved lists the callee-saved
// registers that are saved on the stack and need no register variable;
// rewritten lists temps created by spill code.
func newProgram(fn *ir.Func, m *target.Machine, saved map[int]bool, rewritten map[ir.Temp]bool) *program {
	p := &program{
		fn:      fn,
		m:       m,
		g:       NewGraph(m),
		temps:   make(map[ir.Temp]NodeID),
		scratch: make(map[*ir.Instr][]NodeID),
	}

	uses := classifyTemps(fn)

	for _, r := range m.Perm {
		if saved[r] {
			continue
		}
		n := p.g.newNode(permNode, m.RegClass(r))
		p.g.nodes[n].reg = r
		p.perm = append(p.perm, n)
	}

	temps := make([]ir.Temp, 0, len(uses))
	for t := range uses {
		temps = append(temps, t)
	}
	slices.Sort(temps)

	for _, t := range temps {
		if u := uses[t]; u.multi || !u.firstDef {
			p.addTemp(t, longNode, u, rewritten[t])
		}
	}
	p.nbits = len(p.g.nodes)
	for _, t := range temps {
		if u := uses[t]; !u.multi && u.firstDef {
			p.addTemp(t, shortNode, u, rewritten[t])
		}
	}
	return p
}

func (p *program) addTemp(t ir.Temp, kind nodeKind, u *tempUse, rewritten bool) {
	c, ok := p.fn.Temps[t]
	if !ok || !p.m.ValidClass(c) {
		fatalf(ErrUndeclaredClass, "%s: %v", p.fn.Name, t)
	}
	n := p.g.newNode(kind, c)
	nd := &p.g.nodes[n]
	nd.temp = t
	nd.leaf = u.leaf
	nd.rewritten = rewritten
	p.temps[t] = n
}

// classifyTemps records, for every referenced temp, whether it lives in a
// single block and is defined before it is read there.
func classifyTemps(fn *ir.Func) map[ir.Temp]*tempUse {
	uses := make(map[ir.Temp]*tempUse)
	see := func(t ir.Temp, bi int, def bool, in *ir.Instr) {
		u, ok := uses[t]
		if !ok {
			uses[t] = &tempUse{block: bi, firstDef: def, defined: def, leaf: def && readsNoRegister(in)}
			return
		}
		if u.block != bi {
			u.multi = true
		}
		if def && !u.defined {
			u.defined = true
			u.leaf = readsNoRegister(in)
		}
	}
	for bi, b := range fn.Blocks {
		for _, in := range b.Instrs {
			for _, s := range in.Srcs {
				if s.IsTemp() {
					see(s.Temp, bi, false, in)
				}
			}
			if in.Dst.IsTemp() {
				see(in.Dst.Temp, bi, true, in)
			}
		}
	}
	return uses
}

func readsNoRegister(in *ir.Instr) bool {
	for _, s := range in.Srcs {
		if s.InRegister() {
			return false
		}
	}
	return true
}

// node returns the node an operand keeps its value in, or -1 when the
// operand is not a register.
func (p *program) node(o ir.Operand) NodeID {
	switch o.Kind {
	case ir.TempOperand:
		if n, ok := p.temps[o.Temp]; ok {
			return n
		}
		fatalf(ErrUndeclaredClass, "%s: %v", p.fn.Name, o.Temp)
	case ir.RegOperand:
		return p.g.Precolored(o.Reg)
	}
	return -1
}

// tracked reports whether n is followed by block liveness.
func (p *program) tracked(n NodeID) bool { return int(n) < p.nbits }

// scratchNodes returns the nodes of in's scratch registers, creating them
// on first use. A scratch register the result reuses is the result's node.
func (p *program) scratchNodes(in *ir.Instr, dst NodeID) []NodeID {
	if ns, ok := p.scratch[in]; ok {
		return ns
	}
	k := in.NumScratch()
	if k == 0 {
		return nil
	}
	ns := make([]NodeID, k)
	for i := range ns {
		if in.Reuse.Kind == ir.ReuseNeed && in.Reuse.Index == i && dst >= 0 {
			if p.g.nodes[dst].class != in.ScratchClass(i) {
				fatalf(ErrClassMismatch, "%s: result of class %s reuses a %s scratch register%s", p.fn.Name,
					p.m.ClassName(p.g.nodes[dst].class), p.m.ClassName(in.ScratchClass(i)), instrSuffix(in))
			}
			ns[i] = dst
			continue
		}
		n := p.g.newNode(scratchNode, in.ScratchClass(i))
		p.g.nodes[n].instr = in
		ns[i] = n
	}
	p.scratch[in] = ns
	return ns
}
