package regalloc

import (
	"fmt"
	"maps"
	"slices"

	"github.com/raymyers/ralph-irc/pkg/ir"
	"github.com/raymyers/ralph-irc/pkg/stacking"
	"github.com/raymyers/ralph-irc/pkg/target"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"
)

// Location is where a temp lives after allocation: a register, or a frame
// slot when Reg is -1.
type Location struct {
	Reg   int
	Off   int64
	Class target.Class
}

// InRegister reports whether the temp got a register.
func (l Location) InRegister() bool { return l.Reg >= 0 }

// Operand returns the location as an instruction operand.
func (l Location) Operand() ir.Operand {
	if l.InRegister() {
		return ir.R(l.Reg)
	}
	return ir.Mem(l.Off, l.Class)
}

// SaveMove keeps the incoming value of callee-saved register Reg in register
// To for the whole function: To is loaded from Reg on entry and Reg is
// restored from To on exit.
type SaveMove struct {
	Reg, To int
}

// Result is an allocated function.
type Result struct {
	// Func is the rewritten function. Every instruction with scratch needs
	// has its Scratch registers filled in.
	Func *ir.Func
	Locs map[ir.Temp]Location
	// Saved lists the callee-saved registers the function saves on the
	// stack, in register order.
	Saved      []int
	SaveMoves  []SaveMove
	Frame      *stacking.Frame
	Layout     *stacking.FrameLayout
	CalleeSave *stacking.CalleeSaveInfo
	// Passes is the number of coloring attempts.
	Passes int
	Stats  []Stats

	m *target.Machine
}

// Resolve returns the location of t as an operand. It fits ir.Printer.
func (r *Result) Resolve(t ir.Temp) (ir.Operand, bool) {
	l, ok := r.Locs[t]
	if !ok {
		return ir.Operand{}, false
	}
	return l.Operand(), true
}

// Machine returns the target the result was allocated for.
func (r *Result) Machine() *target.Machine { return r.m }

type driver struct {
	fn        *ir.Func
	m         *target.Machine
	opts      Options
	frame     *stacking.Frame
	saved     map[int]bool
	rewritten map[ir.Temp]bool
	slots     map[ir.Temp]int64
}

// AllocateFunction assigns a register or frame slot to every temp of fn,
// adding spill code until the function colors. fn is not modified; the
// result holds a rewritten copy.
func AllocateFunction(fn *ir.Func, m *target.Machine, opts Options) (res *Result, err error) {
	defer recoverFatal(&err)

	if err := fn.Validate(m); err != nil {
		return nil, errors.Wrap(err, "%s", fn.Name)
	}

	d := &driver{
		fn:        fn.Clone(),
		m:         m,
		opts:      opts,
		frame:     stacking.NewFrame(fn.FrameSize),
		saved:     make(map[int]bool),
		rewritten: make(map[ir.Temp]bool),
		slots:     make(map[ir.Temp]int64),
	}

	var stats []Stats
	shortRewrites := 0
	for pass := 1; ; pass++ {
		p := newProgram(d.fn, m, d.saved, d.rewritten)
		li := p.liveness()
		p.build(li)

		c := NewAllocator(p.g, opts).Allocate()
		stats = append(stats, c.Stats)
		tlog.V("regalloc").Printw("pass", "func", d.fn.Name, "pass", pass,
			"nodes", c.Stats.Nodes, "edges", c.Stats.Edges, "moves", c.Stats.Moves,
			"coalesced", c.Stats.Coalesced, "spilled", c.Stats.Spilled)

		if len(c.Spilled) == 0 {
			if opts.Check {
				if err := c.Verify(); err != nil {
					return nil, errors.Wrap(err, "%s", d.fn.Name)
				}
			}
			res := d.result(p, c)
			res.Passes = pass
			res.Stats = stats
			return res, nil
		}

		kind := d.rewrite(p, c)
		tlog.V("regalloc").Printw("rewrite", "func", d.fn.Name, "pass", pass, "kind", rewriteNames[kind])
		if kind == rewriteShort {
			if shortRewrites++; shortRewrites > opts.maxPasses() {
				return nil, errors.Wrap(ErrNoConvergence, "%s: still spilling after %d rewrites", d.fn.Name, opts.maxPasses())
			}
		}
	}
}

// result reads the final coloring back into the function.
func (d *driver) result(p *program, c *Coloring) *Result {
	g := p.g
	res := &Result{
		Func:  d.fn,
		Locs:  make(map[ir.Temp]Location),
		Frame: d.frame,
		m:     d.m,
	}

	for t, n := range p.temps {
		res.Locs[t] = Location{Reg: c.Color(n), Class: g.nodes[n].class}
	}
	for t, off := range d.slots {
		res.Locs[t] = Location{Reg: -1, Off: off, Class: d.fn.Temps[t]}
	}

	for in, ns := range p.scratch {
		in.Scratch = make([]int, len(ns))
		for i, n := range ns {
			in.Scratch[i] = c.Color(n)
		}
	}

	res.SaveMoves = d.saveMoves(p, c)
	res.Saved = stacking.SavedRegs(d.m, d.saved)

	var regSize int64
	for _, r := range res.Saved {
		regSize = max(regSize, d.m.SlotSize(d.m.RegClass(r)))
	}
	res.Layout = stacking.ComputeLayout(d.frame, len(res.Saved), regSize)
	res.CalleeSave = stacking.ComputeCalleeSaveInfo(res.Layout, res.Saved)
	d.fn.FrameSize = d.frame.Size()
	return res
}

// saveMoves lists the callee-saved registers whose register variable ended
// up in another register. When the register of one variable was given to a
// later one, the two trade colors instead, which saves a pair of moves.
func (d *driver) saveMoves(p *program, c *Coloring) []SaveMove {
	g := p.g
	colors := make([]int, len(p.perm))
	for i, n := range p.perm {
		colors[i] = c.Color(n)
	}

	var moves []SaveMove
	for i, n := range p.perm {
		reg := g.nodes[n].reg
		if colors[i] == reg {
			continue
		}
		swapped := false
		for j := i + 1; j < len(p.perm); j++ {
			if colors[j] == reg {
				colors[j] = colors[i]
				swapped = true
				break
			}
		}
		if swapped {
			continue
		}
		moves = append(moves, SaveMove{Reg: reg, To: colors[i]})
	}
	return moves
}

// AllocateProgram allocates every function of prog.
func AllocateProgram(prog *ir.Program, m *target.Machine, opts Options) ([]*Result, error) {
	results := make([]*Result, 0, len(prog.Functions))
	for _, fn := range prog.Functions {
		res, err := AllocateFunction(fn, m, opts)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, nil
}

// Temps returns the temps with a location, in order.
func (r *Result) Temps() []ir.Temp {
	return slices.Sorted(maps.Keys(r.Locs))
}

// FormatLocation returns the text form of the location of t.
func (r *Result) FormatLocation(t ir.Temp) string {
	l, ok := r.Locs[t]
	if !ok {
		return "?"
	}
	return ir.FormatOperand(r.m, l.Operand())
}

// Summary describes the allocation in one line.
func (r *Result) Summary() string {
	spilled := 0
	for _, l := range r.Locs {
		if !l.InRegister() {
			spilled++
		}
	}
	return fmt.Sprintf("%s: %d passes, %d temps, %d in memory, %d saved, frame %d",
		r.Func.Name, r.Passes, len(r.Locs), spilled, len(r.Saved), r.Layout.TotalSize)
}
