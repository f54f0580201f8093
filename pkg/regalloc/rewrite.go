package regalloc

import (
	"slices"

	"github.com/raymyers/ralph-irc/pkg/ir"
	"tlog.app/go/tlog"
)

// rewriteKind tells what a failed pass changed before the next attempt.
type rewriteKind uint8

const (
	rewritePerm  rewriteKind = iota + 1 // callee-saved registers go to the stack
	rewriteLong                         // long-lived temps live in frame slots
	rewriteShort                        // spill code around short-lived temps
)

var rewriteNames = [...]string{"", "perm", "long", "short"}

// rewrite makes the function easier to color after a pass left spilled
// nodes. Only the cheapest kind of change is made per pass: saving
// callee-saved registers, then moving long-lived temps to memory, then
// splitting short-lived ones.
func (d *driver) rewrite(p *program, c *Coloring) rewriteKind {
	g := p.g
	var perm, long, short, stuck []NodeID
	for _, n := range c.Spilled {
		nd := &g.nodes[n]
		switch {
		case nd.kind == permNode:
			perm = append(perm, n)
		case nd.kind == longNode:
			long = append(long, n)
		case nd.kind == shortNode && !nd.rewritten:
			short = append(short, n)
		default:
			stuck = append(stuck, n)
		}
	}

	switch {
	case len(perm) > 0:
		d.savePerm(p, perm)
		return rewritePerm
	case len(long) > 0:
		d.spillLong(p.tempsOf(long))
		return rewriteLong
	case len(short) > 0:
		d.spillShort(p.tempsOf(short))
		return rewriteShort
	}

	// Only scratch registers and spill code temps are left over. They
	// cannot get any shorter, so something they interfere with has to go.
	v := p.victim(stuck)
	if v < 0 {
		fatalf(ErrNoConvergence, "%s: nothing to spill in place of %s", d.fn.Name, g.nodeName(stuck[0]))
	}
	tlog.V("regalloc").Printw("spill neighbor", "func", d.fn.Name, "for", g.nodeName(stuck[0]), "node", g.nodeName(v))
	switch g.nodes[v].kind {
	case permNode:
		d.savePerm(p, []NodeID{v})
		return rewritePerm
	case longNode:
		d.spillLong([]ir.Temp{g.nodes[v].temp})
		return rewriteLong
	default:
		d.spillShort([]ir.Temp{g.nodes[v].temp})
		return rewriteShort
	}
}

func (d *driver) savePerm(p *program, perm []NodeID) {
	for _, n := range perm {
		r := p.g.nodes[n].reg
		d.saved[r] = true
		tlog.V("regalloc").Printw("save on stack", "func", d.fn.Name, "reg", d.m.RegName(r))
	}
}

func (p *program) tempsOf(ns []NodeID) []ir.Temp {
	ts := make([]ir.Temp, 0, len(ns))
	for _, n := range ns {
		ts = append(ts, p.g.nodes[n].temp)
	}
	slices.Sort(ts)
	return ts
}

// victim picks a node interfering with one of stuck that is cheaper to
// spill and does not share an instruction with it: a register variable,
// then a long-lived temp, then an original short-lived temp.
func (p *program) victim(stuck []NodeID) NodeID {
	g := p.g
	prefs := []func(nd *node) bool{
		func(nd *node) bool { return nd.kind == permNode },
		func(nd *node) bool { return nd.kind == longNode },
		func(nd *node) bool { return nd.kind == shortNode && !nd.rewritten },
	}
	for _, pref := range prefs {
		for _, s := range stuck {
			for _, t := range g.nodes[s].adj {
				if g.precolored(t) || !pref(&g.nodes[t]) || p.sharesInstr(s, t) {
					continue
				}
				return t
			}
		}
	}
	return -1
}

// sharesInstr reports whether temp node t is an operand of an instruction
// s belongs to.
func (p *program) sharesInstr(s, t NodeID) bool {
	g := p.g
	tt := g.nodes[t].temp
	if tt == 0 {
		return false
	}
	if in := g.nodes[s].instr; in != nil {
		return references(in, tt)
	}
	st := g.nodes[s].temp
	for _, b := range p.fn.Blocks {
		for _, in := range b.Instrs {
			if references(in, st) && references(in, tt) {
				return true
			}
		}
	}
	return false
}

func references(in *ir.Instr, t ir.Temp) bool {
	if in.Dst.IsTemp() && in.Dst.Temp == t {
		return true
	}
	for _, s := range in.Srcs {
		if s.IsTemp() && s.Temp == t {
			return true
		}
	}
	return false
}

// spillLong gives every temp of ts a frame slot and replaces each
// reference with the slot.
func (d *driver) spillLong(ts []ir.Temp) {
	mem := make(map[ir.Temp]ir.Operand, len(ts))
	for _, t := range ts {
		mem[t] = d.slotOf(t)
		tlog.V("regalloc").Printw("spill to memory", "func", d.fn.Name, "temp", t, "off", mem[t].Off)
	}
	for _, b := range d.fn.Blocks {
		for _, in := range b.Instrs {
			substitute(in, mem)
			normalizeCopy(in)
		}
	}
}

// spillShort stores each temp of ts after every definition and reloads it
// before every use, through fresh temps that live only across the one
// instruction.
func (d *driver) spillShort(ts []ir.Temp) {
	mem := make(map[ir.Temp]ir.Operand, len(ts))
	for _, t := range ts {
		mem[t] = d.slotOf(t)
		tlog.V("regalloc").Printw("spill code", "func", d.fn.Name, "temp", t, "off", mem[t].Off)
	}

	for _, b := range d.fn.Blocks {
		out := make([]*ir.Instr, 0, len(b.Instrs))
		for _, in := range b.Instrs {
			switch in.Kind {
			case ir.Move, ir.Spill, ir.Reload:
				// A copy turns into a store or a load of the slot.
				substitute(in, mem)
				normalizeCopy(in)
				out = append(out, in)
				continue
			}

			fresh := make(map[ir.Temp]ir.Temp)
			temp := func(t ir.Temp) ir.Temp {
				r, ok := fresh[t]
				if !ok {
					r = d.fn.NewTemp(d.fn.Temps[t])
					d.rewritten[r] = true
					fresh[t] = r
				}
				return r
			}
			for i, s := range in.Srcs {
				slot, ok := mem[s.Temp]
				if !s.IsTemp() || !ok {
					continue
				}
				_, loaded := fresh[s.Temp]
				r := temp(s.Temp)
				if !loaded {
					out = append(out, ir.NewReload(ir.T(r), slot))
				}
				in.Srcs[i] = ir.T(r)
			}
			out = append(out, in)
			if slot, ok := mem[in.Dst.Temp]; in.Dst.IsTemp() && ok {
				w := temp(in.Dst.Temp)
				in.Dst = ir.T(w)
				out = append(out, ir.NewSpill(slot, ir.T(w)))
			}
		}
		b.Instrs = out
	}
}

func (d *driver) slotOf(t ir.Temp) ir.Operand {
	c := d.fn.Temps[t]
	off, ok := d.slots[t]
	if !ok {
		off = d.frame.Alloc(d.m.SlotSize(c))
		d.slots[t] = off
	}
	return ir.Mem(off, c)
}

func substitute(in *ir.Instr, mem map[ir.Temp]ir.Operand) {
	if in.Dst.IsTemp() {
		if o, ok := mem[in.Dst.Temp]; ok {
			in.Dst = o
		}
	}
	for i, s := range in.Srcs {
		if !s.IsTemp() {
			continue
		}
		if o, ok := mem[s.Temp]; ok {
			in.Srcs[i] = o
		}
	}
}

// normalizeCopy fixes the kind of a copy after its endpoints changed. A
// copy between two slots goes through a scratch register.
func normalizeCopy(in *ir.Instr) {
	switch in.Kind {
	case ir.Move, ir.Spill, ir.Reload:
	default:
		return
	}
	dm := in.Dst.Kind == ir.MemOperand
	sm := in.Srcs[0].Kind == ir.MemOperand
	switch {
	case dm && sm:
		in.Kind, in.Op = ir.OpInstr, "copy"
		in.Needs = append(in.Needs, ir.Need{Class: in.Dst.Class, Count: 1})
	case dm:
		in.Kind, in.Op = ir.Spill, "spill"
	case sm:
		in.Kind, in.Op = ir.Reload, "reload"
	}
}
