package regalloc

import (
	"tlog.app/go/errors"
)

// checkDegrees verifies that the per-class neighbor counts of every node
// still in the graph match its adjacency list, and that the spill and
// freeze worklists hold what they claim to.
func (a *Allocator) checkDegrees() {
	g := a.g
	counts := make([]int, g.m.NumClasses()+1)
	for i := range g.nodes {
		n := NodeID(i)
		l := g.nodes[n].list
		if l != onSimplify && l != onFreeze && l != onSpill {
			continue
		}
		for c := range counts {
			counts[c] = 0
		}
		for _, t := range g.nodes[n].adj {
			if !g.gone(t) {
				counts[g.nodes[t].class]++
			}
		}
		for c, want := range counts {
			if got := g.nodes[n].nclass[c]; got != want {
				fatalf(ErrInvariant, "%s on %s: %d neighbors of class %d recorded, %d in adjacency",
					g.nodeName(n), listNames[l], got, c, want)
			}
		}
		switch {
		case l == onSpill && a.trivial(n):
			fatalf(ErrInvariant, "%s on spill worklist is trivially colorable", g.nodeName(n))
		case l == onFreeze && !a.trivial(n):
			fatalf(ErrInvariant, "%s on freeze worklist is not trivially colorable", g.nodeName(n))
		}
	}
}

// Verify checks a finished coloring: every colored node holds a register
// of its own class and no two interfering nodes hold overlapping
// registers.
func (c *Coloring) Verify() error {
	g := c.g
	m := g.m
	for i := range g.nodes {
		n := NodeID(i)
		col := c.Color(n)
		if col < 0 {
			continue
		}
		if m.RegClass(col) != g.nodes[n].class {
			return errors.Wrap(ErrInvariant, "%s of class %s colored %s",
				g.nodeName(n), m.ClassName(g.nodes[n].class), m.RegName(col))
		}
	}
	for e := range g.edges {
		cu, cv := c.Color(e.u), c.Color(e.v)
		if cu < 0 || cv < 0 {
			continue
		}
		if m.Interferes(cu, cv) {
			return errors.Wrap(ErrInvariant, "interfering %s and %s colored %s and %s",
				g.nodeName(e.u), g.nodeName(e.v), m.RegName(cu), m.RegName(cv))
		}
	}
	return nil
}
