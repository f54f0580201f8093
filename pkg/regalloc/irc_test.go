package regalloc

import (
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/raymyers/ralph-irc/pkg/target"
)

func colorGraph(t *testing.T, g *InterferenceGraph, opts Options) *Coloring {
	t.Helper()
	opts.Check = true
	c, err := g.Color(opts)
	if err != nil {
		t.Fatalf("Color: %v", err)
	}
	if err := c.Verify(); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	return c
}

func TestColorCoalescesMove(t *testing.T) {
	g := NewGraph(flatMachine(t, 1))
	a, b := g.AddNode(classA), g.AddNode(classA)
	if err := g.AddMove(b, a); err != nil {
		t.Fatal(err)
	}

	c := colorGraph(t, g, Options{})

	if len(c.Spilled) != 0 {
		t.Fatalf("spilled %v", c.Spilled)
	}
	if c.Stats.Coalesced != 1 {
		t.Errorf("Coalesced = %d, want 1", c.Stats.Coalesced)
	}
	if c.Color(a) != 0 || c.Color(b) != 0 {
		t.Errorf("colors %d %d, want both r0", c.Color(a), c.Color(b))
	}
	if c.Alias(a) != c.Alias(b) {
		t.Error("a and b should share an alias")
	}
}

func TestColorTriangleSpillsOne(t *testing.T) {
	g := NewGraph(flatMachine(t, 2))
	a, b, cc := g.AddNode(classA), g.AddNode(classA), g.AddNode(classA)
	g.AddEdge(a, b)
	g.AddEdge(b, cc)
	g.AddEdge(a, cc)

	c := colorGraph(t, g, Options{})

	if len(c.Spilled) != 1 {
		t.Fatalf("spilled %v, want one node", c.Spilled)
	}
	var colors []int
	for _, n := range []NodeID{a, b, cc} {
		if col := c.Color(n); col >= 0 {
			colors = append(colors, col)
		}
	}
	if len(colors) != 2 || colors[0] == colors[1] {
		t.Errorf("colors of the survivors %v, want two distinct", colors)
	}
	if c.Stats.Optimistic != 1 {
		t.Errorf("Optimistic = %d, want 1", c.Stats.Optimistic)
	}
}

func TestColorConstrainedMove(t *testing.T) {
	t.Run("direct", func(t *testing.T) {
		g := NewGraph(flatMachine(t, 2))
		a := g.AddNode(classA)
		g.AddEdge(a, g.Precolored(0))
		if err := g.AddMove(g.Precolored(0), a); err != nil {
			t.Fatal(err)
		}

		c := colorGraph(t, g, Options{})

		if c.Stats.Constrained != 1 || c.Stats.Coalesced != 0 {
			t.Errorf("constrained %d coalesced %d, want 1 and 0", c.Stats.Constrained, c.Stats.Coalesced)
		}
		if c.Color(a) != 1 {
			t.Errorf("a colored %d, want r1", c.Color(a))
		}
	})

	t.Run("through pair", func(t *testing.T) {
		m := target.MustLookup("toy")
		r0, r01, r2 := reg(t, m, "r0"), reg(t, m, "r01"), reg(t, m, "r2")
		g := NewGraph(m)
		a := g.AddNode(class(t, m, "A"))
		g.AddEdge(a, g.Precolored(r01))
		if err := g.AddMove(g.Precolored(r0), a); err != nil {
			t.Fatal(err)
		}

		c := colorGraph(t, g, Options{})

		if c.Stats.Constrained != 1 {
			t.Errorf("Constrained = %d, want 1", c.Stats.Constrained)
		}
		if c.Color(a) != r2 {
			t.Errorf("a colored %s, want r2", m.RegName(c.Color(a)))
		}
	})
}

func TestColorGeorgeMerge(t *testing.T) {
	g := NewGraph(flatMachine(t, 2))
	a, b := g.AddNode(classA), g.AddNode(classA)
	g.AddEdge(a, b)
	if err := g.AddMove(a, g.Precolored(0)); err != nil {
		t.Fatal(err)
	}

	c := colorGraph(t, g, Options{})

	if c.Stats.Coalesced != 1 {
		t.Errorf("Coalesced = %d, want 1", c.Stats.Coalesced)
	}
	if c.Alias(a) != g.Precolored(0) || c.Color(a) != 0 {
		t.Errorf("a aliased to %d colored %d, want r0", c.Alias(a), c.Color(a))
	}
	if c.Color(b) != 1 {
		t.Errorf("b colored %d, want r1", c.Color(b))
	}
}

func TestGeorge(t *testing.T) {
	m := flatMachine(t, 2)
	g := NewGraph(m)
	v, n1, n2, n3 := g.AddNode(classA), g.AddNode(classA), g.AddNode(classA), g.AddNode(classA)
	r0 := g.Precolored(0)
	g.AddEdge(v, n1)
	a := NewAllocator(g, Options{})

	// n1 has one neighbor and is trivially colorable.
	if !a.george(v, r0) {
		t.Error("george should accept a trivially colorable neighbor")
	}

	// n1 becomes significant.
	g.AddEdge(n1, n2)
	g.AddEdge(n1, n3)
	if a.george(v, r0) {
		t.Error("george should reject a significant neighbor")
	}

	// A neighbor that already interferes with r0 is harmless.
	g.AddEdge(n1, r0)
	if !a.george(v, r0) {
		t.Error("george should accept a neighbor interfering with r0")
	}
}

func TestBriggs(t *testing.T) {
	m := flatMachine(t, 2)

	t.Run("insignificant neighbors", func(t *testing.T) {
		g := NewGraph(m)
		u, v, x, y := g.AddNode(classA), g.AddNode(classA), g.AddNode(classA), g.AddNode(classA)
		g.AddEdge(u, x)
		g.AddEdge(v, y)
		if !NewAllocator(g, Options{}).briggs(u, v) {
			t.Error("briggs should accept")
		}
	})

	t.Run("two significant neighbors", func(t *testing.T) {
		g := NewGraph(m)
		u, v, x, y, z := g.AddNode(classA), g.AddNode(classA), g.AddNode(classA), g.AddNode(classA), g.AddNode(classA)
		g.AddEdge(u, x)
		g.AddEdge(v, y)
		g.AddEdge(x, y)
		g.AddEdge(x, z)
		g.AddEdge(y, z)
		if NewAllocator(g, Options{}).briggs(u, v) {
			t.Error("briggs should reject")
		}
	})

	t.Run("shared neighbor counted once", func(t *testing.T) {
		g := NewGraph(m)
		u, v, x, y, z := g.AddNode(classA), g.AddNode(classA), g.AddNode(classA), g.AddNode(classA), g.AddNode(classA)
		g.AddEdge(u, x)
		g.AddEdge(v, x)
		g.AddEdge(x, y)
		g.AddEdge(x, z)
		if !NewAllocator(g, Options{}).briggs(u, v) {
			t.Error("briggs should accept one significant neighbor")
		}
	})

	t.Run("registers count", func(t *testing.T) {
		g := NewGraph(m)
		u, v := g.AddNode(classA), g.AddNode(classA)
		g.AddEdge(u, g.Precolored(0))
		g.AddEdge(v, g.Precolored(1))
		if NewAllocator(g, Options{}).briggs(u, v) {
			t.Error("a node next to both registers cannot be colored")
		}
	})
}

func TestColorPathGraph(t *testing.T) {
	m := flatMachine(t, 2)
	for _, n := range []int{1, 2, 3, 10, 57} {
		g := NewGraph(m)
		nodes := make([]NodeID, n)
		for i := range nodes {
			nodes[i] = g.AddNode(classA)
			if i > 0 {
				g.AddEdge(nodes[i-1], nodes[i])
			}
		}

		c := colorGraph(t, g, Options{})

		if len(c.Spilled) != 0 {
			t.Errorf("path of %d: spilled %v", n, c.Spilled)
		}
		if c.Stats.Simplified != n || c.Stats.Optimistic != 0 {
			t.Errorf("path of %d: simplified %d optimistic %d", n, c.Stats.Simplified, c.Stats.Optimistic)
		}
	}
}

func TestColorPairsAndSingles(t *testing.T) {
	m := target.MustLookup("toy")
	A, B := class(t, m, "A"), class(t, m, "B")
	g := NewGraph(m)

	// Two pairs interfering with each other use up all four singles.
	p, q := g.AddNode(B), g.AddNode(B)
	s := g.AddNode(A)
	g.AddEdge(p, q)
	g.AddEdge(p, s)
	g.AddEdge(q, s)

	c := colorGraph(t, g, Options{})

	if len(c.Spilled) != 1 {
		t.Fatalf("spilled %v, want one node\n%s", c.Spilled, spew.Sdump(c.Stats))
	}
	colored := 0
	for _, n := range []NodeID{p, q, s} {
		if c.Color(n) >= 0 {
			colored++
		}
	}
	if colored != 2 {
		t.Errorf("%d nodes colored, want 2", colored)
	}
}

func TestColorNoCoalesce(t *testing.T) {
	g := NewGraph(flatMachine(t, 2))
	a, b := g.AddNode(classA), g.AddNode(classA)
	if err := g.AddMove(b, a); err != nil {
		t.Fatal(err)
	}

	c := colorGraph(t, g, Options{NoCoalesce: true})

	if c.Stats.Coalesced != 0 {
		t.Errorf("Coalesced = %d with coalescing off", c.Stats.Coalesced)
	}
	if c.Alias(a) == c.Alias(b) {
		t.Error("a and b were merged")
	}
}

func TestColorMapError(t *testing.T) {
	m := flatMachine(t, 2)
	m.ColorMap = func(target.Class, []int) int { return 7 }
	g := NewGraph(m)
	g.AddNode(classA)

	if _, err := g.Color(Options{}); err == nil {
		t.Fatal("Color should fail on a bad colorability answer")
	}
}

func TestAliasIdempotent(t *testing.T) {
	g := NewGraph(flatMachine(t, 3))
	n := make([]NodeID, 6)
	for i := range n {
		n[i] = g.AddNode(classA)
	}
	// A chain of copies collapses into one node.
	for i := 1; i < len(n); i++ {
		if err := g.AddMove(n[i], n[i-1]); err != nil {
			t.Fatal(err)
		}
	}
	g.AddEdge(n[0], g.Precolored(1))

	c := colorGraph(t, g, Options{})

	for _, x := range n {
		r := c.Alias(x)
		if c.Alias(r) != r {
			t.Errorf("alias of %d not idempotent", x)
		}
		if c.Color(x) != c.Color(r) {
			t.Errorf("node %d colored %d, its alias %d", x, c.Color(x), c.Color(r))
		}
	}
	if c.Color(n[0]) == 1 {
		t.Error("chain ended up in r1")
	}
}
