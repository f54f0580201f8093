package regalloc

import (
	"math/rand/v2"
	"testing"

	"github.com/davecgh/go-spew/spew"
)

type randomGraph struct {
	k     int
	n     int
	edges [][2]int
	moves [][2]int
}

// newRandomGraph returns a graph whose degrees stay below k, so it can be
// colored by simplification alone.
func newRandomGraph(r *rand.Rand) randomGraph {
	rg := randomGraph{k: 2 + r.IntN(3), n: 2 + r.IntN(14)}
	deg := make([]int, rg.n)
	seen := make(map[[2]int]bool)
	for i := 0; i < rg.n*2; i++ {
		u, v := r.IntN(rg.n), r.IntN(rg.n)
		if u == v || deg[u] >= rg.k-1 || deg[v] >= rg.k-1 {
			continue
		}
		if u > v {
			u, v = v, u
		}
		if seen[[2]int{u, v}] {
			continue
		}
		seen[[2]int{u, v}] = true
		deg[u]++
		deg[v]++
		rg.edges = append(rg.edges, [2]int{u, v})
	}
	for i := r.IntN(rg.n + 1); i > 0; i-- {
		u, v := r.IntN(rg.n), r.IntN(rg.n)
		if u != v {
			rg.moves = append(rg.moves, [2]int{u, v})
		}
	}
	return rg
}

func (rg randomGraph) build(t *testing.T) (*InterferenceGraph, []NodeID) {
	t.Helper()
	g := NewGraph(flatMachine(t, rg.k))
	nodes := make([]NodeID, rg.n)
	for i := range nodes {
		nodes[i] = g.AddNode(classA)
	}
	for _, e := range rg.edges {
		g.AddEdge(nodes[e[0]], nodes[e[1]])
	}
	for _, mv := range rg.moves {
		if err := g.AddMove(nodes[mv[0]], nodes[mv[1]]); err != nil {
			t.Fatal(err)
		}
	}
	return g, nodes
}

func TestRandomGraphs(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	for trial := 0; trial < 300; trial++ {
		rg := newRandomGraph(r)

		for _, noCoalesce := range []bool{false, true} {
			g, nodes := rg.build(t)
			c, err := g.Color(Options{Check: true, NoCoalesce: noCoalesce})
			if err != nil {
				t.Fatalf("trial %d: %v\n%s", trial, err, spew.Sdump(rg))
			}
			if err := c.Verify(); err != nil {
				t.Fatalf("trial %d: %v\n%s", trial, err, spew.Sdump(rg))
			}
			if len(c.Spilled) != 0 {
				t.Errorf("trial %d (no coalesce %v): spilled %v\n%s", trial, noCoalesce, c.Spilled, spew.Sdump(rg))
			}

			for _, n := range nodes {
				a := c.Alias(n)
				if c.Alias(a) != a {
					t.Errorf("trial %d: alias of %d is not a root", trial, n)
				}
				if c.Color(n) != c.Color(a) {
					t.Errorf("trial %d: node %d colored apart from its alias", trial, n)
				}
			}
			// Merged nodes never interfered.
			for _, e := range rg.edges {
				if c.Alias(nodes[e[0]]) == c.Alias(nodes[e[1]]) {
					t.Errorf("trial %d: interfering nodes %d and %d merged", trial, e[0], e[1])
				}
			}

			st := c.Stats
			if limit := 4 * (st.Nodes + st.Moves + st.Edges); st.Steps > limit {
				t.Errorf("trial %d: %d steps for %d nodes, %d moves, %d edges", trial, st.Steps, st.Nodes, st.Moves, st.Edges)
			}
		}
	}
}

// Conservative coalescing keeps a graph that simplification alone colors
// colorable.
func TestCoalescingNeverAddsSpills(t *testing.T) {
	r := rand.New(rand.NewPCG(7, 11))
	checked := 0
	for trial := 0; trial < 400; trial++ {
		k := 2 + r.IntN(2)
		n := 3 + r.IntN(10)
		var edges, moves [][2]int
		for u := 0; u < n; u++ {
			for v := u + 1; v < n; v++ {
				switch x := r.IntN(10); {
				case x < 3:
					edges = append(edges, [2]int{u, v})
				case x < 4:
					moves = append(moves, [2]int{u, v})
				}
			}
		}
		rg := randomGraph{k: k, n: n, edges: edges, moves: moves}

		color := func(noCoalesce bool) *Coloring {
			g, _ := rg.build(t)
			c, err := g.Color(Options{Check: true, NoCoalesce: noCoalesce})
			if err != nil {
				t.Fatalf("trial %d: %v", trial, err)
			}
			if err := c.Verify(); err != nil {
				t.Fatalf("trial %d: %v", trial, err)
			}
			return c
		}
		if plain := color(true); plain.Stats.Optimistic != 0 {
			continue
		}
		checked++
		if c := color(false); len(c.Spilled) != 0 {
			t.Errorf("trial %d: coalescing spilled %v\n%s", trial, c.Spilled, spew.Sdump(rg))
		}
	}
	if checked == 0 {
		t.Fatal("no trial was colorable by simplification")
	}
}
