package target

// ColorMap decides trivial colorability. It is called with a node's class
// and its live neighbors counted per class (indexed by Class, each count
// already clamped to that class's K) and must return 1 when the node is
// guaranteed a color whatever its neighbors get, 0 otherwise.
type ColorMap func(c Class, n []int) int

// DefaultColorMap derives the policy from the overlap table: a class-c node
// is trivially colorable when its neighbors, each blocking as many class-c
// colors as any register of the neighbor's class can, cannot block all of
// them.
//
// With a single class and no overlap this is the classic degree < K test.
func DefaultColorMap(m *Machine) ColorMap {
	return func(c Class, n []int) int {
		blocked := 0
		for d := 1; d < len(n); d++ {
			blocked += n[d] * m.weight[c][d]
		}
		if blocked < m.K(c) {
			return 1
		}
		return 0
	}
}
