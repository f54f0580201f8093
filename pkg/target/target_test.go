package target

import (
	"errors"
	"testing"
)

func TestToyMasks(t *testing.T) {
	m := MustLookup("toy")

	a, ok := m.LookupClass("A")
	if !ok {
		t.Fatal("class A missing")
	}
	b, _ := m.LookupClass("B")

	if m.K(a) != 4 || m.K(b) != 2 {
		t.Fatalf("K(A)=%d K(B)=%d, want 4 and 2", m.K(a), m.K(b))
	}
	if m.ClassMask(a) != 0xf || m.ClassMask(b) != 0x3 {
		t.Errorf("class masks %#x %#x", m.ClassMask(a), m.ClassMask(b))
	}

	r0, _ := m.LookupReg("r0")
	r1, _ := m.LookupReg("r1")
	r2, _ := m.LookupReg("r2")
	r01, _ := m.LookupReg("r01")

	if !m.Interferes(r0, r01) || !m.Interferes(r01, r1) {
		t.Error("r01 should overlap r0 and r1")
	}
	if m.Interferes(r0, r1) || m.Interferes(r2, r01) {
		t.Error("unexpected overlap")
	}
	if !m.Interferes(r2, r2) {
		t.Error("overlap must be reflexive")
	}

	// r01 blocks colors 0 and 1 of class A; r1 blocks only the first pair.
	if got := m.AliasMask(a, r01); got != 0x3 {
		t.Errorf("AliasMask(A, r01) = %#x, want 0x3", got)
	}
	if got := m.AliasMask(b, r1); got != 0x1 {
		t.Errorf("AliasMask(B, r1) = %#x, want 0x1", got)
	}

	if m.Weight(a, b) != 2 || m.Weight(b, a) != 1 || m.Weight(a, a) != 1 {
		t.Errorf("weights A/B=%d B/A=%d A/A=%d", m.Weight(a, b), m.Weight(b, a), m.Weight(a, a))
	}
}

func TestTriviallyColorable(t *testing.T) {
	m := MustLookup("toy")
	a, _ := m.LookupClass("A")
	b, _ := m.LookupClass("B")

	tests := []struct {
		name string
		c    Class
		n    []int
		want bool
	}{
		{"empty", a, []int{0, 0, 0}, true},
		{"three singles", a, []int{0, 3, 0}, true},
		{"four singles", a, []int{0, 4, 0}, false},
		{"one pair one single", a, []int{0, 1, 1}, true},
		{"two pairs", a, []int{0, 0, 2}, false},
		{"pair vs singles", b, []int{0, 1, 0}, true},
		{"pair vs two singles", b, []int{0, 2, 0}, false},
		{"clamped", a, []int{0, 100, 0}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.TriviallyColorable(tt.c, tt.n)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("TriviallyColorable(%s, %v) = %v, want %v", m.ClassName(tt.c), tt.n, got, tt.want)
			}
		})
	}
}

func TestColorMapOutOfRange(t *testing.T) {
	m := MustLookup("toy")
	m.ColorMap = func(Class, []int) int { return 2 }

	_, err := m.TriviallyColorable(1, []int{0, 1, 0})
	if !errors.Is(err, ErrColorMap) {
		t.Errorf("expected ErrColorMap, got %v", err)
	}
}

func TestColorMapClampsCounts(t *testing.T) {
	m := MustLookup("toy")
	var seen []int
	m.ColorMap = func(c Class, n []int) int {
		seen = append([]int(nil), n...)
		return 0
	}
	if _, err := m.TriviallyColorable(1, []int{0, 9, 7}); err != nil {
		t.Fatal(err)
	}
	if seen[1] != 4 || seen[2] != 2 {
		t.Errorf("policy saw %v, want counts clamped to K", seen)
	}
}

func TestBuiltins(t *testing.T) {
	for _, name := range Names() {
		t.Run(name, func(t *testing.T) {
			m, err := Lookup(name)
			if err != nil {
				t.Fatal(err)
			}
			for c := Class(1); int(c) <= m.NumClasses(); c++ {
				if _, ok := m.RetReg(c); !ok {
					t.Errorf("class %s has no return register", m.ClassName(c))
				}
			}
			for _, r := range m.Perm {
				if m.IsTemp(r) || !m.IsPerm(r) {
					t.Errorf("%s: bad perm flags", m.RegName(r))
				}
			}
		})
	}

	if _, err := Lookup("vax"); !errors.Is(err, ErrUnknownTarget) {
		t.Errorf("expected ErrUnknownTarget, got %v", err)
	}
}

func TestI386Pairs(t *testing.T) {
	m := MustLookup("i386")
	a, _ := m.LookupClass("A")
	b, _ := m.LookupClass("B")
	if m.K(a) != 6 || m.K(b) != 15 {
		t.Fatalf("K(A)=%d K(B)=%d", m.K(a), m.K(b))
	}
	// A pair can block two singles; a single blocks the five pairs using it.
	if m.Weight(a, b) != 2 || m.Weight(b, a) != 5 {
		t.Errorf("weights A/B=%d B/A=%d", m.Weight(a, b), m.Weight(b, a))
	}
	eax, _ := m.LookupReg("eax")
	ebxesi, _ := m.LookupReg("ebxesi")
	if m.Interferes(eax, ebxesi) {
		t.Error("eax must not overlap ebxesi")
	}
}

func TestLoad(t *testing.T) {
	m, err := Load("../../testdata/targets/pair.yaml")
	if err != nil {
		t.Fatal(err)
	}
	if m.Name != "pair" || m.NumRegs() != 3 || m.NumClasses() != 2 {
		t.Errorf("unexpected machine %s with %d regs", m.Name, m.NumRegs())
	}
	r1, _ := m.LookupReg("r1")
	if !m.IsPerm(r1) {
		t.Error("r1 should be callee-saved")
	}
}

func TestNewRejects(t *testing.T) {
	base := func() Config {
		return Config{
			Name:      "bad",
			Classes:   []ClassConfig{{Name: "A"}},
			Registers: []RegisterConfig{{Name: "r0", Class: "A"}, {Name: "r1", Class: "A"}},
		}
	}
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no classes", func(c *Config) { c.Classes = nil }},
		{"unknown class", func(c *Config) { c.Registers[0].Class = "Z" }},
		{"duplicate register", func(c *Config) { c.Registers[1].Name = "r0" }},
		{"unknown overlap", func(c *Config) { c.Registers[0].Overlaps = []string{"r9"} }},
		{"temp and perm", func(c *Config) { c.Temp = []string{"r0"}; c.Perm = []string{"r0"} }},
		{"bad return", func(c *Config) { c.Return = map[string]string{"A": "r7"} }},
		{"empty class", func(c *Config) { c.Classes = append(c.Classes, ClassConfig{Name: "B"}) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			if _, err := New(cfg); !errors.Is(err, ErrBadConfig) {
				t.Errorf("expected ErrBadConfig, got %v", err)
			}
		})
	}
}
