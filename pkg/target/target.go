// Package target describes the register file the allocator colors against:
// register classes, physical registers, storage overlap between registers,
// the calling-convention register sets and the trivial-colorability policy.
//
// A Machine is immutable once built and is shared by every allocation.
package target

import (
	"fmt"
	"math/bits"

	"tlog.app/go/errors"
)

// Limits of the mask representation.
const (
	MaxRegs    = 64
	MaxClasses = 8
)

// Sentinel errors.
var (
	ErrBadConfig = errors.New("bad target description")
	ErrColorMap  = errors.New("colormap policy out of range")
)

// Class numbers a register class. Classes are numbered from 1; the zero
// Class means "no class" and is never valid on a value.
type Class int

// NoClass is the zero Class.
const NoClass Class = 0

// RegClass is one register class.
type RegClass struct {
	Name string
	Size int64 // spill slot size in bytes
	Regs []int // physical registers in color order
}

// PhysReg is one physical register.
type PhysReg struct {
	Name     string
	Class    Class
	Overlaps []int // other registers sharing storage with this one
}

// Machine is a target register file.
type Machine struct {
	Name     string
	Classes  []RegClass // indexed by Class; Classes[0] is unused
	Regs     []PhysReg  // indexed by physical register number
	Temp     []int      // caller-saved registers, clobbered by calls
	Perm     []int      // callee-saved registers
	Frame    string     // frame base register, not allocatable
	ColorMap ColorMap

	ret       []int      // return register per class, -1 if none
	overlap   []uint64   // per register, bit per overlapping register
	aliasMask [][]uint64 // [class][reg] class colors blocked by reg
	weight    [][]int    // [c][d] class-c colors one class-d register can block
	regByName map[string]int
	clsByName map[string]Class
	isTemp    uint64
	isPerm    uint64
}

// NumClasses returns the number of register classes.
func (m *Machine) NumClasses() int { return len(m.Classes) - 1 }

// NumRegs returns the number of physical registers.
func (m *Machine) NumRegs() int { return len(m.Regs) }

// ValidClass reports whether c names a class of m.
func (m *Machine) ValidClass(c Class) bool {
	return c > 0 && int(c) < len(m.Classes)
}

// K returns the number of colors of class c.
func (m *Machine) K(c Class) int { return len(m.Classes[c].Regs) }

// SlotSize returns the spill slot size of class c.
func (m *Machine) SlotSize(c Class) int64 { return m.Classes[c].Size }

// ClassName returns the name of c.
func (m *Machine) ClassName(c Class) string {
	if !m.ValidClass(c) {
		return fmt.Sprintf("class%d", int(c))
	}
	return m.Classes[c].Name
}

// RegName returns the name of physical register r.
func (m *Machine) RegName(r int) string {
	if r < 0 || r >= len(m.Regs) {
		return fmt.Sprintf("reg%d", r)
	}
	return m.Regs[r].Name
}

// RegClass returns the class physical register r belongs to.
func (m *Machine) RegClass(r int) Class { return m.Regs[r].Class }

// LookupReg finds a physical register by name.
func (m *Machine) LookupReg(name string) (int, bool) {
	r, ok := m.regByName[name]
	return r, ok
}

// LookupClass finds a class by name.
func (m *Machine) LookupClass(name string) (Class, bool) {
	c, ok := m.clsByName[name]
	return c, ok
}

// ClassMask has bit i set for every color i of class c.
func (m *Machine) ClassMask(c Class) uint64 {
	k := m.K(c)
	if k == 64 {
		return ^uint64(0)
	}
	return 1<<uint(k) - 1
}

// AliasMask returns the colors of class c whose registers share storage
// with physical register r. A register of class c blocks its own color.
func (m *Machine) AliasMask(c Class, r int) uint64 {
	return m.aliasMask[c][r]
}

// Interferes reports whether physical registers a and b share storage.
func (m *Machine) Interferes(a, b int) bool {
	return m.overlap[a]&(1<<uint(b)) != 0
}

// ColorToReg maps color i of class c to its physical register.
func (m *Machine) ColorToReg(c Class, i int) int { return m.Classes[c].Regs[i] }

// ColorIndex returns the color of physical register r within class c, or -1.
func (m *Machine) ColorIndex(c Class, r int) int {
	for i, reg := range m.Classes[c].Regs {
		if reg == r {
			return i
		}
	}
	return -1
}

// RetReg returns the register a call leaves a class-c result in.
func (m *Machine) RetReg(c Class) (int, bool) {
	r := m.ret[c]
	return r, r >= 0
}

// IsTemp reports whether r is caller-saved.
func (m *Machine) IsTemp(r int) bool { return m.isTemp&(1<<uint(r)) != 0 }

// IsPerm reports whether r is callee-saved.
func (m *Machine) IsPerm(r int) bool { return m.isPerm&(1<<uint(r)) != 0 }

// Weight returns how many class-c colors a single class-d register can
// block at most.
func (m *Machine) Weight(c, d Class) int { return m.weight[c][d] }

// TriviallyColorable asks the colormap policy whether a class-c node whose
// live neighbors are counted per class in n can always get a color. n is
// indexed by Class and is clamped to each class's K before the policy sees
// it.
func (m *Machine) TriviallyColorable(c Class, n []int) (bool, error) {
	var buf [MaxClasses + 1]int
	clamped := buf[:len(m.Classes)]
	for d := 1; d < len(m.Classes) && d < len(n); d++ {
		if n[d] < 0 {
			return false, errors.Wrap(ErrColorMap, "negative %s count %d", m.ClassName(Class(d)), n[d])
		}
		clamped[d] = min(n[d], m.K(Class(d)))
	}
	switch r := m.ColorMap(c, clamped); r {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, errors.Wrap(ErrColorMap, "class %s counts %v returned %d", m.ClassName(c), clamped[1:], r)
	}
}

// New builds a Machine from a description.
func New(cfg Config) (*Machine, error) {
	if len(cfg.Classes) == 0 {
		return nil, errors.Wrap(ErrBadConfig, "%s: no register classes", cfg.Name)
	}
	if len(cfg.Classes) > MaxClasses {
		return nil, errors.Wrap(ErrBadConfig, "%s: %d classes, at most %d supported", cfg.Name, len(cfg.Classes), MaxClasses)
	}
	if len(cfg.Registers) > MaxRegs {
		return nil, errors.Wrap(ErrBadConfig, "%s: %d registers, at most %d supported", cfg.Name, len(cfg.Registers), MaxRegs)
	}

	m := &Machine{
		Name:      cfg.Name,
		Frame:     cfg.Frame,
		Classes:   make([]RegClass, 1, len(cfg.Classes)+1),
		regByName: make(map[string]int),
		clsByName: make(map[string]Class),
	}
	if m.Frame == "" {
		m.Frame = "fp"
	}

	for _, cc := range cfg.Classes {
		if _, dup := m.clsByName[cc.Name]; dup || cc.Name == "" {
			return nil, errors.Wrap(ErrBadConfig, "%s: bad or duplicate class name %q", cfg.Name, cc.Name)
		}
		size := cc.Size
		if size <= 0 {
			size = 8
		}
		m.clsByName[cc.Name] = Class(len(m.Classes))
		m.Classes = append(m.Classes, RegClass{Name: cc.Name, Size: size})
	}

	for _, rc := range cfg.Registers {
		if _, dup := m.regByName[rc.Name]; dup || rc.Name == "" {
			return nil, errors.Wrap(ErrBadConfig, "%s: bad or duplicate register name %q", cfg.Name, rc.Name)
		}
		c, ok := m.clsByName[rc.Class]
		if !ok {
			return nil, errors.Wrap(ErrBadConfig, "%s: register %s: unknown class %q", cfg.Name, rc.Name, rc.Class)
		}
		r := len(m.Regs)
		m.regByName[rc.Name] = r
		m.Regs = append(m.Regs, PhysReg{Name: rc.Name, Class: c})
		m.Classes[c].Regs = append(m.Classes[c].Regs, r)
	}
	for c := 1; c < len(m.Classes); c++ {
		if len(m.Classes[c].Regs) == 0 {
			return nil, errors.Wrap(ErrBadConfig, "%s: class %s has no registers", cfg.Name, m.Classes[c].Name)
		}
	}

	// Overlap is reflexive and symmetric.
	m.overlap = make([]uint64, len(m.Regs))
	for r := range m.Regs {
		m.overlap[r] |= 1 << uint(r)
	}
	for r, rc := range cfg.Registers {
		for _, name := range rc.Overlaps {
			o, ok := m.regByName[name]
			if !ok {
				return nil, errors.Wrap(ErrBadConfig, "%s: register %s overlaps unknown register %q", cfg.Name, rc.Name, name)
			}
			m.overlap[r] |= 1 << uint(o)
			m.overlap[o] |= 1 << uint(r)
		}
	}
	for r := range m.Regs {
		for o := range m.Regs {
			if o != r && m.Interferes(r, o) {
				m.Regs[r].Overlaps = append(m.Regs[r].Overlaps, o)
			}
		}
	}

	var err error
	if m.Temp, m.isTemp, err = m.regList(cfg.Temp); err != nil {
		return nil, errors.Wrap(err, "%s: temp registers", cfg.Name)
	}
	if m.Perm, m.isPerm, err = m.regList(cfg.Perm); err != nil {
		return nil, errors.Wrap(err, "%s: perm registers", cfg.Name)
	}
	if m.isTemp&m.isPerm != 0 {
		return nil, errors.Wrap(ErrBadConfig, "%s: a register is both caller- and callee-saved", cfg.Name)
	}

	m.ret = make([]int, len(m.Classes))
	for i := range m.ret {
		m.ret[i] = -1
	}
	for cname, rname := range cfg.Return {
		c, ok := m.clsByName[cname]
		if !ok {
			return nil, errors.Wrap(ErrBadConfig, "%s: return register for unknown class %q", cfg.Name, cname)
		}
		r, ok := m.regByName[rname]
		if !ok || m.Regs[r].Class != c {
			return nil, errors.Wrap(ErrBadConfig, "%s: return register %q is not a %s register", cfg.Name, rname, cname)
		}
		m.ret[c] = r
	}

	m.aliasMask = make([][]uint64, len(m.Classes))
	for c := 1; c < len(m.Classes); c++ {
		m.aliasMask[c] = make([]uint64, len(m.Regs))
		for r := range m.Regs {
			for i, cr := range m.Classes[c].Regs {
				if m.Interferes(r, cr) {
					m.aliasMask[c][r] |= 1 << uint(i)
				}
			}
		}
	}

	m.weight = make([][]int, len(m.Classes))
	for c := 1; c < len(m.Classes); c++ {
		m.weight[c] = make([]int, len(m.Classes))
		for d := 1; d < len(m.Classes); d++ {
			for _, r := range m.Classes[d].Regs {
				m.weight[c][d] = max(m.weight[c][d], bits.OnesCount64(m.aliasMask[c][r]))
			}
		}
	}

	m.ColorMap = DefaultColorMap(m)
	return m, nil
}

func (m *Machine) regList(names []string) ([]int, uint64, error) {
	var regs []int
	var set uint64
	for _, name := range names {
		r, ok := m.regByName[name]
		if !ok {
			return nil, 0, errors.Wrap(ErrBadConfig, "unknown register %q", name)
		}
		if set&(1<<uint(r)) != 0 {
			continue
		}
		set |= 1 << uint(r)
		regs = append(regs, r)
	}
	return regs, set, nil
}
