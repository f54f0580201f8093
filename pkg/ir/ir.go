// Package ir is the program representation the register allocator works
// on: functions made of basic blocks of flat instructions whose operands
// are value temporaries, physical registers, frame slots or constants.
//
// Instruction selection produces it already decorated with the register
// classes of every temporary and with each instruction's extra register
// needs; the allocator rewrites it in place when it spills.
package ir

import (
	"fmt"

	"github.com/raymyers/ralph-irc/pkg/target"
)

// Temp numbers a value temporary. Temps are positive.
type Temp int

func (t Temp) String() string { return fmt.Sprintf("t%d", int(t)) }

// Class is a register class of the target machine.
type Class = target.Class

// OperandKind tells what an Operand refers to.
type OperandKind uint8

const (
	NoOperand OperandKind = iota
	TempOperand
	RegOperand
	MemOperand // frame slot at Off from the frame base
	ImmOperand
	SymOperand
)

// Operand is an instruction operand.
type Operand struct {
	Kind  OperandKind
	Temp  Temp
	Reg   int
	Off   int64        // frame offset or immediate value
	Class target.Class // class of the value a frame slot holds
	Sym   string
}

// T returns a temp operand.
func T(t Temp) Operand { return Operand{Kind: TempOperand, Temp: t} }

// R returns a physical register operand.
func R(reg int) Operand { return Operand{Kind: RegOperand, Reg: reg} }

// Mem returns a frame slot operand.
func Mem(off int64, c target.Class) Operand { return Operand{Kind: MemOperand, Off: off, Class: c} }

// Imm returns an immediate operand.
func Imm(v int64) Operand { return Operand{Kind: ImmOperand, Off: v} }

// Sym returns a symbol operand.
func Sym(s string) Operand { return Operand{Kind: SymOperand, Sym: s} }

// IsTemp reports whether o is a temp.
func (o Operand) IsTemp() bool { return o.Kind == TempOperand }

// IsReg reports whether o is a physical register.
func (o Operand) IsReg() bool { return o.Kind == RegOperand }

// InRegister reports whether o names a value held in a register.
func (o Operand) InRegister() bool { return o.Kind == TempOperand || o.Kind == RegOperand }

// Kind classifies instructions.
type Kind uint8

const (
	OpInstr Kind = iota
	Move         // register-to-register copy of Srcs[0] into Dst
	Call         // clobbers the caller-saved registers
	Spill        // store Srcs[0] into the frame slot Dst
	Reload       // load the frame slot Srcs[0] into Dst
)

var kindNames = [...]string{"op", "move", "call", "spill", "reload"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind%d", int(k))
}

// Need asks for Count scratch registers of Class while the instruction
// executes. ShareSrcs allows a scratch register to be one of the
// instruction's source registers.
type Need struct {
	Class     target.Class
	Count     int
	ShareSrcs bool
}

// ReuseKind says where an instruction leaves its result.
type ReuseKind uint8

const (
	NoReuse   ReuseKind = iota
	ReuseSrc            // in the register of Srcs[Index] (two-operand form)
	ReuseNeed           // in scratch register Index
)

// Reuse ties the result register to a source or a scratch register.
type Reuse struct {
	Kind  ReuseKind
	Index int
}

// FixedKind is a kind of special register constraint.
type FixedKind uint8

const (
	FixedSrc     FixedKind = iota // Srcs[Index] must be in Reg
	FixedNotSrc                   // Srcs[Index] must not be in Reg
	FixedResult                   // the result is produced in Reg
	FixedClobber                  // Reg is destroyed
)

// Fixed is a special register constraint of an instruction.
type Fixed struct {
	Kind  FixedKind
	Index int
	Reg   int
}

// Instr is one instruction.
type Instr struct {
	Kind  Kind
	Op    string
	Dst   Operand
	Srcs  []Operand
	Needs []Need
	Reuse Reuse
	Fixed []Fixed
	Line  int

	// Scratch holds the physical registers assigned to Needs, in order,
	// once allocation succeeds. A need the result reuses gets the result's
	// register.
	Scratch []int
}

// NumScratch returns the number of scratch registers the instruction needs.
func (in *Instr) NumScratch() int {
	n := 0
	for _, nd := range in.Needs {
		n += nd.Count
	}
	return n
}

// ScratchClass returns the class of scratch register i.
func (in *Instr) ScratchClass(i int) target.Class {
	for _, nd := range in.Needs {
		if i < nd.Count {
			return nd.Class
		}
		i -= nd.Count
	}
	return target.NoClass
}

// ScratchShares reports whether scratch register i may share a source register.
func (in *Instr) ScratchShares(i int) bool {
	for _, nd := range in.Needs {
		if i < nd.Count {
			return nd.ShareSrcs
		}
		i -= nd.Count
	}
	return false
}

// Block is a basic block. Succs index the function's Blocks.
type Block struct {
	Label  string
	Instrs []*Instr
	Succs  []int
}

// Func is a function.
type Func struct {
	Name   string
	Blocks []*Block
	// Temps records the register class of every temp.
	Temps map[Temp]target.Class
	// FrameSize is the frame space in use before allocation.
	FrameSize int64
}

// Program is a list of functions.
type Program struct {
	Target    string
	Functions []*Func
}

// NewTemp creates a fresh temp of class c.
func (f *Func) NewTemp(c target.Class) Temp {
	if f.Temps == nil {
		f.Temps = make(map[Temp]target.Class)
	}
	t := f.MaxTemp() + 1
	f.Temps[t] = c
	return t
}

// MaxTemp returns the highest temp number declared.
func (f *Func) MaxTemp() Temp {
	var hi Temp
	for t := range f.Temps {
		if t > hi {
			hi = t
		}
	}
	return hi
}

// Exits returns the indexes of the blocks with no successors.
func (f *Func) Exits() []int {
	var exits []int
	for i, b := range f.Blocks {
		if len(b.Succs) == 0 {
			exits = append(exits, i)
		}
	}
	return exits
}

// NumInstrs counts the instructions of f.
func (f *Func) NumInstrs() int {
	n := 0
	for _, b := range f.Blocks {
		n += len(b.Instrs)
	}
	return n
}

// Clone returns a deep copy of f.
func (f *Func) Clone() *Func {
	c := &Func{
		Name:      f.Name,
		FrameSize: f.FrameSize,
		Temps:     make(map[Temp]target.Class, len(f.Temps)),
		Blocks:    make([]*Block, len(f.Blocks)),
	}
	for t, cl := range f.Temps {
		c.Temps[t] = cl
	}
	for i, b := range f.Blocks {
		nb := &Block{
			Label:  b.Label,
			Succs:  append([]int(nil), b.Succs...),
			Instrs: make([]*Instr, len(b.Instrs)),
		}
		for j, in := range b.Instrs {
			nb.Instrs[j] = in.Clone()
		}
		c.Blocks[i] = nb
	}
	return c
}

// Clone returns a deep copy of in.
func (in *Instr) Clone() *Instr {
	c := *in
	c.Srcs = append([]Operand(nil), in.Srcs...)
	c.Needs = append([]Need(nil), in.Needs...)
	c.Fixed = append([]Fixed(nil), in.Fixed...)
	c.Scratch = append([]int(nil), in.Scratch...)
	return &c
}
