package ir

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/raymyers/ralph-irc/pkg/target"
)

// Printer writes functions in the text form ParseOperand reads back.
type Printer struct {
	w io.Writer
	m *target.Machine

	// Resolve, when set, replaces temps by their allocated location.
	Resolve func(Temp) (Operand, bool)
}

// NewPrinter creates a printer for functions targeting m.
func NewPrinter(w io.Writer, m *target.Machine) *Printer {
	return &Printer{w: w, m: m}
}

// PrintProgram prints every function of prog.
func (p *Printer) PrintProgram(prog *Program) {
	for i, fn := range prog.Functions {
		p.PrintFunction(fn)
		if i < len(prog.Functions)-1 {
			fmt.Fprintln(p.w)
		}
	}
}

// PrintFunction prints fn.
func (p *Printer) PrintFunction(fn *Func) {
	fmt.Fprintf(p.w, "%s:\n", fn.Name)

	// Temps sorted for deterministic output
	temps := make([]Temp, 0, len(fn.Temps))
	for t := range fn.Temps {
		temps = append(temps, t)
	}
	sort.Slice(temps, func(i, j int) bool { return temps[i] < temps[j] })
	if len(temps) > 0 && p.Resolve == nil {
		fmt.Fprint(p.w, "  temps")
		for _, t := range temps {
			fmt.Fprintf(p.w, " %v:%s", t, p.m.ClassName(fn.Temps[t]))
		}
		fmt.Fprintln(p.w)
	}

	for i, b := range fn.Blocks {
		fmt.Fprintf(p.w, "%s:", blockLabel(fn, i))
		if len(b.Succs) > 0 {
			labels := make([]string, len(b.Succs))
			for j, s := range b.Succs {
				labels[j] = blockLabel(fn, s)
			}
			fmt.Fprintf(p.w, " -> %s", strings.Join(labels, ", "))
		}
		fmt.Fprintln(p.w)
		for _, in := range b.Instrs {
			fmt.Fprint(p.w, "  ")
			p.PrintInstr(in)
			fmt.Fprintln(p.w)
		}
	}
}

// PrintInstr prints a single instruction without a newline.
func (p *Printer) PrintInstr(in *Instr) {
	if in.Dst.Kind != NoOperand {
		fmt.Fprintf(p.w, "%s = ", p.operand(in.Dst))
	}
	op := in.Op
	if op == "" {
		op = in.Kind.String()
	}
	fmt.Fprint(p.w, op)
	for i, s := range in.Srcs {
		if i == 0 {
			fmt.Fprint(p.w, " ")
		} else {
			fmt.Fprint(p.w, ", ")
		}
		fmt.Fprint(p.w, p.operand(s))
	}

	var notes []string
	if in.Kind == Call && in.Op != "call" {
		notes = append(notes, "call")
	}
	for _, nd := range in.Needs {
		s := fmt.Sprintf("need %s*%d", p.m.ClassName(nd.Class), nd.Count)
		if nd.ShareSrcs {
			s += " shared"
		}
		notes = append(notes, s)
	}
	switch in.Reuse.Kind {
	case ReuseSrc:
		notes = append(notes, fmt.Sprintf("reuse src%d", in.Reuse.Index))
	case ReuseNeed:
		notes = append(notes, fmt.Sprintf("reuse need%d", in.Reuse.Index))
	}
	for _, fx := range in.Fixed {
		notes = append(notes, FormatFixed(p.m, fx))
	}
	if len(in.Scratch) > 0 {
		regs := make([]string, len(in.Scratch))
		for i, r := range in.Scratch {
			regs[i] = "%" + p.m.RegName(r)
		}
		notes = append(notes, "scratch "+strings.Join(regs, " "))
	}
	if len(notes) > 0 {
		fmt.Fprintf(p.w, "  ; %s", strings.Join(notes, "; "))
	}
}

func (p *Printer) operand(o Operand) string {
	if o.Kind == TempOperand && p.Resolve != nil {
		if loc, ok := p.Resolve(o.Temp); ok {
			return FormatOperand(p.m, loc)
		}
	}
	return FormatOperand(p.m, o)
}

// FormatOperand returns the text form of o.
func FormatOperand(m *target.Machine, o Operand) string {
	switch o.Kind {
	case TempOperand:
		return o.Temp.String()
	case RegOperand:
		return "%" + m.RegName(o.Reg)
	case MemOperand:
		if o.Off >= 0 {
			return fmt.Sprintf("[%s+%d]", m.Frame, o.Off)
		}
		return fmt.Sprintf("[%s%d]", m.Frame, o.Off)
	case ImmOperand:
		return fmt.Sprintf("$%d", o.Off)
	case SymOperand:
		return "@" + o.Sym
	default:
		return "_"
	}
}

// FormatFixed returns the text form of a fixed register constraint.
func FormatFixed(m *target.Machine, fx Fixed) string {
	reg := "%" + m.RegName(fx.Reg)
	switch fx.Kind {
	case FixedSrc:
		return fmt.Sprintf("src%d=%s", fx.Index, reg)
	case FixedNotSrc:
		return fmt.Sprintf("src%d!=%s", fx.Index, reg)
	case FixedResult:
		return "result=" + reg
	default:
		return "clobber=" + reg
	}
}

func blockLabel(fn *Func, i int) string {
	if i >= 0 && i < len(fn.Blocks) && fn.Blocks[i].Label != "" {
		return fn.Blocks[i].Label
	}
	return fmt.Sprintf("b%d", i)
}
