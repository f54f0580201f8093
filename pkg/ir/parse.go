package ir

import (
	"strconv"
	"strings"

	"github.com/raymyers/ralph-irc/pkg/target"
	"gopkg.in/yaml.v3"
	"tlog.app/go/errors"
)

// ErrSyntax reports unreadable program text.
var ErrSyntax = errors.New("syntax error")

// ParseOperand reads the text form of an operand: t12, %eax, [fp-8], $5
// or @sym.
func ParseOperand(m *target.Machine, s string) (Operand, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "" || s == "_":
		return Operand{}, nil
	case s[0] == 't':
		n, err := strconv.Atoi(s[1:])
		if err != nil || n <= 0 {
			return Operand{}, errors.Wrap(ErrSyntax, "temp %q", s)
		}
		return T(Temp(n)), nil
	case s[0] == '%':
		r, ok := m.LookupReg(s[1:])
		if !ok {
			return Operand{}, errors.Wrap(ErrSyntax, "unknown register %q", s)
		}
		return R(r), nil
	case s[0] == '$':
		v, err := strconv.ParseInt(s[1:], 0, 64)
		if err != nil {
			return Operand{}, errors.Wrap(ErrSyntax, "immediate %q", s)
		}
		return Imm(v), nil
	case s[0] == '@':
		if len(s) == 1 {
			return Operand{}, errors.Wrap(ErrSyntax, "empty symbol")
		}
		return Sym(s[1:]), nil
	case s[0] == '[' && s[len(s)-1] == ']':
		body := strings.TrimPrefix(s[1:len(s)-1], m.Frame)
		off, err := strconv.ParseInt(strings.TrimPrefix(body, "+"), 10, 64)
		if err != nil {
			return Operand{}, errors.Wrap(ErrSyntax, "frame slot %q", s)
		}
		return Mem(off, target.NoClass), nil
	}
	return Operand{}, errors.Wrap(ErrSyntax, "operand %q", s)
}

// parseFixed reads src0=%eax, src1!=%ecx, result=%eax or clobber=%edx.
func parseFixed(m *target.Machine, s string) (Fixed, error) {
	var fx Fixed
	lhs, rhs, ok := strings.Cut(s, "=")
	if !ok {
		return fx, errors.Wrap(ErrSyntax, "fixed %q", s)
	}
	reg, err := ParseOperand(m, rhs)
	if err != nil || reg.Kind != RegOperand {
		return fx, errors.Wrap(ErrSyntax, "fixed %q: want a register", s)
	}
	fx.Reg = reg.Reg

	not := strings.HasSuffix(lhs, "!")
	lhs = strings.TrimSuffix(lhs, "!")
	switch {
	case lhs == "result" && !not:
		fx.Kind = FixedResult
	case lhs == "clobber" && !not:
		fx.Kind = FixedClobber
	case strings.HasPrefix(lhs, "src"):
		fx.Index, err = strconv.Atoi(lhs[3:])
		if err != nil {
			return fx, errors.Wrap(ErrSyntax, "fixed %q", s)
		}
		fx.Kind = FixedSrc
		if not {
			fx.Kind = FixedNotSrc
		}
	default:
		return fx, errors.Wrap(ErrSyntax, "fixed %q", s)
	}
	return fx, nil
}

type programYAML struct {
	Target    string     `yaml:"target"`
	Functions []funcYAML `yaml:"functions"`
}

type funcYAML struct {
	Name   string            `yaml:"name"`
	Temps  map[string]string `yaml:"temps"`
	Frame  int64             `yaml:"frame"`
	Blocks []blockYAML       `yaml:"blocks"`
}

type blockYAML struct {
	Label  string      `yaml:"label"`
	Succs  []string    `yaml:"succs"`
	Instrs []instrYAML `yaml:"instrs"`
}

type instrYAML struct {
	Kind  string     `yaml:"kind"`
	Op    string     `yaml:"op"`
	Dst   string     `yaml:"dst"`
	Srcs  []string   `yaml:"srcs"`
	Needs []needYAML `yaml:"needs"`
	Reuse string     `yaml:"reuse"`
	Fixed []string   `yaml:"fixed"`
	Line  int        `yaml:"line"`
}

type needYAML struct {
	Class string `yaml:"class"`
	Count int    `yaml:"count"`
	Share bool   `yaml:"share"`
}

// ProgramTarget returns the target named by a YAML program, if any.
func ProgramTarget(data []byte) (string, error) {
	var hdr struct {
		Target string `yaml:"target"`
	}
	if err := yaml.Unmarshal(data, &hdr); err != nil {
		return "", errors.Wrap(err, "parse program")
	}
	return hdr.Target, nil
}

// ParseProgram decodes a YAML program for machine m.
func ParseProgram(data []byte, m *target.Machine) (*Program, error) {
	var py programYAML
	if err := yaml.Unmarshal(data, &py); err != nil {
		return nil, errors.Wrap(err, "parse program")
	}
	prog := &Program{Target: py.Target}
	for _, fy := range py.Functions {
		fn, err := fy.build(m)
		if err != nil {
			return nil, errors.Wrap(err, "function %s", fy.Name)
		}
		prog.Functions = append(prog.Functions, fn)
	}
	return prog, nil
}

func (fy funcYAML) build(m *target.Machine) (*Func, error) {
	fn := &Func{
		Name:      fy.Name,
		FrameSize: fy.Frame,
		Temps:     make(map[Temp]target.Class, len(fy.Temps)),
	}
	for name, cname := range fy.Temps {
		o, err := ParseOperand(m, name)
		if err != nil || o.Kind != TempOperand {
			return nil, errors.Wrap(ErrSyntax, "temp name %q", name)
		}
		c, ok := m.LookupClass(cname)
		if !ok {
			return nil, errors.Wrap(ErrUndeclaredClass, "%s: class %q", name, cname)
		}
		fn.Temps[o.Temp] = c
	}

	index := make(map[string]int, len(fy.Blocks))
	for i, by := range fy.Blocks {
		label := by.Label
		if label == "" {
			label = "b" + strconv.Itoa(i)
		}
		if _, dup := index[label]; dup {
			return nil, errors.Wrap(ErrSyntax, "duplicate block %q", label)
		}
		index[label] = i
		fn.Blocks = append(fn.Blocks, &Block{Label: label})
	}

	for i, by := range fy.Blocks {
		b := fn.Blocks[i]
		for _, s := range by.Succs {
			si, ok := index[s]
			if !ok {
				return nil, errors.Wrap(ErrSyntax, "block %s: unknown successor %q", b.Label, s)
			}
			b.Succs = append(b.Succs, si)
		}
		for j, iy := range by.Instrs {
			in, err := iy.build(m)
			if err != nil {
				return nil, errors.Wrap(err, "block %s instr %d", b.Label, j)
			}
			b.Instrs = append(b.Instrs, in)
		}
	}
	return fn, nil
}

func (iy instrYAML) build(m *target.Machine) (*Instr, error) {
	in := &Instr{Op: iy.Op, Line: iy.Line}

	kind := iy.Kind
	if kind == "" {
		kind = iy.Op
	}
	switch kind {
	case "move":
		in.Kind = Move
	case "call":
		in.Kind = Call
	case "spill":
		in.Kind = Spill
	case "reload":
		in.Kind = Reload
	default:
		if iy.Kind != "" && iy.Kind != "op" {
			return nil, errors.Wrap(ErrSyntax, "kind %q", iy.Kind)
		}
		in.Kind = OpInstr
	}
	if in.Op == "" {
		in.Op = in.Kind.String()
	}

	var err error
	if in.Dst, err = ParseOperand(m, iy.Dst); err != nil {
		return nil, err
	}
	for _, s := range iy.Srcs {
		o, err := ParseOperand(m, s)
		if err != nil {
			return nil, err
		}
		in.Srcs = append(in.Srcs, o)
	}
	for _, ny := range iy.Needs {
		c, ok := m.LookupClass(ny.Class)
		if !ok {
			return nil, errors.Wrap(ErrUndeclaredClass, "need class %q", ny.Class)
		}
		count := ny.Count
		if count == 0 {
			count = 1
		}
		in.Needs = append(in.Needs, Need{Class: c, Count: count, ShareSrcs: ny.Share})
	}
	switch {
	case iy.Reuse == "":
	case strings.HasPrefix(iy.Reuse, "src"):
		in.Reuse.Kind = ReuseSrc
		in.Reuse.Index, err = strconv.Atoi(iy.Reuse[3:])
	case strings.HasPrefix(iy.Reuse, "need"):
		in.Reuse.Kind = ReuseNeed
		in.Reuse.Index, err = strconv.Atoi(iy.Reuse[4:])
	default:
		err = errors.Wrap(ErrSyntax, "reuse %q", iy.Reuse)
	}
	if err != nil {
		return nil, errors.Wrap(ErrSyntax, "reuse %q", iy.Reuse)
	}
	for _, s := range iy.Fixed {
		fx, err := parseFixed(m, s)
		if err != nil {
			return nil, err
		}
		in.Fixed = append(in.Fixed, fx)
	}
	return in, nil
}
