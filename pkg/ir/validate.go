package ir

import (
	"github.com/raymyers/ralph-irc/pkg/target"
	"tlog.app/go/errors"
)

// Input contract violations.
var (
	ErrMalformed       = errors.New("malformed function")
	ErrUndeclaredClass = errors.New("undeclared register class")
)

// Validate checks f against the contract the allocator relies on: every
// temp has a class of m, every need names a class, move endpoints agree on
// their class, and indexes inside instructions are in range.
func (f *Func) Validate(m *target.Machine) error {
	if len(f.Blocks) == 0 {
		return errors.Wrap(ErrMalformed, "%s: no blocks", f.Name)
	}
	for t, c := range f.Temps {
		if t <= 0 {
			return errors.Wrap(ErrMalformed, "%s: temp %d is not positive", f.Name, int(t))
		}
		if !m.ValidClass(c) {
			return errors.Wrap(ErrUndeclaredClass, "%s: %v has class %d", f.Name, t, int(c))
		}
	}
	for bi, b := range f.Blocks {
		for _, s := range b.Succs {
			if s < 0 || s >= len(f.Blocks) {
				return errors.Wrap(ErrMalformed, "%s: block %s: successor %d out of range", f.Name, b.Label, s)
			}
		}
		for ii, in := range b.Instrs {
			if err := f.validateInstr(m, in); err != nil {
				return errors.Wrap(err, "%s: block %d instr %d (%s)", f.Name, bi, ii, in.Op)
			}
		}
	}
	return nil
}

func (f *Func) validateInstr(m *target.Machine, in *Instr) error {
	check := func(o Operand) error {
		switch o.Kind {
		case TempOperand:
			if _, ok := f.Temps[o.Temp]; !ok {
				return errors.Wrap(ErrUndeclaredClass, "%v", o.Temp)
			}
		case RegOperand:
			if o.Reg < 0 || o.Reg >= m.NumRegs() {
				return errors.Wrap(ErrMalformed, "register %d out of range", o.Reg)
			}
		}
		return nil
	}
	if err := check(in.Dst); err != nil {
		return err
	}
	for _, s := range in.Srcs {
		if err := check(s); err != nil {
			return err
		}
	}

	for _, nd := range in.Needs {
		if !m.ValidClass(nd.Class) {
			return errors.Wrap(ErrUndeclaredClass, "need of class %d", int(nd.Class))
		}
		if nd.Count <= 0 {
			return errors.Wrap(ErrMalformed, "need count %d", nd.Count)
		}
	}

	switch in.Reuse.Kind {
	case ReuseSrc:
		if in.Reuse.Index < 0 || in.Reuse.Index >= len(in.Srcs) {
			return errors.Wrap(ErrMalformed, "reuse of source %d", in.Reuse.Index)
		}
	case ReuseNeed:
		if in.Reuse.Index < 0 || in.Reuse.Index >= in.NumScratch() {
			return errors.Wrap(ErrMalformed, "reuse of scratch %d", in.Reuse.Index)
		}
	}

	for _, fx := range in.Fixed {
		if fx.Reg < 0 || fx.Reg >= m.NumRegs() {
			return errors.Wrap(ErrMalformed, "fixed register %d out of range", fx.Reg)
		}
		if (fx.Kind == FixedSrc || fx.Kind == FixedNotSrc) && (fx.Index < 0 || fx.Index >= len(in.Srcs)) {
			return errors.Wrap(ErrMalformed, "fixed source %d", fx.Index)
		}
	}

	switch in.Kind {
	case Move:
		if len(in.Srcs) != 1 || !in.Dst.InRegister() || !in.Srcs[0].InRegister() {
			return errors.Wrap(ErrMalformed, "move needs a register source and destination")
		}
	case Spill:
		if len(in.Srcs) != 1 || in.Dst.Kind != MemOperand {
			return errors.Wrap(ErrMalformed, "spill needs a frame slot destination")
		}
	case Reload:
		if len(in.Srcs) != 1 || in.Srcs[0].Kind != MemOperand {
			return errors.Wrap(ErrMalformed, "reload needs a frame slot source")
		}
	}
	return nil
}
