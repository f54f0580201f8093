package ir

import (
	"bytes"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/raymyers/ralph-irc/pkg/target"
)

func TestParseOperand(t *testing.T) {
	m := target.MustLookup("i386")
	eax, _ := m.LookupReg("eax")

	tests := []struct {
		in   string
		want Operand
	}{
		{"t7", T(7)},
		{"%eax", R(eax)},
		{"$-3", Imm(-3)},
		{"$0x10", Imm(16)},
		{"@printf", Sym("printf")},
		{"[ebp-8]", Mem(-8, target.NoClass)},
		{"[ebp+12]", Mem(12, target.NoClass)},
		{"_", Operand{}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseOperand(m, tt.in)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("ParseOperand(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
			if tt.in != "$0x10" {
				if s := FormatOperand(m, got); s != tt.in {
					t.Errorf("FormatOperand = %q, want %q", s, tt.in)
				}
			}
		})
	}

	for _, bad := range []string{"t0", "tx", "%zz", "$q", "@", "[ebp-x]", "?"} {
		if _, err := ParseOperand(m, bad); !errors.Is(err, ErrSyntax) {
			t.Errorf("ParseOperand(%q): expected ErrSyntax, got %v", bad, err)
		}
	}
}

func TestParseFixed(t *testing.T) {
	m := target.MustLookup("i386")
	eax, _ := m.LookupReg("eax")
	edx, _ := m.LookupReg("edx")

	tests := []struct {
		in   string
		want Fixed
	}{
		{"src0=%eax", Fixed{Kind: FixedSrc, Index: 0, Reg: eax}},
		{"src1!=%edx", Fixed{Kind: FixedNotSrc, Index: 1, Reg: edx}},
		{"result=%eax", Fixed{Kind: FixedResult, Reg: eax}},
		{"clobber=%edx", Fixed{Kind: FixedClobber, Reg: edx}},
	}
	for _, tt := range tests {
		got, err := parseFixed(m, tt.in)
		if err != nil {
			t.Fatalf("%s: %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("parseFixed(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
		if s := FormatFixed(m, got); s != tt.in {
			t.Errorf("FormatFixed = %q, want %q", s, tt.in)
		}
	}
}

func loadDivide(t *testing.T) (*target.Machine, *Func) {
	t.Helper()
	data, err := os.ReadFile("../../testdata/programs/divide.yaml")
	if err != nil {
		t.Fatal(err)
	}
	name, err := ProgramTarget(data)
	if err != nil {
		t.Fatal(err)
	}
	m := target.MustLookup(name)
	prog, err := ParseProgram(data, m)
	if err != nil {
		t.Fatal(err)
	}
	if len(prog.Functions) != 1 {
		t.Fatalf("expected 1 function, got %d", len(prog.Functions))
	}
	return m, prog.Functions[0]
}

func TestParseProgram(t *testing.T) {
	m, fn := loadDivide(t)

	if err := fn.Validate(m); err != nil {
		t.Fatal(err)
	}
	if len(fn.Blocks) != 2 || fn.Blocks[0].Succs[0] != 1 {
		t.Fatalf("unexpected block structure")
	}
	if exits := fn.Exits(); len(exits) != 1 || exits[0] != 1 {
		t.Errorf("Exits() = %v, want [1]", exits)
	}

	div := fn.Blocks[0].Instrs[2]
	if len(div.Fixed) != 4 {
		t.Fatalf("div should carry 4 constraints, got %d", len(div.Fixed))
	}
	add := fn.Blocks[1].Instrs[0]
	if add.Reuse != (Reuse{Kind: ReuseSrc, Index: 0}) {
		t.Errorf("add reuse = %+v", add.Reuse)
	}
	if fn.NumInstrs() != 5 {
		t.Errorf("NumInstrs() = %d, want 5", fn.NumInstrs())
	}
}

func TestPrintFunction(t *testing.T) {
	m, fn := loadDivide(t)

	var buf bytes.Buffer
	NewPrinter(&buf, m).PrintFunction(fn)
	out := buf.String()

	for _, want := range []string{
		"divide:",
		"temps t1:A t2:A t3:A t4:A",
		"entry: -> done",
		"t3 = div t1, t2  ; src0=%eax; src1!=%edx; result=%eax; clobber=%edx",
		"t4 = add t3, $1  ; reuse src0",
		"ret t4",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in:\n%s", want, out)
		}
	}
}

func TestPrintResolved(t *testing.T) {
	m, fn := loadDivide(t)
	eax, _ := m.LookupReg("eax")

	var buf bytes.Buffer
	p := NewPrinter(&buf, m)
	p.Resolve = func(t Temp) (Operand, bool) {
		if t == 3 {
			return R(eax), true
		}
		return Mem(-4*int64(t), 1), true
	}
	p.PrintFunction(fn)
	out := buf.String()

	if strings.Contains(out, "temps") {
		t.Errorf("resolved output should not list temps:\n%s", out)
	}
	if !strings.Contains(out, "%eax = div [ebp-4], [ebp-8]") {
		t.Errorf("expected resolved operands in:\n%s", out)
	}
}

func TestValidate(t *testing.T) {
	m := target.MustLookup("toy")
	a, _ := m.LookupClass("A")
	b, _ := m.LookupClass("B")

	build := func() *Func {
		fn := NewFunc("f")
		t1 := fn.NewTemp(a)
		t2 := fn.NewTemp(a)
		fn.AddBlock("entry").Add(
			NewOp("li", T(t1), Imm(1)),
			NewMove(T(t2), T(t1)),
			NewOp("ret", Operand{}, T(t2)),
		)
		return fn
	}

	if err := build().Validate(m); err != nil {
		t.Fatalf("valid function rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Func)
		want   error
	}{
		{"undeclared temp", func(f *Func) { delete(f.Temps, 2) }, ErrUndeclaredClass},
		{"class zero", func(f *Func) { f.Temps[1] = target.NoClass }, ErrUndeclaredClass},
		{"need class", func(f *Func) { f.Blocks[0].Instrs[0].WithNeed(target.NoClass, 1) }, ErrUndeclaredClass},
		{"bad successor", func(f *Func) { f.Blocks[0].Succs = []int{3} }, ErrMalformed},
		{"bad reuse", func(f *Func) { f.Blocks[0].Instrs[0].WithReuse(ReuseSrc, 2) }, ErrMalformed},
		{"move from immediate", func(f *Func) { f.Blocks[0].Instrs[1].Srcs[0] = Imm(3) }, ErrMalformed},
		{"no blocks", func(f *Func) { f.Blocks = nil }, ErrMalformed},
		{"need class B ok", func(f *Func) { f.Blocks[0].Instrs[0].WithNeed(b, 1) }, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fn := build()
			tt.mutate(fn)
			err := fn.Validate(m)
			if tt.want == nil {
				if err != nil {
					t.Errorf("unexpected error %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestClone(t *testing.T) {
	_, fn := loadDivide(t)
	c := fn.Clone()

	c.Blocks[0].Instrs[2].Srcs[0] = T(4)
	c.Temps[9] = 1
	c.Blocks[0].Instrs = c.Blocks[0].Instrs[:1]

	if fn.Blocks[0].Instrs[2].Srcs[0] != T(1) {
		t.Error("clone shares operands with the original")
	}
	if _, ok := fn.Temps[9]; ok {
		t.Error("clone shares temps with the original")
	}
	if len(fn.Blocks[0].Instrs) != 3 {
		t.Error("clone shares instruction lists with the original")
	}
}

func TestScratchClass(t *testing.T) {
	in := NewOp("mul", T(1), T(2)).WithNeed(1, 2).WithNeed(2, 1)
	if in.NumScratch() != 3 {
		t.Fatalf("NumScratch() = %d", in.NumScratch())
	}
	for i, want := range []Class{1, 1, 2, target.NoClass} {
		if got := in.ScratchClass(i); got != want {
			t.Errorf("ScratchClass(%d) = %d, want %d", i, got, want)
		}
	}
}
