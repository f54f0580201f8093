package ir

// NewFunc creates an empty function.
func NewFunc(name string) *Func {
	return &Func{Name: name, Temps: make(map[Temp]Class)}
}

// AddBlock appends a block and returns its index.
func (f *Func) AddBlock(label string, succs ...int) *Block {
	b := &Block{Label: label, Succs: succs}
	f.Blocks = append(f.Blocks, b)
	return b
}

// Add appends instructions to b.
func (b *Block) Add(ins ...*Instr) *Block {
	b.Instrs = append(b.Instrs, ins...)
	return b
}

// NewOp builds an ordinary instruction.
func NewOp(op string, dst Operand, srcs ...Operand) *Instr {
	return &Instr{Kind: OpInstr, Op: op, Dst: dst, Srcs: srcs}
}

// NewMove builds a register copy.
func NewMove(dst, src Operand) *Instr {
	return &Instr{Kind: Move, Op: "move", Dst: dst, Srcs: []Operand{src}}
}

// NewSpill builds a store of src into the frame slot dst.
func NewSpill(dst, src Operand) *Instr {
	return &Instr{Kind: Spill, Op: "spill", Dst: dst, Srcs: []Operand{src}}
}

// NewReload builds a load of the frame slot src into dst.
func NewReload(dst, src Operand) *Instr {
	return &Instr{Kind: Reload, Op: "reload", Dst: dst, Srcs: []Operand{src}}
}

// NewCall builds a call of sym leaving its result, if any, in dst.
func NewCall(sym string, dst Operand, args ...Operand) *Instr {
	return &Instr{Kind: Call, Op: "call", Dst: dst, Srcs: append([]Operand{Sym(sym)}, args...)}
}

// WithNeed adds a scratch need to in.
func (in *Instr) WithNeed(c Class, count int) *Instr {
	in.Needs = append(in.Needs, Need{Class: c, Count: count})
	return in
}

// WithReuse ties the result of in to a source or scratch register.
func (in *Instr) WithReuse(kind ReuseKind, index int) *Instr {
	in.Reuse = Reuse{Kind: kind, Index: index}
	return in
}

// WithFixed adds a special register constraint to in.
func (in *Instr) WithFixed(kind FixedKind, index, reg int) *Instr {
	in.Fixed = append(in.Fixed, Fixed{Kind: kind, Index: index, Reg: reg})
	return in
}
