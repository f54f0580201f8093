// Package stacking lays out the part of an activation record the register
// allocator is responsible for: spill slots and the save area of the
// callee-saved registers it could not keep in a register.
package stacking

const stackAlignment = 16

// Frame layout (offsets from the frame base register):
//
//	+---------------------------+  <- frame base
//	| Locals in use before      |  -1 ... -Base
//	| allocation                |
//	| Spill slots               |  allocated downwards by Alloc
//	+---------------------------+
//	| Callee-saved registers    |  CalleeSaveOffset ...
//	+---------------------------+  <- SP (16-byte aligned)

// Frame hands out spill slots below the space a function already uses.
type Frame struct {
	// Base is the frame space in use before allocation.
	Base  int64
	size  int64
	Slots []Slot
}

// Slot is one allocated spill slot.
type Slot struct {
	Off  int64 // negative offset from the frame base
	Size int64
}

// NewFrame returns a frame whose first base bytes are taken.
func NewFrame(base int64) *Frame {
	return &Frame{Base: base, size: base}
}

// Alloc reserves size bytes aligned to size and returns the offset of the
// slot from the frame base.
func (f *Frame) Alloc(size int64) int64 {
	if size <= 0 {
		size = 1
	}
	f.size = alignUp(f.size+size, size)
	off := -f.size
	f.Slots = append(f.Slots, Slot{Off: off, Size: size})
	return off
}

// Size returns the frame space in use, spill slots included.
func (f *Frame) Size() int64 { return f.size }

// FrameLayout describes the concrete frame of an allocated function.
type FrameLayout struct {
	LocalSize      int64 // locals and spill slots
	CalleeSaveSize int64 // callee-saved registers saved on the stack
	SaveSlotSize   int64 // bytes per saved register

	// Offsets from the frame base.
	LocalOffset      int64 // lowest local byte
	CalleeSaveOffset int64 // lowest byte of the save area

	// Total frame size, 16-byte aligned.
	TotalSize int64
}

// ComputeLayout places calleeSaveRegs saved registers of regSize bytes
// below the locals and spill slots of frame.
func ComputeLayout(frame *Frame, calleeSaveRegs int, regSize int64) *FrameLayout {
	layout := &FrameLayout{SaveSlotSize: regSize}

	align := regSize
	if align <= 0 {
		align = 8
	}
	layout.LocalSize = alignUp(frame.Size(), align)
	layout.CalleeSaveSize = int64(calleeSaveRegs) * regSize

	layout.LocalOffset = -layout.LocalSize
	layout.CalleeSaveOffset = -(layout.LocalSize + layout.CalleeSaveSize)

	layout.TotalSize = alignUp(layout.LocalSize+layout.CalleeSaveSize, stackAlignment)
	return layout
}

// alignUp rounds n up to the nearest multiple of align
func alignUp(n, align int64) int64 {
	if align == 0 {
		return n
	}
	return ((n + align - 1) / align) * align
}
