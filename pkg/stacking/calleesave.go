package stacking

import (
	"slices"

	"github.com/raymyers/ralph-irc/pkg/target"
)

// CalleeSaveInfo holds information about callee-save register handling
type CalleeSaveInfo struct {
	Regs        []int   // callee-saved registers to save, by number
	SaveOffsets []int64 // offset from the frame base for each saved reg
}

// SavedRegs returns the registers of saved that are callee-saved on m, in
// register order.
func SavedRegs(m *target.Machine, saved map[int]bool) []int {
	var regs []int
	for r, ok := range saved {
		if ok && m.IsPerm(r) {
			regs = append(regs, r)
		}
	}
	slices.Sort(regs)
	return regs
}

// ComputeCalleeSaveInfo computes save locations for callee-saved registers
func ComputeCalleeSaveInfo(layout *FrameLayout, usedRegs []int) *CalleeSaveInfo {
	info := &CalleeSaveInfo{
		Regs:        usedRegs,
		SaveOffsets: make([]int64, len(usedRegs)),
	}

	// Save registers upwards from the bottom of the save area.
	offset := layout.CalleeSaveOffset
	for i := range usedRegs {
		info.SaveOffsets[i] = offset
		offset += layout.SaveSlotSize
	}

	return info
}
