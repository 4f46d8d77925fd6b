package backend

import (
	"sort"

	"github.com/colorfulnotion/x64backend/x86"
)

// StackSlot is one saved register in a thunk frame.
type StackSlot struct {
	Reg    x86.X86Reg
	Offset int32
}

// StackLayout is the frame every thunk builds on entry. Saves and restores are both generated
// from GPRSlots and XMMSlots, so they cannot drift apart.
type StackLayout struct {
	FrameSize int32
	GPRSlots  []StackSlot
	XMMSlots  []StackSlot
}

// thunkSavedGPRs is the callee-saved set of abi plus the guest argument registers,
// which the resolve thunk must hand unchanged to the function it resolves.
func thunkSavedGPRs(abi *HostABI) []x86.X86Reg {
	seen := make(map[int]bool)
	var regs []x86.X86Reg
	add := func(r x86.X86Reg) {
		if !seen[r.Index()] {
			seen[r.Index()] = true
			regs = append(regs, r)
		}
	}
	for _, r := range abi.CalleeSaved {
		add(r)
	}
	for _, r := range []x86.X86Reg{GuestContextReg, GuestArgReg, x86.RSI, x86.RDI} {
		add(r)
	}
	sort.Slice(regs, func(i, j int) bool { return regs[i].Index() < regs[j].Index() })
	return regs
}

// NewStackLayout lays out the thunk frame for abi. On entry RSP is 8 mod 16 (return address
// pushed); FrameSize is 8 mod 16 so RSP is 16-byte aligned at the inner call.
func NewStackLayout(abi *HostABI) StackLayout {
	var l StackLayout
	off := abi.ShadowSpace
	for _, r := range thunkSavedGPRs(abi) {
		l.GPRSlots = append(l.GPRSlots, StackSlot{Reg: r, Offset: off})
		off += 8
	}
	off = (off + 15) &^ 15
	for _, r := range abi.CalleeSavedXMM {
		l.XMMSlots = append(l.XMMSlots, StackSlot{Reg: r, Offset: off})
		off += 16
	}
	if off%16 == 0 {
		off += 8
	}
	l.FrameSize = off
	return l
}
