package backend

import (
	"fmt"

	"github.com/colorfulnotion/x64backend/log"
	"github.com/colorfulnotion/x64backend/x86"
)

// regMove is one dst <- src copy of a parallel argument remap.
type regMove struct {
	dst, src x86.X86Reg
}

// ThunkEmitter generates the fixed bridges between host code and translated guest code.
type ThunkEmitter struct {
	abi    *HostABI
	layout StackLayout
}

func NewThunkEmitter(abi *HostABI) *ThunkEmitter {
	return &ThunkEmitter{abi: abi, layout: NewStackLayout(abi)}
}

func (e *ThunkEmitter) Layout() StackLayout {
	return e.layout
}

func (e *ThunkEmitter) emitPrologue(a *x86.Assembler) {
	a.SubRegImm(x86.RSP, e.layout.FrameSize)
	for _, s := range e.layout.GPRSlots {
		a.MovMemReg64(x86.RSP, s.Offset, s.Reg)
	}
	for _, s := range e.layout.XMMSlots {
		a.MovupsMemXmm(x86.RSP, s.Offset, s.Reg)
	}
}

func (e *ThunkEmitter) emitEpilogue(a *x86.Assembler) {
	for _, s := range e.layout.XMMSlots {
		a.MovupsXmmMem(s.Reg, x86.RSP, s.Offset)
	}
	for _, s := range e.layout.GPRSlots {
		a.MovRegMem64(s.Reg, x86.RSP, s.Offset)
	}
	a.AddRegImm(x86.RSP, e.layout.FrameSize)
}

// EmitHostToGuestThunk: host (target, arg0, arg1) -> guest target(context=arg0, arg1).
func (e *ThunkEmitter) EmitHostToGuestThunk() []byte {
	a := x86.NewAssembler(256)
	e.emitPrologue(a)
	emitParallelMoves(a, []regMove{
		{dst: x86.RAX, src: e.abi.IntArgs[0]},
		{dst: GuestContextReg, src: e.abi.IntArgs[1]},
		{dst: GuestArgReg, src: e.abi.IntArgs[2]},
	})
	a.CallReg(x86.RAX)
	e.emitEpilogue(a)
	a.Ret()
	log.Debug(log.ThunkMonitoring, "emitted host to guest thunk", "abi", e.abi.Name, "size", a.Offset())
	return a.Bytes()
}

// EmitGuestToHostThunk: guest (context, target, arg0, arg1, arg2) -> host target(context, arg0, arg1, arg2).
func (e *ThunkEmitter) EmitGuestToHostThunk() []byte {
	if len(e.abi.IntArgs) < 1+len(guestToHostArgRegs) {
		fatalf("host abi %s has %d argument registers, guest to host needs %d", e.abi.Name, len(e.abi.IntArgs), 1+len(guestToHostArgRegs))
	}
	a := x86.NewAssembler(256)
	e.emitPrologue(a)
	moves := []regMove{
		{dst: x86.RAX, src: guestToHostTargetReg},
		{dst: e.abi.IntArgs[0], src: GuestContextReg},
	}
	for i, r := range guestToHostArgRegs {
		moves = append(moves, regMove{dst: e.abi.IntArgs[1+i], src: r})
	}
	emitParallelMoves(a, moves)
	a.CallReg(x86.RAX)
	e.emitEpilogue(a)
	a.Ret()
	log.Debug(log.ThunkMonitoring, "emitted guest to host thunk", "abi", e.abi.Name, "size", a.Offset())
	return a.Bytes()
}

// EmitResolveFunctionThunk calls resolver(context, guest target in RBX) and tail-jumps to the
// host address it returns with the guest registers and stack exactly as they were on entry.
func (e *ThunkEmitter) EmitResolveFunctionThunk(resolver uint64) []byte {
	a := x86.NewAssembler(256)
	e.emitPrologue(a)
	emitParallelMoves(a, []regMove{{dst: e.abi.IntArgs[0], src: GuestContextReg}})
	a.MovRegReg32(e.abi.IntArgs[1], GuestTargetReg)
	a.MovRegImm64(x86.RAX, resolver)
	a.CallReg(x86.RAX)
	e.emitEpilogue(a)
	a.JmpReg(x86.RAX)
	log.Debug(log.ThunkMonitoring, "emitted resolve function thunk", "abi", e.abi.Name, "size", a.Offset(), "resolver", fmt.Sprintf("%#x", resolver))
	return a.Bytes()
}

// emitParallelMoves performs all moves as if simultaneously: no source is overwritten before it
// is read. Cycles go through moveScratch.
func emitParallelMoves(a *x86.Assembler, moves []regMove) {
	pending := make([]regMove, 0, len(moves))
	dsts := make(map[int]bool)
	for _, m := range moves {
		if dsts[m.dst.Index()] {
			fatalf("register %s is the destination of two argument moves", m.dst)
		}
		dsts[m.dst.Index()] = true
		if m.dst != m.src {
			pending = append(pending, m)
		}
	}
	readBy := func(r x86.X86Reg, skip int) bool {
		for j, m := range pending {
			if j != skip && m.src == r {
				return true
			}
		}
		return false
	}
	for len(pending) > 0 {
		progressed := false
		for i, m := range pending {
			if readBy(m.dst, i) {
				continue
			}
			a.MovRegReg(m.dst, m.src)
			pending = append(pending[:i], pending[i+1:]...)
			progressed = true
			break
		}
		if progressed {
			continue
		}
		blocked := pending[0].src
		a.MovRegReg(moveScratch, blocked)
		for j := range pending {
			if pending[j].src == blocked {
				pending[j].src = moveScratch
			}
		}
	}
}
