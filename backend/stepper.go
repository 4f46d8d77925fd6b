package backend

import (
	"fmt"

	"github.com/colorfulnotion/x64backend/cpu"
	"github.com/colorfulnotion/x64backend/log"
	"github.com/pkg/errors"
	"golang.org/x/arch/x86/x86asm"
)

var hostRegIndex = map[x86asm.Reg]int{
	x86asm.RAX: cpu.RegRAX,
	x86asm.RCX: cpu.RegRCX,
	x86asm.RDX: cpu.RegRDX,
	x86asm.RBX: cpu.RegRBX,
	x86asm.RSP: cpu.RegRSP,
	x86asm.RBP: cpu.RegRBP,
	x86asm.RSI: cpu.RegRSI,
	x86asm.RDI: cpu.RegRDI,
	x86asm.R8:  cpu.RegR8,
	x86asm.R9:  cpu.RegR9,
	x86asm.R10: cpu.RegR10,
	x86asm.R11: cpu.RegR11,
	x86asm.R12: cpu.RegR12,
	x86asm.R13: cpu.RegR13,
	x86asm.R14: cpu.RegR14,
	x86asm.R15: cpu.RegR15,
}

// readHostReg returns a 64-bit register from a thread snapshot.
func readHostReg(ctx *cpu.HostContext, reg x86asm.Reg) uint64 {
	if reg == x86asm.RIP {
		return ctx.RIP
	}
	idx, ok := hostRegIndex[reg]
	if !ok {
		fatalf("unhandled register %v", reg)
	}
	return ctx.GPR[idx]
}

// InstructionStepper computes where a thread goes after executing one host instruction.
type InstructionStepper struct {
	disasm *Disassembler
	memory HostMemory
	strict bool
}

func NewInstructionStepper(disasm *Disassembler, memory HostMemory, strict bool) *InstructionStepper {
	return &InstructionStepper{disasm: disasm, memory: memory, strict: strict}
}

// Next decodes the instruction at pc and returns the address execution reaches after it.
func (s *InstructionStepper) Next(info *cpu.ThreadDebugInfo, pc uint64) (uint64, error) {
	code := s.memory.ReadMemory(pc, MaxInstructionWindow)
	if len(code) == 0 {
		return 0, errors.Errorf("no readable code at %#x", pc)
	}
	ins, err := s.disasm.Decode(pc, code)
	if err != nil {
		return 0, err
	}
	ctx := &info.HostContext
	fallthroughPC := pc + uint64(ins.Len())
	op := ins.Inst.Op

	switch {
	case op == x86asm.CALL:
		if target, ok := s.branchTarget(ctx, ins, fallthroughPC); ok {
			return target, nil
		}
		assertion(s.strict, log.StepMonitoring, "unsupported call form %q at %#x", ins.OpStr(), pc)
		return fallthroughPC, nil

	case op == x86asm.RET:
		if ins.Inst.Args[0] != nil {
			assertion(s.strict, log.StepMonitoring, "ret with operands %q at %#x", ins.OpStr(), pc)
		}
		rsp := ctx.GPR[cpu.RegRSP]
		target, ok := readUint64(s.memory, rsp)
		if !ok {
			return 0, errors.Errorf("return address at rsp=%#x unreadable", rsp)
		}
		return target, nil

	case op == x86asm.JMP:
		if target, ok := s.branchTarget(ctx, ins, fallthroughPC); ok {
			return target, nil
		}
		assertion(s.strict, log.StepMonitoring, "unsupported jmp form %q at %#x", ins.OpStr(), pc)
		return fallthroughPC, nil

	case op == x86asm.JCXZ || op == x86asm.JECXZ || op == x86asm.JRCXZ:
		// counter-register jumps are not resolved; the fall-through may be wrong
		assertion(s.strict, log.StepMonitoring, "%v not resolved at %#x", op, pc)
		return fallthroughPC, nil

	case isConditionalJump(op):
		rel, ok := ins.Inst.Args[0].(x86asm.Rel)
		if !ok {
			assertion(s.strict, log.StepMonitoring, "conditional jump without immediate target at %#x", pc)
			return fallthroughPC, nil
		}
		taken := ConditionTaken(op, ctx.EFLAGS)
		log.Trace(log.StepMonitoring, "conditional jump", "op", op.String(), "taken", taken, "eflags", fmt.Sprintf("%#x", ctx.EFLAGS))
		if taken {
			return fallthroughPC + uint64(int64(rel)), nil
		}
		return fallthroughPC, nil
	}

	return fallthroughPC, nil
}

// branchTarget resolves an immediate or register operand of call/jmp.
func (s *InstructionStepper) branchTarget(ctx *cpu.HostContext, ins *Instruction, fallthroughPC uint64) (uint64, bool) {
	if ins.Inst.Args[1] != nil {
		return 0, false
	}
	switch arg := ins.Inst.Args[0].(type) {
	case x86asm.Rel:
		return fallthroughPC + uint64(int64(arg)), true
	case x86asm.Imm:
		return uint64(arg), true
	case x86asm.Reg:
		return readHostReg(ctx, arg), true
	}
	return 0, false
}
