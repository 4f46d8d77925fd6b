package backend

import (
	"github.com/colorfulnotion/x64backend/cpu"
	"golang.org/x/arch/x86/x86asm"
)

// Flags holds the condition flags as booleans.
type Flags struct {
	CF, PF, ZF, SF, OF bool
}

func FlagsFromEflags(eflags uint64) Flags {
	return Flags{
		CF: eflags&cpu.EflagsCF != 0,
		PF: eflags&cpu.EflagsPF != 0,
		ZF: eflags&cpu.EflagsZF != 0,
		SF: eflags&cpu.EflagsSF != 0,
		OF: eflags&cpu.EflagsOF != 0,
	}
}

type condition func(f Flags) bool

// jccConditions is the taken predicate of every conditional jump the stepper resolves.
// JA is CF=0 and ZF=0, JAE is CF=0, as the processor defines them. Tables that swap the two are wrong.
var jccConditions = map[x86asm.Op]condition{
	x86asm.JA:  func(f Flags) bool { return !f.CF && !f.ZF },
	x86asm.JAE: func(f Flags) bool { return !f.CF },
	x86asm.JB:  func(f Flags) bool { return f.CF },
	x86asm.JBE: func(f Flags) bool { return f.CF || f.ZF },
	x86asm.JE:  func(f Flags) bool { return f.ZF },
	x86asm.JNE: func(f Flags) bool { return !f.ZF },
	x86asm.JG:  func(f Flags) bool { return !f.ZF && f.SF == f.OF },
	x86asm.JGE: func(f Flags) bool { return f.SF == f.OF },
	x86asm.JL:  func(f Flags) bool { return f.SF != f.OF },
	x86asm.JLE: func(f Flags) bool { return f.ZF || f.SF != f.OF },
	x86asm.JO:  func(f Flags) bool { return f.OF },
	x86asm.JNO: func(f Flags) bool { return !f.OF },
	x86asm.JP:  func(f Flags) bool { return f.PF },
	x86asm.JNP: func(f Flags) bool { return !f.PF },
	x86asm.JS:  func(f Flags) bool { return f.SF },
	x86asm.JNS: func(f Flags) bool { return !f.SF },
}

func isConditionalJump(op x86asm.Op) bool {
	_, ok := jccConditions[op]
	return ok
}

// ConditionTaken evaluates the predicate for op against eflags. op must be a conditional jump.
func ConditionTaken(op x86asm.Op, eflags uint64) bool {
	cond, ok := jccConditions[op]
	if !ok {
		fatalf("unhandled condition %v", op)
	}
	return cond(FlagsFromEflags(eflags))
}
