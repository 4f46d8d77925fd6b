// Package x86 provides x86-64 register definitions and machine code emission primitives.
package x86

// X86Reg represents an x86-64 register with encoding information
type X86Reg struct {
	Name    string
	RegBits byte // 3-bit code for ModRM/SIB
	REXBit  byte // 1 if register index >= 8
}

// Index returns the 4-bit hardware register number.
func (r X86Reg) Index() int {
	return int(r.REXBit)<<3 | int(r.RegBits)
}

func (r X86Reg) String() string {
	return r.Name
}

// Standard x86-64 general purpose registers
var (
	RAX = X86Reg{"rax", 0, 0} // return value, scratch in every thunk
	RCX = X86Reg{"rcx", 1, 0} // guest context
	RDX = X86Reg{"rdx", 2, 0}
	RBX = X86Reg{"rbx", 3, 0} // guest indirect call target
	RSP = X86Reg{"rsp", 4, 0}
	RBP = X86Reg{"rbp", 5, 0}
	RSI = X86Reg{"rsi", 6, 0}
	RDI = X86Reg{"rdi", 7, 0}
	R8  = X86Reg{"r8", 0, 1}
	R9  = X86Reg{"r9", 1, 1}
	R10 = X86Reg{"r10", 2, 1}
	R11 = X86Reg{"r11", 3, 1}
	R12 = X86Reg{"r12", 4, 1}
	R13 = X86Reg{"r13", 5, 1}
	R14 = X86Reg{"r14", 6, 1}
	R15 = X86Reg{"r15", 7, 1}
)

// SSE registers share the GPR encoding scheme.
var (
	XMM0  = X86Reg{"xmm0", 0, 0}
	XMM1  = X86Reg{"xmm1", 1, 0}
	XMM2  = X86Reg{"xmm2", 2, 0}
	XMM3  = X86Reg{"xmm3", 3, 0}
	XMM4  = X86Reg{"xmm4", 4, 0}
	XMM5  = X86Reg{"xmm5", 5, 0}
	XMM6  = X86Reg{"xmm6", 6, 0}
	XMM7  = X86Reg{"xmm7", 7, 0}
	XMM8  = X86Reg{"xmm8", 0, 1}
	XMM9  = X86Reg{"xmm9", 1, 1}
	XMM10 = X86Reg{"xmm10", 2, 1}
	XMM11 = X86Reg{"xmm11", 3, 1}
	XMM12 = X86Reg{"xmm12", 4, 1}
	XMM13 = X86Reg{"xmm13", 5, 1}
	XMM14 = X86Reg{"xmm14", 6, 1}
	XMM15 = X86Reg{"xmm15", 7, 1}
)

// GPRs lists the general purpose registers by hardware number.
var GPRs = [16]X86Reg{RAX, RCX, RDX, RBX, RSP, RBP, RSI, RDI, R8, R9, R10, R11, R12, R13, R14, R15}

// XMMs lists the SSE registers by hardware number.
var XMMs = [16]X86Reg{XMM0, XMM1, XMM2, XMM3, XMM4, XMM5, XMM6, XMM7, XMM8, XMM9, XMM10, XMM11, XMM12, XMM13, XMM14, XMM15}

// GprRegMap is the allocation order the translator draws integer registers from.
var GprRegMap = []X86Reg{RBX, R10, R11, R12, R13, R14, R15}

// XmmRegMap is the allocation order for vector registers; xmm0-xmm3 stay free as scratch.
var XmmRegMap = []X86Reg{XMM4, XMM5, XMM6, XMM7, XMM8, XMM9, XMM10, XMM11, XMM12, XMM13, XMM14, XMM15}

const (
	GprCount = 7
	XmmCount = 12
)
