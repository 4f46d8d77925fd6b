package backend

import (
	"runtime"

	"github.com/colorfulnotion/x64backend/x86"
)

// HostABI describes the native calling convention thunks bridge to.
type HostABI struct {
	Name string
	// IntArgs are the integer argument registers in order.
	IntArgs []x86.X86Reg
	// CalleeSaved GPRs must survive a call.
	CalleeSaved []x86.X86Reg
	// CalleeSavedXMM must survive a call.
	CalleeSavedXMM []x86.X86Reg
	// ShadowSpace is the home area a caller reserves below the return address.
	ShadowSpace int32
}

var SysVABI = &HostABI{
	Name:        "sysv",
	IntArgs:     []x86.X86Reg{x86.RDI, x86.RSI, x86.RDX, x86.RCX, x86.R8, x86.R9},
	CalleeSaved: []x86.X86Reg{x86.RBX, x86.RBP, x86.R12, x86.R13, x86.R14, x86.R15},
}

var Win64ABI = &HostABI{
	Name:        "win64",
	IntArgs:     []x86.X86Reg{x86.RCX, x86.RDX, x86.R8, x86.R9},
	CalleeSaved: []x86.X86Reg{x86.RBX, x86.RBP, x86.RDI, x86.RSI, x86.R12, x86.R13, x86.R14, x86.R15},
	CalleeSavedXMM: []x86.X86Reg{
		x86.XMM6, x86.XMM7, x86.XMM8, x86.XMM9, x86.XMM10,
		x86.XMM11, x86.XMM12, x86.XMM13, x86.XMM14, x86.XMM15,
	},
	ShadowSpace: 32,
}

// DefaultHostABI picks the convention of the running platform.
func DefaultHostABI() *HostABI {
	if runtime.GOOS == "windows" {
		return Win64ABI
	}
	return SysVABI
}

// Guest code calling convention. Translated functions take the context in RCX and one
// argument in RDX; guest->host calls add the host target in RDX and up to three
// arguments in R8-R10; indirect calls carry the 32-bit guest target in RBX.
var (
	GuestContextReg = x86.RCX
	GuestArgReg     = x86.RDX
	GuestTargetReg  = x86.RBX

	guestToHostTargetReg = x86.RDX
	guestToHostArgRegs   = []x86.X86Reg{x86.R8, x86.R9, x86.R10}
)

// moveScratch breaks register cycles while remapping arguments. It is volatile and
// carries no argument in either host convention or the guest one.
var moveScratch = x86.R11
