package cpu

import "fmt"

// GPR indices in hardware encoding order.
const (
	RegRAX = iota
	RegRCX
	RegRDX
	RegRBX
	RegRSP
	RegRBP
	RegRSI
	RegRDI
	RegR8
	RegR9
	RegR10
	RegR11
	RegR12
	RegR13
	RegR14
	RegR15
)

// EFLAGS bits consulted when resolving conditional branches.
const (
	EflagsCF uint64 = 0x001
	EflagsPF uint64 = 0x004
	EflagsZF uint64 = 0x040
	EflagsSF uint64 = 0x080
	EflagsOF uint64 = 0x800
)

// HostContext is a snapshot of a host thread's register file.
type HostContext struct {
	RIP    uint64
	EFLAGS uint64
	GPR    [16]uint64
	XMM    [16][16]byte
}

func (c *HostContext) String() string {
	return fmt.Sprintf("rip=%#x rsp=%#x rax=%#x eflags=%#x", c.RIP, c.GPR[RegRSP], c.GPR[RegRAX], c.EFLAGS)
}

// ThreadDebugInfo is what a debugger hands the backend when it asks where a thread goes next.
type ThreadDebugInfo struct {
	ThreadID    uint32
	HostContext HostContext
}
