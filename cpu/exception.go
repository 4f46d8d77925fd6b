package cpu

import "fmt"

type ExceptionCode int

const (
	ExceptionUnknown ExceptionCode = iota
	ExceptionIllegalInstruction
	ExceptionAccessViolation
	ExceptionBreakpoint
)

func (c ExceptionCode) String() string {
	switch c {
	case ExceptionIllegalInstruction:
		return "illegal_instruction"
	case ExceptionAccessViolation:
		return "access_violation"
	case ExceptionBreakpoint:
		return "breakpoint"
	default:
		return "unknown"
	}
}

// Exception describes one hardware trap. It is only valid for the duration of the dispatch.
type Exception struct {
	Code    ExceptionCode
	PC      uint64
	Context *HostContext
}

func (e *Exception) String() string {
	return fmt.Sprintf("%s at %#x", e.Code, e.PC)
}
