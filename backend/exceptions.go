package backend

import (
	"fmt"

	"github.com/colorfulnotion/x64backend/cpu"
	"github.com/colorfulnotion/x64backend/log"
	"github.com/colorfulnotion/x64backend/x86"
)

func (b *Backend) installExceptionDispatcher() {
	if b.exceptionHandler != nil {
		fatalf("exception dispatcher registered twice")
	}
	b.exceptionHandler = cpu.InstallExceptionHandler(exceptionCallback, b)
}

func (b *Backend) uninstallExceptionDispatcher() {
	if b.exceptionHandler == nil || !cpu.UninstallExceptionHandler(b.exceptionHandler) {
		fatalf("exception dispatcher removed while not registered")
	}
	b.exceptionHandler = nil
}

func exceptionCallback(ex *cpu.Exception, data any) bool {
	return data.(*Backend).handleException(ex)
}

// handleException claims illegal-instruction traps raised by our own trap signature and
// hands them to the runtime. It never touches memory or thread state itself.
func (b *Backend) handleException(ex *cpu.Exception) bool {
	if ex.Code != cpu.ExceptionIllegalInstruction {
		return false
	}
	instr := b.memory.ReadMemory(ex.PC, len(x86.TrapSignature))
	if len(instr) < len(x86.TrapSignature) || instr[0] != x86.TrapSignature[0] || instr[1] != x86.TrapSignature[1] {
		return false
	}
	log.Debug(log.ExceptionMonitoring, "breakpoint hit", "pc", fmt.Sprintf("%#x", ex.PC))
	return b.runtime.OnThreadBreakpointHit(ex)
}
