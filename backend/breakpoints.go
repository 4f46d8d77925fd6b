package backend

import (
	"fmt"

	"github.com/colorfulnotion/x64backend/cpu"
	"github.com/colorfulnotion/x64backend/log"
	"github.com/colorfulnotion/x64backend/x86"
)

// Patching does not stop threads that may be executing the patched bytes; callers that need
// that guarantee suspend them first. patchMu only serializes the bookkeeping and the writes.

// InstallBreakpoint writes the trap at every host location bp maps to.
func (b *Backend) InstallBreakpoint(bp *cpu.Breakpoint) bool {
	return b.installBreakpoint(bp, bp.ForEachHostAddress)
}

// InstallBreakpointInFunction patches only the locations inside fn, e.g. after fn was
// retranslated while bp was already set.
func (b *Backend) InstallBreakpointInFunction(bp *cpu.Breakpoint, fn cpu.GuestFunction) bool {
	if bp.AddressType() != cpu.AddressGuest {
		fatalf("per-function install of %v, which is not a guest breakpoint", bp)
	}
	if len(fn.MapGuestAddressToMachineCode(bp.GuestAddress())) == 0 {
		fatalf("%v has no machine code in function %#x", bp, fn.Address())
	}
	return b.installBreakpoint(bp, func(visit func(uint64)) {
		bp.ForEachHostAddressInFunction(fn, visit)
	})
}

func (b *Backend) installBreakpoint(bp *cpu.Breakpoint, forEach func(func(uint64))) bool {
	if b.codeCache == nil {
		fatalf("install %v before Initialize", bp)
	}
	b.patchMu.Lock()
	defer b.patchMu.Unlock()

	forEach(func(address uint64) {
		view := b.patchView(address)
		if owner, ok := b.patches[address]; ok {
			fatalf("%#x already patched by %v", address, owner)
		}
		if view[0] == x86.TrapSignature[0] && view[1] == x86.TrapSignature[1] {
			fatalf("%#x already holds a trap", address)
		}
		rec := cpu.PatchRecord{HostAddress: address, Original: [2]byte{view[0], view[1]}}
		view[0], view[1] = x86.TrapSignature[0], x86.TrapSignature[1]
		b.patches[address] = bp
		bp.AppendBackendData(rec)
		log.Debug(log.BreakpointMonitor, "breakpoint installed", "bp", bp.String(), "host", fmt.Sprintf("%#x", address))
	})
	b.installed[bp] = struct{}{}
	return true
}

// UninstallBreakpoint restores the original bytes at every location bp patched.
func (b *Backend) UninstallBreakpoint(bp *cpu.Breakpoint) bool {
	b.patchMu.Lock()
	defer b.patchMu.Unlock()

	if _, ok := b.installed[bp]; !ok {
		fatalf("uninstall of %v, which is not installed", bp)
	}
	for _, rec := range bp.ClearBackendData() {
		view := b.patchView(rec.HostAddress)
		if view[0] != x86.TrapSignature[0] || view[1] != x86.TrapSignature[1] {
			fatalf("trap at %#x was overwritten with % x", rec.HostAddress, view)
		}
		view[0], view[1] = rec.Original[0], rec.Original[1]
		delete(b.patches, rec.HostAddress)
		log.Debug(log.BreakpointMonitor, "breakpoint removed", "bp", bp.String(), "host", fmt.Sprintf("%#x", rec.HostAddress))
	}
	delete(b.installed, bp)
	return true
}

// BreakpointAt reports which breakpoint owns the trap at a host address.
func (b *Backend) BreakpointAt(address uint64) (*cpu.Breakpoint, bool) {
	b.patchMu.Lock()
	defer b.patchMu.Unlock()
	bp, ok := b.patches[address]
	return bp, ok
}

func (b *Backend) patchView(address uint64) []byte {
	view, err := b.codeCache.View(address, len(x86.TrapSignature))
	if err != nil {
		fatalf("breakpoint location %#x is not patchable code: %v", address, err)
	}
	return view
}
