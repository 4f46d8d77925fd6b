//go:build linux && amd64

package backend

import (
	"github.com/colorfulnotion/x64backend/cpu"
	"github.com/ebitengine/purego"
)

// nativeResolverCallback exposes rt.ResolveFunction as a C-ABI function the resolve thunk can call.
// Callbacks are never released, so create one per backend.
func nativeResolverCallback(rt cpu.Runtime) (uint64, error) {
	cb := purego.NewCallback(func(context, guestAddress uintptr) uintptr {
		return uintptr(rt.ResolveFunction(uint64(context), uint32(guestAddress)))
	})
	return uint64(cb), nil
}

// CallHostToGuest runs the translated function at target through the host to guest thunk on the
// calling thread and returns its RAX.
func (b *Backend) CallHostToGuest(target, arg0, arg1 uint64) (uint64, error) {
	if !b.initialized {
		return 0, ErrNotInitialized
	}
	if !b.codeCache.Executable() {
		return 0, ErrNativeUnsupported
	}
	r1, _, _ := purego.SyscallN(uintptr(b.hostToGuestThunk), uintptr(target), uintptr(arg0), uintptr(arg1))
	return uint64(r1), nil
}
