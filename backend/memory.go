package backend

import (
	"encoding/binary"
	"runtime/debug"
	"unsafe"

	"github.com/colorfulnotion/x64backend/codecache"
)

// HostMemory reads host process memory. ReadMemory returns at most n bytes; fewer if the
// range runs into unreadable memory.
type HostMemory interface {
	ReadMemory(address uint64, n int) []byte
}

// RawMemory reads the current process's address space directly, stopping at the first fault.
type RawMemory struct{}

func (RawMemory) ReadMemory(address uint64, n int) (out []byte) {
	old := debug.SetPanicOnFault(true)
	defer debug.SetPanicOnFault(old)
	out = make([]byte, 0, n)
	defer func() {
		// a fault ends the read; keep whatever was copied
		recover()
	}()
	for i := 0; i < n; i++ {
		out = append(out, *(*byte)(unsafe.Pointer(uintptr(address) + uintptr(i))))
	}
	return out
}

// cacheMemory serves addresses inside the code cache from its views and everything else from fallback.
type cacheMemory struct {
	cache    codecache.Cache
	fallback HostMemory
}

func (m cacheMemory) ReadMemory(address uint64, n int) []byte {
	if m.cache != nil && m.cache.Contains(address, 1) {
		for k := n; k > 0; k-- {
			if view, err := m.cache.View(address, k); err == nil {
				return append([]byte(nil), view...)
			}
		}
	}
	if m.fallback == nil {
		return nil
	}
	return m.fallback.ReadMemory(address, n)
}

func readUint64(mem HostMemory, address uint64) (uint64, bool) {
	b := mem.ReadMemory(address, 8)
	if len(b) < 8 {
		return 0, false
	}
	return binary.LittleEndian.Uint64(b), true
}
