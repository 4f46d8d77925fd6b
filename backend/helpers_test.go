package backend

import (
	"sync"
	"testing"
	"unsafe"

	"github.com/colorfulnotion/x64backend/codecache"
	"github.com/colorfulnotion/x64backend/cpu"
	"github.com/stretchr/testify/require"
)

const testResolverAddress = 0x7FFF0000

type fakeRuntime struct {
	mu       sync.Mutex
	hits     []*cpu.Exception
	handled  bool
	resolved map[uint32]uint64
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{handled: true, resolved: make(map[uint32]uint64)}
}

func (r *fakeRuntime) ResolveFunction(context uint64, guestAddress uint32) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resolved[guestAddress]
}

func (r *fakeRuntime) OnThreadBreakpointHit(ex *cpu.Exception) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hits = append(r.hits, ex)
	return r.handled
}

func (r *fakeRuntime) hitCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.hits)
}

type fakeFunction struct {
	address uint32
	hostMap map[uint32][]uint64
}

func (f *fakeFunction) Address() uint32 { return f.address }

func (f *fakeFunction) MapGuestAddressToMachineCode(guestAddress uint32) []uint64 {
	return f.hostMap[guestAddress]
}

type fakeLookup []cpu.GuestFunction

func (l fakeLookup) FindFunctionsWithAddress(guestAddress uint32) []cpu.GuestFunction {
	var out []cpu.GuestFunction
	for _, f := range l {
		if len(f.MapGuestAddressToMachineCode(guestAddress)) > 0 {
			out = append(out, f)
		}
	}
	return out
}

// fakeMemory is a sparse host address space.
type fakeMemory struct {
	regions map[uint64][]byte
}

func newFakeMemory() *fakeMemory {
	return &fakeMemory{regions: make(map[uint64][]byte)}
}

func (m *fakeMemory) put(address uint64, b []byte) {
	m.regions[address] = append([]byte(nil), b...)
}

func (m *fakeMemory) ReadMemory(address uint64, n int) []byte {
	for base, b := range m.regions {
		if address >= base && address < base+uint64(len(b)) {
			off := int(address - base)
			end := off + n
			if end > len(b) {
				end = len(b)
			}
			return append([]byte(nil), b[off:end]...)
		}
	}
	return nil
}

func newTestBackend(t *testing.T, abi *HostABI, mem HostMemory) (*Backend, *fakeRuntime) {
	t.Helper()
	rt := newFakeRuntime()
	ccfg := codecache.DefaultConfig()
	ccfg.CodeSize = 64 * 1024
	cfg := DefaultConfig()
	cfg.ABI = abi
	cfg.CodeCache = codecache.NewMemory(ccfg)
	cfg.ResolverAddress = testResolverAddress
	cfg.Memory = mem
	b := New(rt, cfg)
	require.NoError(t, b.Initialize())
	t.Cleanup(func() { b.Close() })
	return b, rt
}

func addressOf(b []byte) uintptr {
	return uintptr(unsafe.Pointer(&b[0]))
}
