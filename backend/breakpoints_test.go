package backend

import (
	"testing"

	"github.com/colorfulnotion/x64backend/cpu"
	"github.com/colorfulnotion/x64backend/x86"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// placeNops puts n one-byte nops into the cache and returns their address.
func placeNops(t *testing.T, b *Backend, n int) uint64 {
	a := x86.NewAssembler(n)
	for i := 0; i < n; i++ {
		a.Nop()
	}
	address, err := b.CodeCache().PlaceCode(a.Bytes())
	require.NoError(t, err)
	return address
}

func codeAt(t *testing.T, b *Backend, address uint64, n int) []byte {
	view, err := b.CodeCache().View(address, n)
	require.NoError(t, err)
	return append([]byte(nil), view...)
}

func TestHostBreakpointRoundTrip(t *testing.T) {
	b, _ := newTestBackend(t, SysVABI, nil)
	code := placeNops(t, b, 16)
	original := codeAt(t, b, code, 16)

	bp := cpu.NewHostBreakpoint(code + 4)
	require.True(t, b.InstallBreakpoint(bp))
	patched := codeAt(t, b, code, 16)
	assert.Equal(t, x86.TrapSignature[:], patched[4:6])
	assert.Equal(t, original[:4], patched[:4])
	assert.Equal(t, original[6:], patched[6:])

	recs := bp.BackendData()
	require.Len(t, recs, 1)
	assert.Equal(t, cpu.PatchRecord{HostAddress: code + 4, Original: [2]byte{0x90, 0x90}}, recs[0])
	owner, ok := b.BreakpointAt(code + 4)
	require.True(t, ok)
	assert.Same(t, bp, owner)

	require.True(t, b.UninstallBreakpoint(bp))
	assert.Equal(t, original, codeAt(t, b, code, 16))
	assert.Empty(t, bp.BackendData())
	_, ok = b.BreakpointAt(code + 4)
	assert.False(t, ok)

	assert.Panics(t, func() { b.UninstallBreakpoint(bp) }, "second uninstall")
}

func TestBreakpointReinstall(t *testing.T) {
	b, _ := newTestBackend(t, SysVABI, nil)
	code := placeNops(t, b, 8)
	bp := cpu.NewHostBreakpoint(code)
	for i := 0; i < 3; i++ {
		require.True(t, b.InstallBreakpoint(bp))
		require.True(t, b.UninstallBreakpoint(bp))
	}
	assert.Equal(t, []byte{0x90, 0x90}, codeAt(t, b, code, 2))
}

func TestBreakpointPatchConflicts(t *testing.T) {
	b, _ := newTestBackend(t, SysVABI, nil)
	code := placeNops(t, b, 8)

	first := cpu.NewHostBreakpoint(code)
	require.True(t, b.InstallBreakpoint(first))
	assert.Panics(t, func() { b.InstallBreakpoint(cpu.NewHostBreakpoint(code)) }, "address already patched")

	trap := x86.NewAssembler(4)
	trap.Ud2()
	trapAt, err := b.CodeCache().PlaceCode(trap.Bytes())
	require.NoError(t, err)
	assert.Panics(t, func() { b.InstallBreakpoint(cpu.NewHostBreakpoint(trapAt)) }, "location already holds a trap")

	assert.Panics(t, func() { b.InstallBreakpoint(cpu.NewHostBreakpoint(0x1000)) }, "outside the code cache")
	assert.Panics(t, func() { b.UninstallBreakpoint(cpu.NewHostBreakpoint(code + 2)) }, "never installed")
}

func TestBreakpointOverwrittenTrap(t *testing.T) {
	b, _ := newTestBackend(t, SysVABI, nil)
	code := placeNops(t, b, 8)
	bp := cpu.NewHostBreakpoint(code)
	require.True(t, b.InstallBreakpoint(bp))

	view, err := b.CodeCache().View(code, 2)
	require.NoError(t, err)
	view[0], view[1] = 0xCC, 0xCC
	assert.Panics(t, func() { b.UninstallBreakpoint(bp) })
}

func TestGuestBreakpointPatchesEveryMapping(t *testing.T) {
	b, _ := newTestBackend(t, SysVABI, nil)
	first := placeNops(t, b, 16)
	second := placeNops(t, b, 16)

	const guestPC = 0x82000010
	fnA := &fakeFunction{address: 0x82000000, hostMap: map[uint32][]uint64{guestPC: {first + 2, first + 8}}}
	fnB := &fakeFunction{address: 0x82000008, hostMap: map[uint32][]uint64{guestPC: {second + 4}}}
	bp := cpu.NewGuestBreakpoint(guestPC, fakeLookup{fnA, fnB})

	require.True(t, b.InstallBreakpoint(bp))
	var patched []uint64
	for _, rec := range bp.BackendData() {
		patched = append(patched, rec.HostAddress)
		assert.Equal(t, x86.TrapSignature[:], codeAt(t, b, rec.HostAddress, 2))
	}
	assert.Equal(t, []uint64{first + 2, first + 8, second + 4}, patched)

	require.True(t, b.UninstallBreakpoint(bp))
	for _, address := range patched {
		assert.Equal(t, []byte{0x90, 0x90}, codeAt(t, b, address, 2))
	}
}

func TestBreakpointInFunction(t *testing.T) {
	b, _ := newTestBackend(t, SysVABI, nil)
	first := placeNops(t, b, 16)
	second := placeNops(t, b, 16)

	const guestPC = 0x82000010
	fnA := &fakeFunction{address: 0x82000000, hostMap: map[uint32][]uint64{guestPC: {first}}}
	fnB := &fakeFunction{address: 0x82000008, hostMap: map[uint32][]uint64{guestPC: {second}}}
	bp := cpu.NewGuestBreakpoint(guestPC, fakeLookup{fnA, fnB})

	require.True(t, b.InstallBreakpointInFunction(bp, fnB))
	assert.Equal(t, []byte{0x90, 0x90}, codeAt(t, b, first, 2))
	assert.Equal(t, x86.TrapSignature[:], codeAt(t, b, second, 2))

	require.True(t, b.UninstallBreakpoint(bp))
	assert.Equal(t, []byte{0x90, 0x90}, codeAt(t, b, second, 2))
}

func TestBreakpointInFunctionRejectsBadTargets(t *testing.T) {
	b, _ := newTestBackend(t, SysVABI, nil)
	code := placeNops(t, b, 16)

	const guestPC = 0x82000010
	fn := &fakeFunction{address: 0x82000000, hostMap: map[uint32][]uint64{guestPC: {code}}}

	host := cpu.NewHostBreakpoint(code)
	assert.Panics(t, func() { b.InstallBreakpointInFunction(host, fn) })

	elsewhere := cpu.NewGuestBreakpoint(guestPC+4, fakeLookup{fn})
	assert.Panics(t, func() { b.InstallBreakpointInFunction(elsewhere, fn) })

	_, owned := b.BreakpointAt(code)
	assert.False(t, owned)
	assert.Equal(t, []byte{0x90, 0x90}, codeAt(t, b, code, 2))
	assert.Empty(t, elsewhere.BackendData())
}

func TestBreakpointBeforeInitialize(t *testing.T) {
	b := New(newFakeRuntime(), DefaultConfig())
	assert.Panics(t, func() { b.InstallBreakpoint(cpu.NewHostBreakpoint(0x1000)) })
}
