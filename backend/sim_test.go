package backend

import (
	"encoding/binary"
	"math/rand"
	"testing"

	"github.com/colorfulnotion/x64backend/codecache"
	"github.com/colorfulnotion/x64backend/cpu"
	"github.com/stretchr/testify/require"
	"golang.org/x/arch/x86/x86asm"
)

// simMachine interprets the handful of instructions thunks are built from, so thunk behaviour
// can be checked for either host ABI on any platform. Addresses in natives run Go code instead.
type simMachine struct {
	t       *testing.T
	gpr     [16]uint64
	xmm     [16][16]byte
	stack   map[uint64]byte
	code    HostMemory
	disasm  *Disassembler
	natives map[uint64]func(m *simMachine)
	depth   int
	steps   int
}

const (
	simStackTop   = 0x7FFF0000
	simReturnBase = 0x5A5A0000
	simMaxSteps   = 100000
)

var (
	simGPR64 = []x86asm.Reg{x86asm.RAX, x86asm.RCX, x86asm.RDX, x86asm.RBX, x86asm.RSP, x86asm.RBP, x86asm.RSI, x86asm.RDI,
		x86asm.R8, x86asm.R9, x86asm.R10, x86asm.R11, x86asm.R12, x86asm.R13, x86asm.R14, x86asm.R15}
	simGPR32 = []x86asm.Reg{x86asm.EAX, x86asm.ECX, x86asm.EDX, x86asm.EBX, x86asm.ESP, x86asm.EBP, x86asm.ESI, x86asm.EDI,
		x86asm.R8L, x86asm.R9L, x86asm.R10L, x86asm.R11L, x86asm.R12L, x86asm.R13L, x86asm.R14L, x86asm.R15L}
	simXMM = []x86asm.Reg{x86asm.X0, x86asm.X1, x86asm.X2, x86asm.X3, x86asm.X4, x86asm.X5, x86asm.X6, x86asm.X7,
		x86asm.X8, x86asm.X9, x86asm.X10, x86asm.X11, x86asm.X12, x86asm.X13, x86asm.X14, x86asm.X15}
)

func indexOfReg(list []x86asm.Reg, r x86asm.Reg) int {
	for i, x := range list {
		if x == r {
			return i
		}
	}
	return -1
}

func newSimMachine(t *testing.T, cache codecache.Cache) *simMachine {
	d := NewDisassembler()
	require.NoError(t, d.Open())
	m := &simMachine{
		t:       t,
		stack:   make(map[uint64]byte),
		code:    cacheMemory{cache: cache},
		disasm:  d,
		natives: make(map[uint64]func(m *simMachine)),
	}
	m.gpr[cpu.RegRSP] = simStackTop
	return m
}

func (m *simMachine) randomize(rng *rand.Rand) {
	for i := range m.gpr {
		if i != cpu.RegRSP {
			m.gpr[i] = rng.Uint64()
		}
	}
	for i := range m.xmm {
		rng.Read(m.xmm[i][:])
	}
}

// clobberVolatile trashes everything abi lets a callee destroy, home area included.
func (m *simMachine) clobberVolatile(rng *rand.Rand, abi *HostABI) {
	saved := make(map[int]bool)
	for _, r := range abi.CalleeSaved {
		saved[r.Index()] = true
	}
	for i := range m.gpr {
		if i != cpu.RegRSP && !saved[i] {
			m.gpr[i] = rng.Uint64()
		}
	}
	savedXMM := make(map[int]bool)
	for _, r := range abi.CalleeSavedXMM {
		savedXMM[r.Index()] = true
	}
	for i := range m.xmm {
		if !savedXMM[i] {
			rng.Read(m.xmm[i][:])
		}
	}
	rsp := m.gpr[cpu.RegRSP]
	for off := uint64(0); off < uint64(abi.ShadowSpace); off++ {
		m.stack[rsp+8+off] = byte(rng.Intn(256))
	}
}

func (m *simMachine) load(address uint64, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		b, ok := m.stack[address+uint64(i)]
		require.True(m.t, ok, "read of unwritten stack byte %#x", address+uint64(i))
		out[i] = b
	}
	return out
}

func (m *simMachine) store(address uint64, b []byte) {
	for i, v := range b {
		m.stack[address+uint64(i)] = v
	}
}

func (m *simMachine) push(v uint64) {
	m.gpr[cpu.RegRSP] -= 8
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	m.store(m.gpr[cpu.RegRSP], buf[:])
}

func (m *simMachine) pop() uint64 {
	v := binary.LittleEndian.Uint64(m.load(m.gpr[cpu.RegRSP], 8))
	m.gpr[cpu.RegRSP] += 8
	return v
}

func (m *simMachine) getReg(r x86asm.Reg) uint64 {
	if i := indexOfReg(simGPR64, r); i >= 0 {
		return m.gpr[i]
	}
	if i := indexOfReg(simGPR32, r); i >= 0 {
		return uint64(uint32(m.gpr[i]))
	}
	m.t.Fatalf("simulator: unsupported register %v", r)
	return 0
}

func (m *simMachine) setReg(r x86asm.Reg, v uint64) {
	if i := indexOfReg(simGPR64, r); i >= 0 {
		m.gpr[i] = v
		return
	}
	if i := indexOfReg(simGPR32, r); i >= 0 {
		m.gpr[i] = uint64(uint32(v))
		return
	}
	m.t.Fatalf("simulator: unsupported register %v", r)
}

func (m *simMachine) effectiveAddress(mem x86asm.Mem) uint64 {
	require.Zero(m.t, mem.Index, "simulator: indexed addressing")
	return m.getReg(mem.Base) + uint64(mem.Disp)
}

// call pushes a return address and runs target until it returns.
func (m *simMachine) call(target uint64) {
	ret := simReturnBase + uint64(m.depth)*0x10
	m.depth++
	m.push(ret)
	m.run(target, ret)
	m.depth--
}

func (m *simMachine) run(rip, stop uint64) {
	for rip != stop {
		m.steps++
		require.Less(m.t, m.steps, simMaxSteps, "simulator: runaway execution")
		if native, ok := m.natives[rip]; ok {
			native(m)
			rip = m.pop()
			continue
		}
		code := m.code.ReadMemory(rip, 16)
		require.NotEmpty(m.t, code, "simulator: no code at %#x", rip)
		ins, err := m.disasm.Decode(rip, code)
		require.NoError(m.t, err)
		rip = m.execute(ins, rip+uint64(ins.Len()))
	}
}

// runStraight executes code that has no control flow.
func (m *simMachine) runStraight(code []byte) {
	list, err := m.disasm.Disassemble(code, 0x1000)
	require.NoError(m.t, err)
	for _, ins := range list {
		next := ins.Address + uint64(ins.Len())
		require.Equal(m.t, next, m.execute(ins, next), "unexpected branch %v", ins)
	}
}

func (m *simMachine) execute(ins *Instruction, next uint64) uint64 {
	args := ins.Inst.Args
	switch ins.Inst.Op {
	case x86asm.SUB, x86asm.ADD:
		dst := args[0].(x86asm.Reg)
		var v uint64
		switch src := args[1].(type) {
		case x86asm.Imm:
			v = uint64(src)
		case x86asm.Reg:
			v = m.getReg(src)
		default:
			m.t.Fatalf("simulator: unsupported %v", ins)
		}
		if ins.Inst.Op == x86asm.SUB {
			m.setReg(dst, m.getReg(dst)-v)
		} else {
			m.setReg(dst, m.getReg(dst)+v)
		}
	case x86asm.MOV:
		switch dst := args[0].(type) {
		case x86asm.Mem:
			var buf [8]byte
			binary.LittleEndian.PutUint64(buf[:], m.getReg(args[1].(x86asm.Reg)))
			m.store(m.effectiveAddress(dst), buf[:])
		case x86asm.Reg:
			switch src := args[1].(type) {
			case x86asm.Reg:
				m.setReg(dst, m.getReg(src))
			case x86asm.Mem:
				m.setReg(dst, binary.LittleEndian.Uint64(m.load(m.effectiveAddress(src), 8)))
			case x86asm.Imm:
				m.setReg(dst, uint64(src))
			default:
				m.t.Fatalf("simulator: unsupported %v", ins)
			}
		}
	case x86asm.MOVUPS:
		if dst, ok := args[0].(x86asm.Mem); ok {
			x := indexOfReg(simXMM, args[1].(x86asm.Reg))
			require.GreaterOrEqual(m.t, x, 0)
			m.store(m.effectiveAddress(dst), m.xmm[x][:])
		} else {
			x := indexOfReg(simXMM, args[0].(x86asm.Reg))
			require.GreaterOrEqual(m.t, x, 0)
			copy(m.xmm[x][:], m.load(m.effectiveAddress(args[1].(x86asm.Mem)), 16))
		}
	case x86asm.CALL:
		m.push(next)
		return m.getReg(args[0].(x86asm.Reg))
	case x86asm.JMP:
		return m.getReg(args[0].(x86asm.Reg))
	case x86asm.RET:
		return m.pop()
	default:
		m.t.Fatalf("simulator: unsupported %v", ins)
	}
	return next
}
