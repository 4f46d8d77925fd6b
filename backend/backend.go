// Package backend is the x86-64 host backend: it bridges translated guest code and host code through
// generated thunks, patches breakpoints into generated code, turns breakpoint traps into runtime
// events and resolves where a stopped thread goes next.
package backend

import (
	"fmt"
	"sync"

	"github.com/colorfulnotion/x64backend/codecache"
	"github.com/colorfulnotion/x64backend/cpu"
	"github.com/colorfulnotion/x64backend/log"
	"github.com/colorfulnotion/x64backend/x86"
	"github.com/klauspost/cpuid/v2"
	"github.com/pkg/errors"
)

const (
	// special indirection range committed at startup so the default indirection has a home
	specialIndirectionLow  uint32 = 0x9FFF0000
	specialIndirectionHigh uint32 = 0x9FFFFFFF
)

var (
	ErrDisassemblerOpen   = errors.New("backend: disassembler failed to open")
	ErrDisassemblerClosed = errors.New("backend: disassembler is closed")
	ErrUndecodable        = errors.New("backend: undecodable instruction bytes")
	ErrCodeCacheInit      = errors.New("backend: code cache failed to initialize")
	ErrNotInitialized     = errors.New("backend: not initialized")
	ErrNativeUnsupported  = errors.New("backend: native execution not supported here")
)

var newResolverCallback = nativeResolverCallback

type Config struct {
	// EnableHaswellInstructions allows MOVBE and friends when the host has them.
	EnableHaswellInstructions bool
	ABI                       *HostABI
	// CodeCache defaults to codecache.New with its default configuration.
	CodeCache codecache.Cache
	// Memory is consulted for host memory outside the code cache; defaults to RawMemory.
	Memory HostMemory
	// ResolverAddress is the native entry of the function resolver. Zero means create a
	// native callback into Runtime.ResolveFunction.
	ResolverAddress uint64
	// StrictAssertions turns documented fallbacks into panics.
	StrictAssertions bool
}

func DefaultConfig() Config {
	return Config{
		EnableHaswellInstructions: true,
		ABI:                       DefaultHostABI(),
	}
}

type Backend struct {
	cfg     Config
	runtime cpu.Runtime

	machineInfo cpu.MachineInfo
	codeCache   codecache.Cache
	disasm      *Disassembler
	memory      HostMemory
	stepper     *InstructionStepper
	emitterData *EmitterData

	hostToGuestThunk     uint64
	guestToHostThunk     uint64
	resolveFunctionThunk uint64
	stackLayout          StackLayout

	resolverCallback uint64
	exceptionHandler *cpu.HandlerRegistration

	patchMu   sync.Mutex
	patches   map[uint64]*cpu.Breakpoint
	installed map[*cpu.Breakpoint]struct{}

	initialized bool
}

func New(rt cpu.Runtime, cfg Config) *Backend {
	if cfg.ABI == nil {
		cfg.ABI = DefaultHostABI()
	}
	return &Backend{
		cfg:       cfg,
		runtime:   rt,
		disasm:    NewDisassembler(),
		patches:   make(map[uint64]*cpu.Breakpoint),
		installed: make(map[*cpu.Breakpoint]struct{}),
	}
}

// Initialize brings the backend up. On error the caller must Close and abandon the backend.
func (b *Backend) Initialize() error {
	if b.initialized {
		return nil
	}
	if err := b.disasm.Open(); err != nil {
		return errors.Wrap(ErrDisassemblerOpen, err.Error())
	}

	b.machineInfo = buildMachineInfo(b.cfg.EnableHaswellInstructions && cpuid.CPU.Supports(cpuid.MOVBE))
	log.Info(log.BackendMonitoring, "host cpu", "brand", cpuid.CPU.BrandName,
		"avx2", cpuid.CPU.Supports(cpuid.AVX2), "bmi2", cpuid.CPU.Supports(cpuid.BMI2),
		"extendedLoadStore", b.machineInfo.SupportsExtendedLoadStore)

	b.codeCache = b.cfg.CodeCache
	if b.codeCache == nil {
		b.codeCache = codecache.New(codecache.DefaultConfig())
	}
	if err := b.codeCache.Initialize(); err != nil {
		return errors.Wrap(ErrCodeCacheInit, err.Error())
	}
	if err := b.codeCache.CommitExecutableRange(specialIndirectionLow, specialIndirectionHigh); err != nil {
		return errors.Wrap(ErrCodeCacheInit, err.Error())
	}

	fallback := b.cfg.Memory
	if fallback == nil {
		fallback = RawMemory{}
	}
	b.memory = cacheMemory{cache: b.codeCache, fallback: fallback}
	b.stepper = NewInstructionStepper(b.disasm, b.memory, b.cfg.StrictAssertions)

	// a failed earlier attempt may have left these behind
	if err := b.emitterData.Free(); err != nil {
		return err
	}
	data, err := newEmitterData()
	if err != nil {
		return err
	}
	b.emitterData = data

	resolver := b.cfg.ResolverAddress
	if resolver == 0 {
		// native callbacks are never released; one per backend
		if b.resolverCallback == 0 {
			if b.resolverCallback, err = newResolverCallback(b.runtime); err != nil {
				return errors.Wrap(err, "create resolver callback")
			}
		}
		resolver = b.resolverCallback
	}
	b.emitThunks(resolver)

	b.installExceptionDispatcher()
	b.initialized = true
	log.Info(log.BackendMonitoring, "x64 backend initialized", "abi", b.cfg.ABI.Name,
		"hostToGuest", fmt.Sprintf("%#x", b.hostToGuestThunk),
		"guestToHost", fmt.Sprintf("%#x", b.guestToHostThunk),
		"resolveFunction", fmt.Sprintf("%#x", b.resolveFunctionThunk))
	return nil
}

func buildMachineInfo(extendedLoadStore bool) cpu.MachineInfo {
	return cpu.MachineInfo{
		SupportsExtendedLoadStore: extendedLoadStore,
		RegisterSets: []cpu.RegisterSet{
			{ID: 0, Name: "gpr", Types: cpu.IntTypes, Count: x86.GprCount},
			{ID: 1, Name: "xmm", Types: cpu.FloatTypes | cpu.VecTypes, Count: x86.XmmCount},
		},
	}
}

// emitThunks generates and places the three thunks. Failures here mean a broken build.
func (b *Backend) emitThunks(resolver uint64) {
	emitter := NewThunkEmitter(b.cfg.ABI)
	b.stackLayout = emitter.Layout()

	place := func(name string, code []byte) uint64 {
		addr, err := b.codeCache.PlaceCode(code)
		if err != nil {
			fatalf("place %s thunk: %v", name, err)
		}
		return addr
	}
	b.hostToGuestThunk = place("host to guest", emitter.EmitHostToGuestThunk())
	b.guestToHostThunk = place("guest to host", emitter.EmitGuestToHostThunk())
	b.resolveFunctionThunk = place("resolve function", emitter.EmitResolveFunctionThunk(resolver))

	// indirection slots are 32 bits wide
	if b.resolveFunctionThunk&0xFFFFFFFF00000000 != 0 {
		fatalf("resolve function thunk at %#x does not fit an indirection slot", b.resolveFunctionThunk)
	}
	b.codeCache.SetIndirectionDefault(uint32(b.resolveFunctionThunk))
}

// CommitExecutableRange makes guest addresses [guestLow, guestHigh] callable through indirections.
func (b *Backend) CommitExecutableRange(guestLow, guestHigh uint32) error {
	if b.codeCache == nil {
		return ErrNotInitialized
	}
	return b.codeCache.CommitExecutableRange(guestLow, guestHigh)
}

// Close tears the backend down. It tolerates a partial Initialize and repeated calls.
func (b *Backend) Close() error {
	var firstErr error
	if err := b.emitterData.Free(); err != nil {
		firstErr = err
	}
	b.emitterData = nil
	if b.exceptionHandler != nil {
		b.uninstallExceptionDispatcher()
	}
	b.disasm.Close()
	b.stepper = nil
	if b.codeCache != nil {
		if err := b.codeCache.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		b.codeCache = nil
	}
	b.initialized = false
	log.Debug(log.BackendMonitoring, "x64 backend closed")
	return firstErr
}

// MachineInfo returns the capability description; valid after Initialize.
func (b *Backend) MachineInfo() cpu.MachineInfo {
	return b.machineInfo.Clone()
}

func (b *Backend) HostToGuestThunk() uint64     { return b.hostToGuestThunk }
func (b *Backend) GuestToHostThunk() uint64     { return b.guestToHostThunk }
func (b *Backend) ResolveFunctionThunk() uint64 { return b.resolveFunctionThunk }
func (b *Backend) StackLayout() StackLayout     { return b.stackLayout }
func (b *Backend) CodeCache() codecache.Cache   { return b.codeCache }
func (b *Backend) EmitterData() *EmitterData    { return b.emitterData }
func (b *Backend) Disassembler() *Disassembler  { return b.disasm }

// CalculateNextHostInstruction returns the host address the thread in info reaches after
// executing the instruction at pc.
func (b *Backend) CalculateNextHostInstruction(info *cpu.ThreadDebugInfo, pc uint64) (uint64, error) {
	if b.stepper == nil {
		return 0, ErrNotInitialized
	}
	next, err := b.stepper.Next(info, pc)
	if err != nil {
		return 0, err
	}
	log.Debug(log.StepMonitoring, "next host instruction", "pc", fmt.Sprintf("%#x", pc), "next", fmt.Sprintf("%#x", next))
	return next, nil
}
