// x64dump inspects the x64 backend: generated thunks, the machine description handed to the
// translator, and single-instruction stepping over a synthetic thread state.
package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/colorfulnotion/x64backend/backend"
	"github.com/colorfulnotion/x64backend/codecache"
	"github.com/colorfulnotion/x64backend/cpu"
	log "github.com/colorfulnotion/x64backend/log"
	"github.com/klauspost/cpuid/v2"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/xlab/treeprint"
)

var (
	Version = "dev"
	Commit  = "none"
)

// placeholder resolver address for inspection backends; nothing ever calls it
const inspectResolver = 0x7FFF0000

func main() {
	var rootCmd = &cobra.Command{
		Use:     "x64dump",
		Short:   "Inspect the x64 backend",
		Version: fmt.Sprintf("%s (%s)", Version, Commit),
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	var (
		logLevel string
		debug    string
		abiName  string
		strict   bool
	)
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&debug, "debug", "", "Debug modules to enable (comma separated, or all)")
	rootCmd.PersistentFlags().StringVar(&abiName, "abi", "", "Host ABI (sysv, win64); defaults to the running platform")
	rootCmd.PersistentFlags().BoolVar(&strict, "strict", false, "Panic on unsupported instruction forms")
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if err := log.InitLogger(logLevel); err != nil {
			return errors.Wrap(err, "--log-level")
		}
		log.EnableModules(debug)
		return nil
	}

	var thunksCmd = &cobra.Command{
		Use:   "thunks",
		Short: "Disassemble the generated thunks",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := newInspectBackend(abiName, strict, nil)
			if err != nil {
				return err
			}
			defer b.Close()
			return printThunks(cmd, b)
		},
	}

	var infoCmd = &cobra.Command{
		Use:   "info",
		Short: "Print the machine description and thunk frame layout",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := newInspectBackend(abiName, strict, nil)
			if err != nil {
				return err
			}
			defer b.Close()
			fmt.Fprint(cmd.OutOrStdout(), machineTree(b, abiName).String())
			return nil
		},
	}

	var (
		code   string
		pc     string
		eflags string
		regs   []string
		mem    []string
	)
	var stepCmd = &cobra.Command{
		Use:   "step",
		Short: "Compute the next host instruction for a synthetic thread",
		Example: "  x64dump step --code 0f84fa0f0000 --pc 0x1000 --eflags 0x40\n" +
			"  x64dump step --code c3 --pc 0x3000 --reg rsp=0x7000 --mem 0x7000=0040000000000000",
		RunE: func(cmd *cobra.Command, args []string) error {
			memory, err := parseMemory(mem)
			if err != nil {
				return err
			}
			start, err := parseUint(pc)
			if err != nil {
				return errors.Wrap(err, "--pc")
			}
			bytes, err := hex.DecodeString(strings.ReplaceAll(code, " ", ""))
			if err != nil {
				return errors.Wrap(err, "--code")
			}
			memory.put(start, bytes)

			info := &cpu.ThreadDebugInfo{ThreadID: 1}
			info.HostContext.RIP = start
			if info.HostContext.EFLAGS, err = parseUint(eflags); err != nil {
				return errors.Wrap(err, "--eflags")
			}
			if err := parseRegisters(regs, &info.HostContext); err != nil {
				return err
			}

			b, err := newInspectBackend(abiName, strict, memory)
			if err != nil {
				return err
			}
			defer b.Close()

			ins, err := b.Disassembler().Decode(start, bytes)
			if err != nil {
				return err
			}
			next, err := b.CalculateNextHostInstruction(info, start)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\nnext: %#x\n", ins, next)
			return nil
		},
	}
	stepCmd.Flags().StringVar(&code, "code", "", "Instruction bytes in hex")
	stepCmd.Flags().StringVar(&pc, "pc", "0x1000", "Address of the instruction")
	stepCmd.Flags().StringVar(&eflags, "eflags", "0", "EFLAGS value")
	stepCmd.Flags().StringArrayVar(&regs, "reg", nil, "Register value, e.g. rax=0x5000 (repeatable)")
	stepCmd.Flags().StringArrayVar(&mem, "mem", nil, "Memory contents, e.g. 0x7000=0040000000000000 (repeatable)")
	stepCmd.MarkFlagRequired("code")

	rootCmd.AddCommand(thunksCmd, infoCmd, stepCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func abiByName(name string) (*backend.HostABI, error) {
	switch strings.ToLower(name) {
	case "":
		return backend.DefaultHostABI(), nil
	case "sysv":
		return backend.SysVABI, nil
	case "win64", "windows":
		return backend.Win64ABI, nil
	}
	return nil, errors.Errorf("unknown abi %q", name)
}

// newInspectBackend brings up a backend over an in-memory code cache: thunks are generated and
// listed but never run.
func newInspectBackend(abiName string, strict bool, memory backend.HostMemory) (*backend.Backend, error) {
	abi, err := abiByName(abiName)
	if err != nil {
		return nil, err
	}
	cacheCfg := codecache.DefaultConfig()
	cacheCfg.CodeSize = 64 * 1024
	cfg := backend.DefaultConfig()
	cfg.ABI = abi
	cfg.CodeCache = codecache.NewMemory(cacheCfg)
	cfg.ResolverAddress = inspectResolver
	cfg.StrictAssertions = strict
	if memory != nil {
		cfg.Memory = memory
	}
	b := backend.New(nopRuntime{}, cfg)
	if err := b.Initialize(); err != nil {
		b.Close()
		return nil, err
	}
	return b, nil
}

func printThunks(cmd *cobra.Command, b *backend.Backend) error {
	out := cmd.OutOrStdout()
	for _, th := range []struct {
		name    string
		address uint64
	}{
		{"host_to_guest", b.HostToGuestThunk()},
		{"guest_to_host", b.GuestToHostThunk()},
		{"resolve_function", b.ResolveFunctionThunk()},
	} {
		fmt.Fprintf(out, "%s @ %#x\n", th.name, th.address)
		for pc := th.address; ; {
			view, err := b.CodeCache().View(pc, 1)
			if err != nil {
				return err
			}
			window := view
			for n := backend.MaxInstructionWindow; n > 1; n-- {
				if w, err := b.CodeCache().View(pc, n); err == nil {
					window = w
					break
				}
			}
			ins, err := b.Disassembler().Decode(pc, window)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "  %s\n", ins)
			if m := ins.Mnemonic(); m == "ret" || m == "jmp" {
				break
			}
			pc += uint64(ins.Len())
		}
		fmt.Fprintln(out)
	}
	return nil
}

func machineTree(b *backend.Backend, abiName string) treeprint.Tree {
	tree := treeprint.New()
	host := tree.AddBranch("host")
	host.AddMetaNode("brand", cpuid.CPU.BrandName)
	host.AddMetaNode("vendor", cpuid.CPU.VendorString)
	features := host.AddBranch("features")
	for _, f := range []struct {
		name string
		id   cpuid.FeatureID
	}{
		{"sse4.2", cpuid.SSE42}, {"avx", cpuid.AVX}, {"avx2", cpuid.AVX2},
		{"bmi1", cpuid.BMI1}, {"bmi2", cpuid.BMI2}, {"lzcnt", cpuid.LZCNT}, {"movbe", cpuid.MOVBE},
	} {
		features.AddMetaNode(f.name, cpuid.CPU.Supports(f.id))
	}

	info := b.MachineInfo()
	machine := tree.AddBranch("machine")
	machine.AddMetaNode("extended_load_store", info.SupportsExtendedLoadStore)
	for _, rs := range info.RegisterSets {
		set := machine.AddMetaBranch(rs.ID, rs.Name)
		set.AddMetaNode("types", rs.Types.String())
		set.AddMetaNode("count", rs.Count)
	}

	abi, _ := abiByName(abiName)
	layout := b.StackLayout()
	frame := tree.AddMetaBranch(abi.Name, "thunk frame")
	frame.AddMetaNode("size", layout.FrameSize)
	for _, s := range layout.GPRSlots {
		frame.AddMetaNode(fmt.Sprintf("+%d", s.Offset), s.Reg.Name)
	}
	for _, s := range layout.XMMSlots {
		frame.AddMetaNode(fmt.Sprintf("+%d", s.Offset), s.Reg.Name)
	}
	return tree
}

var registerIndex = map[string]int{
	"rax": cpu.RegRAX, "rcx": cpu.RegRCX, "rdx": cpu.RegRDX, "rbx": cpu.RegRBX,
	"rsp": cpu.RegRSP, "rbp": cpu.RegRBP, "rsi": cpu.RegRSI, "rdi": cpu.RegRDI,
	"r8": cpu.RegR8, "r9": cpu.RegR9, "r10": cpu.RegR10, "r11": cpu.RegR11,
	"r12": cpu.RegR12, "r13": cpu.RegR13, "r14": cpu.RegR14, "r15": cpu.RegR15,
}

func parseUint(s string) (uint64, error) {
	return strconv.ParseUint(strings.TrimSpace(s), 0, 64)
}

func parseRegisters(pairs []string, ctx *cpu.HostContext) error {
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			return errors.Errorf("register %q: want name=value", pair)
		}
		idx, ok := registerIndex[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return errors.Errorf("unknown register %q", name)
		}
		v, err := parseUint(value)
		if err != nil {
			return errors.Wrapf(err, "register %s", name)
		}
		ctx.GPR[idx] = v
	}
	return nil
}

func parseMemory(pairs []string) (*sparseMemory, error) {
	m := &sparseMemory{}
	for _, pair := range pairs {
		addr, data, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, errors.Errorf("memory %q: want address=hexbytes", pair)
		}
		a, err := parseUint(addr)
		if err != nil {
			return nil, errors.Wrapf(err, "memory address %q", addr)
		}
		b, err := hex.DecodeString(data)
		if err != nil {
			return nil, errors.Wrapf(err, "memory bytes at %s", addr)
		}
		m.put(a, b)
	}
	return m, nil
}

type region struct {
	base uint64
	data []byte
}

// sparseMemory stands in for the address space of the thread being stepped.
type sparseMemory struct {
	regions []region
}

func (m *sparseMemory) put(base uint64, data []byte) {
	m.regions = append(m.regions, region{base: base, data: data})
	sort.Slice(m.regions, func(i, j int) bool { return m.regions[i].base < m.regions[j].base })
}

func (m *sparseMemory) ReadMemory(address uint64, n int) []byte {
	for _, r := range m.regions {
		if address >= r.base && address < r.base+uint64(len(r.data)) {
			off := address - r.base
			end := off + uint64(n)
			if end > uint64(len(r.data)) {
				end = uint64(len(r.data))
			}
			return append([]byte(nil), r.data[off:end]...)
		}
	}
	return nil
}

type nopRuntime struct{}

func (nopRuntime) ResolveFunction(uint64, uint32) uint64 { return 0 }

func (nopRuntime) OnThreadBreakpointHit(ex *cpu.Exception) bool {
	log.Warn(log.BreakpointMonitor, "breakpoint hit with no runtime attached", "pc", fmt.Sprintf("%#x", ex.PC))
	return false
}
