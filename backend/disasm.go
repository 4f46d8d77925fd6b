package backend

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/arch/x86/x86asm"
)

// MaxInstructionWindow is how many bytes are read to decode one instruction.
const MaxInstructionWindow = 64

const decodeCacheLimit = 4096

// Instruction is one decoded host instruction.
type Instruction struct {
	Address uint64
	Bytes   []byte
	Inst    x86asm.Inst
}

func (i *Instruction) Len() int { return i.Inst.Len }

func (i *Instruction) Mnemonic() string {
	return strings.ToLower(i.Inst.Op.String())
}

// OpStr is the operand text in Intel syntax.
func (i *Instruction) OpStr() string {
	text := x86asm.IntelSyntax(i.Inst, i.Address, nil)
	if idx := strings.IndexByte(text, ' '); idx >= 0 {
		return strings.TrimSpace(text[idx+1:])
	}
	return ""
}

func (i *Instruction) String() string {
	return fmt.Sprintf("0x%x: %-24x %s", i.Address, i.Bytes, x86asm.IntelSyntax(i.Inst, i.Address, nil))
}

// Disassembler decodes 64-bit x86 code. Decodes are cached by address and checked against the
// current bytes, so patched code is decoded again.
type Disassembler struct {
	mu    sync.RWMutex
	open  bool
	cache map[uint64]*Instruction
}

func NewDisassembler() *Disassembler {
	return &Disassembler{}
}

// Open checks the decoder handles long mode before anything relies on it.
func (d *Disassembler) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	probe := []byte{0x48, 0x89, 0xC8, 0xC3} // mov rax, rcx; ret
	inst, err := x86asm.Decode(probe, 64)
	if err != nil {
		return errors.Wrap(err, "x86asm.Decode() failed")
	}
	if inst.Op != x86asm.MOV || inst.Len != 3 {
		return errors.Errorf("x86asm decoded probe as %v/%d", inst.Op, inst.Len)
	}
	d.open = true
	d.cache = make(map[uint64]*Instruction)
	return nil
}

func (d *Disassembler) Close() {
	d.mu.Lock()
	d.open = false
	d.cache = nil
	d.mu.Unlock()
}

func (d *Disassembler) IsOpen() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.open
}

// Decode decodes the instruction at the start of code, which was read from address.
func (d *Disassembler) Decode(address uint64, code []byte) (*Instruction, error) {
	d.mu.RLock()
	if !d.open {
		d.mu.RUnlock()
		return nil, ErrDisassemblerClosed
	}
	if ins, ok := d.cache[address]; ok && len(code) >= len(ins.Bytes) && bytes.Equal(ins.Bytes, code[:len(ins.Bytes)]) {
		d.mu.RUnlock()
		return ins, nil
	}
	d.mu.RUnlock()

	inst, err := x86asm.Decode(code, 64)
	// x86asm reports some truncated and invalid encodings as a one byte Op 0 with no error
	if err != nil || inst.Op == 0 || inst.Len == 0 {
		msg := fmt.Sprintf("% x at %#x", code[:min(len(code), 16)], address)
		if err != nil {
			msg += ": " + err.Error()
		}
		return nil, errors.Wrap(ErrUndecodable, msg)
	}
	ins := &Instruction{
		Address: address,
		Bytes:   append([]byte(nil), code[:inst.Len]...),
		Inst:    inst,
	}

	d.mu.Lock()
	if d.open {
		if len(d.cache) >= decodeCacheLimit {
			d.cache = make(map[uint64]*Instruction)
		}
		d.cache[address] = ins
	}
	d.mu.Unlock()
	return ins, nil
}

// Disassemble decodes code linearly, as if loaded at base.
func (d *Disassembler) Disassemble(code []byte, base uint64) ([]*Instruction, error) {
	var out []*Instruction
	for off := 0; off < len(code); {
		ins, err := d.Decode(base+uint64(off), code[off:])
		if err != nil {
			return out, err
		}
		out = append(out, ins)
		off += ins.Len()
	}
	return out, nil
}
