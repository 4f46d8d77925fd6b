package x86

import (
	"encoding/binary"
	"fmt"
)

// Assembler emits x86-64 machine code into a growing buffer.
type Assembler struct {
	buf []byte
}

func NewAssembler(capacity int) *Assembler {
	return &Assembler{buf: make([]byte, 0, capacity)}
}

// Offset is the number of bytes emitted so far.
func (a *Assembler) Offset() int {
	return len(a.buf)
}

// Bytes returns a copy of the emitted code.
func (a *Assembler) Bytes() []byte {
	out := make([]byte, len(a.buf))
	copy(out, a.buf)
	return out
}

func (a *Assembler) emit(b ...byte) {
	a.buf = append(a.buf, b...)
}

func (a *Assembler) emitInt32(v int32) {
	a.buf = binary.LittleEndian.AppendUint32(a.buf, uint32(v))
}

func (a *Assembler) emitUint64(v uint64) {
	a.buf = binary.LittleEndian.AppendUint64(a.buf, v)
}

// rex builds the REX prefix: 0100WRXB
func rex(w bool, reg, rm X86Reg) byte {
	b := byte(X86_REX_BASE)
	if w {
		b |= X86_REX_W
	}
	if reg.REXBit != 0 {
		b |= X86_REX_R
	}
	if rm.REXBit != 0 {
		b |= X86_REX_B
	}
	return b
}

// modRM builds the ModR/M byte: [mod:2][reg:3][rm:3]
func modRM(mod, reg, rm byte) byte {
	return mod<<6 | (reg&7)<<3 | rm&7
}

// emitMemOperand encodes [base+disp] with reg in the ModRM reg field.
// RSP/R12 bases need a SIB byte; RBP/R13 have no mod=00 form and take a zero disp8.
func (a *Assembler) emitMemOperand(reg byte, base X86Reg, disp int32) {
	var mod byte
	switch {
	case disp == 0 && base.RegBits != X86_RBP_REGBITS:
		mod = X86_MOD_INDIRECT
	case disp >= -128 && disp <= 127:
		mod = X86_MOD_INDIRECT_DISP8
	default:
		mod = X86_MOD_INDIRECT_DISP32
	}
	a.emit(modRM(mod, reg, base.RegBits))
	if base.RegBits == X86_RSP_REGBITS {
		a.emit(X86_SIB_NO_INDEX<<3 | X86_RSP_REGBITS)
	}
	switch mod {
	case X86_MOD_INDIRECT_DISP8:
		a.emit(byte(int8(disp)))
	case X86_MOD_INDIRECT_DISP32:
		a.emitInt32(disp)
	}
}

// MovRegReg emits mov dst, src (64-bit).
func (a *Assembler) MovRegReg(dst, src X86Reg) {
	a.emit(rex(true, src, dst), X86_OP_MOV_RM_R, modRM(X86_MOD_REGISTER, src.RegBits, dst.RegBits))
}

// MovRegReg32 emits mov dst32, src32, zero extending into the upper half.
func (a *Assembler) MovRegReg32(dst, src X86Reg) {
	if p := rex(false, src, dst); p != X86_REX_BASE {
		a.emit(p)
	}
	a.emit(X86_OP_MOV_RM_R, modRM(X86_MOD_REGISTER, src.RegBits, dst.RegBits))
}

// MovRegImm64 emits movabs reg, imm64.
func (a *Assembler) MovRegImm64(dst X86Reg, imm uint64) {
	a.emit(rex(true, X86Reg{}, dst), X86_OP_MOV_R_IMM|dst.RegBits)
	a.emitUint64(imm)
}

// MovMemReg64 emits mov [base+disp], src.
func (a *Assembler) MovMemReg64(base X86Reg, disp int32, src X86Reg) {
	a.emit(rex(true, src, base), X86_OP_MOV_RM_R)
	a.emitMemOperand(src.RegBits, base, disp)
}

// MovRegMem64 emits mov dst, [base+disp].
func (a *Assembler) MovRegMem64(dst, base X86Reg, disp int32) {
	a.emit(rex(true, dst, base), X86_OP_MOV_R_RM)
	a.emitMemOperand(dst.RegBits, base, disp)
}

// MovupsMemXmm emits movups [base+disp], xmm.
func (a *Assembler) MovupsMemXmm(base X86Reg, disp int32, xmm X86Reg) {
	if p := rex(false, xmm, base); p != X86_REX_BASE {
		a.emit(p)
	}
	a.emit(X86_PREFIX_0F, X86_OP2_MOVUPS_RM)
	a.emitMemOperand(xmm.RegBits, base, disp)
}

// MovupsXmmMem emits movups xmm, [base+disp].
func (a *Assembler) MovupsXmmMem(xmm, base X86Reg, disp int32) {
	if p := rex(false, xmm, base); p != X86_REX_BASE {
		a.emit(p)
	}
	a.emit(X86_PREFIX_0F, X86_OP2_MOVUPS_R)
	a.emitMemOperand(xmm.RegBits, base, disp)
}

func (a *Assembler) group1Imm(sub byte, reg X86Reg, imm int32) {
	if imm >= -128 && imm <= 127 {
		a.emit(rex(true, X86Reg{}, reg), X86_OP_GROUP1_RM_IMM8, modRM(X86_MOD_REGISTER, sub, reg.RegBits), byte(int8(imm)))
		return
	}
	a.emit(rex(true, X86Reg{}, reg), X86_OP_GROUP1_RM_IMM32, modRM(X86_MOD_REGISTER, sub, reg.RegBits))
	a.emitInt32(imm)
}

// SubRegImm emits sub reg, imm.
func (a *Assembler) SubRegImm(reg X86Reg, imm int32) {
	a.group1Imm(X86_REG_SUB, reg, imm)
}

// AddRegImm emits add reg, imm.
func (a *Assembler) AddRegImm(reg X86Reg, imm int32) {
	a.group1Imm(X86_REG_ADD, reg, imm)
}

// AddRegReg emits add dst, src (64-bit).
func (a *Assembler) AddRegReg(dst, src X86Reg) {
	a.emit(rex(true, src, dst), X86_OP_ADD_RM_R, modRM(X86_MOD_REGISTER, src.RegBits, dst.RegBits))
}

// XorRegReg emits xor dst, src (64-bit).
func (a *Assembler) XorRegReg(dst, src X86Reg) {
	a.emit(rex(true, src, dst), X86_OP_XOR_RM_R, modRM(X86_MOD_REGISTER, src.RegBits, dst.RegBits))
}

func (a *Assembler) group5Reg(sub byte, reg X86Reg) {
	if reg.REXBit != 0 {
		a.emit(X86_REX_BASE | X86_REX_B)
	}
	a.emit(X86_OP_GROUP5_RM, modRM(X86_MOD_REGISTER, sub, reg.RegBits))
}

// CallReg emits call reg.
func (a *Assembler) CallReg(reg X86Reg) {
	a.group5Reg(X86_REG_CALL_RM, reg)
}

// JmpReg emits jmp reg.
func (a *Assembler) JmpReg(reg X86Reg) {
	a.group5Reg(X86_REG_JMP_RM, reg)
}

// JmpMem emits jmp qword [base+disp].
func (a *Assembler) JmpMem(base X86Reg, disp int32) {
	if base.REXBit != 0 {
		a.emit(X86_REX_BASE | X86_REX_B)
	}
	a.emit(X86_OP_GROUP5_RM)
	a.emitMemOperand(X86_REG_JMP_RM, base, disp)
}

// CallRel32 emits call rel32; rel is relative to the end of the instruction.
func (a *Assembler) CallRel32(rel int32) {
	a.emit(X86_OP_CALL_REL32)
	a.emitInt32(rel)
}

// JmpRel32 emits jmp rel32.
func (a *Assembler) JmpRel32(rel int32) {
	a.emit(X86_OP_JMP_REL32)
	a.emitInt32(rel)
}

// JmpRel8 emits jmp rel8.
func (a *Assembler) JmpRel8(rel int8) {
	a.emit(X86_OP_JMP_REL8, byte(rel))
}

// JccRel8 emits a short conditional jump for condition code cc.
func (a *Assembler) JccRel8(cc byte, rel int8) {
	if cc > X86_CC_G {
		panic(fmt.Sprintf("x86: invalid condition code %#x", cc))
	}
	a.emit(X86_OP_JCC_REL8|cc, byte(rel))
}

// JccRel32 emits a near conditional jump for condition code cc.
func (a *Assembler) JccRel32(cc byte, rel int32) {
	if cc > X86_CC_G {
		panic(fmt.Sprintf("x86: invalid condition code %#x", cc))
	}
	a.emit(X86_PREFIX_0F, X86_OP2_JCC_REL32|cc)
	a.emitInt32(rel)
}

func (a *Assembler) Ret() {
	a.emit(X86_OP_RET)
}

func (a *Assembler) Nop() {
	a.emit(X86_OP_NOP)
}

func (a *Assembler) Int3() {
	a.emit(X86_OP_INT3)
}

// Ud2 emits the breakpoint trap signature.
func (a *Assembler) Ud2() {
	a.emit(TrapSignature[:]...)
}
