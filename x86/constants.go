package x86

// REX Prefix Constants
const (
	X86_REX_BASE = 0x40 // Base value for REX prefix
	X86_REX_W    = 0x08 // REX.W - 64-bit operand size
	X86_REX_R    = 0x04 // REX.R - Extension of ModRM reg field
	X86_REX_X    = 0x02 // REX.X - Extension of SIB index field
	X86_REX_B    = 0x01 // REX.B - Extension of ModRM r/m, SIB base, or opcode reg field
)

// ModRM Mode Constants
const (
	X86_MOD_INDIRECT        = 0x00 // [reg] or [disp32]
	X86_MOD_INDIRECT_DISP8  = 0x01 // [reg + disp8]
	X86_MOD_INDIRECT_DISP32 = 0x02 // [reg + disp32]
	X86_MOD_REGISTER        = 0x03 // reg
)

// Primary Opcodes
const (
	X86_OP_ADD_RM_R        = 0x01 // ADD r/m, r
	X86_OP_XOR_RM_R        = 0x31 // XOR r/m, r
	X86_OP_GROUP1_RM_IMM32 = 0x81 // Group 1 operations with imm32
	X86_OP_GROUP1_RM_IMM8  = 0x83 // Group 1 operations with imm8
	X86_OP_MOV_RM_R        = 0x89 // MOV r/m, r
	X86_OP_MOV_R_RM        = 0x8B // MOV r, r/m
	X86_OP_NOP             = 0x90 // NOP
	X86_OP_MOV_R_IMM       = 0xB8 // MOV r, imm64 (+ reg)
	X86_OP_RET             = 0xC3 // RET
	X86_OP_INT3            = 0xCC // INT3
	X86_OP_CALL_REL32      = 0xE8 // CALL rel32
	X86_OP_JMP_REL32       = 0xE9 // JMP rel32
	X86_OP_JMP_REL8        = 0xEB // JMP rel8
	X86_OP_GROUP5_RM       = 0xFF // Group 5 operations (INC, DEC, CALL, JMP, PUSH)
)

// Two-byte Opcodes (0x0F prefix)
const (
	X86_PREFIX_0F     = 0x0F
	X86_OP2_UD2       = 0x0B // UD2
	X86_OP2_MOVUPS_R  = 0x10 // MOVUPS xmm, xmm/m128
	X86_OP2_MOVUPS_RM = 0x11 // MOVUPS xmm/m128, xmm
	X86_OP2_JCC_REL32 = 0x80 // Jcc rel32 (+ condition)
	X86_OP_JCC_REL8   = 0x70 // Jcc rel8 (+ condition)
)

// Condition codes, added to the Jcc/SETcc/CMOVcc base opcodes.
const (
	X86_CC_O  = 0x0
	X86_CC_NO = 0x1
	X86_CC_B  = 0x2
	X86_CC_AE = 0x3
	X86_CC_E  = 0x4
	X86_CC_NE = 0x5
	X86_CC_BE = 0x6
	X86_CC_A  = 0x7
	X86_CC_S  = 0x8
	X86_CC_NS = 0x9
	X86_CC_P  = 0xA
	X86_CC_NP = 0xB
	X86_CC_L  = 0xC
	X86_CC_GE = 0xD
	X86_CC_LE = 0xE
	X86_CC_G  = 0xF
)

// Group 1 reg field constants (for 0x81/0x83 opcodes)
const (
	X86_REG_ADD = 0
	X86_REG_SUB = 5
)

// Group 5 reg field constants (for 0xFF opcode)
const (
	X86_REG_CALL_RM = 2 // CALL r/m
	X86_REG_JMP_RM  = 4 // JMP r/m
)

// SIB constants
const (
	X86_SIB_NO_INDEX = 0x04 // No index register (RSP encoding)
	X86_RSP_REGBITS  = 0x04 // rm=4 means a SIB byte follows
	X86_RBP_REGBITS  = 0x05 // mod=00 rm=5 means RIP relative
)

// TrapSignature is ud2, reserved for breakpoints. Generated code must never contain it otherwise.
var TrapSignature = [2]byte{X86_PREFIX_0F, X86_OP2_UD2}
