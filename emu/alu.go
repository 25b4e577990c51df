package emu

import (
	"math/bits"

	"github.com/sarchlab/rv5sim/insts"
)

// ALU implements RV64I/M arithmetic, logic, and shift operations. It is
// stateless: every method is a pure function of its operands so that it
// can be shared by the standalone functional Emulator and the timing
// pipeline's Execute stage without either owning the other's state.
type ALU struct{}

// NewALU creates a new ALU.
func NewALU() *ALU {
	return &ALU{}
}

// Execute computes the result of an integer-register-register,
// integer-register-immediate, or U-type instruction. rs1Val and rs2Val
// are the (already register-file-read) source operands; for immediate
// forms rs2Val should be the instruction's sign-extended immediate. pc
// is needed for AUIPC. Execute does not touch memory, branches, or
// registers — those are the Memory, BranchUnit, and Writeback stages'
// responsibility.
func (a *ALU) Execute(inst *insts.Instruction, rs1Val, rs2Val uint64, pc uint64) uint64 {
	switch inst.Op {
	case insts.OpLUI:
		return uint64(inst.Imm)
	case insts.OpAUIPC:
		return pc + uint64(inst.Imm)

	case insts.OpADDI, insts.OpADD:
		return rs1Val + rs2Val
	case insts.OpSUB:
		return rs1Val - rs2Val
	case insts.OpSLTI, insts.OpSLT:
		if int64(rs1Val) < int64(rs2Val) {
			return 1
		}
		return 0
	case insts.OpSLTIU, insts.OpSLTU:
		if rs1Val < rs2Val {
			return 1
		}
		return 0
	case insts.OpXORI, insts.OpXOR:
		return rs1Val ^ rs2Val
	case insts.OpORI, insts.OpOR:
		return rs1Val | rs2Val
	case insts.OpANDI, insts.OpAND:
		return rs1Val & rs2Val
	case insts.OpSLLI, insts.OpSLL:
		return rs1Val << (rs2Val & 0x3F)
	case insts.OpSRLI, insts.OpSRL:
		return rs1Val >> (rs2Val & 0x3F)
	case insts.OpSRAI, insts.OpSRA:
		return uint64(int64(rs1Val) >> (rs2Val & 0x3F))

	case insts.OpADDIW, insts.OpADDW:
		return signExtend32(uint32(rs1Val) + uint32(rs2Val))
	case insts.OpSUBW:
		return signExtend32(uint32(rs1Val) - uint32(rs2Val))
	case insts.OpSLLIW, insts.OpSLLW:
		return signExtend32(uint32(rs1Val) << (uint32(rs2Val) & 0x1F))
	case insts.OpSRLIW, insts.OpSRLW:
		return signExtend32(uint32(rs1Val) >> (uint32(rs2Val) & 0x1F))
	case insts.OpSRAIW, insts.OpSRAW:
		return uint64(int64(int32(rs1Val) >> (uint32(rs2Val) & 0x1F)))

	case insts.OpMUL, insts.OpMULW:
		result := rs1Val * rs2Val
		if inst.Is32BitOp {
			return signExtend32(uint32(result))
		}
		return result
	case insts.OpMULH:
		return uint64(mulHigh(int64(rs1Val), int64(rs2Val)))
	case insts.OpMULHSU:
		return uint64(mulHighSU(int64(rs1Val), rs2Val))
	case insts.OpMULHU:
		return mulHighU(rs1Val, rs2Val)

	case insts.OpDIV, insts.OpDIVW:
		return a.divSigned(inst, rs1Val, rs2Val)
	case insts.OpDIVU, insts.OpDIVUW:
		return a.divUnsigned(inst, rs1Val, rs2Val)
	case insts.OpREM, insts.OpREMW:
		return a.remSigned(inst, rs1Val, rs2Val)
	case insts.OpREMU, insts.OpREMUW:
		return a.remUnsigned(inst, rs1Val, rs2Val)
	}
	return 0
}

// divSigned implements RISC-V signed division, including the two
// mandated special cases that diverge from Go's native semantics:
// division by zero yields -1 (not a panic), and signed overflow
// (MinInt / -1) yields the dividend back.
func (a *ALU) divSigned(inst *insts.Instruction, rs1Val, rs2Val uint64) uint64 {
	if inst.Is32BitOp {
		n, d := int32(rs1Val), int32(rs2Val)
		if d == 0 {
			return ^uint64(0)
		}
		if n == -1<<31 && d == -1 {
			return signExtend32(uint32(n))
		}
		return signExtend32(uint32(n / d))
	}
	n, d := int64(rs1Val), int64(rs2Val)
	if d == 0 {
		return ^uint64(0)
	}
	if n == -1<<63 && d == -1 {
		return uint64(n)
	}
	return uint64(n / d)
}

// divUnsigned implements RISC-V unsigned division: division by zero
// yields all-ones (UINT_MAX), not a panic.
func (a *ALU) divUnsigned(inst *insts.Instruction, rs1Val, rs2Val uint64) uint64 {
	if inst.Is32BitOp {
		n, d := uint32(rs1Val), uint32(rs2Val)
		if d == 0 {
			return signExtend32(^uint32(0))
		}
		return signExtend32(n / d)
	}
	if rs2Val == 0 {
		return ^uint64(0)
	}
	return rs1Val / rs2Val
}

// remSigned implements RISC-V signed remainder: remainder by zero
// returns the dividend; MinInt % -1 returns 0.
func (a *ALU) remSigned(inst *insts.Instruction, rs1Val, rs2Val uint64) uint64 {
	if inst.Is32BitOp {
		n, d := int32(rs1Val), int32(rs2Val)
		if d == 0 {
			return signExtend32(uint32(n))
		}
		if n == -1<<31 && d == -1 {
			return 0
		}
		return signExtend32(uint32(n % d))
	}
	n, d := int64(rs1Val), int64(rs2Val)
	if d == 0 {
		return uint64(n)
	}
	if n == -1<<63 && d == -1 {
		return 0
	}
	return uint64(n % d)
}

// remUnsigned implements RISC-V unsigned remainder: remainder by zero
// returns the dividend.
func (a *ALU) remUnsigned(inst *insts.Instruction, rs1Val, rs2Val uint64) uint64 {
	if inst.Is32BitOp {
		n, d := uint32(rs1Val), uint32(rs2Val)
		if d == 0 {
			return signExtend32(n)
		}
		return signExtend32(n % d)
	}
	if rs2Val == 0 {
		return rs1Val
	}
	return rs1Val % rs2Val
}

func signExtend32(v uint32) uint64 {
	return uint64(int64(int32(v)))
}

func mulHigh(a, b int64) int64 {
	hi, _ := bitsMulSigned(a, b)
	return hi
}

func mulHighSU(a int64, b uint64) int64 {
	neg := a < 0
	ua := uint64(a)
	if neg {
		ua = uint64(-a)
	}
	hi, lo := bitsMulUnsigned(ua, b)
	if !neg {
		return int64(hi)
	}
	// Negate the 128-bit product (hi:lo) and return the high word.
	lo = ^lo + 1
	hi = ^hi
	if lo == 0 {
		hi++
	}
	return int64(hi)
}

func mulHighU(a, b uint64) uint64 {
	hi, _ := bitsMulUnsigned(a, b)
	return hi
}

// bitsMulUnsigned computes the full 128-bit product of two uint64
// operands, returning (high, low).
func bitsMulUnsigned(a, b uint64) (hi, lo uint64) {
	return bits.Mul64(a, b)
}

func bitsMulSigned(a, b int64) (hi, lo int64) {
	neg := (a < 0) != (b < 0)
	ua, ub := uint64(a), uint64(b)
	if a < 0 {
		ua = uint64(-a)
	}
	if b < 0 {
		ub = uint64(-b)
	}
	uhi, ulo := bitsMulUnsigned(ua, ub)
	if !neg {
		return int64(uhi), int64(ulo)
	}
	ulo = ^ulo + 1
	uhi = ^uhi
	if ulo == 0 {
		uhi++
	}
	return int64(uhi), int64(ulo)
}
