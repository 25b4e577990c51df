package emu

import "github.com/sarchlab/rv5sim/insts"

// BranchUnit implements RISC-V control-flow instructions: the six
// register-compare conditional branches, JAL, and JALR. Unlike the
// condition-code branches this package's ARM64-flavored predecessor
// modeled, RISC-V branches compare two register operands directly —
// there is no flags register to consult.
type BranchUnit struct{}

// NewBranchUnit creates a new BranchUnit.
func NewBranchUnit() *BranchUnit {
	return &BranchUnit{}
}

// Taken evaluates a BRANCH-format instruction's condition against its two
// operands.
func (b *BranchUnit) Taken(inst *insts.Instruction, rs1Val, rs2Val uint64) bool {
	switch inst.Op {
	case insts.OpBEQ:
		return rs1Val == rs2Val
	case insts.OpBNE:
		return rs1Val != rs2Val
	case insts.OpBLT:
		return int64(rs1Val) < int64(rs2Val)
	case insts.OpBGE:
		return int64(rs1Val) >= int64(rs2Val)
	case insts.OpBLTU:
		return rs1Val < rs2Val
	case insts.OpBGEU:
		return rs1Val >= rs2Val
	default:
		return false
	}
}

// Target computes the control-flow target for a taken branch, JAL, or
// JALR. pc is the address of the branching instruction; rs1Val is the
// JALR base register's value (ignored for branches and JAL).
func (b *BranchUnit) Target(inst *insts.Instruction, pc uint64, rs1Val uint64) uint64 {
	switch inst.Op {
	case insts.OpJALR:
		// The low bit of the computed address is always cleared.
		return (rs1Val + uint64(inst.Imm)) &^ 1
	default:
		// SB-type branches and JAL both encode a PC-relative byte offset.
		return uint64(int64(pc) + inst.Imm)
	}
}

// LinkValue returns the return address JAL/JALR store into rd: the
// address of the instruction following the jump.
func (b *BranchUnit) LinkValue(pc uint64) uint64 {
	return pc + 4
}
