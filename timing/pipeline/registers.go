// Package pipeline implements a cycle-accurate, single-issue, in-order
// 5-stage RV64I/M pipeline (Fetch, Decode, Execute, Memory, Writeback)
// with no forwarding network: every cycle is evaluated stage-by-stage
// in reverse pipeline order (Writeback, Memory, Execute, Decode, Fetch)
// so that a stage always sees the state its successor left behind this
// same cycle, and RAW hazards stall in Decode until the producing
// instruction has retired.
package pipeline

import "github.com/sarchlab/rv5sim/insts"

// IFIDLatch holds the output of the Fetch stage: a raw fetched word and
// the PC it was fetched from, waiting to be decoded.
type IFIDLatch struct {
	Valid   bool
	PC      uint64
	RawWord uint32
}

// Clear resets the latch to an empty bubble.
func (r *IFIDLatch) Clear() { *r = IFIDLatch{} }

// IDEXLatch holds the output of the Decode stage: a decoded instruction
// and its register operands, waiting to be executed. PredictedTaken is
// only meaningful for a conditional branch (FormatSB); Decode is where
// the prediction is made, since that's the earliest point the
// instruction's format is known.
type IDEXLatch struct {
	Valid          bool
	PC             uint64
	Inst           *insts.Instruction
	Rs1Val         uint64
	Rs2Val         uint64
	PredictedTaken bool
}

// Clear resets the latch to an empty bubble.
func (r *IDEXLatch) Clear() { *r = IDEXLatch{} }

// DestReg returns the architectural register this instruction will
// write, or 0 (x0, never a real destination) if it writes none.
func (r *IDEXLatch) DestReg() uint8 {
	if !r.Valid || r.Inst == nil {
		return 0
	}
	return destRegOf(r.Inst)
}

// EXMEMLatch holds the output of the Execute stage, waiting to be
// serviced by the Memory stage. ActualTaken/ActualTarget/PredictedTaken
// are raw facts about a resolved branch or jump; the pipeline
// controller, not this latch, decides whether they amount to a
// misprediction.
type EXMEMLatch struct {
	Valid          bool
	PC             uint64
	Inst           *insts.Instruction
	ALUResult      uint64
	StoreValue     uint64
	ActualTaken    bool
	ActualTarget   uint64
	PredictedTaken bool
}

// Clear resets the latch to an empty bubble.
func (r *EXMEMLatch) Clear() { *r = EXMEMLatch{} }

// DestReg returns the architectural register this instruction will
// write, or 0 if it writes none.
func (r *EXMEMLatch) DestReg() uint8 {
	if !r.Valid || r.Inst == nil {
		return 0
	}
	return destRegOf(r.Inst)
}

// MEMWBLatch holds the output of the Memory stage, waiting to retire in
// the Writeback stage.
type MEMWBLatch struct {
	Valid  bool
	PC     uint64
	Inst   *insts.Instruction
	Result uint64
}

// Clear resets the latch to an empty bubble.
func (r *MEMWBLatch) Clear() { *r = MEMWBLatch{} }

// DestReg returns the architectural register this instruction will
// write, or 0 if it writes none.
func (r *MEMWBLatch) DestReg() uint8 {
	if !r.Valid || r.Inst == nil {
		return 0
	}
	return destRegOf(r.Inst)
}

// destRegOf reports the register an instruction writes, per its
// format: R/I/U/UJ formats write Rd; S/SB/System formats write nothing.
func destRegOf(inst *insts.Instruction) uint8 {
	switch inst.Format {
	case insts.FormatR, insts.FormatI, insts.FormatU, insts.FormatUJ:
		return inst.Rd
	default:
		return 0
	}
}
