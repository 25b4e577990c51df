package pipeline

import (
	"github.com/sarchlab/rv5sim/emu"
	"github.com/sarchlab/rv5sim/insts"
	"github.com/sarchlab/rv5sim/timing/cache"
)

// FetchStage fetches one instruction word per cycle from the
// instruction cache (or memory directly, when no I-cache is
// configured).
type FetchStage struct {
	memory *emu.Memory
	icache *cache.Tiered
}

// NewFetchStage creates a Fetch stage. icache may be nil.
func NewFetchStage(memory *emu.Memory, icache *cache.Tiered) *FetchStage {
	return &FetchStage{memory: memory, icache: icache}
}

// Fetch reads the instruction word at pc and returns the IF/ID latch
// contents, along with the informational cache latency incurred.
func (f *FetchStage) Fetch(pc uint64) (IFIDLatch, uint64) {
	var word uint32
	var latency uint64

	if f.icache != nil {
		result := f.icache.HandleRead(pc, 4)
		word = uint32(result.Data)
		latency = result.Latency
	} else {
		word = f.memory.Read32(pc)
	}

	return IFIDLatch{
		Valid:   true,
		PC:      pc,
		RawWord: word,
	}, latency
}

// DecodeStage decodes a fetched word, reads its register operands, and
// — for a conditional branch — makes the branch prediction. Fetch
// can't make this call itself: a branch isn't known to be a branch
// until it's decoded, so the prediction is made one stage later than a
// BTB-equipped front end would make it, and the pipeline controller
// pays for that with an extra bubble on every taken outcome.
type DecodeStage struct {
	decoder   *insts.Decoder
	regFile   *emu.RegFile
	predictor Predictor
}

// NewDecodeStage creates a Decode stage.
func NewDecodeStage(decoder *insts.Decoder, regFile *emu.RegFile, predictor Predictor) *DecodeStage {
	return &DecodeStage{decoder: decoder, regFile: regFile, predictor: predictor}
}

// Decode decodes latch's raw word and reads its operands from the
// register file.
func (d *DecodeStage) Decode(latch IFIDLatch) (IDEXLatch, error) {
	inst, err := d.decoder.Decode(latch.RawWord)
	if err != nil {
		return IDEXLatch{}, err
	}

	out := IDEXLatch{
		Valid:  true,
		PC:     latch.PC,
		Inst:   inst,
		Rs1Val: d.regFile.ReadReg(inst.Rs1),
		Rs2Val: d.regFile.ReadReg(inst.Rs2),
	}
	if inst.Format == insts.FormatSB {
		out.PredictedTaken = d.predictor.Predict(latch.PC)
	}
	return out, nil
}

// readsRs1 reports whether inst's format consumes rs1.
func readsRs1(inst *insts.Instruction) bool {
	switch inst.Format {
	case insts.FormatR, insts.FormatI, insts.FormatS, insts.FormatSB:
		return true
	default:
		return false
	}
}

// readsRs2 reports whether inst's format consumes rs2.
func readsRs2(inst *insts.Instruction) bool {
	switch inst.Format {
	case insts.FormatR, insts.FormatS, insts.FormatSB:
		return true
	default:
		return false
	}
}

// ExecuteStage performs ALU computation and resolves control-flow
// instructions (branches, JAL, JALR).
type ExecuteStage struct {
	alu       *emu.ALU
	branch    *emu.BranchUnit
	predictor Predictor
}

// NewExecuteStage creates an Execute stage.
func NewExecuteStage(alu *emu.ALU, branch *emu.BranchUnit, predictor Predictor) *ExecuteStage {
	return &ExecuteStage{alu: alu, branch: branch, predictor: predictor}
}

// Execute evaluates latch and returns the EX/MEM latch contents. For
// conditional branches it also resolves the actual outcome and updates
// the predictor; whether that amounts to a misprediction requiring a
// flush is for the pipeline controller to decide, since it alone knows
// what was speculated.
func (e *ExecuteStage) Execute(latch IDEXLatch) EXMEMLatch {
	inst := latch.Inst
	out := EXMEMLatch{Valid: true, PC: latch.PC, Inst: inst}

	switch inst.Format {
	case insts.FormatSB:
		taken := e.branch.Taken(inst, latch.Rs1Val, latch.Rs2Val)
		target := latch.PC + 4
		if taken {
			target = e.branch.Target(inst, latch.PC, 0)
		}
		out.ActualTaken = taken
		out.ActualTarget = target
		out.PredictedTaken = latch.PredictedTaken
		e.predictor.Update(latch.PC, taken)

	case insts.FormatUJ: // JAL
		out.ALUResult = e.branch.LinkValue(latch.PC)
		out.ActualTaken = true
		out.ActualTarget = e.branch.Target(inst, latch.PC, 0)

	case insts.FormatI:
		if inst.Op == insts.OpJALR {
			out.ALUResult = e.branch.LinkValue(latch.PC)
			out.ActualTaken = true
			out.ActualTarget = e.branch.Target(inst, latch.PC, latch.Rs1Val)
		} else if isLoadInst(inst) {
			out.ALUResult = latch.Rs1Val + uint64(inst.Imm)
		} else {
			out.ALUResult = e.alu.Execute(inst, latch.Rs1Val, uint64(inst.Imm), latch.PC)
		}

	case insts.FormatS:
		out.ALUResult = latch.Rs1Val + uint64(inst.Imm)
		out.StoreValue = latch.Rs2Val

	case insts.FormatU, insts.FormatR:
		out.ALUResult = e.alu.Execute(inst, latch.Rs1Val, latch.Rs2Val, latch.PC)

	case insts.FormatSystem:
		// ECALL/SRET are handled architecturally by the Memory stage,
		// which has access to the register file and memory needed to
		// service a syscall.
	}

	return out
}

func isLoadInst(inst *insts.Instruction) bool {
	switch inst.Op {
	case insts.OpLB, insts.OpLH, insts.OpLW, insts.OpLD, insts.OpLBU, insts.OpLHU, insts.OpLWU:
		return true
	default:
		return false
	}
}

func isStoreInst(inst *insts.Instruction) bool {
	switch inst.Op {
	case insts.OpSB, insts.OpSH, insts.OpSW, insts.OpSD:
		return true
	default:
		return false
	}
}

// MemoryResult carries the outcome of the Memory stage, including any
// environment call effect (exit) it serviced.
type MemoryResult struct {
	Latch         MEMWBLatch
	CacheLatency  uint64
	SyscallResult emu.SyscallResult
}

// MemoryStage services loads and stores through the data cache (when
// configured) and dispatches ECALL/SRET.
type MemoryStage struct {
	memory         *emu.Memory
	dcache         *cache.Tiered
	syscallHandler emu.SyscallHandler
}

// NewMemoryStage creates a Memory stage. dcache may be nil.
func NewMemoryStage(memory *emu.Memory, dcache *cache.Tiered, syscallHandler emu.SyscallHandler) *MemoryStage {
	return &MemoryStage{memory: memory, dcache: dcache, syscallHandler: syscallHandler}
}

// Access services latch's memory or system effect and returns the
// Memory/Writeback latch.
func (m *MemoryStage) Access(latch EXMEMLatch) MemoryResult {
	inst := latch.Inst
	out := MEMWBLatch{Valid: true, PC: latch.PC, Inst: inst, Result: latch.ALUResult}
	result := MemoryResult{Latch: out}

	switch {
	case inst.Format == insts.FormatSystem:
		if inst.Op == insts.OpECALL {
			result.SyscallResult = m.syscallHandler.Handle()
		}

	case isLoadInst(inst):
		size := emu.AccessSize(inst.Op)
		access := m.read(latch.ALUResult, size)
		result.CacheLatency = access.Latency
		out.Result = extendLoad(access.Data, inst.Op, size)

	case isStoreInst(inst):
		size := emu.AccessSize(inst.Op)
		access := m.write(latch.ALUResult, size, latch.StoreValue)
		result.CacheLatency = access.Latency
	}

	result.Latch = out
	return result
}

func (m *MemoryStage) read(addr uint64, size int) cache.AccessResult {
	if m.dcache != nil {
		return m.dcache.HandleRead(addr, size)
	}
	var data uint64
	for i := 0; i < size; i++ {
		data |= uint64(m.memory.Read8(addr+uint64(i))) << (i * 8)
	}
	return cache.AccessResult{Hit: true, Data: data}
}

func (m *MemoryStage) write(addr uint64, size int, value uint64) cache.AccessResult {
	if m.dcache != nil {
		return m.dcache.HandleWrite(addr, size, value)
	}
	for i := 0; i < size; i++ {
		m.memory.Write8(addr+uint64(i), byte(value>>(i*8)))
	}
	return cache.AccessResult{Hit: true}
}

func extendLoad(raw uint64, op insts.Op, size int) uint64 {
	if !emu.IsSignExtendingLoad(op) {
		return raw
	}
	shift := uint(64 - size*8)
	return uint64(int64(raw<<shift) >> shift)
}

// WritebackStage commits a retiring instruction's result to the
// register file.
type WritebackStage struct {
	regFile *emu.RegFile
}

// NewWritebackStage creates a Writeback stage.
func NewWritebackStage(regFile *emu.RegFile) *WritebackStage {
	return &WritebackStage{regFile: regFile}
}

// Writeback commits latch's result, if it has a destination register.
func (w *WritebackStage) Writeback(latch MEMWBLatch) {
	if reg := latch.DestReg(); reg != 0 {
		w.regFile.WriteReg(reg, latch.Result)
	}
}
