package pipeline

import (
	"fmt"
	"os"

	"github.com/sarchlab/rv5sim/emu"
	"github.com/sarchlab/rv5sim/insts"
	"github.com/sarchlab/rv5sim/timing/cache"
)

// InvariantError reports a violation of an architectural invariant this
// simulator checks every cycle: x0 observed non-zero, the stack pointer
// below its floor, or Fetch asked for an unaligned PC. Any of these
// indicates the guest program has corrupted state the hardware could
// never actually reach, so Tick treats it as fatal.
type InvariantError struct {
	Reason string
}

func (e *InvariantError) Error() string {
	return "pipeline: invariant violated: " + e.Reason
}

// Statistics holds pipeline performance counters accumulated over a run.
type Statistics struct {
	// Cycles is the total number of cycles simulated.
	Cycles uint64
	// Instructions is the number of instructions retired.
	Instructions uint64
	// Stalls is the number of cycles Decode held for a data hazard.
	Stalls uint64
	// Flushes is the number of redirects Execute issued: one per
	// conditional-branch misprediction and one per JAL/JALR.
	Flushes uint64
	// BranchPredictions is the number of conditional branches predicted.
	BranchPredictions uint64
	// BranchMispredictions is the number of conditional branches
	// mispredicted.
	BranchMispredictions uint64
	// CacheLatencyCycles is the informational sum of cache access
	// latencies observed, reported but never used to stall the
	// pipeline.
	CacheLatencyCycles uint64
	// ControlHazardCycles is the number of cycles lost to branch
	// mispredictions, counted 2 per misprediction regardless of
	// direction. Unlike Flushes, it does not count JAL/JALR redirects,
	// which are never mispredicted.
	ControlHazardCycles uint64
}

// CPI returns cycles per instruction.
func (s Statistics) CPI() float64 {
	if s.Instructions == 0 {
		return 0
	}
	return float64(s.Cycles) / float64(s.Instructions)
}

// Option configures a Pipeline at construction time.
type Option func(*Pipeline)

// WithSyscallHandler overrides the default ECALL handler.
func WithSyscallHandler(handler emu.SyscallHandler) Option {
	return func(p *Pipeline) { p.syscallHandler = handler }
}

// WithPredictor overrides the default branch predictor (two-bit
// saturating counter).
func WithPredictor(predictor Predictor) Option {
	return func(p *Pipeline) { p.predictor = predictor }
}

// WithICache attaches a tiered instruction cache hierarchy.
func WithICache(tiered *cache.Tiered) Option {
	return func(p *Pipeline) { p.icache = tiered }
}

// WithDCache attaches a tiered data cache hierarchy.
func WithDCache(tiered *cache.Tiered) Option {
	return func(p *Pipeline) { p.dcache = tiered }
}

// WithHistory enables per-cycle pipeline state recording.
func WithHistory() Option {
	return func(p *Pipeline) { p.history = &History{} }
}

// WithMaxInstructions bounds the number of instructions Run will retire
// before giving up. Zero means unbounded.
func WithMaxInstructions(n uint64) Option {
	return func(p *Pipeline) { p.maxInstructions = n }
}

// Pipeline implements a single-issue, in-order, 5-stage RV64I/M
// pipeline with no forwarding network. Every Tick evaluates stages in
// reverse pipeline order — Writeback, Memory, Execute, Decode, Fetch —
// so that hazard detection in Decode always sees the latch contents as
// they stood at the top of the cycle (see shadowRegisters), and a
// branch resolved in Execute can block Fetch within the same cycle; the
// redirect itself lands at the top of the next Tick.
type Pipeline struct {
	ifid  IFIDLatch
	idex  IDEXLatch
	exmem EXMEMLatch
	memwb MEMWBLatch

	shadow shadowRegisters

	fetchStage     *FetchStage
	decodeStage    *DecodeStage
	executeStage   *ExecuteStage
	memoryStage    *MemoryStage
	writebackStage *WritebackStage

	predictor Predictor
	branch    *emu.BranchUnit
	icache    *cache.Tiered
	dcache    *cache.Tiered

	regFile *emu.RegFile
	memory  *emu.Memory

	syscallHandler emu.SyscallHandler

	fetchPC         uint64
	maxInstructions uint64

	// waitForBranch mirrors wait_for_branch_: set the instant Decode or
	// Execute learns a redirect is coming, it blocks Fetch until the
	// redirect has actually landed, whether or not Fetch got to run a
	// wrong-path instruction in between.
	waitForBranch bool
	// shouldRecover/recoverPC mirror should_recover_branch_/
	// branch_next_pc_: a pending PC redirect, applied at the top of the
	// next Tick before any stage runs.
	shouldRecover bool
	recoverPC     uint64

	stats    Statistics
	history  *History
	halted   bool
	exitCode int64
}

// NewPipeline creates a 5-stage pipeline over regFile and memory,
// starting fetch at entryPC.
func NewPipeline(regFile *emu.RegFile, memory *emu.Memory, entryPC uint64, opts ...Option) *Pipeline {
	p := &Pipeline{
		regFile: regFile,
		memory:  memory,
		fetchPC: entryPC,
	}
	regFile.PC = entryPC

	for _, opt := range opts {
		opt(p)
	}

	if p.predictor == nil {
		p.predictor = NewTwoBitPredictor()
	}
	if p.syscallHandler == nil {
		p.syscallHandler = emu.NewDefaultSyscallHandler(regFile, memory, os.Stdout, os.Stderr)
	}

	p.branch = emu.NewBranchUnit()
	p.fetchStage = NewFetchStage(memory, p.icache)
	p.decodeStage = NewDecodeStage(insts.NewDecoder(), regFile, p.predictor)
	p.executeStage = NewExecuteStage(emu.NewALU(), p.branch, p.predictor)
	p.memoryStage = NewMemoryStage(memory, p.dcache, p.syscallHandler)
	p.writebackStage = NewWritebackStage(regFile)

	return p
}

// stackFloor returns the lowest address the stack pointer may legally
// hold: the stack occupies the top 1% of memory, so SP falling below
// that region's base is a stack overflow.
func (p *Pipeline) stackFloor() uint64 {
	size := uint64(p.memory.Size())
	return size - size/100
}

// Halted reports whether the pipeline has retired an exit.
func (p *Pipeline) Halted() bool { return p.halted }

// ExitCode returns the guest's exit code, valid once Halted is true.
func (p *Pipeline) ExitCode() int64 { return p.exitCode }

// Stats returns the pipeline's accumulated statistics.
func (p *Pipeline) Stats() Statistics { return p.stats }

// History returns the per-cycle recording, or nil if WithHistory was
// not supplied.
func (p *Pipeline) History() *History { return p.history }

// Run ticks the pipeline until it halts or maxCycles is reached (0
// means unbounded), returning the number of cycles actually simulated.
func (p *Pipeline) Run(maxCycles uint64) uint64 {
	var cycles uint64
	for !p.halted {
		if maxCycles != 0 && cycles >= maxCycles {
			break
		}
		p.Tick()
		cycles++
	}
	return cycles
}

// Tick advances the pipeline by one cycle. A pending branch recovery
// is applied first, before any stage runs, exactly as the reference
// simulator applies should_recover_branch_ at the top of its main
// loop — so a redirect scheduled last cycle (by Decode speculating a
// taken branch, or by Execute correcting a misprediction) takes effect
// before this cycle's Fetch decides where to fetch from.
func (p *Pipeline) Tick() {
	if p.halted {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			if !isFatalPipelineError(r) {
				panic(r)
			}
			p.halted = true
			p.exitCode = 1
		}
	}()

	if p.regFile.X[0] != 0 {
		panic(&InvariantError{Reason: "x0 is non-zero"})
	}
	if p.regFile.ReadReg(2) < p.stackFloor() {
		panic(&InvariantError{Reason: fmt.Sprintf("stack overflow: sp 0x%x below floor 0x%x", p.regFile.ReadReg(2), p.stackFloor())})
	}

	if p.shouldRecover {
		p.fetchPC = p.recoverPC
		p.shouldRecover = false
		p.recoverPC = 0
		p.waitForBranch = false
	}

	p.shadow.snapshot(&p.idex, &p.exmem, &p.memwb)

	p.tickWriteback()
	memLatency := p.tickMemory()
	flushed := p.tickExecute()
	stalled := p.tickDecode()
	p.tickFetch(stalled)

	p.stats.Cycles++
	p.stats.CacheLatencyCycles += memLatency
	if stalled {
		p.stats.Stalls++
	}
	if flushed {
		p.stats.Flushes++
	}

	if p.history != nil {
		p.history.record(p.stats.Cycles, p)
	}
}

// isFatalPipelineError reports whether r is one of the panic values this
// package or emu raises for an architecturally fatal condition, as
// opposed to an unrelated programming error that should keep
// propagating.
func isFatalPipelineError(r any) bool {
	switch r.(type) {
	case *InvariantError, *emu.MemoryAccessError, *emu.ECallError:
		return true
	default:
		return false
	}
}

func (p *Pipeline) tickWriteback() {
	if !p.memwb.Valid {
		return
	}
	p.writebackStage.Writeback(p.memwb)
	p.stats.Instructions++
	p.memwb.Clear()

	if p.maxInstructions != 0 && p.stats.Instructions >= p.maxInstructions {
		p.halted = true
	}
}

func (p *Pipeline) tickMemory() uint64 {
	if !p.exmem.Valid {
		p.memwb.Clear()
		return 0
	}

	result := p.memoryStage.Access(p.exmem)
	p.memwb = result.Latch

	if p.exmem.Inst.Format == insts.FormatSystem && p.exmem.Inst.Op == insts.OpECALL && result.SyscallResult.Exited {
		p.halted = true
		p.exitCode = result.SyscallResult.ExitCode
		p.stats.Instructions++
	}

	p.exmem.Clear()
	return result.CacheLatency
}

// tickExecute resolves latch in idex, if any, and — for a branch or
// jump — decides whether the speculation Decode (or the front end's
// lack of one) committed to was wrong, scheduling a recovery and
// squashing the wrong-path instruction in ifid when it was. It reports
// whether a flush occurred, for Statistics.Flushes and history.
func (p *Pipeline) tickExecute() (flushed bool) {
	if !p.idex.Valid {
		p.exmem.Clear()
		return false
	}

	out := p.executeStage.Execute(p.idex)
	p.exmem = out
	p.idex.Clear()

	switch {
	case out.Inst.Format == insts.FormatSB:
		p.stats.BranchPredictions++
		if out.ActualTaken == out.PredictedTaken {
			return false
		}
		p.stats.BranchMispredictions++
		p.stats.ControlHazardCycles += 2

		correctPC := out.PC + 4
		if out.ActualTaken {
			correctPC = out.ActualTarget
		}
		p.scheduleRecovery(correctPC)
		return true

	case isJumpFormat(out.Inst):
		p.scheduleRecovery(out.ActualTarget)
		return true
	}

	return false
}

// scheduleRecovery arms a PC redirect to take effect at the top of the
// next Tick, and immediately squashes whatever instruction Fetch may
// already have placed in ifid on the wrong path.
func (p *Pipeline) scheduleRecovery(target uint64) {
	p.shouldRecover = true
	p.recoverPC = target
	p.waitForBranch = true
	p.ifid.Clear()
}

func isJumpFormat(inst *insts.Instruction) bool {
	return inst.Format == insts.FormatUJ || (inst.Format == insts.FormatI && inst.Op == insts.OpJALR)
}

// tickDecode decodes the instruction in ifid into idex, stalling
// (leaving ifid in place and idex empty) if a RAW hazard against an
// in-flight producer is detected. It returns whether a stall occurred.
// For a predicted-taken branch it arms a speculative recovery to the
// predicted target right away, and for any jump it blocks Fetch until
// Execute resolves the real target — in both cases before Fetch runs
// later this same cycle.
func (p *Pipeline) tickDecode() bool {
	if !p.ifid.Valid {
		p.idex.Clear()
		return false
	}

	decoded, err := p.decodeStage.Decode(p.ifid)
	if err != nil {
		p.halted = true
		p.exitCode = 1
		p.idex.Clear()
		return false
	}

	if p.shadow.stalls(decoded.Inst.Rs1, decoded.Inst.Rs2, readsRs1(decoded.Inst), readsRs2(decoded.Inst)) {
		p.idex.Clear()
		return true
	}

	switch {
	case decoded.Inst.Format == insts.FormatSB && decoded.PredictedTaken:
		target := p.branch.Target(decoded.Inst, decoded.PC, 0)
		p.scheduleRecovery(target)
	case isJumpFormat(decoded.Inst):
		p.waitForBranch = true
	}

	p.idex = decoded
	p.ifid.Clear()
	return false
}

func (p *Pipeline) tickFetch(stalled bool) {
	if p.waitForBranch {
		return
	}
	if stalled {
		return
	}

	if p.fetchPC%2 != 0 {
		panic(&InvariantError{Reason: fmt.Sprintf("fetch from unaligned pc 0x%x", p.fetchPC)})
	}

	latch, latency := p.fetchStage.Fetch(p.fetchPC)
	p.ifid = latch
	p.stats.CacheLatencyCycles += latency
	p.regFile.PC = p.fetchPC
	p.fetchPC += 4
}
