package emu

import (
	"io"
	"os"

	"github.com/sarchlab/rv5sim/insts"
)

// Emulator provides non-timing functional execution of an RV64I/M
// program: one instruction retires per Step call, with no pipeline
// stages, stalls, or cache modeling. It exists alongside the timing
// package's cycle-accurate Pipeline so that a caller who only needs an
// architectural (functional) run of the guest program — for example to
// validate a pipeline run's final register state — does not pay for
// cycle-level simulation.
type Emulator struct {
	regFile *RegFile
	memory  *Memory
	decoder *insts.Decoder
	alu     *ALU
	branch  *BranchUnit
	ls      *LoadStoreUnit

	syscallHandler  SyscallHandler
	maxInstructions uint64

	instructionCount uint64
	exited           bool
	exitCode         int64
}

// Option configures an Emulator at construction time.
type Option func(*Emulator)

// WithStdout sets the writer ECALL print services write to. Defaults to
// os.Stdout.
func WithStdout(w io.Writer) Option {
	return func(e *Emulator) {
		if h, ok := e.syscallHandler.(*DefaultSyscallHandler); ok {
			h.stdout = w
		}
	}
}

// WithStderr sets the writer used for diagnostic output. Defaults to
// os.Stderr.
func WithStderr(w io.Writer) Option {
	return func(e *Emulator) {
		if h, ok := e.syscallHandler.(*DefaultSyscallHandler); ok {
			h.stderr = w
		}
	}
}

// WithSyscallHandler overrides the default ECALL handler.
func WithSyscallHandler(h SyscallHandler) Option {
	return func(e *Emulator) {
		e.syscallHandler = h
	}
}

// WithMaxInstructions bounds the number of instructions Run will execute
// before giving up, guarding against a guest program that never issues
// an exit ECALL. Zero means unbounded.
func WithMaxInstructions(n uint64) Option {
	return func(e *Emulator) {
		e.maxInstructions = n
	}
}

// NewEmulator creates a new functional emulator. Memory must be supplied
// via LoadProgram before Step/Run is called.
func NewEmulator(opts ...Option) *Emulator {
	regFile := &RegFile{}
	e := &Emulator{
		regFile: regFile,
		decoder: insts.NewDecoder(),
		alu:     NewALU(),
		branch:  NewBranchUnit(),
	}
	e.syscallHandler = NewDefaultSyscallHandler(regFile, nil, os.Stdout, os.Stderr)

	for _, opt := range opts {
		opt(e)
	}
	return e
}

// LoadProgram attaches the backing memory and sets the initial PC.
func (e *Emulator) LoadProgram(entryPC uint64, memory *Memory) {
	e.memory = memory
	e.regFile.PC = entryPC
	e.ls = NewLoadStoreUnit(memory)
	if h, ok := e.syscallHandler.(*DefaultSyscallHandler); ok {
		h.memory = memory
	}
}

// SetStackPointer initializes the stack pointer register (x2).
func (e *Emulator) SetStackPointer(sp uint64) {
	e.regFile.WriteReg(2, sp)
}

// InstructionCount returns the number of instructions retired so far.
func (e *Emulator) InstructionCount() uint64 {
	return e.instructionCount
}

// Step decodes and executes one instruction. It returns false once the
// guest program has exited (via ECALL), hit a fatal memory access or
// ECALL error, or the instruction limit has been reached.
func (e *Emulator) Step() (cont bool) {
	if e.exited {
		return false
	}
	if e.maxInstructions != 0 && e.instructionCount >= e.maxInstructions {
		return false
	}

	defer func() {
		if r := recover(); r != nil {
			if !isFatalAccessPanic(r) {
				panic(r)
			}
			e.exited = true
			e.exitCode = 1
			cont = false
		}
	}()

	pc := e.regFile.PC
	word := e.memory.Read32(pc)
	inst, err := e.decoder.Decode(word)
	if err != nil {
		e.exited = true
		e.exitCode = 1
		return false
	}

	e.execute(inst, pc)
	e.instructionCount++
	return !e.exited
}

// isFatalAccessPanic reports whether r is one of the panic values this
// package's own code raises for an architecturally fatal condition
// (out-of-range memory access, unrecognized ECALL), as opposed to an
// unrelated programming error that should keep propagating.
func isFatalAccessPanic(r any) bool {
	switch r.(type) {
	case *MemoryAccessError, *ECallError:
		return true
	default:
		return false
	}
}

// Run executes instructions until the guest exits or the instruction
// limit is reached, returning the guest's exit code.
func (e *Emulator) Run() int64 {
	for e.Step() {
	}
	return e.exitCode
}

func (e *Emulator) execute(inst *insts.Instruction, pc uint64) {
	nextPC := pc + 4

	switch inst.Format {
	case insts.FormatSystem:
		switch inst.Op {
		case insts.OpECALL:
			result := e.syscallHandler.Handle()
			if result.Exited {
				e.exited = true
				e.exitCode = result.ExitCode
			}
		case insts.OpSRET:
			// Privileged return, no-op at user level.
		}

	case insts.FormatU:
		out := e.alu.Execute(inst, 0, 0, pc)
		e.regFile.WriteReg(inst.Rd, out)

	case insts.FormatUJ:
		e.regFile.WriteReg(inst.Rd, e.branch.LinkValue(pc))
		nextPC = e.branch.Target(inst, pc, 0)

	case insts.FormatI:
		if inst.Op == insts.OpJALR {
			rs1 := e.regFile.ReadReg(inst.Rs1)
			target := e.branch.Target(inst, pc, rs1)
			e.regFile.WriteReg(inst.Rd, e.branch.LinkValue(pc))
			nextPC = target
			break
		}
		if isLoadOp(inst.Op) {
			addr := e.ls.EffectiveAddress(inst, e.regFile.ReadReg(inst.Rs1))
			e.regFile.WriteReg(inst.Rd, e.ls.Load(inst.Op, addr))
			break
		}
		rs1 := e.regFile.ReadReg(inst.Rs1)
		out := e.alu.Execute(inst, rs1, uint64(inst.Imm), pc)
		e.regFile.WriteReg(inst.Rd, out)

	case insts.FormatS:
		rs1 := e.regFile.ReadReg(inst.Rs1)
		rs2 := e.regFile.ReadReg(inst.Rs2)
		addr := e.ls.EffectiveAddress(inst, rs1)
		e.ls.Store(inst.Op, addr, rs2)

	case insts.FormatSB:
		rs1 := e.regFile.ReadReg(inst.Rs1)
		rs2 := e.regFile.ReadReg(inst.Rs2)
		if e.branch.Taken(inst, rs1, rs2) {
			nextPC = e.branch.Target(inst, pc, 0)
		}

	case insts.FormatR:
		rs1 := e.regFile.ReadReg(inst.Rs1)
		rs2 := e.regFile.ReadReg(inst.Rs2)
		out := e.alu.Execute(inst, rs1, rs2, pc)
		e.regFile.WriteReg(inst.Rd, out)
	}

	e.regFile.PC = nextPC
}

func isLoadOp(op insts.Op) bool {
	switch op {
	case insts.OpLB, insts.OpLH, insts.OpLW, insts.OpLD, insts.OpLBU, insts.OpLHU, insts.OpLWU:
		return true
	default:
		return false
	}
}
