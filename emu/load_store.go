package emu

import "github.com/sarchlab/rv5sim/insts"

// LoadStoreUnit computes effective addresses and performs the actual
// memory access for RV64I load and store instructions. EffectiveAddress
// computes base + sign-extended immediate; Load and Store then access
// memory at that address.
type LoadStoreUnit struct {
	memory *Memory
}

// NewLoadStoreUnit creates a new LoadStoreUnit over the given Memory.
// The functional Emulator uses it; the timing pipeline's Memory stage
// performs its own accesses instead.
func NewLoadStoreUnit(memory *Memory) *LoadStoreUnit {
	return &LoadStoreUnit{memory: memory}
}

// EffectiveAddress computes base + sign-extended immediate for a load or
// store instruction.
func (lsu *LoadStoreUnit) EffectiveAddress(inst *insts.Instruction, baseVal uint64) uint64 {
	return baseVal + uint64(inst.Imm)
}

// Load performs a load of the width and sign-extension Op implies.
func (lsu *LoadStoreUnit) Load(op insts.Op, addr uint64) uint64 {
	switch op {
	case insts.OpLB:
		return uint64(int64(int8(lsu.memory.Read8(addr))))
	case insts.OpLBU:
		return uint64(lsu.memory.Read8(addr))
	case insts.OpLH:
		return uint64(int64(int16(lsu.memory.Read16(addr))))
	case insts.OpLHU:
		return uint64(lsu.memory.Read16(addr))
	case insts.OpLW:
		return uint64(int64(int32(lsu.memory.Read32(addr))))
	case insts.OpLWU:
		return uint64(lsu.memory.Read32(addr))
	case insts.OpLD:
		return lsu.memory.Read64(addr)
	default:
		return 0
	}
}

// Store performs a store of the width Op implies.
func (lsu *LoadStoreUnit) Store(op insts.Op, addr uint64, value uint64) {
	switch op {
	case insts.OpSB:
		lsu.memory.Write8(addr, uint8(value))
	case insts.OpSH:
		lsu.memory.Write16(addr, uint16(value))
	case insts.OpSW:
		lsu.memory.Write32(addr, uint32(value))
	case insts.OpSD:
		lsu.memory.Write64(addr, value)
	}
}

// AccessSize returns the access width in bytes for a load or store Op.
func AccessSize(op insts.Op) int {
	switch op {
	case insts.OpLB, insts.OpLBU, insts.OpSB:
		return 1
	case insts.OpLH, insts.OpLHU, insts.OpSH:
		return 2
	case insts.OpLW, insts.OpLWU, insts.OpSW:
		return 4
	case insts.OpLD, insts.OpSD:
		return 8
	default:
		return 0
	}
}

// IsSignExtendingLoad reports whether a load Op sign-extends its result
// (as opposed to the *U zero-extending variants).
func IsSignExtendingLoad(op insts.Op) bool {
	switch op {
	case insts.OpLB, insts.OpLH, insts.OpLW:
		return true
	default:
		return false
	}
}
