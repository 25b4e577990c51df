package pipeline

// shadowRegisters snapshots the destination register of whichever
// instruction occupies each of the Execute, Memory, and Writeback
// latches at the top of a cycle — before Writeback, Memory, and
// Execute run and move those instructions forward. Decode consults this
// snapshot, not the post-move latch contents, since this pipeline has no
// forwarding network: a RAW hazard must stall until the producing
// instruction's result has actually been committed by Writeback.
type shadowRegisters struct {
	hasExecute   bool
	executeReg   uint8
	hasMemory    bool
	memoryReg    uint8
	hasWriteback bool
	writebackReg uint8
}

// snapshot captures the shadow registers from the pipeline's latch state
// as it stands before this cycle's stages run. It is called once, at the
// very top of Tick, before Writeback/Memory/Execute mutate anything.
func (s *shadowRegisters) snapshot(idex *IDEXLatch, exmem *EXMEMLatch, memwb *MEMWBLatch) {
	*s = shadowRegisters{}

	if reg := idex.DestReg(); reg != 0 {
		s.hasExecute = true
		s.executeReg = reg
	}
	if reg := exmem.DestReg(); reg != 0 {
		s.hasMemory = true
		s.memoryReg = reg
	}
	if reg := memwb.DestReg(); reg != 0 {
		s.hasWriteback = true
		s.writebackReg = reg
	}
}

// stalls reports whether a Decode-stage instruction reading rs1 and rs2
// must stall because one of them is still in flight.
func (s *shadowRegisters) stalls(rs1, rs2 uint8, readsRs1, readsRs2 bool) bool {
	return s.blocksReg(rs1, readsRs1) || s.blocksReg(rs2, readsRs2)
}

func (s *shadowRegisters) blocksReg(reg uint8, reads bool) bool {
	if !reads || reg == 0 {
		return false
	}
	if s.hasExecute && s.executeReg == reg {
		return true
	}
	if s.hasMemory && s.memoryReg == reg {
		return true
	}
	if s.hasWriteback && s.writebackReg == reg {
		return true
	}
	return false
}
