package pipeline_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/rv5sim/emu"
	"github.com/sarchlab/rv5sim/insts"
	"github.com/sarchlab/rv5sim/timing/pipeline"
)

func encodeR(opcode, funct3, funct7, rd, rs1, rs2 uint32) uint32 {
	return funct7<<25 | rs2<<20 | rs1<<15 | funct3<<12 | rd<<7 | opcode
}

func encodeI(opcode, funct3, rd, rs1 uint32, imm int32) uint32 {
	return uint32(imm)<<20 | rs1<<15 | funct3<<12 | rd<<7 | opcode
}

func encodeU(opcode, rd uint32, imm int32) uint32 {
	return uint32(imm)&0xFFFFF000 | rd<<7 | opcode
}

func encodeUJ(opcode, rd uint32, imm int32) uint32 {
	u := uint32(imm)
	return (u>>20&1)<<31 | (u>>12&0xFF)<<12 | (u>>11&1)<<20 | (u>>1&0x3FF)<<21 | rd<<7 | opcode
}

func encodeSB(opcode, funct3, rs1, rs2 uint32, imm int32) uint32 {
	u := uint32(imm)
	return (u>>12&1)<<31 | (u>>5&0x3F)<<25 | rs2<<20 | rs1<<15 | funct3<<12 | (u>>1&0xF)<<8 | (u>>11&1)<<7 | opcode
}

func encodeS(opcode, funct3, rs1, rs2 uint32, imm int32) uint32 {
	u := uint32(imm)
	return (u>>5&0x7F)<<25 | rs2<<20 | rs1<<15 | funct3<<12 | (u&0x1F)<<7 | opcode
}

var _ = Describe("FetchStage", func() {
	It("reads the instruction word directly from memory when no icache is configured", func() {
		mem := emu.NewMemory(64)
		mem.Write32(0, encodeI(0x13, 0, 1, 0, 5)) // ADDI x1, x0, 5
		fs := pipeline.NewFetchStage(mem, nil)

		latch, latency := fs.Fetch(0)
		Expect(latch.Valid).To(BeTrue())
		Expect(latch.RawWord).To(Equal(encodeI(0x13, 0, 1, 0, 5)))
		Expect(latency).To(BeEquivalentTo(0))
	})
})

var _ = Describe("DecodeStage", func() {
	It("decodes the fetched word and reads its register operands", func() {
		regFile := &emu.RegFile{}
		regFile.WriteReg(6, 11)
		ds := pipeline.NewDecodeStage(insts.NewDecoder(), regFile, pipeline.NewTwoBitPredictor())

		latch := pipeline.IFIDLatch{Valid: true, PC: 0, RawWord: encodeR(0x33, 0, 0, 5, 6, 0)}
		decoded, err := ds.Decode(latch)
		Expect(err).NotTo(HaveOccurred())
		Expect(decoded.Inst.Op).To(Equal(insts.OpADD))
		Expect(decoded.Rs1Val).To(BeEquivalentTo(11))
	})

	It("consults the predictor for a conditional branch, and only a branch", func() {
		regFile := &emu.RegFile{}
		ds := pipeline.NewDecodeStage(insts.NewDecoder(), regFile, pipeline.NewAlwaysTakenPredictor())

		branchLatch := pipeline.IFIDLatch{Valid: true, PC: 0, RawWord: encodeSB(opBranch, 0b000, 1, 0, 16)}
		decoded, err := ds.Decode(branchLatch)
		Expect(err).NotTo(HaveOccurred())
		Expect(decoded.PredictedTaken).To(BeTrue())

		nonBranchLatch := pipeline.IFIDLatch{Valid: true, PC: 0, RawWord: encodeR(0x33, 0, 0, 5, 6, 0)}
		decoded, err = ds.Decode(nonBranchLatch)
		Expect(err).NotTo(HaveOccurred())
		Expect(decoded.PredictedTaken).To(BeFalse())
	})
})

var _ = Describe("ExecuteStage", func() {
	var es *pipeline.ExecuteStage

	BeforeEach(func() {
		es = pipeline.NewExecuteStage(emu.NewALU(), emu.NewBranchUnit(), pipeline.NewTwoBitPredictor())
	})

	It("computes an ALU result for R-type instructions", func() {
		latch := pipeline.IDEXLatch{Valid: true, Inst: &insts.Instruction{Op: insts.OpADD, Format: insts.FormatR}, Rs1Val: 2, Rs2Val: 3}
		out := es.Execute(latch)
		Expect(out.ALUResult).To(BeEquivalentTo(5))
	})

	It("resolves a taken branch's actual target and passes through the prediction", func() {
		inst := &insts.Instruction{Op: insts.OpBEQ, Format: insts.FormatSB, Imm: 16}
		latch := pipeline.IDEXLatch{Valid: true, PC: 0x100, Inst: inst, Rs1Val: 1, Rs2Val: 1, PredictedTaken: true}
		out := es.Execute(latch)
		Expect(out.ActualTaken).To(BeTrue())
		Expect(out.PredictedTaken).To(BeTrue())
		Expect(out.ActualTarget).To(BeEquivalentTo(0x110))
	})

	It("resolves a branch that is not taken", func() {
		inst := &insts.Instruction{Op: insts.OpBEQ, Format: insts.FormatSB, Imm: 16}
		latch := pipeline.IDEXLatch{Valid: true, PC: 0x100, Inst: inst, Rs1Val: 1, Rs2Val: 2}
		out := es.Execute(latch)
		Expect(out.ActualTaken).To(BeFalse())
		Expect(out.PredictedTaken).To(BeFalse())
	})

	It("computes JAL's link value and target unconditionally", func() {
		inst := &insts.Instruction{Op: insts.OpJAL, Format: insts.FormatUJ, Imm: 16, Rd: 1}
		latch := pipeline.IDEXLatch{Valid: true, PC: 0x100, Inst: inst}
		out := es.Execute(latch)
		Expect(out.ActualTaken).To(BeTrue())
		Expect(out.ActualTarget).To(BeEquivalentTo(0x110))
		Expect(out.ALUResult).To(BeEquivalentTo(0x104))
	})
})

var _ = Describe("MemoryStage", func() {
	It("services a load directly from memory when no dcache is configured", func() {
		mem := emu.NewMemory(64)
		mem.Write8(0, 0xFF)
		ms := pipeline.NewMemoryStage(mem, nil, nil)

		latch := pipeline.EXMEMLatch{Valid: true, Inst: &insts.Instruction{Op: insts.OpLB, Format: insts.FormatI}, ALUResult: 0}
		result := ms.Access(latch)
		Expect(int64(result.Latch.Result)).To(BeEquivalentTo(-1))
	})

	It("services a store directly to memory when no dcache is configured", func() {
		mem := emu.NewMemory(64)
		ms := pipeline.NewMemoryStage(mem, nil, nil)

		latch := pipeline.EXMEMLatch{Valid: true, Inst: &insts.Instruction{Op: insts.OpSB, Format: insts.FormatS}, ALUResult: 4, StoreValue: 0x42}
		ms.Access(latch)
		Expect(mem.Read8(4)).To(Equal(uint8(0x42)))
	})
})

var _ = Describe("WritebackStage", func() {
	It("commits a result to the destination register", func() {
		regFile := &emu.RegFile{}
		ws := pipeline.NewWritebackStage(regFile)
		ws.Writeback(pipeline.MEMWBLatch{Valid: true, Inst: &insts.Instruction{Format: insts.FormatR, Rd: 4}, Result: 99})
		Expect(regFile.ReadReg(4)).To(BeEquivalentTo(99))
	})

	It("never writes to x0", func() {
		regFile := &emu.RegFile{}
		ws := pipeline.NewWritebackStage(regFile)
		ws.Writeback(pipeline.MEMWBLatch{Valid: true, Inst: &insts.Instruction{Format: insts.FormatR, Rd: 0}, Result: 99})
		Expect(regFile.ReadReg(0)).To(BeEquivalentTo(0))
	})
})
