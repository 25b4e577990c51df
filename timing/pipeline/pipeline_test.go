package pipeline_test

import (
	"bytes"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/rv5sim/emu"
	"github.com/sarchlab/rv5sim/timing/pipeline"
)

const (
	opOpImm  = 0x13
	opOp     = 0x33
	opBranch = 0x63
	opSystem = 0x73
)

var _ = Describe("Pipeline", func() {
	It("retires a straight-line sequence and exits via ECALL", func() {
		mem := emu.NewMemory(256)
		regFile := &emu.RegFile{}
		regFile.WriteReg(2, uint64(mem.Size()))

		var pc uint32
		write := func(word uint32) {
			mem.Write32(uint64(pc), word)
			pc += 4
		}
		write(encodeI(opOpImm, 0, 1, 0, 5))   // ADDI x1, x0, 5
		write(encodeI(opOpImm, 0, 5, 0, 7))   // ADDI x5, x0, 7
		write(encodeR(opOp, 0, 0, 3, 1, 5))   // ADD x3, x1, x5  (=12)
		write(encodeI(opOpImm, 0, 10, 3, 0))  // ADDI x10, x3, 0 (a0 = 12)
		write(encodeI(opOpImm, 0, 17, 0, 93)) // ADDI x17, x0, 93 (a7 = exit)
		write(encodeI(opSystem, 0, 0, 0, 0))  // ECALL

		p := pipeline.NewPipeline(regFile, mem, 0)
		p.Run(200)

		Expect(p.Halted()).To(BeTrue())
		Expect(p.ExitCode()).To(BeEquivalentTo(12))
		Expect(p.Stats().Instructions).To(BeEquivalentTo(6))
	})

	It("stalls Decode on a load-use RAW hazard instead of forwarding", func() {
		mem := emu.NewMemory(256)
		regFile := &emu.RegFile{}
		regFile.WriteReg(2, uint64(mem.Size()))
		mem.Write32(64, 0x2A)

		var pc uint32
		write := func(word uint32) {
			mem.Write32(uint64(pc), word)
			pc += 4
		}
		write(encodeI(opOpImm, 0, 1, 0, 64))         // ADDI x1, x0, 64
		write(encodeI(0x03, 0b010, 5, 1, 0))         // LW x5, 0(x1)
		write(encodeR(opOp, 0, 0, 3, 5, 0))          // ADD x3, x5, x0 -- depends on x5
		write(encodeI(opOpImm, 0, 10, 3, 0))         // ADDI x10, x3, 0
		write(encodeI(opOpImm, 0, 17, 0, 93))        // ADDI x17, x0, 93
		write(encodeI(opSystem, 0, 0, 0, 0))         // ECALL

		p := pipeline.NewPipeline(regFile, mem, 0)
		p.Run(200)

		Expect(p.Halted()).To(BeTrue())
		Expect(p.ExitCode()).To(BeEquivalentTo(0x2A))
		Expect(p.Stats().Stalls).To(BeNumerically(">", 0))
	})

	It("executes the fallthrough path when a conditional branch is not taken", func() {
		mem := emu.NewMemory(256)
		regFile := &emu.RegFile{}
		regFile.WriteReg(2, uint64(mem.Size()))

		mem.Write32(0, encodeI(opOpImm, 0, 1, 0, 1))        // ADDI x1, x0, 1
		mem.Write32(4, encodeSB(opBranch, 0b000, 1, 0, 12)) // BEQ x1, x0, +12 -- not taken (x1=1 != 0)
		mem.Write32(8, encodeI(opOpImm, 0, 4, 0, 0xAA))     // ADDI x4, x0, 0xAA (fallthrough, executes)
		mem.Write32(12, encodeI(opOpImm, 0, 10, 4, 0))      // ADDI x10, x4, 0 (a0 = x4)
		mem.Write32(16, encodeI(opOpImm, 0, 17, 0, 93))     // ADDI x17, x0, 93
		mem.Write32(20, encodeI(opSystem, 0, 0, 0, 0))      // ECALL

		p := pipeline.NewPipeline(regFile, mem, 0)
		p.Run(200)

		Expect(p.Halted()).To(BeTrue())
		Expect(p.ExitCode()).To(BeEquivalentTo(0xAA))
	})

	It("squashes the wrong-path instructions on a taken branch and redirects fetch", func() {
		mem := emu.NewMemory(256)
		regFile := &emu.RegFile{}
		regFile.WriteReg(2, uint64(mem.Size()))

		mem.Write32(0, encodeI(opOpImm, 0, 1, 0, 0))        // ADDI x1, x0, 0
		mem.Write32(4, encodeSB(opBranch, 0b000, 1, 0, 12)) // BEQ x1, x0, +12 -- taken, target 0x10
		mem.Write32(8, encodeI(opOpImm, 0, 4, 0, 0xAA))     // wrong path, must be squashed
		mem.Write32(12, encodeI(opOpImm, 0, 4, 0, 0xBB))    // wrong path, must be squashed
		mem.Write32(16, encodeI(opOpImm, 0, 4, 0, 7))       // ADDI x4, x0, 7 (branch target)
		mem.Write32(20, encodeI(opOpImm, 0, 10, 4, 0))      // ADDI x10, x4, 0
		mem.Write32(24, encodeI(opOpImm, 0, 17, 0, 93))     // ADDI x17, x0, 93
		mem.Write32(28, encodeI(opSystem, 0, 0, 0, 0))      // ECALL

		p := pipeline.NewPipeline(regFile, mem, 0)
		p.Run(200)

		Expect(p.Halted()).To(BeTrue())
		Expect(p.ExitCode()).To(BeEquivalentTo(7))
	})

	It("jumps via JAL, always flushing the sequential instruction it skips", func() {
		mem := emu.NewMemory(256)
		regFile := &emu.RegFile{}
		regFile.WriteReg(2, uint64(mem.Size()))

		mem.Write32(0, encodeUJ(0x6F, 1, 12))           // JAL x1, +12 -> target 0xC, skips 0x4 and 0x8
		mem.Write32(4, encodeI(opOpImm, 0, 10, 0, 0xFF)) // ADDI x10, x0, 0xFF -- must be squashed
		mem.Write32(8, encodeI(opOpImm, 0, 10, 0, 0xFF)) // same
		mem.Write32(12, encodeI(opOpImm, 0, 10, 0, 7))  // ADDI x10, x0, 7
		mem.Write32(16, encodeI(opOpImm, 0, 17, 0, 93)) // ADDI x17, x0, 93
		mem.Write32(20, encodeI(opSystem, 0, 0, 0, 0))  // ECALL

		p := pipeline.NewPipeline(regFile, mem, 0)
		p.Run(200)

		Expect(p.Halted()).To(BeTrue())
		Expect(p.ExitCode()).To(BeEquivalentTo(7))
	})

	It("reports cache access latency informationally without ever stalling on it", func() {
		mem := emu.NewMemory(256)
		regFile := &emu.RegFile{}
		regFile.WriteReg(2, uint64(mem.Size()))

		mem.Write32(0, encodeI(opOpImm, 0, 1, 0, 64))
		mem.Write32(4, encodeI(0x03, 0b010, 5, 1, 0))       // LW x5, 0(x1)
		mem.Write32(8, encodeI(opOpImm, 0, 10, 5, 0))
		mem.Write32(12, encodeI(opOpImm, 0, 17, 0, 93))
		mem.Write32(16, encodeI(opSystem, 0, 0, 0, 0))
		mem.Write64(64, 9)

		p := pipeline.NewPipeline(regFile, mem, 0)
		p.Run(200)

		Expect(p.Halted()).To(BeTrue())
		Expect(p.Stats().CacheLatencyCycles).To(BeEquivalentTo(0)) // no cache configured: no latency reported
	})

	It("halts with exit code 1 on an undecodable instruction", func() {
		mem := emu.NewMemory(64)
		mem.Write32(0, 0x0000007F) // unrecognized opcode
		regFile := &emu.RegFile{}
		regFile.WriteReg(2, uint64(mem.Size()))

		p := pipeline.NewPipeline(regFile, mem, 0)
		p.Run(50)

		Expect(p.Halted()).To(BeTrue())
		Expect(p.ExitCode()).To(BeEquivalentTo(1))
	})

	It("halts fatally if x0 is ever observed non-zero", func() {
		mem := emu.NewMemory(256)
		regFile := &emu.RegFile{}
		regFile.WriteReg(2, uint64(mem.Size()))
		regFile.X[0] = 1 // bypasses the WriteReg guard, mirroring a corrupted register file

		p := pipeline.NewPipeline(regFile, mem, 0)
		p.Run(10)

		Expect(p.Halted()).To(BeTrue())
		Expect(p.ExitCode()).To(BeEquivalentTo(1))
	})

	It("halts fatally when fetch targets an unaligned PC", func() {
		mem := emu.NewMemory(64)
		regFile := &emu.RegFile{}
		regFile.WriteReg(2, uint64(mem.Size()))

		p := pipeline.NewPipeline(regFile, mem, 1) // odd entry PC
		p.Run(10)

		Expect(p.Halted()).To(BeTrue())
		Expect(p.ExitCode()).To(BeEquivalentTo(1))
	})

	It("halts fatally when the stack pointer underflows its floor", func() {
		mem := emu.NewMemory(256)
		regFile := &emu.RegFile{}
		regFile.WriteReg(2, 1) // far below the top-1% stack floor

		p := pipeline.NewPipeline(regFile, mem, 0)
		p.Run(10)

		Expect(p.Halted()).To(BeTrue())
		Expect(p.ExitCode()).To(BeEquivalentTo(1))
	})

	It("respects WithMaxInstructions on an infinite loop", func() {
		mem := emu.NewMemory(64)
		mem.Write32(0, encodeUJ(0x6F, 0, 0)) // JAL x0, +0: infinite self-loop
		regFile := &emu.RegFile{}
		regFile.WriteReg(2, uint64(mem.Size()))

		p := pipeline.NewPipeline(regFile, mem, 0, pipeline.WithMaxInstructions(10))
		p.Run(1000)

		Expect(p.Stats().Instructions).To(BeNumerically("<=", 10))
	})

	It("records a History dump in the documented PC/disassembly + CPU-state format", func() {
		mem := emu.NewMemory(64)
		mem.Write32(0, encodeI(opOpImm, 0, 1, 0, 1))
		mem.Write32(4, encodeI(opOpImm, 0, 17, 0, 93))
		mem.Write32(8, encodeI(opSystem, 0, 0, 0, 0))
		regFile := &emu.RegFile{}
		regFile.WriteReg(2, uint64(mem.Size()))

		p := pipeline.NewPipeline(regFile, mem, 0, pipeline.WithHistory())
		p.Run(50)

		var buf bytes.Buffer
		Expect(p.History().Dump(&buf)).To(Succeed())
		out := buf.String()

		Expect(out).To(ContainSubstring("0x00000000: ADDI x1, x0, 1"))
		Expect(out).To(ContainSubstring("--- CPU STATE ---"))
		Expect(out).To(ContainSubstring("PC: 0x0"))
		Expect(strings.Count(out, "--- CPU STATE ---")).To(BeNumerically(">=", 2))
	})
})
