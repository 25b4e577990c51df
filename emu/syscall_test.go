package emu_test

import (
	"bytes"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/rv5sim/emu"
)

var _ = Describe("DefaultSyscallHandler", func() {
	var (
		regFile *emu.RegFile
		memory  *emu.Memory
		stdout  *bytes.Buffer
		handler *emu.DefaultSyscallHandler
	)

	BeforeEach(func() {
		regFile = &emu.RegFile{}
		memory = emu.NewMemory(4096)
		stdout = &bytes.Buffer{}
		handler = emu.NewDefaultSyscallHandler(regFile, memory, stdout, stdout)
	})

	It("exits with the a0 status on SyscallExit", func() {
		regFile.WriteReg(17, emu.SyscallExit)
		regFile.WriteReg(10, 7)
		result := handler.Handle()
		Expect(result.Exited).To(BeTrue())
		Expect(result.ExitCode).To(BeEquivalentTo(7))
	})

	It("also exits on the Linux-compatible alias", func() {
		regFile.WriteReg(17, emu.SyscallExitAlt)
		regFile.WriteReg(10, 0)
		result := handler.Handle()
		Expect(result.Exited).To(BeTrue())
	})

	It("prints an int32 as decimal text", func() {
		regFile.WriteReg(17, emu.SyscallPrintInt)
		val := int64(-42)
		regFile.WriteReg(10, uint64(val)&0xFFFFFFFF)
		handler.Handle()
		Expect(stdout.String()).To(Equal("-42"))
	})

	It("reads a parsed decimal integer from stdin", func() {
		handler.SetStdin(strings.NewReader("-123 "))
		regFile.WriteReg(17, emu.SyscallReadLong)
		handler.Handle()
		Expect(int64(regFile.ReadReg(10))).To(BeEquivalentTo(-123))
	})

	It("returns -1 from ReadChar at EOF", func() {
		handler.SetStdin(strings.NewReader(""))
		regFile.WriteReg(17, emu.SyscallReadChar)
		handler.Handle()
		Expect(int64(regFile.ReadReg(10))).To(BeEquivalentTo(-1))
	})

	It("treats SyscallReserved as a documented no-op", func() {
		regFile.WriteReg(17, emu.SyscallReserved)
		regFile.WriteReg(10, 99)
		Expect(func() { handler.Handle() }).NotTo(Panic())
		Expect(regFile.ReadReg(10)).To(BeEquivalentTo(0))
	})

	It("panics with an ECallError on an unrecognized service number", func() {
		regFile.WriteReg(17, 0xFFFF)
		Expect(func() { handler.Handle() }).To(PanicWith(BeAssignableToTypeOf(&emu.ECallError{})))
	})
})
