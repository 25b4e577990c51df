package pipeline

import (
	"fmt"
	"io"

	"github.com/sarchlab/rv5sim/insts"
)

// CycleSnapshot records the decode-stage occupant's address and
// disassembly together with a full register-file snapshot, taken at
// the end of one cycle — after WriteBack has already committed this
// cycle's result, matching the reverse stage-evaluation order Tick
// uses. Valid is false on a cycle where Decode held no instruction (a
// bubble or a stall), and such cycles are skipped by Dump.
type CycleSnapshot struct {
	Cycle       uint64
	PC          uint64
	Disassembly string
	Regs        [32]uint64
	Valid       bool
}

// History accumulates a CycleSnapshot per cycle. It is opt-in (see
// WithHistory) since recording has a real memory cost on long runs.
type History struct {
	snapshots []CycleSnapshot
}

// Snapshots returns the recorded per-cycle history.
func (h *History) Snapshots() []CycleSnapshot { return h.snapshots }

func (h *History) record(cycle uint64, p *Pipeline) {
	snap := CycleSnapshot{Cycle: cycle, Regs: p.regFile.X}
	if p.idex.Valid {
		snap.Valid = true
		snap.PC = p.idex.PC
		snap.Disassembly = disassemble(p.idex.Inst)
	}
	h.snapshots = append(h.snapshots, snap)
}

// disassemble renders a decoded instruction's mnemonic and operands
// using plain xN register numbering, matching the register names
// reported in the CPU state block of the same dump.
func disassemble(inst *insts.Instruction) string {
	switch inst.Format {
	case insts.FormatR:
		return fmt.Sprintf("%s x%d, x%d, x%d", inst.Op, inst.Rd, inst.Rs1, inst.Rs2)
	case insts.FormatI:
		return fmt.Sprintf("%s x%d, x%d, %d", inst.Op, inst.Rd, inst.Rs1, inst.Imm)
	case insts.FormatS:
		return fmt.Sprintf("%s x%d, %d(x%d)", inst.Op, inst.Rs2, inst.Imm, inst.Rs1)
	case insts.FormatSB:
		return fmt.Sprintf("%s x%d, x%d, %d", inst.Op, inst.Rs1, inst.Rs2, inst.Imm)
	case insts.FormatU:
		return fmt.Sprintf("%s x%d, 0x%x", inst.Op, inst.Rd, uint64(inst.Imm))
	case insts.FormatUJ:
		return fmt.Sprintf("%s x%d, %d", inst.Op, inst.Rd, inst.Imm)
	default:
		return inst.Op.String()
	}
}

// Dump writes the recorded history in the simulator's documented
// format: one "PC: disassembly" line per cycle that had an instruction
// in Decode, each followed by a register snapshot block delimited by
// "--- CPU STATE ---".
func (h *History) Dump(w io.Writer) error {
	for _, s := range h.snapshots {
		if !s.Valid {
			continue
		}
		if _, err := fmt.Fprintf(w, "0x%08x: %s\n", s.PC, s.Disassembly); err != nil {
			return err
		}
		if err := dumpRegs(w, s); err != nil {
			return err
		}
	}
	return nil
}

func dumpRegs(w io.Writer, s CycleSnapshot) error {
	if _, err := fmt.Fprintln(w, "--- CPU STATE ---"); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "PC: 0x%x\n", s.PC); err != nil {
		return err
	}
	for i := 0; i < 32; i++ {
		sep := " "
		if i%4 == 3 {
			sep = "\n"
		}
		if _, err := fmt.Fprintf(w, "x%d: 0x%08x(%d)%s", i, s.Regs[i], s.Regs[i], sep); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintln(w, "--- CPU STATE ---"); err != nil {
		return err
	}
	return nil
}
