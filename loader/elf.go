// Package loader provides ELF binary loading for statically linked RISC-V
// executables.
package loader

import (
	"debug/elf"
	"fmt"
	"io"
)

// SegmentFlags represents memory protection flags for a segment.
type SegmentFlags uint32

const (
	// SegmentFlagExecute indicates the segment is executable.
	SegmentFlagExecute SegmentFlags = 1 << iota
	// SegmentFlagWrite indicates the segment is writable.
	SegmentFlagWrite
	// SegmentFlagRead indicates the segment is readable.
	SegmentFlagRead
)

// maxAddressable is the simulator's address ceiling: any segment whose
// virtual address plus memory size exceeds this is rejected, since the
// backing store and cache tag arithmetic are defined over a 32-bit
// address space.
const maxAddressable = uint64(1) << 32

// Segment represents a loadable segment from an ELF binary.
type Segment struct {
	// VirtAddr is the virtual address where this segment should be loaded.
	VirtAddr uint64
	// Data contains the segment contents from the file.
	Data []byte
	// MemSize is the size in memory (may be larger than len(Data) for BSS).
	MemSize uint64
	// Flags contains the segment protection flags.
	Flags SegmentFlags
}

// Program represents a loaded ELF program ready for execution.
type Program struct {
	// EntryPoint is the virtual address where execution should begin.
	EntryPoint uint64
	// Segments contains all loadable segments from the ELF file.
	Segments []Segment
	// InitialSP is the initial stack pointer value.
	InitialSP uint64
}

// LoadError wraps a failure encountered while parsing or validating an
// ELF binary.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("loader: %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Load parses a statically linked RISC-V ELF binary (32- or 64-bit) and
// returns a Program struct ready for loading into the simulator's
// backing memory. The caller supplies the memory size so InitialSP can
// be computed as the top of the address space (see StackTop).
func Load(path string, memorySize uint64) (*Program, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, &LoadError{Path: path, Err: fmt.Errorf("failed to open ELF file: %w", err)}
	}
	defer func() { _ = f.Close() }()

	if f.Class != elf.ELFCLASS64 && f.Class != elf.ELFCLASS32 {
		return nil, &LoadError{Path: path, Err: fmt.Errorf("unsupported ELF class: %v", f.Class)}
	}

	if f.Machine != elf.EM_RISCV {
		return nil, &LoadError{Path: path, Err: fmt.Errorf("not a RISC-V ELF file (machine type: %v)", f.Machine)}
	}

	prog := &Program{
		EntryPoint: f.Entry,
		InitialSP:  StackTop(memorySize),
	}

	for _, phdr := range f.Progs {
		if phdr.Type != elf.PT_LOAD {
			continue
		}

		if phdr.Vaddr+phdr.Memsz > maxAddressable {
			return nil, &LoadError{Path: path, Err: fmt.Errorf(
				"segment at 0x%x (size 0x%x) exceeds the 32-bit addressable limit", phdr.Vaddr, phdr.Memsz)}
		}

		data := make([]byte, phdr.Filesz)
		if phdr.Filesz > 0 {
			n, err := phdr.ReadAt(data, 0)
			if err != nil && err != io.EOF {
				return nil, &LoadError{Path: path, Err: fmt.Errorf("failed to read segment at 0x%x: %w", phdr.Vaddr, err)}
			}
			if uint64(n) != phdr.Filesz {
				return nil, &LoadError{Path: path, Err: fmt.Errorf(
					"short read for segment at 0x%x: got %d bytes, expected %d", phdr.Vaddr, n, phdr.Filesz)}
			}
		}

		var flags SegmentFlags
		if phdr.Flags&elf.PF_X != 0 {
			flags |= SegmentFlagExecute
		}
		if phdr.Flags&elf.PF_W != 0 {
			flags |= SegmentFlagWrite
		}
		if phdr.Flags&elf.PF_R != 0 {
			flags |= SegmentFlagRead
		}

		prog.Segments = append(prog.Segments, Segment{
			VirtAddr: phdr.Vaddr,
			Data:     data,
			MemSize:  phdr.Memsz,
			Flags:    flags,
		})
	}

	return prog, nil
}

// StackTop computes the initial stack pointer as the literal top of the
// backing memory's address space, rounded down to an 8-byte boundary.
// The stack occupies the top 1% of memory (see pipeline.Pipeline's
// per-cycle stack-overflow check), but SP itself starts at the very
// top, not at the floor of that region.
func StackTop(memorySize uint64) uint64 {
	return memorySize &^ 0x7
}
