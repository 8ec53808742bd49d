package linker

import (
	"encoding/binary"
	"os"

	"github.com/rv32ld/rv32ld/pkg/elf32"
)

// InputObject is one on-disk relocatable ELF32 input, kept open for the
// lifetime of a Run so the Relocator can still read its section bytes
// after the Executable Writer has produced the output file.
type InputObject struct {
	Path   string
	file   *os.File
	Order  binary.ByteOrder
	Header elf32.Ehdr

	Sections []InputSection
	ShStrtab []byte

	// SymtabIndex is -1 if the object carries no SHT_SYMTAB section.
	SymtabIndex int
	Symbols     []InputSymbol
}

// InputSection is one Elf32_Shdr plus the bookkeeping the Section Merger
// and Relocator attach to it.
type InputSection struct {
	Name string
	Shdr elf32.Shdr

	ObjectIndex  int
	SectionIndex int

	Elements          uint32
	TranslationOffset uint32
	// MergedIndex is -1 until the Section Merger adopts this section (or
	// forever, for sections like SHT_SYMTAB/SHT_STRTAB that are never
	// merged into output).
	MergedIndex int
	ChildIndex  int

	data   []byte
	loaded bool
}

// Data returns the section's on-disk bytes, reading them from obj's file
// on first use and caching the result. SHT_NOBITS sections never touch
// disk: their content is an in-memory zero-fill.
func (s *InputSection) Data(obj *InputObject) ([]byte, error) {
	if s.loaded {
		return s.data, nil
	}
	if s.Shdr.Type == elf32.SHT_NOBITS {
		s.data = make([]byte, s.Shdr.Size)
		s.loaded = true
		return s.data, nil
	}

	buf := make([]byte, s.Shdr.Size)
	if _, err := obj.file.ReadAt(buf, int64(s.Shdr.Offset)); err != nil {
		return nil, err
	}
	s.data = buf
	s.loaded = true
	return buf, nil
}

// cString reads a NUL-terminated string out of a string-table buffer at
// offset, the same lookup every Elf32_Shdr.sh_name / Elf32_Sym.st_name
// field needs.
func cString(buf []byte, offset uint32) string {
	if int(offset) >= len(buf) {
		return ""
	}
	end := offset
	for end < uint32(len(buf)) && buf[end] != 0 {
		end++
	}
	return string(buf[offset:end])
}
