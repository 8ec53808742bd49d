package linker

import (
	"encoding/binary"
	"os"

	"github.com/rv32ld/rv32ld/pkg/diag"
	"github.com/rv32ld/rv32ld/pkg/elf32"
)

// executableWriter emits the ELF32 ET_EXEC output: program headers,
// segment contents, string tables, section headers, and finally the ELF
// header itself, patched in last now that every offset it references is
// known.
type executableWriter struct {
	l *Linker
	f *os.File

	phdrs         []elf32.Phdr
	allocSections []*MergedSection

	segEnd uint32

	strtabOffset, shstrtabOffset   uint32
	strtabNameIdx, shstrtabNameIdx int
	afterStrtabsOff                uint32

	shoff    uint32
	shnum    int
	shstrndx int
}

func (l *Linker) write() error {
	f, err := os.Create(l.config.OutputPath)
	if err != nil {
		return l.fatal(diag.NoFile, ErrNoFile, "creating %s: %v", l.config.OutputPath, err)
	}
	defer f.Close()

	w := &executableWriter{l: l, f: f}
	w.buildProgramHeaders()
	if err := w.writeSegments(); err != nil {
		return err
	}
	if err := w.writeStringTables(); err != nil {
		return err
	}
	if err := w.writeSectionHeaders(); err != nil {
		return err
	}
	return w.patchHeader()
}

// buildProgramHeaders builds one PT_LOAD per allocatable, non-empty
// merged section. p_offset is left at zero here; writeSegments fills it
// in once the segment layout is known.
func (w *executableWriter) buildProgramHeaders() {
	align := w.l.config.SegmentAlignment

	for _, m := range w.l.merged {
		if m.Flags&elf32.SHF_ALLOC == 0 || len(m.Children) == 0 {
			continue
		}

		filesz := m.MemSize
		if m.Type == elf32.SHT_NOBITS {
			filesz = 0
		}

		flags := uint32(elf32.PF_R)
		if m.Flags&elf32.SHF_WRITE != 0 {
			flags |= elf32.PF_W
		}
		if m.Flags&elf32.SHF_EXECINSTR != 0 {
			// Assignment, not |=: an executable section's segment is
			// PF_X only, never PF_X|PF_R|PF_W.
			flags = elf32.PF_X
		}

		w.phdrs = append(w.phdrs, elf32.Phdr{
			Type:   elf32.PT_LOAD,
			Vaddr:  m.VirtualAddress,
			Paddr:  m.VirtualAddress,
			Memsz:  m.MemSize,
			Filesz: filesz,
			Flags:  flags,
			Align:  align,
		})
		w.allocSections = append(w.allocSections, m)
	}
}

// writeSegments lays out and writes the content of every PT_LOAD segment,
// padding up to the segment alignment before each one (unconditionally,
// mirroring the Layout Engine's own padding rule) and writing each
// constituent input section's bytes at its translation offset within the
// segment. A section from an object whose byte order differs from the
// output's has its words re-encoded on the way out, so every multi-byte
// field in the output file, including the words the Relocator later
// patches, is in the chosen output endianness.
func (w *executableWriter) writeSegments() error {
	l := w.l
	align := l.config.SegmentAlignment

	segOff := uint32(elf32.EhdrSize) + uint32(len(w.phdrs))*uint32(elf32.PhdrSize)

	for i, m := range w.allocSections {
		segOff += align - (segOff % align)
		w.phdrs[i].Offset = segOff
		m.FileOffset = segOff

		if m.Type != elf32.SHT_NOBITS {
			for _, ref := range m.Children {
				obj := l.objects[ref.ObjectIndex]
				sec := &obj.Sections[ref.SectionIndex]
				data, err := sec.Data(obj)
				if err != nil {
					return l.fatal(diag.NoFile, ErrNoFile, "%s: reading section %q: %v", obj.Path, sec.Name, err)
				}
				if obj.Order != l.order {
					data = reorderWords(data, obj.Order, l.order)
				}
				if _, err := w.f.WriteAt(data, int64(segOff+sec.TranslationOffset)); err != nil {
					return l.fatal(diag.NoFile, ErrNoFile, "%s: %v", l.config.OutputPath, err)
				}
			}
		}

		segOff += w.phdrs[i].Filesz
	}

	w.segEnd = segOff
	return nil
}

// reorderWords re-encodes every aligned 4-byte word of data from its
// source byte order into the output byte order, returning a copy; the
// cached section buffer stays in its on-disk form. A trailing partial
// word is copied unchanged.
func reorderWords(data []byte, from, to binary.ByteOrder) []byte {
	out := make([]byte, len(data))
	copy(out, data)
	for i := 0; i+4 <= len(out); i += 4 {
		to.PutUint32(out[i:i+4], from.Uint32(out[i:i+4]))
	}
	return out
}

// writeStringTables writes the output .strtab then .shstrtab.
func (w *executableWriter) writeStringTables() error {
	l := w.l

	w.strtabNameIdx, _ = l.shstrtab.Add(".strtab")
	w.shstrtabNameIdx, _ = l.shstrtab.Add(".shstrtab")

	off := w.segEnd
	strtabBytes := l.globstrtab.Serialize()
	if _, err := w.f.WriteAt(strtabBytes, int64(off)); err != nil {
		return l.fatal(diag.NoFile, ErrNoFile, "%s: %v", l.config.OutputPath, err)
	}
	w.strtabOffset = off
	off += uint32(len(strtabBytes))

	shstrtabBytes := l.shstrtab.Serialize()
	if _, err := w.f.WriteAt(shstrtabBytes, int64(off)); err != nil {
		return l.fatal(diag.NoFile, ErrNoFile, "%s: %v", l.config.OutputPath, err)
	}
	w.shstrtabOffset = off
	off += uint32(len(shstrtabBytes))

	w.afterStrtabsOff = off
	return nil
}

// writeSectionHeaders writes the null header, one header per non-empty
// merged section, then .strtab's and .shstrtab's own headers.
func (w *executableWriter) writeSectionHeaders() error {
	l := w.l

	shdrs := []elf32.Shdr{{}}

	for _, m := range l.merged {
		if len(m.Children) == 0 {
			continue
		}
		_, nameOff := l.shstrtab.Lookup(m.NameIndex)
		shdrs = append(shdrs, elf32.Shdr{
			Name:      nameOff,
			Type:      m.Type,
			Flags:     m.Flags,
			Addr:      m.VirtualAddress,
			Offset:    m.FileOffset,
			Size:      m.MemSize,
			Link:      m.Link,
			Info:      m.Info,
			AddrAlign: m.AddrAlign,
			EntSize:   m.EntSize,
		})
	}

	_, strtabNameOff := l.shstrtab.Lookup(w.strtabNameIdx)
	shdrs = append(shdrs, elf32.Shdr{
		Name:      strtabNameOff,
		Type:      elf32.SHT_STRTAB,
		Offset:    w.strtabOffset,
		Size:      uint32(l.globstrtab.SerializedSize()),
		AddrAlign: 1,
	})

	_, shstrtabNameOff := l.shstrtab.Lookup(w.shstrtabNameIdx)
	shdrs = append(shdrs, elf32.Shdr{
		Name:      shstrtabNameOff,
		Type:      elf32.SHT_STRTAB,
		Offset:    w.shstrtabOffset,
		Size:      uint32(l.shstrtab.SerializedSize()),
		AddrAlign: 1,
	})
	w.shstrndx = len(shdrs) - 1

	w.shoff = w.afterStrtabsOff
	w.shnum = len(shdrs)

	for i, sh := range shdrs {
		b := elf32.EncodeShdr(sh, l.order)
		if _, err := w.f.WriteAt(b, int64(w.shoff)+int64(i)*int64(elf32.ShdrSize)); err != nil {
			return l.fatal(diag.NoFile, ErrNoFile, "%s: %v", l.config.OutputPath, err)
		}
	}
	return nil
}

// patchHeader writes the program header table and, last of all, the ELF
// header now that every field it references (e_shoff, e_entry, segment
// offsets) is known.
func (w *executableWriter) patchHeader() error {
	l := w.l

	for i, ph := range w.phdrs {
		b := elf32.EncodePhdr(ph, l.order)
		if _, err := w.f.WriteAt(b, int64(elf32.EhdrSize)+int64(i)*int64(elf32.PhdrSize)); err != nil {
			return l.fatal(diag.NoFile, ErrNoFile, "%s: %v", l.config.OutputPath, err)
		}
	}

	entry := uint32(0)
	if l.entryGlobalIndex != 0 {
		entry = l.globalSymbols[l.entryGlobalIndex-1].Value
	} else {
		l.diag.Emit(diag.Warning, "could not resolve entry point symbol %q", l.config.EntryLabel)
	}

	var ident [elf32.EI_NIDENT]byte
	ident[elf32.EI_MAG0] = elf32.ELFMAG0
	ident[elf32.EI_MAG1] = elf32.ELFMAG1
	ident[elf32.EI_MAG2] = elf32.ELFMAG2
	ident[elf32.EI_MAG3] = elf32.ELFMAG3
	ident[elf32.EI_CLASS] = elf32.ELFCLASS32
	ident[elf32.EI_VERSION] = elf32.EV_CURRENT
	if l.order == binary.BigEndian {
		ident[elf32.EI_DATA] = elf32.ELFDATA2MSB
	} else {
		ident[elf32.EI_DATA] = elf32.ELFDATA2LSB
	}
	if len(l.objects) > 0 {
		ident[elf32.EI_OSABI] = l.objects[0].Header.Ident[elf32.EI_OSABI]
		ident[elf32.EI_ABIVERSION] = l.objects[0].Header.Ident[elf32.EI_ABIVERSION]
	}

	hdr := elf32.Ehdr{
		Ident:     ident,
		Type:      elf32.ET_EXEC,
		Machine:   elf32.EM_RISCV,
		Version:   elf32.EV_CURRENT,
		Entry:     entry,
		Phoff:     elf32.EhdrSize,
		Shoff:     w.shoff,
		Ehsize:    elf32.EhdrSize,
		Phentsize: elf32.PhdrSize,
		Phnum:     uint16(len(w.phdrs)),
		Shentsize: elf32.ShdrSize,
		Shnum:     uint16(w.shnum),
		Shstrndx:  uint16(w.shstrndx),
	}

	b := elf32.EncodeEhdr(hdr, l.order)
	if _, err := w.f.WriteAt(b, 0); err != nil {
		return l.fatal(diag.NoFile, ErrNoFile, "%s: %v", l.config.OutputPath, err)
	}
	return nil
}
