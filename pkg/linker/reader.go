package linker

import (
	"os"

	"github.com/rv32ld/rv32ld/pkg/diag"
	"github.com/rv32ld/rv32ld/pkg/elf32"
)

// readObject opens path, validates its ELF32 ET_REL header, then submits
// every PROGBITS/NOBITS section to the Section Merger and resolves the
// object's own symbol table, all before the next input is even opened.
func (l *Linker) readObject(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return l.fatal(diag.NoFile, ErrNoFile, "opening %s: %v", path, err)
	}

	hdrBuf := make([]byte, elf32.EhdrSize)
	if _, err := f.ReadAt(hdrBuf, 0); err != nil {
		f.Close()
		return l.fatal(diag.NoFile, ErrNoFile, "reading ELF header of %s: %v", path, err)
	}

	if hdrBuf[elf32.EI_MAG0] != elf32.ELFMAG0 || hdrBuf[elf32.EI_MAG1] != elf32.ELFMAG1 ||
		hdrBuf[elf32.EI_MAG2] != elf32.ELFMAG2 || hdrBuf[elf32.EI_MAG3] != elf32.ELFMAG3 {
		f.Close()
		return l.fatal(diag.BadFile, ErrBadFile, "%s is not an ELF file", path)
	}
	if hdrBuf[elf32.EI_CLASS] != elf32.ELFCLASS32 {
		f.Close()
		return l.fatal(diag.BadFile, ErrBadFile, "%s is not a 32-bit ELF object", path)
	}

	order, err := elf32.ByteOrderOf(hdrBuf[elf32.EI_DATA])
	if err != nil {
		f.Close()
		return l.fatal(diag.BadFile, ErrBadFile, "%s has an invalid EI_DATA byte", path)
	}
	// The first successfully opened input establishes the output's
	// endianness; later inputs keep reading under their own order
	// regardless.
	if l.order == nil {
		l.order = order
	}

	hdr, err := elf32.DecodeEhdr(hdrBuf, order)
	if err != nil {
		f.Close()
		return l.fatal(diag.BadFile, ErrBadFile, "%s: %v", path, err)
	}
	if hdr.Type != elf32.ET_REL {
		f.Close()
		return l.fatal(diag.BadFile, ErrBadFile, "%s is not a relocatable (ET_REL) object", path)
	}
	if hdr.Machine != elf32.EM_RISCV {
		f.Close()
		return l.fatal(diag.BadFile, ErrBadFile, "%s does not target EM_RISCV", path)
	}

	obj := &InputObject{
		Path:        path,
		file:        f,
		Order:       order,
		Header:      hdr,
		SymtabIndex: -1,
	}
	objIdx := len(l.objects)
	l.objects = append(l.objects, obj)

	shdrBuf := make([]byte, elf32.ShdrSize)
	shdrs := make([]elf32.Shdr, hdr.Shnum)
	for i := 0; i < int(hdr.Shnum); i++ {
		if _, err := f.ReadAt(shdrBuf, int64(hdr.Shoff)+int64(i)*int64(elf32.ShdrSize)); err != nil {
			return l.fatal(diag.BadFile, ErrBadFile, "%s: reading section header %d: %v", path, i, err)
		}
		shdr, err := elf32.DecodeShdr(shdrBuf, order)
		if err != nil {
			return l.fatal(diag.BadFile, ErrBadFile, "%s: %v", path, err)
		}
		shdrs[i] = shdr
	}

	if int(hdr.Shstrndx) >= len(shdrs) {
		return l.fatal(diag.BadFile, ErrBadFile, "%s: e_shstrndx out of range", path)
	}
	shstrShdr := shdrs[hdr.Shstrndx]
	if shstrShdr.Type != elf32.SHT_STRTAB {
		l.diag.Emit(diag.Warning, "%s: section at e_shstrndx is not SHT_STRTAB", path)
	}
	shstrtab := make([]byte, shstrShdr.Size)
	if _, err := f.ReadAt(shstrtab, int64(shstrShdr.Offset)); err != nil {
		return l.fatal(diag.NoFile, ErrNoFile, "%s: reading section-header string table: %v", path, err)
	}
	obj.ShStrtab = shstrtab

	obj.Sections = make([]InputSection, len(shdrs))
	for i, shdr := range shdrs {
		elements := shdr.Size
		if shdr.EntSize > 0 {
			elements = shdr.Size / shdr.EntSize
		}
		obj.Sections[i] = InputSection{
			Name:         cString(shstrtab, shdr.Name),
			Shdr:         shdr,
			ObjectIndex:  objIdx,
			SectionIndex: i,
			Elements:     elements,
			MergedIndex:  -1,
		}
	}
	// The section-header string table was already read in full above;
	// hand its bytes to the section so Data never re-reads them.
	obj.Sections[hdr.Shstrndx].data = shstrtab
	obj.Sections[hdr.Shstrndx].loaded = true

	for i := range obj.Sections {
		sec := &obj.Sections[i]
		switch sec.Shdr.Type {
		case elf32.SHT_SYMTAB:
			if obj.SymtabIndex != -1 {
				l.diag.Emit(diag.Warning, "%s: duplicate SHT_SYMTAB section, ignoring %q", path, sec.Name)
				continue
			}
			if sec.Shdr.Flags&elf32.SHF_INFO_LINK == 0 {
				l.diag.Emit(diag.Warning, "%s: symbol table %q is missing SHF_INFO_LINK", path, sec.Name)
			}
			obj.SymtabIndex = i
		case elf32.SHT_PROGBITS, elf32.SHT_NOBITS:
			if err := l.mergeSection(objIdx, i); err != nil {
				return err
			}
		}
	}

	return l.resolveObjectSymbols(obj, objIdx)
}
