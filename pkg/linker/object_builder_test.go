package linker

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rv32ld/rv32ld/pkg/elf32"
)

// The helpers in this file build small, real ELF32 ET_REL byte streams
// in memory using pkg/elf32's encoders in reverse,
// so the integration tests in linker_test.go exercise the Reader,
// Merger, Resolver, Writer and Relocator against bytes a real
// assembler/linker toolchain would produce, not hand-rolled structs.

type testSection struct {
	name    string
	typ     uint32
	flags   uint32
	align   uint32
	entsize uint32
	data    []byte
}

type testSymbol struct {
	name  string
	value uint32
	size  uint32
	info  uint8
	shndx uint16 // overall section index, or elf32.SHN_UNDEF
}

type testRela struct {
	offset uint32
	sym    uint32 // 1-based index into the symbols slice
	typ    uint32
	addend int32
}

type testRelaGroup struct {
	name          string
	targetSection string
	entries       []testRela
}

// buildObject assembles a complete ET_REL byte stream: section-header
// string table, symbol table + its string table, arbitrary PROGBITS/
// NOBITS sections, and RELA relocation sections, laid out the way a
// real `as`/`ld` would (header, then section contents, then the
// section header table at the end).
func buildObject(t *testing.T, order binary.ByteOrder, sections []testSection, symbols []testSymbol, relaGroups []testRelaGroup) []byte {
	t.Helper()

	type nameTable struct {
		offsets map[string]uint32
		buf     []byte
	}
	newNameTable := func() *nameTable {
		return &nameTable{offsets: map[string]uint32{}, buf: []byte{0}}
	}
	add := func(nt *nameTable, name string) uint32 {
		if off, ok := nt.offsets[name]; ok {
			return off
		}
		off := uint32(len(nt.buf))
		nt.offsets[name] = off
		nt.buf = append(nt.buf, []byte(name)...)
		nt.buf = append(nt.buf, 0)
		return off
	}

	shstr := newNameTable()
	add(shstr, "") // index 0 convention, ignored
	for _, s := range sections {
		add(shstr, s.name)
	}
	add(shstr, ".symtab")
	add(shstr, ".strtab")
	for _, g := range relaGroups {
		add(shstr, g.name)
	}
	add(shstr, ".shstrtab")

	strtab := newNameTable()
	for _, sym := range symbols {
		add(strtab, sym.name)
	}

	// Overall section index assignment: 0=null, then user sections in
	// order, then .symtab, .strtab, each rela group, then .shstrtab.
	symtabIdx := uint32(1 + len(sections))
	strtabIdx := symtabIdx + 1
	firstRelaIdx := strtabIdx + 1
	shstrtabIdx := firstRelaIdx + uint32(len(relaGroups))

	relaIdxByName := map[string]uint32{}
	for i, g := range relaGroups {
		relaIdxByName[g.name] = firstRelaIdx + uint32(i)
	}
	sectionIdxByName := map[string]uint32{}
	for i, s := range sections {
		sectionIdxByName[s.name] = uint32(1 + i)
	}

	// Encode the symbol table.
	symtabBuf := make([]byte, 0, (len(symbols)+1)*elf32.SymSize)
	symtabBuf = append(symtabBuf, elf32.EncodeSym(elf32.Sym{}, order)...) // index 0: null symbol
	for _, sym := range symbols {
		symtabBuf = append(symtabBuf, elf32.EncodeSym(elf32.Sym{
			Name:  add(strtab, sym.name),
			Value: sym.value,
			Size:  sym.size,
			Info:  sym.info,
			Shndx: sym.shndx,
		}, order)...)
	}

	// Encode each RELA group's entries.
	relaBufs := make([][]byte, len(relaGroups))
	for i, g := range relaGroups {
		buf := make([]byte, 0, len(g.entries)*elf32.RelaSize)
		for _, r := range g.entries {
			b := make([]byte, elf32.RelaSize)
			order.PutUint32(b[0:4], r.offset)
			order.PutUint32(b[4:8], elf32.R_INFO(r.sym, r.typ))
			order.PutUint32(b[8:12], uint32(r.addend))
			buf = append(buf, b...)
		}
		relaBufs[i] = buf
	}

	// Lay out file content after the Ehdr.
	cursor := uint32(elf32.EhdrSize)
	sectionOffsets := make([]uint32, len(sections))
	for i, s := range sections {
		if s.typ == elf32.SHT_NOBITS {
			sectionOffsets[i] = cursor
			continue
		}
		sectionOffsets[i] = cursor
		cursor += uint32(len(s.data))
	}

	symtabOff := cursor
	cursor += uint32(len(symtabBuf))
	strtabOff := cursor
	cursor += uint32(len(strtab.buf))

	relaOffsets := make([]uint32, len(relaGroups))
	for i := range relaGroups {
		relaOffsets[i] = cursor
		cursor += uint32(len(relaBufs[i]))
	}

	shstrtabOff := cursor
	cursor += uint32(len(shstr.buf))

	shoff := cursor
	totalShnum := 1 + len(sections) + 2 + len(relaGroups) + 1

	// Assemble the final buffer.
	out := make([]byte, shoff+uint32(totalShnum)*elf32.ShdrSize)

	writeAt := func(off uint32, b []byte) { copy(out[off:], b) }

	for i, s := range sections {
		if s.typ != elf32.SHT_NOBITS {
			writeAt(sectionOffsets[i], s.data)
		}
	}
	writeAt(symtabOff, symtabBuf)
	writeAt(strtabOff, strtab.buf)
	for i := range relaGroups {
		writeAt(relaOffsets[i], relaBufs[i])
	}
	writeAt(shstrtabOff, shstr.buf)

	// Section headers.
	shdrs := make([]elf32.Shdr, totalShnum)
	shdrs[0] = elf32.Shdr{}
	for i, s := range sections {
		size := uint32(len(s.data))
		shdrs[1+i] = elf32.Shdr{
			Name:      shstr.offsets[s.name],
			Type:      s.typ,
			Flags:     s.flags,
			Offset:    sectionOffsets[i],
			Size:      size,
			AddrAlign: s.align,
			EntSize:   s.entsize,
		}
	}
	shdrs[symtabIdx] = elf32.Shdr{
		Name:      shstr.offsets[".symtab"],
		Type:      elf32.SHT_SYMTAB,
		Flags:     elf32.SHF_INFO_LINK,
		Offset:    symtabOff,
		Size:      uint32(len(symtabBuf)),
		Link:      strtabIdx,
		Info:      1,
		AddrAlign: 4,
		EntSize:   elf32.SymSize,
	}
	shdrs[strtabIdx] = elf32.Shdr{
		Name:      shstr.offsets[".strtab"],
		Type:      elf32.SHT_STRTAB,
		Offset:    strtabOff,
		Size:      uint32(len(strtab.buf)),
		AddrAlign: 1,
	}
	for i, g := range relaGroups {
		shdrs[firstRelaIdx+uint32(i)] = elf32.Shdr{
			Name:      shstr.offsets[g.name],
			Type:      elf32.SHT_RELA,
			Offset:    relaOffsets[i],
			Size:      uint32(len(relaBufs[i])),
			Link:      symtabIdx,
			Info:      sectionIdxByName[g.targetSection],
			AddrAlign: 4,
			EntSize:   elf32.RelaSize,
		}
	}
	shdrs[shstrtabIdx] = elf32.Shdr{
		Name:      shstr.offsets[".shstrtab"],
		Type:      elf32.SHT_STRTAB,
		Offset:    shstrtabOff,
		Size:      uint32(len(shstr.buf)),
		AddrAlign: 1,
	}

	for i, sh := range shdrs {
		writeAt(shoff+uint32(i)*elf32.ShdrSize, elf32.EncodeShdr(sh, order))
	}

	var eiData byte = elf32.ELFDATA2LSB
	if order == binary.BigEndian {
		eiData = elf32.ELFDATA2MSB
	}

	var ident [elf32.EI_NIDENT]byte
	ident[elf32.EI_MAG0] = elf32.ELFMAG0
	ident[elf32.EI_MAG1] = elf32.ELFMAG1
	ident[elf32.EI_MAG2] = elf32.ELFMAG2
	ident[elf32.EI_MAG3] = elf32.ELFMAG3
	ident[elf32.EI_CLASS] = elf32.ELFCLASS32
	ident[elf32.EI_VERSION] = elf32.EV_CURRENT
	ident[elf32.EI_DATA] = eiData

	ehdr := elf32.Ehdr{
		Ident:     ident,
		Type:      elf32.ET_REL,
		Machine:   elf32.EM_RISCV,
		Version:   elf32.EV_CURRENT,
		Ehsize:    elf32.EhdrSize,
		Shentsize: elf32.ShdrSize,
		Shnum:     uint16(totalShnum),
		Shoff:     shoff,
		Shstrndx:  uint16(shstrtabIdx),
	}
	writeAt(0, elf32.EncodeEhdr(ehdr, order))

	require.Len(t, out, int(shoff)+totalShnum*elf32.ShdrSize)
	return out
}

// writeObjectFile writes data to a freshly created file under t.TempDir
// and returns its path.
func writeObjectFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}
