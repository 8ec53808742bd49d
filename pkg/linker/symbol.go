package linker

import (
	"github.com/rv32ld/rv32ld/pkg/diag"
	"github.com/rv32ld/rv32ld/pkg/elf32"
)

// InputSymbol is one Elf32_Sym entry from an object's symbol table.
type InputSymbol struct {
	Sym  elf32.Sym
	Name string

	// GlobalIndex is 1-based; 0 means "not yet resolved" (doubling as the
	// same zero-sentinel SHN_UNDEF already uses on disk).
	GlobalIndex int
}

// GlobalSymbol is the linker's unified view of a symbol once every
// object's symbol table has been merged. NameIndex is the resolution key
// resolve() searches on; STName is the name's byte offset in the
// serialized global string table (the output's .strtab), i.e. its
// Elf32_Sym.st_name value; the writer itself emits no symbol table.
// They stay distinct because the interner index and the on-disk byte
// offset serve different readers.
type GlobalSymbol struct {
	NameIndex int
	STName    uint32
	Value     uint32
	Size      uint32
	Info      uint8
	Other     uint8
	// ShndxMerged is the owning MergedSection's OutputIndex.
	ShndxMerged int
}

// resolveObjectSymbols performs the per-object pass of the Symbol
// Resolver: every defined symbol in obj's symbol table whose section was
// merged is entered into the global symbol table with its value still relative
// to its owning merged section (rebaseSymbols converts this to an
// absolute virtual address once layout is final).
func (l *Linker) resolveObjectSymbols(obj *InputObject, objIdx int) error {
	if obj.SymtabIndex < 0 {
		return nil
	}

	symtabSec := &obj.Sections[obj.SymtabIndex]
	if int(symtabSec.Shdr.Link) >= len(obj.Sections) {
		return l.fatal(diag.BadFile, ErrBadFile, "%s: symbol table sh_link out of range", obj.Path)
	}
	strtabSec := &obj.Sections[symtabSec.Shdr.Link]
	strtabBytes, err := strtabSec.Data(obj)
	if err != nil {
		return l.fatal(diag.NoFile, ErrNoFile, "%s: reading string table: %v", obj.Path, err)
	}

	entSize := symtabSec.Shdr.EntSize
	if entSize == 0 {
		entSize = elf32.SymSize
	}
	count := symtabSec.Shdr.Size / entSize
	obj.Symbols = make([]InputSymbol, count)

	entBuf := make([]byte, elf32.SymSize)
	for i := uint32(0); i < count; i++ {
		if _, err := obj.file.ReadAt(entBuf, int64(symtabSec.Shdr.Offset)+int64(i)*int64(entSize)); err != nil {
			return l.fatal(diag.NoFile, ErrNoFile, "%s: reading symbol %d: %v", obj.Path, i, err)
		}
		sym, err := elf32.DecodeSym(entBuf, obj.Order)
		if err != nil {
			return l.fatal(diag.BadFile, ErrBadFile, "%s: %v", obj.Path, err)
		}

		is := &obj.Symbols[i]
		is.Sym = sym
		is.Name = cString(strtabBytes, sym.Name)

		if sym.Shndx == elf32.SHN_UNDEF {
			continue
		}
		if int(sym.Shndx) >= len(obj.Sections) {
			l.diag.Emit(diag.Warning, "%s: symbol %q references out-of-range section %d", obj.Path, is.Name, sym.Shndx)
			continue
		}

		owning := &obj.Sections[sym.Shndx]
		if owning.MergedIndex < 0 {
			continue
		}
		merged := l.merged[owning.MergedIndex]

		nameIdx, byteOff := l.globstrtab.Add(is.Name)
		l.globalSymbols = append(l.globalSymbols, GlobalSymbol{
			NameIndex:   nameIdx,
			STName:      byteOff,
			Value:       sym.Value + owning.TranslationOffset,
			Size:        sym.Size,
			Info:        sym.Info,
			Other:       sym.Other,
			ShndxMerged: merged.OutputIndex,
		})
		gidx := len(l.globalSymbols)
		is.GlobalIndex = gidx

		if l.entryGlobalIndex == 0 && nameIdx == l.entryNameIndex {
			l.entryGlobalIndex = gidx
		}
	}

	return nil
}

// rebaseSymbols runs once, after the Layout Engine assigns final virtual
// addresses, converting every GlobalSymbol.Value from a section-relative
// offset into an absolute virtual address.
func (l *Linker) rebaseSymbols() {
	for i := range l.globalSymbols {
		g := &l.globalSymbols[i]
		g.Value += l.merged[g.ShndxMerged].VirtualAddress
	}
}

// resolve looks up the global symbol an input symbol refers to, caching
// the result in is.GlobalIndex so repeated relocations against the same
// symbol skip the linear scan over the global symbol table. When
// useSymName is true the lookup key is is.Name (the Relocator's case);
// otherwise fallbackNameIndex is used directly.
func (l *Linker) resolve(is *InputSymbol, fallbackNameIndex int, useSymName bool) (*GlobalSymbol, int, bool) {
	if is.GlobalIndex != 0 {
		return &l.globalSymbols[is.GlobalIndex-1], is.GlobalIndex, true
	}

	key := fallbackNameIndex
	if useSymName && is.Name != "" {
		key, _ = l.globstrtab.Add(is.Name)
	}

	for i := range l.globalSymbols {
		if l.globalSymbols[i].NameIndex == key {
			is.GlobalIndex = i + 1
			return &l.globalSymbols[i], i + 1, true
		}
	}
	return nil, 0, false
}
