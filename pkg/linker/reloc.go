package linker

import (
	"fmt"
	"os"
	"strings"

	"github.com/rv32ld/rv32ld/pkg/diag"
	"github.com/rv32ld/rv32ld/pkg/elf32"
)

// relocate is the Relocator: the final phase, run
// after the Executable Writer has produced a complete output file. It
// reopens that file for read/write and walks every input object's
// SHT_RELA sections, patching the already-written instruction words in
// place.
func (l *Linker) relocate() error {
	out, err := os.OpenFile(l.config.OutputPath, os.O_RDWR, 0)
	if err != nil {
		return l.fatal(diag.NoFile, ErrNoFile, "reopening %s for relocation: %v", l.config.OutputPath, err)
	}
	defer out.Close()

	for _, obj := range l.objects {
		for secIdx := range obj.Sections {
			sec := &obj.Sections[secIdx]
			if sec.Shdr.Type == elf32.SHT_REL {
				l.diag.Emit(diag.Warning, "%s: section %q carries REL relocations, which are not supported", obj.Path, sec.Name)
				continue
			}
			if sec.Shdr.Type != elf32.SHT_RELA {
				continue
			}
			if err := l.applyRelaSection(out, obj, sec); err != nil {
				return err
			}
		}
	}
	return nil
}

// applyRelaSection walks one SHT_RELA section's entries, each describing
// a patch to apply to sh_info's target section.
func (l *Linker) applyRelaSection(out *os.File, obj *InputObject, relaSec *InputSection) error {
	targetIdx := int(relaSec.Shdr.Info)
	if targetIdx < 0 || targetIdx >= len(obj.Sections) {
		l.diag.Emit(diag.Warning, "%s: relocation section %q targets an invalid section index", obj.Path, relaSec.Name)
		return nil
	}
	target := &obj.Sections[targetIdx]
	if target.MergedIndex < 0 {
		l.diag.Emit(diag.Warning, "%s: relocation section %q targets an unmerged section", obj.Path, relaSec.Name)
		return nil
	}
	merged := l.merged[target.MergedIndex]

	relaBytes, err := relaSec.Data(obj)
	if err != nil {
		return l.fatal(diag.NoFile, ErrNoFile, "%s: reading relocations for %q: %v", obj.Path, relaSec.Name, err)
	}

	entSize := relaSec.Shdr.EntSize
	if entSize == 0 {
		entSize = elf32.RelaSize
	}
	count := uint32(len(relaBytes)) / entSize

	for i := uint32(0); i < count; i++ {
		entBuf := relaBytes[i*entSize : i*entSize+elf32.RelaSize]
		rela, err := elf32.DecodeRela(entBuf, obj.Order)
		if err != nil {
			return l.fatal(diag.BadFile, ErrBadFile, "%s: %v", obj.Path, err)
		}

		symIdx := elf32.R_SYM(rela.Info)
		relType := elf32.R_TYPE(rela.Info)

		if symIdx >= uint32(len(obj.Symbols)) {
			l.diag.Emit(diag.Warning, "%s: %s+0x%x: relocation references invalid symbol index %d", obj.Path, relaSec.Name, rela.Offset, symIdx)
			continue
		}
		is := &obj.Symbols[symIdx]

		sym, _, ok := l.resolve(is, 0, true)
		if !ok {
			l.diag.Emit(diag.Error, "%s: %s+0x%x: undefined reference to %q", obj.Path, target.Name, rela.Offset, is.Name)
			continue
		}

		if rela.Offset+4 > target.Shdr.Size {
			l.diag.Emit(diag.Warning, "%s: %s+0x%x: relocation offset out of section bounds", obj.Path, target.Name, rela.Offset)
			continue
		}

		fileOff := merged.FileOffset + target.TranslationOffset + rela.Offset
		pc := merged.VirtualAddress + target.TranslationOffset + rela.Offset

		if err := l.patchRelocation(out, relType, fileOff, pc, sym.Value, rela.Addend); err != nil {
			return err
		}
	}
	return nil
}

// patchRelocation computes the relocated value and rewrites the
// four-byte instruction word at fileOff per the RV32 encoding of
// relType.
func (l *Linker) patchRelocation(out *os.File, relType uint32, fileOff, pc, symValue uint32, addend int32) error {
	buf := make([]byte, 4)
	if _, err := out.ReadAt(buf, int64(fileOff)); err != nil {
		return l.fatal(diag.NoFile, ErrNoFile, "%s: reading instruction to patch: %v", l.config.OutputPath, err)
	}
	word := instWord(l.order.Uint32(buf))

	switch relType {
	case elf32.R_RISCV_BRANCH:
		v := instWord(symValue + uint32(addend) - pc)
		word &= 0x01FFF07F
		word.setField(v.field(12, 1), 31, 1)
		word.setField(v.field(5, 6), 25, 6)
		word.setField(v.field(1, 4), 8, 4)
		word.setField(v.field(11, 1), 7, 1)

	case elf32.R_RISCV_JAL:
		v := instWord(symValue + uint32(addend) - pc)
		word &= 0x00000FFF
		word.setField(v.field(20, 1), 31, 1)
		word.setField(v.field(1, 10), 21, 10)
		word.setField(v.field(11, 1), 20, 1)
		word.setField(v.field(12, 8), 12, 8)

	case elf32.R_RISCV_HI20:
		v := symValue
		word = (word & 0xFFF) | instWord(v&0xFFFFF000)

	case elf32.R_RISCV_LO12_I:
		v := symValue
		word = (word & 0xFFFFF) | instWord((v&0xFFF)<<20)

	case elf32.R_RISCV_LO12_S:
		v := instWord(symValue + uint32(addend))
		word &= 0x01FFF07F
		word.setField(v.field(5, 7), 25, 7)
		word.setField(v.field(0, 5), 7, 5)

	default:
		l.diag.Emit(diag.Warning, "unsupported relocation type %d at file offset 0x%x, skipping", relType, fileOff)
		return nil
	}

	l.diag.Tracef("relocation type %d patched at file offset 0x%x: %s", relType, fileOff, renderInstructionBits(relocationBitFields(relType), uint32(word)))

	l.order.PutUint32(buf, uint32(word))
	if _, err := out.WriteAt(buf, int64(fileOff)); err != nil {
		return l.fatal(diag.NoFile, ErrNoFile, "%s: writing patched instruction: %v", l.config.OutputPath, err)
	}
	return nil
}

// relocationBitFields names the bit ranges relType's RV32 encoding
// assigns, high bit first, for --verbose tracing.
func relocationBitFields(relType uint32) []bitField {
	switch relType {
	case elf32.R_RISCV_BRANCH:
		return []bitField{
			{name: "imm[12]", begin: 31, width: 1},
			{name: "imm[10:5]", begin: 25, width: 6},
			{name: "imm[4:1]", begin: 8, width: 4},
			{name: "imm[11]", begin: 7, width: 1},
		}
	case elf32.R_RISCV_JAL:
		return []bitField{
			{name: "imm[20]", begin: 31, width: 1},
			{name: "imm[10:1]", begin: 21, width: 10},
			{name: "imm[11]", begin: 20, width: 1},
			{name: "imm[19:12]", begin: 12, width: 8},
		}
	case elf32.R_RISCV_HI20:
		return []bitField{
			{name: "imm[31:12]", begin: 12, width: 20},
			{name: "rd/opcode", begin: 0, width: 12},
		}
	case elf32.R_RISCV_LO12_I:
		return []bitField{
			{name: "imm[11:0]", begin: 20, width: 12},
			{name: "rs1/funct3/rd/opcode", begin: 0, width: 20},
		}
	case elf32.R_RISCV_LO12_S:
		return []bitField{
			{name: "imm[11:5]", begin: 25, width: 7},
			{name: "imm[4:0]", begin: 7, width: 5},
			{name: "opcode", begin: 0, width: 7},
		}
	default:
		return nil
	}
}

// renderInstructionBits formats the patched instruction word as a
// high-bit-first breakdown of relType's encoding fields for --verbose
// relocation tracing.
func renderInstructionBits(fields []bitField, word uint32) string {
	var b strings.Builder
	fmt.Fprintf(&b, "0x%08x", word)
	for _, f := range fields {
		fmt.Fprintf(&b, " %s=0x%x", f.name, f.extract(word))
	}
	return b.String()
}
