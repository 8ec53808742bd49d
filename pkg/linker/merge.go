package linker

import "github.com/rv32ld/rv32ld/pkg/diag"

// ChildRef identifies one InputSection contributing to a MergedSection by
// arena indices (object index, section index within that object)
// rather than a pointer, so a MergedSection's children survive its parent
// InputObject's Sections slice being addressed independently.
type ChildRef struct {
	ObjectIndex  int
	SectionIndex int
}

// MergedSection aggregates every input section sharing a name into one
// contiguous output section.
type MergedSection struct {
	Name        string
	NameIndex   int
	OutputIndex int

	VirtualAddress uint32
	MemSize        uint32
	FileOffset     uint32

	Children []ChildRef

	// Type, Flags, AddrAlign, EntSize, Link and Info are copied from the
	// first child section; Type, Flags and AddrAlign are validated against
	// every subsequent one.
	Type      uint32
	Flags     uint32
	AddrAlign uint32
	EntSize   uint32
	Link      uint32
	Info      uint32
}

func (l *Linker) lastChildSection(m *MergedSection) *InputSection {
	ref := m.Children[len(m.Children)-1]
	return &l.objects[ref.ObjectIndex].Sections[ref.SectionIndex]
}

// mergeSection adopts the section at (objIdx, secIdx) into the
// MergedSection matching its name, creating that MergedSection if this is
// the first section seen under the name. A non-first child must agree
// with the merged section's type, flags and alignment; a mismatch is a
// BadSection fatal condition, not a warning.
func (l *Linker) mergeSection(objIdx, secIdx int) error {
	obj := l.objects[objIdx]
	sec := &obj.Sections[secIdx]

	outIdx, exists := l.mergedByName[sec.Name]
	var m *MergedSection
	if !exists {
		nameIdx, _ := l.shstrtab.Add(sec.Name)
		m = &MergedSection{
			Name:        sec.Name,
			NameIndex:   nameIdx,
			OutputIndex: len(l.merged),
		}
		if vaddr, ok := l.sectionConfig[sec.Name]; ok {
			m.VirtualAddress = vaddr
		}
		outIdx = m.OutputIndex
		l.mergedByName[sec.Name] = outIdx
		l.merged = append(l.merged, m)
	} else {
		m = l.merged[outIdx]
	}

	if len(m.Children) == 0 {
		sec.TranslationOffset = 0
		m.Type = sec.Shdr.Type
		m.Flags = sec.Shdr.Flags
		m.AddrAlign = sec.Shdr.AddrAlign
		m.EntSize = sec.Shdr.EntSize
		m.Link = sec.Shdr.Link
		m.Info = sec.Shdr.Info
		m.MemSize = sec.Shdr.Size
	} else {
		last := l.lastChildSection(m)
		if sec.Shdr.Type != m.Type || sec.Shdr.Flags != m.Flags || sec.Shdr.AddrAlign != m.AddrAlign {
			return l.fatal(diag.BadSection, ErrBadSection,
				"section %q in %s conflicts with the same-named section in %s (type/flags/alignment mismatch)",
				sec.Name, obj.Path, l.objects[last.ObjectIndex].Path)
		}
		sec.TranslationOffset = last.TranslationOffset + last.Shdr.Size
		m.MemSize += sec.Shdr.Size
	}

	sec.MergedIndex = outIdx
	sec.ChildIndex = len(m.Children)
	m.Children = append(m.Children, ChildRef{ObjectIndex: objIdx, SectionIndex: secIdx})
	return nil
}
