package linker

import (
	"github.com/rv32ld/rv32ld/pkg/diag"
	"github.com/rv32ld/rv32ld/pkg/elf32"
)

// layout applies section and segment alignment to every merged section in
// declaration order, repairing overlapping, zero and misaligned virtual
// addresses with a warning. prevAlloc only ever points at the previous
// *allocatable* section: a non-allocatable merged section carries no
// meaningful virtual address, so it cannot participate in the overlap
// chain.
func (l *Linker) layout() {
	var prevAlloc *MergedSection

	for _, m := range l.merged {
		allocatable := m.Flags&elf32.SHF_ALLOC != 0

		align := m.AddrAlign
		if align == 0 {
			align = 1
		}
		effective := align
		if allocatable && l.config.SegmentAlignment > effective {
			effective = l.config.SegmentAlignment
		}
		if effective == 0 {
			effective = 1
		}

		// Unconditional: even a section whose size is already a multiple
		// of effective gains a full extra unit of padding.
		m.MemSize += effective - (m.MemSize % effective)

		if !allocatable {
			continue
		}

		if len(m.Children) == 0 {
			l.diag.Emit(diag.Warning, "merged section %q has no constituent sections", m.Name)
		}

		if prevAlloc != nil && m.VirtualAddress < prevAlloc.VirtualAddress+prevAlloc.MemSize {
			old := m.VirtualAddress
			m.VirtualAddress = prevAlloc.VirtualAddress + prevAlloc.MemSize
			l.diag.Emit(diag.Warning, "section %q at 0x%x overlaps %q, shifted to 0x%x", m.Name, old, prevAlloc.Name, m.VirtualAddress)
		}

		if m.VirtualAddress == 0 {
			l.diag.Emit(diag.Warning, "section %q has virtual address 0", m.Name)
		}

		if m.VirtualAddress%effective != 0 {
			old := m.VirtualAddress
			m.VirtualAddress += effective - (m.VirtualAddress % effective)
			l.diag.Emit(diag.Warning, "section %q virtual address 0x%x is misaligned, realigned to 0x%x", m.Name, old, m.VirtualAddress)
		}

		prevAlloc = m
	}
}
