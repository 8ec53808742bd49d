package linker

import (
	"fmt"

	"github.com/rv32ld/rv32ld/pkg/diag"
	"github.com/rv32ld/rv32ld/pkg/elf32"
)

// fakeSink records every diagnostic emitted during a test instead of
// printing anything, so tests can assert on warning/error counts and
// messages without capturing stderr.
type fakeSink struct {
	items []fakeDiag
}

type fakeDiag struct {
	severity diag.Severity
	message  string
}

func (s *fakeSink) Emit(severity diag.Severity, format string, args ...any) {
	s.items = append(s.items, fakeDiag{severity: severity, message: fmt.Sprintf(format, args...)})
}

func (s *fakeSink) Tracef(format string, args ...any) {}

func (s *fakeSink) countSeverity(sev diag.Severity) int {
	n := 0
	for _, it := range s.items {
		if it.severity == sev {
			n++
		}
	}
	return n
}

// newTestLinker builds a Linker through New from cfg exactly as given
// (not layered on DefaultConfiguration), recording diagnostics in a
// fakeSink so a test controls every configuration field directly.
func newTestLinker(cfg Configuration) (*Linker, *fakeSink) {
	sink := &fakeSink{}
	l := New(cfg, sink)
	return l, sink
}

// newBareObject appends an empty InputObject (no backing file) to l and
// returns its index, for tests that only exercise the Section Merger or
// Layout Engine and never touch obj.file.
func newBareObject(l *Linker) int {
	obj := &InputObject{SymtabIndex: -1}
	idx := len(l.objects)
	l.objects = append(l.objects, obj)
	return idx
}

// addSection appends an InputSection to objects[objIdx] with the given
// shape and returns its section index within that object.
func addSection(l *Linker, objIdx int, name string, typ, flags, align, size uint32) int {
	obj := l.objects[objIdx]
	secIdx := len(obj.Sections)
	obj.Sections = append(obj.Sections, InputSection{
		Name: name,
		Shdr: elf32.Shdr{
			Type:      typ,
			Flags:     flags,
			AddrAlign: align,
			Size:      size,
		},
		ObjectIndex:  objIdx,
		SectionIndex: secIdx,
		Elements:     size,
		MergedIndex:  -1,
	})
	return secIdx
}
