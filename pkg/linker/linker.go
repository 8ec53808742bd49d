// Package linker implements the RV32 ELF32 static linker: section
// merging, symbol resolution and relocation application, built as a
// dependency-free library so cmd/link and cmd/mapview can drive it
// without pulling in cobra/viper/tview.
package linker

import (
	"encoding/binary"

	"github.com/rv32ld/rv32ld/pkg/diag"
)

// Linker is the explicit, per-run context: every subsystem (reader,
// merger, layout engine, resolver, writer, relocator) is a method on
// this value, so nothing is shared between two Linkers running in the
// same process.
type Linker struct {
	config Configuration
	diag   diag.Sink

	objects       []*InputObject
	merged        []*MergedSection
	mergedByName  map[string]int
	sectionConfig map[string]uint32

	shstrtab   *Interner
	globstrtab *Interner

	globalSymbols []GlobalSymbol

	order            binary.ByteOrder
	entryNameIndex   int
	entryGlobalIndex int // 0 until the entry symbol is entered
}

// New builds a Linker ready to Run against cfg, recording diagnostics to
// sink. pkg/linker never constructs its own diag.Diagnostics: the caller
// decides whether that means a colorized terminal sink, a log file, or a
// recording fake for tests.
func New(cfg Configuration, sink diag.Sink) *Linker {
	l := &Linker{
		config:        cfg,
		diag:          sink,
		mergedByName:  make(map[string]int),
		sectionConfig: make(map[string]uint32),
		shstrtab:      NewInterner(),
		globstrtab:    NewInterner(),
	}
	for _, s := range cfg.Sections {
		l.sectionConfig[s.Name] = s.VirtualAddress
	}

	// Pre-seed the merged section list in configuration order, so a
	// configured section's output position never depends on which input
	// happens to define it first; sections not named in the configuration
	// are appended later in first-seen order.
	// mergeSection fills in type/flags/children on first match;
	// a configured section no input ever populates stays an empty,
	// non-allocatable placeholder that the writer skips.
	for _, s := range cfg.Sections {
		if _, exists := l.mergedByName[s.Name]; exists {
			continue
		}
		nameIdx, _ := l.shstrtab.Add(s.Name)
		m := &MergedSection{
			Name:           s.Name,
			NameIndex:      nameIdx,
			OutputIndex:    len(l.merged),
			VirtualAddress: s.VirtualAddress,
		}
		l.mergedByName[s.Name] = m.OutputIndex
		l.merged = append(l.merged, m)
	}

	entry := cfg.EntryLabel
	if entry == "" {
		entry = "_start"
	}
	l.entryNameIndex, _ = l.globstrtab.Add(entry)

	return l
}

// Run executes the phases in a fixed order: Read (interleaved, per
// object, with Merge and the Symbol Resolver's per-object pass), Layout,
// Rebase, Write, Relocate. No phase re-enters an earlier one.
func (l *Linker) Run() error {
	if err := l.Prepare(); err != nil {
		return err
	}
	if err := l.write(); err != nil {
		return err
	}
	return l.relocate()
}

// Prepare runs every phase up to and including the Symbol Resolver's
// rebasing pass (Read, Merge, Layout, Rebase) without writing or
// patching any output file. `rv32ld map` uses this to inspect the final
// merged-section layout and global symbol table without needing write
// access to an output path.
func (l *Linker) Prepare() error {
	if err := l.validateConfig(); err != nil {
		return err
	}

	for _, path := range l.config.InputPaths {
		if err := l.readObject(path); err != nil {
			return err
		}
	}

	l.layout()
	l.rebaseSymbols()
	return nil
}

// Close releases every input file opened during Run. Safe to call even
// when Run returned an error partway through.
func (l *Linker) Close() {
	for _, obj := range l.objects {
		if obj.file != nil {
			obj.file.Close()
		}
	}
}

// MergedSections exposes the post-layout merged section list for `rv32ld
// map` and tests. Callers must not mutate the returned slice's elements.
func (l *Linker) MergedSections() []*MergedSection {
	return l.merged
}

// GlobalSymbols exposes the resolved global symbol table for `rv32ld map`.
func (l *Linker) GlobalSymbols() []GlobalSymbol {
	return l.globalSymbols
}

// SymbolName resolves a GlobalSymbol's display name out of the global
// symbol-name table.
func (l *Linker) SymbolName(g GlobalSymbol) string {
	name, _ := l.globstrtab.Lookup(g.NameIndex)
	return name
}

// ObjectPath returns the input path an object index was read from, for
// `rv32ld map`'s section detail view.
func (l *Linker) ObjectPath(objIndex int) string {
	if objIndex < 0 || objIndex >= len(l.objects) {
		return "?"
	}
	return l.objects[objIndex].Path
}

func (l *Linker) validateConfig() error {
	if len(l.config.InputPaths) == 0 {
		return l.fatal(diag.NoParam, ErrNoParam, "no input files specified")
	}
	if l.config.OutputPath == "" {
		return l.fatal(diag.BadParam, ErrBadParam, "output path must not be empty")
	}
	align := l.config.SegmentAlignment
	if align == 0 || align&(align-1) != 0 {
		return l.fatal(diag.BadParam, ErrBadParam, "segment alignment 0x%x must be a non-zero power of two", align)
	}
	return nil
}
