package linker

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rv32ld/rv32ld/pkg/diag"
	"github.com/rv32ld/rv32ld/pkg/elf32"
)

// TestRunTwoObjectsSharedSymbol links two objects: object A
// defines _start (a single JAL to main) and object B defines main.
// After linking, e_entry must land on _start's address and the JAL must
// be patched to jump to main's final address.
func TestRunTwoObjectsSharedSymbol(t *testing.T) {
	dir := t.TempDir()

	objA := buildObject(t, binary.LittleEndian,
		[]testSection{{name: ".text", typ: elf32.SHT_PROGBITS, flags: elf32.SHF_ALLOC | elf32.SHF_EXECINSTR, align: 4, data: make([]byte, 4)}},
		[]testSymbol{
			{name: "_start", value: 0, size: 4, info: elf32.STInfo(elf32.STB_GLOBAL, elf32.STT_FUNC), shndx: 1},
			{name: "main", value: 0, size: 0, info: elf32.STInfo(elf32.STB_GLOBAL, elf32.STT_NOTYPE), shndx: elf32.SHN_UNDEF},
		},
		[]testRelaGroup{{name: ".rela.text", targetSection: ".text", entries: []testRela{{offset: 0, sym: 2, typ: elf32.R_RISCV_JAL, addend: 0}}}},
	)
	objB := buildObject(t, binary.LittleEndian,
		[]testSection{{name: ".text", typ: elf32.SHT_PROGBITS, flags: elf32.SHF_ALLOC | elf32.SHF_EXECINSTR, align: 4, data: make([]byte, 4)}},
		[]testSymbol{{name: "main", value: 0, size: 4, info: elf32.STInfo(elf32.STB_GLOBAL, elf32.STT_FUNC), shndx: 1}},
		nil,
	)

	pathA := writeObjectFile(t, dir, "a.o", objA)
	pathB := writeObjectFile(t, dir, "b.o", objB)
	outPath := filepath.Join(dir, "a.out")

	cfg := Configuration{
		Sections:         []SectionConfig{{Name: ".text", VirtualAddress: 0x400000}},
		InputPaths:       []string{pathA, pathB},
		SegmentAlignment: 0x1000,
		EntryLabel:       "_start",
		OutputPath:       outPath,
	}

	l := New(cfg, &fakeSink{})
	defer l.Close()
	require.NoError(t, l.Run())

	merged := l.MergedSections()
	require.Len(t, merged, 1)
	assert.GreaterOrEqual(t, merged[0].MemSize, uint32(8))
	textFileOff := merged[0].FileOffset

	outBytes, err := os.ReadFile(outPath)
	require.NoError(t, err)

	hdr, err := elf32.DecodeEhdr(outBytes[:elf32.EhdrSize], binary.LittleEndian)
	require.NoError(t, err)
	assert.Equal(t, uint16(elf32.ET_EXEC), hdr.Type)
	assert.Equal(t, uint16(elf32.EM_RISCV), hdr.Machine)
	assert.Equal(t, uint32(0x400000), hdr.Entry)

	word := binary.LittleEndian.Uint32(outBytes[textFileOff : textFileOff+4])
	v := uint32(4) // main (0x400004) - _start (0x400000)
	expected := ((v >> 20 & 1) << 31) | ((v >> 1 & 0x3FF) << 21) | ((v >> 11 & 1) << 20) | ((v >> 12 & 0xFF) << 12)
	assert.Equal(t, expected, word)
}

// TestRunUndefinedSymbolIsErrorNotFatal checks that an
// HI20 relocation against a symbol undefined everywhere is an
// error-severity diagnostic, not a fatal abort; the output is still
// produced and the unresolved entry point falls back to 0.
func TestRunUndefinedSymbolIsErrorNotFatal(t *testing.T) {
	dir := t.TempDir()

	obj := buildObject(t, binary.LittleEndian,
		[]testSection{{name: ".text", typ: elf32.SHT_PROGBITS, flags: elf32.SHF_ALLOC | elf32.SHF_EXECINSTR, align: 4, data: make([]byte, 4)}},
		[]testSymbol{{name: "missing", value: 0, size: 0, info: elf32.STInfo(elf32.STB_GLOBAL, elf32.STT_NOTYPE), shndx: elf32.SHN_UNDEF}},
		[]testRelaGroup{{name: ".rela.text", targetSection: ".text", entries: []testRela{{offset: 0, sym: 1, typ: elf32.R_RISCV_HI20, addend: 0}}}},
	)
	path := writeObjectFile(t, dir, "a.o", obj)
	outPath := filepath.Join(dir, "a.out")

	cfg := Configuration{
		Sections:         []SectionConfig{{Name: ".text", VirtualAddress: 0x400000}},
		InputPaths:       []string{path},
		SegmentAlignment: 0x1000,
		EntryLabel:       "_start",
		OutputPath:       outPath,
	}

	sink := &fakeSink{}
	l := New(cfg, sink)
	defer l.Close()
	require.NoError(t, l.Run())

	assert.Greater(t, sink.countSeverity(diag.Error), 0)
	assert.Greater(t, sink.countSeverity(diag.Warning), 0) // unresolved entry point

	outBytes, err := os.ReadFile(outPath)
	require.NoError(t, err)
	hdr, err := elf32.DecodeEhdr(outBytes[:elf32.EhdrSize], binary.LittleEndian)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), hdr.Entry)
}

// TestRunEndiannessFollowsFirstInput checks that the
// output adopts the endianness of the first successfully opened input
// even when later inputs use the opposite byte order.
func TestRunEndiannessFollowsFirstInput(t *testing.T) {
	dir := t.TempDir()

	leObj := buildObject(t, binary.LittleEndian,
		[]testSection{{name: ".text", typ: elf32.SHT_PROGBITS, flags: elf32.SHF_ALLOC | elf32.SHF_EXECINSTR, align: 4, data: make([]byte, 4)}},
		[]testSymbol{{name: "_start", value: 0, size: 4, info: elf32.STInfo(elf32.STB_GLOBAL, elf32.STT_FUNC), shndx: 1}},
		nil,
	)
	beObj := buildObject(t, binary.BigEndian,
		[]testSection{{name: ".data", typ: elf32.SHT_PROGBITS, flags: elf32.SHF_ALLOC | elf32.SHF_WRITE, align: 4, data: []byte{0x11, 0x22, 0x33, 0x44}}},
		nil, nil,
	)

	pathLE := writeObjectFile(t, dir, "le.o", leObj)
	pathBE := writeObjectFile(t, dir, "be.o", beObj)
	outPath := filepath.Join(dir, "a.out")

	cfg := Configuration{
		Sections: []SectionConfig{
			{Name: ".text", VirtualAddress: 0x400000},
			{Name: ".data", VirtualAddress: 0x10000000},
		},
		InputPaths:       []string{pathLE, pathBE},
		SegmentAlignment: 0x1000,
		EntryLabel:       "_start",
		OutputPath:       outPath,
	}

	l := New(cfg, &fakeSink{})
	defer l.Close()
	require.NoError(t, l.Run())

	outBytes, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Equal(t, byte(elf32.ELFDATA2LSB), outBytes[elf32.EI_DATA])

	hdr, err := elf32.DecodeEhdr(outBytes[:elf32.EhdrSize], binary.LittleEndian)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x400000), hdr.Entry)

	// The big-endian object's .data word 0x11223344 must be re-encoded in
	// the output's little-endian byte order.
	merged := l.MergedSections()
	require.Len(t, merged, 2)
	dataOff := merged[1].FileOffset
	assert.Equal(t, []byte{0x44, 0x33, 0x22, 0x11}, outBytes[dataOff:dataOff+4])
}

// TestRunDefaultEntryUnresolvedWarns: no
// input defines _start, the configuration doesn't override entry_label,
// linking still succeeds and e_entry is left at 0 with a warning.
func TestRunDefaultEntryUnresolvedWarns(t *testing.T) {
	dir := t.TempDir()

	obj := buildObject(t, binary.LittleEndian,
		[]testSection{{name: ".text", typ: elf32.SHT_PROGBITS, flags: elf32.SHF_ALLOC | elf32.SHF_EXECINSTR, align: 4, data: make([]byte, 4)}},
		[]testSymbol{{name: "helper", value: 0, size: 4, info: elf32.STInfo(elf32.STB_GLOBAL, elf32.STT_FUNC), shndx: 1}},
		nil,
	)
	path := writeObjectFile(t, dir, "a.o", obj)
	outPath := filepath.Join(dir, "a.out")

	cfg := DefaultConfiguration()
	cfg.InputPaths = []string{path}
	cfg.OutputPath = outPath
	cfg.Sections = []SectionConfig{{Name: ".text", VirtualAddress: 0x400000}}

	sink := &fakeSink{}
	l := New(cfg, sink)
	defer l.Close()
	require.NoError(t, l.Run())

	assert.Greater(t, sink.countSeverity(diag.Warning), 0)

	outBytes, err := os.ReadFile(outPath)
	require.NoError(t, err)
	hdr, err := elf32.DecodeEhdr(outBytes[:elf32.EhdrSize], binary.LittleEndian)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), hdr.Entry)
}

// TestRunConflictingSectionFlagsIsFatal:
// two objects disagree on a same-named section's flags.
func TestRunConflictingSectionFlagsIsFatal(t *testing.T) {
	dir := t.TempDir()

	objA := buildObject(t, binary.LittleEndian,
		[]testSection{{name: ".rodata", typ: elf32.SHT_PROGBITS, flags: elf32.SHF_ALLOC, align: 4, data: make([]byte, 4)}},
		nil, nil,
	)
	objB := buildObject(t, binary.LittleEndian,
		[]testSection{{name: ".rodata", typ: elf32.SHT_PROGBITS, flags: elf32.SHF_ALLOC | elf32.SHF_WRITE, align: 4, data: make([]byte, 4)}},
		nil, nil,
	)
	pathA := writeObjectFile(t, dir, "a.o", objA)
	pathB := writeObjectFile(t, dir, "b.o", objB)
	outPath := filepath.Join(dir, "a.out")

	cfg := DefaultConfiguration()
	cfg.InputPaths = []string{pathA, pathB}
	cfg.OutputPath = outPath

	l := New(cfg, &fakeSink{})
	defer l.Close()
	err := l.Run()

	require.Error(t, err)
	var fatalErr *diag.FatalError
	require.ErrorAs(t, err, &fatalErr)
	assert.Equal(t, diag.BadSection, fatalErr.Code)
}

// TestRunRejectsNon32BitInput checks the ELF Reader's class validation.
func TestRunRejectsNon32BitInput(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.o")
	bad := make([]byte, elf32.EhdrSize)
	bad[elf32.EI_MAG0] = elf32.ELFMAG0
	bad[elf32.EI_MAG1] = elf32.ELFMAG1
	bad[elf32.EI_MAG2] = elf32.ELFMAG2
	bad[elf32.EI_MAG3] = elf32.ELFMAG3
	bad[elf32.EI_CLASS] = elf32.ELFCLASS64
	require.NoError(t, os.WriteFile(path, bad, 0o644))

	cfg := DefaultConfiguration()
	cfg.InputPaths = []string{path}
	cfg.OutputPath = filepath.Join(dir, "a.out")

	l := New(cfg, &fakeSink{})
	defer l.Close()
	err := l.Run()

	require.Error(t, err)
	var fatalErr *diag.FatalError
	require.ErrorAs(t, err, &fatalErr)
	assert.Equal(t, diag.BadFile, fatalErr.Code)
}

// TestPrepareWithoutWritingOutput exercises the Layout-only path `rv32ld
// map` uses: Prepare completes and resolves symbols without ever
// creating the output file.
func TestPrepareWithoutWritingOutput(t *testing.T) {
	dir := t.TempDir()
	obj := buildObject(t, binary.LittleEndian,
		[]testSection{{name: ".text", typ: elf32.SHT_PROGBITS, flags: elf32.SHF_ALLOC | elf32.SHF_EXECINSTR, align: 4, data: make([]byte, 4)}},
		[]testSymbol{{name: "_start", value: 0, size: 4, info: elf32.STInfo(elf32.STB_GLOBAL, elf32.STT_FUNC), shndx: 1}},
		nil,
	)
	path := writeObjectFile(t, dir, "a.o", obj)
	outPath := filepath.Join(dir, "a.out")

	cfg := Configuration{
		Sections:         []SectionConfig{{Name: ".text", VirtualAddress: 0x400000}},
		InputPaths:       []string{path},
		SegmentAlignment: 0x1000,
		EntryLabel:       "_start",
		OutputPath:       outPath,
	}

	l := New(cfg, &fakeSink{})
	defer l.Close()
	require.NoError(t, l.Prepare())

	require.Len(t, l.GlobalSymbols(), 1)
	assert.Equal(t, uint32(0x400000), l.GlobalSymbols()[0].Value)
	assert.Equal(t, "_start", l.SymbolName(l.GlobalSymbols()[0]))

	_, err := os.Stat(outPath)
	assert.True(t, os.IsNotExist(err))
}
