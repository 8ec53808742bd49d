// Package mapview implements the `rv32ld map` subcommand: a read-only
// view of the linker's intermediate state (merged sections and the
// global symbol table) built by running the linker through layout
// without writing an executable.
package mapview

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	internalConfig "github.com/rv32ld/rv32ld/internal/config"
	"github.com/rv32ld/rv32ld/pkg/diag"
	"github.com/rv32ld/rv32ld/pkg/elf32"
	"github.com/rv32ld/rv32ld/pkg/linker"
	"github.com/rv32ld/rv32ld/pkg/utils"
)

var (
	entryLabel string
	sections   []string
	align      uint32
	describe   string
)

// Cmd is the `rv32ld map` subcommand.
var Cmd = &cobra.Command{
	Use:   "map <input.o>...",
	Short: "Inspect merged sections and resolved symbols without linking",
	Long: `map loads the same configuration as link, runs the linker through
section merging, layout and symbol rebasing (but never writes an
executable or applies relocations), and opens an interactive text UI
listing the merged output sections and the global symbol table.`,
	Args: cobra.MinimumNArgs(1),
	Run:  run,
}

func init() {
	Cmd.Flags().StringVarP(&entryLabel, "entry", "e", "_start", "entry point symbol name")
	Cmd.Flags().StringArrayVar(&sections, "section", nil, "pre-declare a section's base address, name=0xADDR (repeatable)")
	Cmd.Flags().Uint32Var(&align, "align", 0x1000, "segment alignment in bytes, must be a power of two")
	Cmd.Flags().StringVar(&describe, "describe", "", "print a single field (by Go name) of every merged section and symbol, then exit without opening the UI")
	viper.BindPFlag("entry", Cmd.Flags().Lookup("entry"))
	viper.BindPFlag("section", Cmd.Flags().Lookup("section"))
	viper.BindPFlag("segment-align", Cmd.Flags().Lookup("align"))
}

func run(cmd *cobra.Command, args []string) {
	cfg, err := internalConfig.FromViper(viper.GetViper(), args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rv32ld: %v\n", err)
		os.Exit(int(diag.BadParam))
	}

	d, err := diag.New(diag.Options{
		Quiet:   viper.GetBool("quiet"),
		Verbose: viper.GetBool("verbose"),
		NoColor: viper.GetBool("no-color"),
		Program: "rv32ld",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "rv32ld: %v\n", err)
		os.Exit(int(diag.NoFile))
	}

	l := linker.New(cfg, d)
	defer l.Close()

	if err := l.Prepare(); err != nil {
		var fatalErr *diag.FatalError
		if errors.As(err, &fatalErr) {
			os.Exit(int(fatalErr.Code))
		}
		fmt.Fprintf(os.Stderr, "rv32ld: %v\n", err)
		os.Exit(1)
	}

	if describe != "" {
		runDescribe(l)
		return
	}

	if err := runUI(l); err != nil {
		fmt.Fprintf(os.Stderr, "rv32ld: %v\n", err)
		os.Exit(1)
	}
}

// describeField reads the named exported field (by Go struct field name)
// out of row via reflection, returning false if row has no such field.
// This backs `map --describe FIELD`: one reflective accessor instead of a
// per-field switch that would need a new case for every MergedSection or
// GlobalSymbol field anyone might ever want to print.
func describeField(name string, row any) (any, bool) {
	v := reflect.ValueOf(row)
	f := v.FieldByName(name)
	if !f.IsValid() {
		return nil, false
	}
	return f.Interface(), true
}

// runDescribe prints one named field of every merged section and every
// global symbol.
func runDescribe(l *linker.Linker) {
	for _, m := range l.MergedSections() {
		if v, ok := describeField(describe, *m); ok {
			fmt.Printf("section %-16s %s=%v\n", m.Name, describe, v)
		}
	}

	symbols := l.GlobalSymbols()
	for _, g := range symbols {
		if v, ok := describeField(describe, g); ok {
			fmt.Printf("symbol  %-16s %s=%v\n", l.SymbolName(g), describe, v)
		}
	}
}

// runUI builds the tview application: a table of merged sections, a
// table of global symbols, and a details pane showing the full record
// of whichever row is currently selected.
func runUI(l *linker.Linker) error {
	app := tview.NewApplication()
	details := tview.NewTextView().SetDynamicColors(true).SetWordWrap(true)
	details.SetBorder(true).SetTitle(" details ")

	sectionTable := buildSectionTable(l, details)
	symbolTable := buildSymbolTable(l, details)

	flex := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(tview.NewFlex().
			AddItem(sectionTable, 0, 1, true).
			AddItem(symbolTable, 0, 1, false),
			0, 3, true).
		AddItem(details, 0, 1, false)

	app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyEscape || event.Rune() == 'q' {
			app.Stop()
			return nil
		}
		if event.Key() == tcell.KeyTab {
			if app.GetFocus() == sectionTable {
				app.SetFocus(symbolTable)
			} else {
				app.SetFocus(sectionTable)
			}
			return nil
		}
		return event
	})

	return app.SetRoot(flex, true).SetFocus(sectionTable).Run()
}

func buildSectionTable(l *linker.Linker, details *tview.TextView) *tview.Table {
	table := tview.NewTable().SetBorders(false).SetSelectable(true, false)
	table.SetBorder(true).SetTitle(" merged sections ")

	headers := []string{"name", "vaddr", "memsz", "fileoff", "children"}
	for col, h := range headers {
		table.SetCell(0, col, tview.NewTableCell(h).
			SetTextColor(tcell.ColorYellow).SetSelectable(false))
	}

	merged := l.MergedSections()
	for row, m := range merged {
		table.SetCell(row+1, 0, tview.NewTableCell(m.Name))
		table.SetCell(row+1, 1, tview.NewTableCell(fmt.Sprintf("0x%08x", m.VirtualAddress)))
		table.SetCell(row+1, 2, tview.NewTableCell(fmt.Sprintf("0x%x", m.MemSize)))
		table.SetCell(row+1, 3, tview.NewTableCell(fmt.Sprintf("0x%x", m.FileOffset)))
		table.SetCell(row+1, 4, tview.NewTableCell(fmt.Sprintf("%d", len(m.Children))))
	}

	table.SetSelectionChangedFunc(func(row, col int) {
		if row <= 0 || row > len(merged) {
			return
		}
		m := merged[row-1]
		objects := utils.Map(m.Children, func(c linker.ChildRef) string {
			return l.ObjectPath(c.ObjectIndex)
		})
		details.SetText(fmt.Sprintf(
			"[yellow]section[-] %s\nvaddr=0x%x memsz=0x%x fileoff=0x%x flags=%s align=0x%x\nobjects=%s",
			m.Name, m.VirtualAddress, m.MemSize, m.FileOffset,
			formatSectionFlags(m.Flags), m.AddrAlign,
			strings.Join(objects, ", ")))
	})
	return table
}

// formatSectionFlags renders sh_flags as the letter codes objdump/readelf
// use for the three SHF_* bits this linker reads: W (write),
// A (alloc), X (execinstr). Unset bits print as a dash so the field stays
// fixed-width in the details pane.
func formatSectionFlags(flags uint32) string {
	letter := func(bit uint32, ch byte) byte {
		if flags&bit != 0 {
			return ch
		}
		return '-'
	}
	b := []byte{
		letter(elf32.SHF_WRITE, 'W'),
		letter(elf32.SHF_ALLOC, 'A'),
		letter(elf32.SHF_EXECINSTR, 'X'),
	}
	return string(b)
}

func buildSymbolTable(l *linker.Linker, details *tview.TextView) *tview.Table {
	table := tview.NewTable().SetBorders(false).SetSelectable(true, false)
	table.SetBorder(true).SetTitle(" global symbols ")

	headers := []string{"name", "value", "size", "section"}
	for col, h := range headers {
		table.SetCell(0, col, tview.NewTableCell(h).
			SetTextColor(tcell.ColorYellow).SetSelectable(false))
	}

	symbols := l.GlobalSymbols()
	merged := l.MergedSections()
	for row, g := range symbols {
		table.SetCell(row+1, 0, tview.NewTableCell(l.SymbolName(g)))
		table.SetCell(row+1, 1, tview.NewTableCell(fmt.Sprintf("0x%08x", g.Value)))
		table.SetCell(row+1, 2, tview.NewTableCell(fmt.Sprintf("0x%x", g.Size)))
		sectionName := "?"
		if g.ShndxMerged < len(merged) {
			sectionName = merged[g.ShndxMerged].Name
		}
		table.SetCell(row+1, 3, tview.NewTableCell(sectionName))
	}

	table.SetSelectionChangedFunc(func(row, col int) {
		if row <= 0 || row > len(symbols) {
			return
		}
		g := symbols[row-1]
		details.SetText(fmt.Sprintf(
			"[yellow]symbol[-] %s\nvalue=0x%x size=0x%x info=0x%02x shndx_merged=%d",
			l.SymbolName(g), g.Value, g.Size, g.Info, g.ShndxMerged))
	})
	return table
}
