// Package link implements the `rv32ld link` subcommand: the linker
// invocation itself, translating cobra flags and viper configuration into
// a pkg/linker.Configuration and running it to completion.
package link

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	internalConfig "github.com/rv32ld/rv32ld/internal/config"
	"github.com/rv32ld/rv32ld/pkg/diag"
	"github.com/rv32ld/rv32ld/pkg/linker"
)

var (
	outputPath string
	entryLabel string
	sections   []string
	align      uint32
	logFile    string
)

// Cmd is the `rv32ld link` subcommand.
var Cmd = &cobra.Command{
	Use:   "link <input.o>...",
	Short: "Merge relocatable RV32 objects into a statically-linked executable",
	Long: `link reads one or more ELF32 ET_REL object files, merges their
sections by name, resolves symbols across all inputs, lays out the
result according to --section and --align, and applies
R_RISCV_BRANCH/JAL/HI20/LO12_I/LO12_S relocations to produce a single
ET_EXEC executable.`,
	Args: cobra.MinimumNArgs(1),
	Run:  run,
}

func init() {
	Cmd.Flags().StringVarP(&outputPath, "output", "o", "a.out", "output executable path")
	Cmd.Flags().StringVarP(&entryLabel, "entry", "e", "_start", "entry point symbol name")
	Cmd.Flags().StringArrayVar(&sections, "section", nil, "pre-declare a section's base address, name=0xADDR (repeatable)")
	Cmd.Flags().Uint32Var(&align, "align", 0x1000, "segment alignment in bytes, must be a power of two")
	Cmd.Flags().StringVar(&logFile, "log-file", "", "additionally write structured JSON diagnostics to this path")
	viper.BindPFlag("output", Cmd.Flags().Lookup("output"))
	viper.BindPFlag("entry", Cmd.Flags().Lookup("entry"))
	viper.BindPFlag("section", Cmd.Flags().Lookup("section"))
	viper.BindPFlag("segment-align", Cmd.Flags().Lookup("align"))
}

func run(cmd *cobra.Command, args []string) {
	// `map` binds the same viper keys to its own flags in its init; bind
	// them to this command's flags again so -e, --section and --align apply.
	viper.BindPFlag("entry", cmd.Flags().Lookup("entry"))
	viper.BindPFlag("section", cmd.Flags().Lookup("section"))
	viper.BindPFlag("segment-align", cmd.Flags().Lookup("align"))

	cfg, err := internalConfig.FromViper(viper.GetViper(), args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rv32ld: %v\n", err)
		os.Exit(int(diag.BadParam))
	}

	d, err := diag.New(diag.Options{
		Quiet:   viper.GetBool("quiet"),
		Verbose: viper.GetBool("verbose"),
		NoColor: viper.GetBool("no-color"),
		LogFile: logFile,
		Program: "rv32ld",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "rv32ld: %v\n", err)
		os.Exit(int(diag.NoFile))
	}

	l := linker.New(cfg, d)
	defer l.Close()

	if err := l.Run(); err != nil {
		var fatalErr *diag.FatalError
		if errors.As(err, &fatalErr) {
			os.Exit(int(fatalErr.Code))
		}
		fmt.Fprintf(os.Stderr, "rv32ld: %v\n", err)
		os.Exit(1)
	}

	fmt.Fprintln(os.Stderr, d.Summary())
	if d.HasErrors() {
		os.Exit(1)
	}
}
