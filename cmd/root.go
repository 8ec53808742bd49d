package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rv32ld/rv32ld/cmd/link"
	"github.com/rv32ld/rv32ld/cmd/mapview"
)

var cfgFile string

// RootCmd is the base command when rv32ld is called without a subcommand.
var RootCmd = &cobra.Command{
	Use:   "rv32ld",
	Short: "A static linker for 32-bit RISC-V relocatable objects",
	Long: `rv32ld merges relocatable RV32 ELF object files into a single
statically-linked executable: sections are merged by name, symbols are
resolved across inputs, and R_RISCV_BRANCH/JAL/HI20/LO12_I/LO12_S
relocations are applied in place.`,
}

// Execute runs RootCmd, whose subcommands are attached in init. Called
// once by main.main(); it exits with status 1 when cobra itself reports
// an error (a bad flag or an unknown subcommand).
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.rv32ld.yaml)")
	RootCmd.PersistentFlags().Bool("verbose", false, "enable verbose relocation tracing")
	RootCmd.PersistentFlags().Bool("quiet", false, "suppress info-severity diagnostics")
	RootCmd.PersistentFlags().Bool("no-color", false, "disable colorized diagnostic output")
	viper.BindPFlag("verbose", RootCmd.PersistentFlags().Lookup("verbose"))
	viper.BindPFlag("quiet", RootCmd.PersistentFlags().Lookup("quiet"))
	viper.BindPFlag("no-color", RootCmd.PersistentFlags().Lookup("no-color"))

	RootCmd.AddCommand(link.Cmd, mapview.Cmd)
	cobra.OnInitialize(initConfig)
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".rv32ld")
	}

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}
