package main

import "github.com/rv32ld/rv32ld/cmd"

func main() {
	cmd.Execute()
}
