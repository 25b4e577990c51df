// Package main provides the entry point for rv5sim.
// rv5sim is a cycle-accurate RV64I/M pipeline and cache-hierarchy
// simulator.
//
// For the full CLI, use: go run ./cmd/rv5sim
package main

import (
	"fmt"
	"os"
)

func main() {
	fmt.Println("rv5sim - RV64I/M pipeline and cache simulator")
	fmt.Println("")
	fmt.Println("Usage: rv5sim [flags] <program.elf>")
	fmt.Println("")
	fmt.Println("Flags:")
	fmt.Println("  --timing             run the cycle-accurate pipeline")
	fmt.Println("  --config <path>      JSON configuration file")
	fmt.Println("  --icache, --dcache   enable L1 caches")
	fmt.Println("  --predictor <name>   nt, at, 1bit, 2bit, perceptron")
	fmt.Println("  --verbose            verbose diagnostic output")
	fmt.Println("")
	fmt.Println("Run 'go run ./cmd/rv5sim' for the full CLI.")

	if len(os.Args) > 1 {
		fmt.Println("\nNote: you provided arguments. Use 'go run ./cmd/rv5sim' instead.")
	}
}
