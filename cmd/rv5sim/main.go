// Package main provides the rv5sim command line: a cycle-accurate
// RV64I/M pipeline and cache-hierarchy simulator.
package main

import (
	"fmt"
	"os"

	"github.com/rs/xid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sarchlab/rv5sim/config"
	"github.com/sarchlab/rv5sim/emu"
	"github.com/sarchlab/rv5sim/loader"
	"github.com/sarchlab/rv5sim/timing/cache"
	"github.com/sarchlab/rv5sim/timing/pipeline"
)

var configFile string

func main() {
	root := &cobra.Command{
		Use:   "rv5sim <program.elf>",
		Short: "cycle-accurate RV64I/M pipeline and cache simulator",
		Args:  cobra.ExactArgs(1),
	}

	root.Flags().StringVar(&configFile, "config", "", "path to a JSON configuration file")
	v := config.NewViper(root.Flags())
	root.RunE = func(cmd *cobra.Command, args []string) error {
		return run(v, args)
	}

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(v *viper.Viper, args []string) error {
	cfg, err := config.Load(v, configFile)
	if err != nil {
		return err
	}
	cfg.ProgramPath = args[0]

	runID := xid.New().String()

	prog, err := loader.Load(cfg.ProgramPath, cfg.MemorySizeBytes)
	if err != nil {
		return err
	}

	if cfg.Verbose {
		fmt.Fprintf(os.Stderr, "run=%s loaded %s: entry=0x%x segments=%d\n", runID, cfg.ProgramPath, prog.EntryPoint, len(prog.Segments))
	}

	memory := loadMemory(prog, cfg.MemorySizeBytes)

	var exitCode int64
	if cfg.Timing {
		exitCode, err = runTiming(runID, cfg, prog, memory)
	} else {
		exitCode = runFunctional(runID, cfg, prog, memory)
	}
	if err != nil {
		return err
	}

	os.Exit(int(exitCode))
	return nil
}

func loadMemory(prog *loader.Program, size uint64) *emu.Memory {
	memory := emu.NewMemory(int(size))
	for _, seg := range prog.Segments {
		memory.LoadBytes(seg.VirtAddr, seg.Data)
	}
	return memory
}

func runFunctional(runID string, cfg config.Config, prog *loader.Program, memory *emu.Memory) int64 {
	emulator := emu.NewEmulator(emu.WithMaxInstructions(cfg.MaxInstructions))
	emulator.LoadProgram(prog.EntryPoint, memory)
	emulator.SetStackPointer(prog.InitialSP)

	exitCode := emulator.Run()

	if cfg.Verbose {
		fmt.Fprintf(os.Stderr, "run=%s exit=%d instructions=%d\n", runID, exitCode, emulator.InstructionCount())
	}
	return exitCode
}

func runTiming(runID string, cfg config.Config, prog *loader.Program, memory *emu.Memory) (int64, error) {
	regFile := &emu.RegFile{}
	regFile.WriteReg(2, prog.InitialSP)

	opts := []pipeline.Option{
		pipeline.WithMaxInstructions(cfg.MaxInstructions),
		pipeline.WithPredictor(newPredictor(cfg.Predictor)),
	}

	if cfg.ICache.Enabled {
		icache, err := buildTiered(cfg, cfg.ICache, memory)
		if err != nil {
			return 0, &config.ConfigError{Field: "icache", Err: err}
		}
		opts = append(opts, pipeline.WithICache(icache))
	}
	if cfg.DCache.Enabled {
		dcache, err := buildTiered(cfg, cfg.DCache, memory)
		if err != nil {
			return 0, &config.ConfigError{Field: "dcache", Err: err}
		}
		opts = append(opts, pipeline.WithDCache(dcache))
	}
	if cfg.HistoryPath != "" {
		opts = append(opts, pipeline.WithHistory())
	}

	pipe := pipeline.NewPipeline(regFile, memory, prog.EntryPoint, opts...)
	pipe.Run(cfg.MaxCycles)

	stats := pipe.Stats()
	fmt.Printf("run:          %s\n", runID)
	fmt.Printf("instructions: %d\n", stats.Instructions)
	fmt.Printf("cycles:       %d\n", stats.Cycles)
	fmt.Printf("CPI:          %.3f\n", stats.CPI())
	fmt.Printf("stalls:       %d\n", stats.Stalls)
	fmt.Printf("flushes:      %d\n", stats.Flushes)
	fmt.Printf("branches:     %d (mispredicted %d)\n", stats.BranchPredictions, stats.BranchMispredictions)
	fmt.Printf("control hazard cycles: %d\n", stats.ControlHazardCycles)

	if cfg.HistoryPath != "" && pipe.History() != nil {
		f, err := os.Create(cfg.HistoryPath)
		if err != nil {
			return pipe.ExitCode(), err
		}
		defer f.Close()
		if err := pipe.History().Dump(f); err != nil {
			return pipe.ExitCode(), err
		}
	}

	return pipe.ExitCode(), nil
}

func buildTiered(cfg config.Config, level config.CacheLevelConfig, memory *emu.Memory) (*cache.Tiered, error) {
	backing := cache.NewMemoryBacking(memory)

	if cfg.L2.Enabled {
		l1, err := cache.NewLevel(level.ToCacheConfig(), nil)
		if err != nil {
			return nil, err
		}
		l2, err := cache.NewLevel(cfg.L2.ToCacheConfig(), backing)
		if err != nil {
			return nil, err
		}
		return cache.NewTiered(cfg.ToInclusionPolicy(), backing, l1, l2), nil
	}

	l1, err := cache.NewLevel(level.ToCacheConfig(), backing)
	if err != nil {
		return nil, err
	}
	return cache.NewTiered(cfg.ToInclusionPolicy(), backing, l1), nil
}

func newPredictor(name string) pipeline.Predictor {
	switch name {
	case "nt":
		return pipeline.NewAlwaysNotTakenPredictor()
	case "at":
		return pipeline.NewAlwaysTakenPredictor()
	case "1bit":
		return pipeline.NewOneBitPredictor()
	case "perceptron":
		return pipeline.NewPerceptronPredictor()
	default:
		return pipeline.NewTwoBitPredictor()
	}
}
