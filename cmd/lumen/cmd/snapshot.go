package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lumen-lang/lumen/internal/bootstrap"
	"github.com/lumen-lang/lumen/internal/bridge"
	"github.com/lumen-lang/lumen/internal/config"
	"github.com/lumen-lang/lumen/internal/gc"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Save or load a bootstrap runtime snapshot",
}

var snapshotSaveCmd = &cobra.Command{
	Use:   "save <program.lmc|program> <out.lms>",
	Short: "Run a program, then save its namespaces' scalar Vars to a snapshot file",
	Args:  cobra.ExactArgs(2),
	RunE:  snapshotSave,
}

var snapshotLoadCmd = &cobra.Command{
	Use:   "load <in.lms>",
	Short: "Load a snapshot's Vars into a fresh runtime and report that it loaded",
	Args:  cobra.ExactArgs(1),
	RunE:  snapshotLoad,
}

func init() {
	rootCmd.AddCommand(snapshotCmd)
	snapshotCmd.AddCommand(snapshotSaveCmd)
	snapshotCmd.AddCommand(snapshotLoadCmd)
}

func snapshotSave(_ *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	heap := gc.NewWithConfig(cfg.GC.InitialThresholdBytes, cfg.GC.MaxHeapBytes)
	b := bridge.New(heap)

	chunk, err := loadChunkOrInline(heap, args[0], "")
	if err != nil {
		return err
	}
	if _, err := b.VM.Run(chunk); err != nil {
		return fmt.Errorf("runtime error: %w", err)
	}

	out, err := os.Create(args[1])
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", args[1], err)
	}
	defer out.Close()

	snap := bootstrap.NewSnapshotter(heap)
	if err := snap.Save(out, b.RT); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	fmt.Printf("Snapshot written to %s\n", args[1])
	return nil
}

func snapshotLoad(_ *cobra.Command, args []string) error {
	heap := gc.New()
	b := bridge.New(heap)

	in, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", args[0], err)
	}
	defer in.Close()

	snap := bootstrap.NewSnapshotter(heap)
	if err := snap.Load(in, b.RT); err != nil {
		return fmt.Errorf("failed to load snapshot: %w", err)
	}
	fmt.Printf("Snapshot %s loaded.\n", args[0])
	return nil
}
