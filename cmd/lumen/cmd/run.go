package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/lumen-lang/lumen/internal/ast"
	"github.com/lumen-lang/lumen/internal/bridge"
	"github.com/lumen-lang/lumen/internal/compiler"
	"github.com/lumen-lang/lumen/internal/config"
	lumenerrors "github.com/lumen-lang/lumen/internal/errors"
	"github.com/lumen-lang/lumen/internal/gc"
	"github.com/lumen-lang/lumen/internal/value"
)

var (
	evalExpr    string
	dumpAST     bool
	watchFile   bool
	namespace   string
	colorOutput bool
)

var runCmd = &cobra.Command{
	Use:   "run [file]",
	Short: "Run a compiled bytecode chunk or an inline expression",
	Long: `Execute a Lumen program: either a bytecode chunk previously written
by "lumen compile" (a .lmc file), or a small fixed vocabulary of
S-expression forms, given via -e or as any other file, compiled and
evaluated through the bytecode VM.

Examples:
  # Run a compiled chunk
  lumen run program.lmc

  # Evaluate an inline expression
  lumen run -e "(+ 1 2)"

  # Re-run on every save
  lumen run --watch program.lmc`,
	Args: cobra.MaximumNArgs(1),
	RunE: runProgram,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&evalExpr, "eval", "e", "", "evaluate an inline S-expression instead of reading a file")
	runCmd.Flags().BoolVar(&dumpAST, "dump-ast", false, "print the kind of each lowered top-level Node to stderr before running (source mode only)")
	runCmd.Flags().BoolVar(&watchFile, "watch", false, "re-run whenever the input file changes")
	runCmd.Flags().StringVar(&namespace, "ns", "user", "default namespace for unqualified Vars (source mode only)")
	runCmd.Flags().BoolVar(&colorOutput, "color", false, "colorize error output")
}

func runProgram(_ *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if evalExpr != "" {
		return runOnce(cfg, "", evalExpr)
	}
	if len(args) != 1 {
		return fmt.Errorf("either provide a file path or use -e for an inline expression")
	}
	filename := args[0]
	if err := runOnce(cfg, filename, ""); err != nil {
		return err
	}
	if !watchFile {
		return nil
	}
	return watchAndRerun(cfg, filename)
}

func runOnce(cfg config.Config, filename, inline string) error {
	heap := gc.NewWithConfig(cfg.GC.InitialThresholdBytes, cfg.GC.MaxHeapBytes)
	b := bridge.New(heap)

	chunk, err := loadChunkOrInline(heap, filename, inline)
	if err != nil {
		return err
	}

	result, err := b.VM.Run(chunk)
	if err != nil {
		ce := lumenerrors.FromStringErrors([]string{err.Error()}, lumenerrors.KindRuntime, inline, filename)[0]
		return fmt.Errorf("%s", ce.Format(colorOutput))
	}
	fmt.Println(value.Print(heap, result, true, value.PrintLimits{}))
	return nil
}

// loadChunkOrInline builds a Chunk from, in order of priority: inline
// source (-e), a serialized .lmc file, or raw stand-in-reader source read
// from filename.
func loadChunkOrInline(heap *gc.Heap, filename, inline string) (*compiler.Chunk, error) {
	if inline != "" {
		return compileSource(heap, "<eval>", inline)
	}
	if filepath.Ext(filename) == ".lmc" {
		data, err := os.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", filename, err)
		}
		chunk, err := compiler.NewSerializer(heap).DeserializeChunk(data)
		if err != nil {
			return nil, fmt.Errorf("failed to load bytecode chunk %s: %w", filename, err)
		}
		return chunk, nil
	}
	content, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", filename, err)
	}
	return compileSource(heap, filename, string(content))
}

func compileSource(heap *gc.Heap, filename, src string) (*compiler.Chunk, error) {
	builder := ast.NewBuilder(namespace, heap)
	nodes, topLocalCount, err := builder.BuildProgram(src)
	if err != nil {
		ce := lumenerrors.FromStringErrors([]string{err.Error()}, lumenerrors.KindCompile, src, filename)[0]
		return nil, fmt.Errorf("%s", ce.Format(colorOutput))
	}
	if dumpAST {
		for _, n := range nodes {
			fmt.Fprintf(os.Stderr, "%s\n", n.Kind())
		}
	}
	chunk, _, err := compiler.CompileProgram(nodes)
	if err != nil {
		ce := lumenerrors.FromStringErrors([]string{err.Error()}, lumenerrors.KindCompile, src, filename)[0]
		return nil, fmt.Errorf("%s", ce.Format(colorOutput))
	}
	chunk.LocalCount = topLocalCount
	return chunk, nil
}

func watchAndRerun(cfg config.Config, filename string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(filename); err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	fmt.Fprintf(os.Stderr, "watching %s for changes (ctrl-c to stop)\n", filename)
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			fmt.Fprintf(os.Stderr, "\n-- %s changed, re-running --\n", filename)
			if err := runOnce(cfg, filename, ""); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(os.Stderr, "watch error: %v\n", err)
		}
	}
}
