package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lumen-lang/lumen/internal/ast"
	"github.com/lumen-lang/lumen/internal/compiler"
	"github.com/lumen-lang/lumen/internal/gc"
)

var (
	outputFile     string
	disassemble    bool
	compileVerbose bool
)

var compileCmd = &cobra.Command{
	Use:   "compile [file]",
	Short: "Compile a source file to a bytecode chunk",
	Long: `Compile a Lumen program to bytecode and save it as a .lmc file.

The input is read through this repo's minimal stand-in reader (see "lumen
run --help"), not a full Lumen-syntax parser — a real compiler frontend
would hand this tool an already-lowered Node tree instead of text.

Examples:
  # Compile a script to bytecode
  lumen compile script.lmn

  # Compile with a custom output file
  lumen compile script.lmn -o output.lmc

  # Compile and show disassembled bytecode
  lumen compile script.lmn --disassemble`,
	Args: cobra.ExactArgs(1),
	RunE: compileScript,
}

func init() {
	rootCmd.AddCommand(compileCmd)

	compileCmd.Flags().StringVarP(&outputFile, "output", "o", "", "output file (default: <input>.lmc)")
	compileCmd.Flags().BoolVar(&disassemble, "disassemble", false, "show disassembled bytecode after compilation")
	compileCmd.Flags().BoolVarP(&compileVerbose, "verbose", "v", false, "verbose output")
}

func compileScript(_ *cobra.Command, args []string) error {
	filename := args[0]

	content, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read file %s: %w", filename, err)
	}

	if compileVerbose {
		fmt.Fprintf(os.Stderr, "Compiling %s...\n", filename)
	}

	heap := gc.New()
	builder := ast.NewBuilder(namespace, heap)
	nodes, topLocalCount, err := builder.BuildProgram(string(content))
	if err != nil {
		return fmt.Errorf("%s: %w", filename, err)
	}

	chunk, _, err := compiler.CompileProgram(nodes)
	if err != nil {
		return fmt.Errorf("bytecode compilation failed: %w", err)
	}
	chunk.LocalCount = topLocalCount

	if compileVerbose {
		fmt.Fprintf(os.Stderr, "Bytecode compilation successful\n")
		fmt.Fprintf(os.Stderr, "  Instructions: %d\n", len(chunk.Code))
		fmt.Fprintf(os.Stderr, "  Constants: %d\n", len(chunk.Constants))
		fmt.Fprintf(os.Stderr, "  Locals: %d\n", chunk.LocalCount)
	}

	if disassemble {
		fmt.Fprintf(os.Stderr, "\n%s\n", compiler.Disassemble(chunk))
	}

	data, err := compiler.NewSerializer(heap).SerializeChunk(chunk)
	if err != nil {
		return fmt.Errorf("failed to serialize bytecode: %w", err)
	}

	outFile := outputFile
	if outFile == "" {
		ext := filepath.Ext(filename)
		if ext != "" {
			outFile = strings.TrimSuffix(filename, ext) + ".lmc"
		} else {
			outFile = filename + ".lmc"
		}
	}

	if err := os.WriteFile(outFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write output file %s: %w", outFile, err)
	}

	if compileVerbose {
		fmt.Fprintf(os.Stderr, "Bytecode written to %s (%d bytes)\n", outFile, len(data))
	} else {
		fmt.Printf("Compiled %s -> %s\n", filename, outFile)
	}

	return nil
}
