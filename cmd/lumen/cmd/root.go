package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version information (set by build flags)
	Version   = "0.1.0-dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// configPath is the --config persistent flag, read by the subcommands
// that load a runtime configuration (run, snapshot save).
var configPath string

var rootCmd = &cobra.Command{
	Use:   "lumen",
	Short: "Lumen core execution engine: bytecode VM, tree-walk evaluator, bootstrap runtime",
	Long: `lumen hosts the core execution engine of the Lumen runtime: a
NaN-boxed value representation, a mark-sweep garbage collector, a bytecode
compiler and stack VM, a tree-walk evaluator for cold code, and the
bootstrap layer (namespaces, Vars, protocols, multimethods).

This binary does not read Lumen source text itself — the source tokenizer,
reader, and analyzer are external collaborators this engine names but does
not implement. "run" accepts either a compiled bytecode chunk (.lmc,
produced by a prior "lumen compile") or, for quick experiments, a small
fixed vocabulary of S-expression forms given via -e or as a source file
(do, if, let*, loop*, recur, fn*, def, throw, try/catch/finally) standing
in for a real Reader upstream; "compile" reads that same source form.`,
	Version: Version,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(`{{with .Name}}{{printf "%%s " .}}{{end}}{{printf "version %%s" .Version}}
Commit: %s
Built:  %s
`, GitCommit, BuildDate))

	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "lumen.yaml", "path to lumen.yaml (optional; defaults apply if absent)")
}

func exitWithError(msg string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+msg+"\n", args...)
	os.Exit(1)
}
