// Package main is the lumen CLI entry point.
package main

import (
	"os"

	"github.com/lumen-lang/lumen/cmd/lumen/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
