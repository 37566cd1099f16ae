package cmd

import (
	"fmt"

	"github.com/blang/semver"
	"github.com/spf13/cobra"
)

// snapshotFormatVersion mirrors internal/bootstrap's snapshot header
// version, surfaced here so operators can check compatibility without
// reading a snapshot file's raw bytes.
var snapshotFormatVersion = semver.Version{Major: 1, Minor: 0, Patch: 0}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Display the engine version, build metadata, and snapshot format version.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("lumen version %s\n", Version)
		fmt.Printf("Git Commit: %s\n", GitCommit)
		fmt.Printf("Build Date: %s\n", BuildDate)
		fmt.Printf("Snapshot format: %s\n", snapshotFormatVersion.String())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
