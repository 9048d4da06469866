package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/msto63/emubench/pkg/core/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	// No configuration needed.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("emubench v%s\n", version.String())
		fmt.Printf("  Orchestrator: %s\n", version.ComponentVersion("orchestrator"))
		fmt.Printf("  Cleanup:      %s\n", version.ComponentVersion("cleanup"))
		fmt.Printf("  Bridge:       %s\n", version.ComponentVersion("bridge"))
		fmt.Printf("  History:      %s\n", version.ComponentVersion("history"))
		fmt.Printf("  Go Version:   %s\n", runtime.Version())
		fmt.Printf("  OS/Arch:      %s/%s\n", runtime.GOOS, runtime.GOARCH)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
