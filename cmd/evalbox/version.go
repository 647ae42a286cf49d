package main

import (
	"fmt"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// Set with -ldflags "-X main.version=...".
var version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "evalbox %s\n", version)
		if info, ok := debug.ReadBuildInfo(); ok {
			for _, dep := range info.Deps {
				if dep.Path == "github.com/tetratelabs/wazero" {
					fmt.Fprintf(cmd.OutOrStdout(), "wazero %s\n", dep.Version)
				}
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
