package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cwbudde/kmeansbirch/internal/accel/opencl"
)

var version = "0.1.0"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "kmeansbirch version %s\n", version)
		if opencl.Available() {
			fmt.Fprintln(out, "OpenCL support: enabled")
		} else {
			fmt.Fprintln(out, "OpenCL support: disabled (build with -tags gpu)")
		}
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
