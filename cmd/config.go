package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cwbudde/kmeansbirch/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [file]",
	Short: "Print or save the effective configuration",
	Long: `Print the configuration resolved from the defaults, --config and the
global flags as YAML. With a file argument the configuration is written
there instead, ready to be passed back with --config.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	if len(args) == 0 {
		return config.Encode(cmd.OutOrStdout(), cfg)
	}

	if err := config.Save(args[0], cfg); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote configuration to %s\n", args[0])
	return nil
}
