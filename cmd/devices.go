package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/cwbudde/kmeansbirch/internal/accel"
	"github.com/cwbudde/kmeansbirch/internal/pipeline"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List accelerator platforms and devices",
	Long: `Enumerates every platform and device the selected backend reports and
marks the device a run would use with the current --vendor.`,
	Args: cobra.NoArgs,
	RunE: runListDevices,
}

func init() {
	rootCmd.AddCommand(devicesCmd)
}

func runListDevices(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	drv, err := pipeline.NewDriver(cfg.Backend, cfg.Vendor, cfg.Kernel)
	if err != nil {
		return err
	}

	platforms, err := drv.Platforms()
	if err != nil {
		return fmt.Errorf("failed to enumerate platforms: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(platforms) == 0 {
		fmt.Fprintln(out, "No platforms found.")
		return nil
	}

	var selected *accel.DeviceRef
	if sel, err := pipeline.ResolveDevice(drv, cfg.Vendor, logger); err == nil {
		selected = &sel.Device.Ref
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PLATFORM\tDEVICE\tTYPE\tCOMPUTE UNITS\tVERSION\tSELECTED")
	fmt.Fprintln(w, "--------\t------\t----\t-------------\t-------\t--------")

	for _, p := range platforms {
		if len(p.Devices) == 0 {
			fmt.Fprintf(w, "%s\t-\t-\t-\t%s\t\n", p.Name, p.Version)
			continue
		}
		for _, d := range p.Devices {
			mark := ""
			if selected != nil && *selected == d.Ref {
				mark = "*"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
				p.Name, d.Name, d.Type, d.MaxComputeUnits, d.Version, mark)
		}
	}
	w.Flush()

	accelerators := lo.SumBy(platforms, func(p accel.PlatformInfo) int {
		return len(pipeline.Accelerators(p))
	})
	fmt.Fprintf(out, "\nPlatforms: %d, accelerators: %d\n", len(platforms), accelerators)
	if selected == nil {
		fmt.Fprintf(out, "No accelerator on a platform named %q.\n", cfg.Vendor)
	}
	return nil
}
