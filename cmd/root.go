package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/cwbudde/kmeansbirch/internal/config"
	"github.com/cwbudde/kmeansbirch/internal/pipeline"
)

var (
	logLevel  string
	logFormat string
	logger    *slog.Logger

	configPath    string
	backendName   string
	vendor        string
	kernelName    string
	height        int
	width         int
	inputPaths    []string
	outDir        string
	previewFormat string
	chdirExe      bool
	runsDir       string
)

// errUsage is returned after the usage line has been printed.
var errUsage = errors.New("usage error")

var rootCmd = &cobra.Command{
	Use:   "kmeansbirch <xclbin>",
	Short: "Stage an image through the k-means/BIRCH accelerator kernel",
	Long: `kmeansbirch loads a prebuilt accelerator binary, stages a raw BGR image
into device memory, runs the clustering kernel once and writes the k-means
and BIRCH results as PPM images.

A binary whose name matches a subcommand (config, devices, runs, version,
help) is dispatched to that subcommand. Pass it with a path instead, for
example ./devices.`,
	Args:             requireBinaryArg,
	SilenceUsage:     true,
	SilenceErrors:    true,
	PersistentPreRun: setupLogger,
	RunE:             runPipeline,
}

func init() {
	defaults := config.Default()

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	pf.StringVar(&logFormat, "log-format", "json", "Log format (json, text)")
	pf.StringVar(&configPath, "config", "", "YAML configuration file")
	pf.StringVar(&backendName, "backend", defaults.Backend, "Accelerator backend ("+pipeline.BackendNames()+")")
	pf.StringVar(&vendor, "vendor", defaults.Vendor, "Platform name the device must belong to")
	pf.StringVar(&runsDir, "runs-dir", defaults.RunsDir, "Directory for run records (empty disables them)")

	f := rootCmd.Flags()
	f.StringVar(&kernelName, "kernel", defaults.Kernel, "Kernel entry point in the binary")
	f.IntVar(&height, "height", defaults.Geometry.Height, "Image height in pixels")
	f.IntVar(&width, "width", defaults.Geometry.Width, "Image width in pixels")
	f.StringArrayVar(&inputPaths, "input", nil, "Raw BGR input candidate, repeatable (replaces the search list)")
	f.StringVar(&outDir, "out-dir", defaults.OutDir, "Directory for output images")
	f.StringVar(&previewFormat, "preview", defaults.Preview, "Also write a preview image (png, bmp, tiff)")
	f.BoolVar(&chdirExe, "chdir-exe", defaults.ChdirToExecutable, "Change to the executable's directory before staging")
}

func setupLogger(cmd *cobra.Command, args []string) {
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if logFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	logger = slog.New(handler)
	slog.SetDefault(logger)
}

func requireBinaryArg(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
		fmt.Fprintf(cmd.OutOrStdout(), "Usage: %s <XCLBIN File>\n", cmd.Root().Name())
		return errUsage
	}
	return nil
}

// resolveConfig layers the config file and explicitly set flags over the defaults.
func resolveConfig(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("backend") {
		cfg.Backend = backendName
	}
	if flags.Changed("vendor") {
		cfg.Vendor = vendor
	}
	if flags.Changed("runs-dir") {
		cfg.RunsDir = runsDir
	}
	if flags.Lookup("kernel") != nil {
		if flags.Changed("kernel") {
			cfg.Kernel = kernelName
		}
		if flags.Changed("height") {
			cfg.Geometry.Height = height
		}
		if flags.Changed("width") {
			cfg.Geometry.Width = width
		}
		if flags.Changed("input") {
			cfg.SearchPaths = inputPaths
		}
		if flags.Changed("out-dir") {
			cfg.OutDir = outDir
		}
		if flags.Changed("preview") {
			cfg.Preview = previewFormat
		}
		if flags.Changed("chdir-exe") {
			cfg.ChdirToExecutable = chdirExe
		}
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func runPipeline(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	if cfg.ChdirToExecutable {
		chdirToExecutable(logger)
	}

	binary := args[0]
	drv, err := pipeline.NewDriver(cfg.Backend, cfg.Vendor, cfg.Kernel)
	if err != nil {
		return err
	}

	runner := pipeline.NewRunner(drv, cfg, binary, logger)

	var rec *runRecorder
	if cfg.RunsDir != "" {
		rec, err = newRunRecorder(cfg.RunsDir, drv.Name(), binary, cfg.Kernel, logger)
		if err != nil {
			logger.Warn("Run records disabled", "runs_dir", cfg.RunsDir, "error", err)
		}
	}
	runner.Observer = pipeline.StageFunc(func(s pipeline.Stage) {
		logger.Debug("Stage finished", "stage", s.Name, "duration", s.Duration, "error", s.Err)
		if rec != nil {
			rec.ObserveStage(s)
		}
	})

	logger.Info("Starting run", "backend", drv.Name(), "binary", binary, "geometry", cfg.Geometry.String())
	report, runErr := runner.Run(cmd.Context())

	if rec != nil {
		rec.finish(cfg, report, runErr)
	}
	if runErr != nil {
		return runErr
	}

	logger.Info("Run complete",
		"elapsed", report.Elapsed,
		"input", report.Input.Source,
		"failed_outputs", len(report.Failed()),
	)
	return nil
}
