package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/cwbudde/kmeansbirch/internal/accel"
	"github.com/cwbudde/kmeansbirch/internal/config"
	"github.com/cwbudde/kmeansbirch/internal/input"
	"github.com/cwbudde/kmeansbirch/internal/raster"
)

// OutputResult records where one output buffer was written.
type OutputResult struct {
	Name       string
	Path       string
	Preview    string
	Err        error
	PreviewErr error
}

// Report summarizes a run. A failed run returns the part filled so far.
type Report struct {
	Backend  string
	Binary   string
	Platform accel.PlatformInfo
	Device   accel.DeviceInfo
	Input    input.Result
	Outputs  []OutputResult
	Started  time.Time
	Elapsed  time.Duration
}

// Failed returns the outputs whose PPM or preview could not be written.
func (r *Report) Failed() []OutputResult {
	var out []OutputResult
	for _, o := range r.Outputs {
		if o.Err != nil || o.PreviewErr != nil {
			out = append(out, o)
		}
	}
	return out
}

// Runner executes one staging and dispatch cycle.
type Runner struct {
	Driver     accel.Driver
	Config     config.Config
	BinaryPath string
	Logger     *slog.Logger
	Observer   StageObserver
}

// NewRunner creates a runner. logger may be nil.
func NewRunner(drv accel.Driver, cfg config.Config, binaryPath string, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{Driver: drv, Config: cfg, BinaryPath: binaryPath, Logger: logger}
}

// Run resolves the device, loads the program, stages the input, dispatches
// the kernel and writes both outputs. Setup failures abort the run. Output
// write failures are logged and listed in the report without failing it.
// Buffers, program and context are always released once created.
func (r *Runner) Run(ctx context.Context) (report *Report, err error) {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := r.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	preview, err := raster.ParsePreviewFormat(cfg.Preview)
	if err != nil {
		return nil, err
	}

	report = &Report{Backend: r.Driver.Name(), Binary: r.BinaryPath, Started: time.Now()}
	defer func() {
		report.Elapsed = time.Since(report.Started)
	}()

	var sel Selection
	err = observe(r.Observer, StageResolve, func() error {
		var rerr error
		sel, rerr = ResolveDevice(r.Driver, cfg.Vendor, logger)
		return rerr
	})
	if err != nil {
		return report, err
	}
	report.Platform = sel.Platform
	report.Device = sel.Device

	if err := ctx.Err(); err != nil {
		return report, err
	}

	var actx accel.Context
	err = observe(r.Observer, StageOpen, func() error {
		var oerr error
		actx, oerr = r.Driver.Open(sel.Device)
		return oerr
	})
	if err != nil {
		return report, fmt.Errorf("open device %s: %w", sel.Device.Name, err)
	}
	defer func() {
		if cerr := actx.Close(); cerr != nil {
			logger.Error("Failed to close device context", "error", cerr)
			err = errors.Join(err, fmt.Errorf("close context: %w", cerr))
		}
	}()

	if err := ctx.Err(); err != nil {
		return report, err
	}

	var prog *LoadedProgram
	err = observe(r.Observer, StageLoadProgram, func() error {
		var lerr error
		prog, lerr = LoadProgram(actx, r.BinaryPath, cfg.Kernel, logger)
		return lerr
	})
	if err != nil {
		return report, err
	}
	defer func() {
		if rerr := prog.Release(); rerr != nil {
			logger.Error("Failed to release program", "error", rerr)
			err = errors.Join(err, fmt.Errorf("release program: %w", rerr))
		}
	}()

	if err := ctx.Err(); err != nil {
		return report, err
	}

	var bufs *BufferSet
	err = observe(r.Observer, StageAllocate, func() error {
		var aerr error
		bufs, aerr = AllocateBuffers(actx, cfg.Geometry)
		return aerr
	})
	if err != nil {
		return report, err
	}
	defer func() {
		if rerr := observe(r.Observer, StageRelease, bufs.Release); rerr != nil {
			logger.Error("Failed to release buffers", "error", rerr)
			err = errors.Join(err, fmt.Errorf("release buffers: %w", rerr))
		}
	}()

	if err := ctx.Err(); err != nil {
		return report, err
	}

	err = observe(r.Observer, StageAcquire, func() error {
		res, ferr := input.NewAcquirer(cfg.Geometry, cfg.SearchPaths, logger).Fill(bufs.Input.Host)
		report.Input = res
		return ferr
	})
	if err != nil {
		return report, fmt.Errorf("stage input: %w", err)
	}

	logger.Info("Dispatching kernel", "kernel", cfg.Kernel, "geometry", cfg.Geometry.String())
	if err := Dispatch(actx, prog.Kernel, bufs, r.Observer); err != nil {
		return report, err
	}
	logger.Info("Kernel finished")

	_ = observe(r.Observer, StageEncode, func() error {
		report.Outputs = r.writeOutputs(bufs, preview, logger)
		var errs []error
		for _, o := range report.Failed() {
			errs = append(errs, o.Err, o.PreviewErr)
		}
		return errors.Join(errs...)
	})

	return report, nil
}

func (r *Runner) writeOutputs(bufs *BufferSet, preview raster.PreviewFormat, logger *slog.Logger) []OutputResult {
	cfg := r.Config
	g := bufs.Geometry()

	files := map[*MappedBuffer]string{
		bufs.KMeans: cfg.Outputs.KMeans,
		bufs.Birch:  cfg.Outputs.Birch,
	}

	results := make([]OutputResult, 0, len(files))
	for _, mb := range bufs.Outputs() {
		res := OutputResult{Name: mb.Name, Path: cfg.OutputPath(files[mb])}

		if err := raster.WritePPM(res.Path, g, mb.Host); err != nil {
			logger.Error("Failed to write output", "output", mb.Name, "path", res.Path, "error", err)
			res.Err = err
			results = append(results, res)
			continue
		}

		if preview != raster.PreviewNone {
			res.Preview = strings.TrimSuffix(res.Path, filepath.Ext(res.Path)) + preview.Ext()
			if err := raster.WritePreview(res.Preview, preview, g, mb.Host); err != nil {
				logger.Error("Failed to write preview", "output", mb.Name, "path", res.Preview, "error", err)
				res.PreviewErr = err
			}
		}

		results = append(results, res)
	}
	return results
}
