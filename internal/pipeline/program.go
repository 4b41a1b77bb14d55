package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/cwbudde/kmeansbirch/internal/accel"
)

// ErrProgramLoad wraps every failure to read, build or bind a program binary.
var ErrProgramLoad = errors.New("failed to load program binary")

// LoadedProgram is a built program and its entry point.
type LoadedProgram struct {
	Path    string
	Size    int
	Program accel.Program
	Kernel  accel.Kernel
}

// Release frees the kernel, then the program.
func (p *LoadedProgram) Release() error {
	if p == nil {
		return nil
	}
	var errs []error
	if p.Kernel != nil {
		errs = append(errs, p.Kernel.Release())
		p.Kernel = nil
	}
	if p.Program != nil {
		errs = append(errs, p.Program.Release())
		p.Program = nil
	}
	return errors.Join(errs...)
}

// LoadProgram reads the binary at path, builds it for the device of ctx and
// looks up the kernel entry point.
func LoadProgram(ctx accel.Context, path, kernel string, logger *slog.Logger) (*LoadedProgram, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("Loading program binary", "path", path)
	image, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProgramLoad, err)
	}
	if len(image) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrProgramLoad, path)
	}
	size := len(image)

	prog, err := ctx.BuildProgram(image)
	if err != nil {
		var buildErr *accel.BuildError
		if errors.As(err, &buildErr) && buildErr.Log != "" {
			logger.Error("Program build log", "device", buildErr.Device, "log", buildErr.Log)
		}
		return nil, fmt.Errorf("%w: %w", ErrProgramLoad, err)
	}

	k, err := prog.Kernel(kernel)
	if err != nil {
		if relErr := prog.Release(); relErr != nil {
			logger.Warn("Failed to release program", "error", relErr)
		}
		return nil, fmt.Errorf("%w: %w", ErrProgramLoad, err)
	}

	logger.Info("Program ready", "device", ctx.Device().Name, "kernel", kernel, "bytes", size)
	return &LoadedProgram{Path: path, Size: size, Program: prog, Kernel: k}, nil
}
