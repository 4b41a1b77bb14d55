package accel

import (
	"errors"
	"fmt"
)

var (
	// ErrNoDevice indicates no device matched the requested platform and class.
	ErrNoDevice = errors.New("unable to find target device")
	// ErrUnknownDevice is returned by Driver.Open for a device it did not enumerate.
	ErrUnknownDevice = errors.New("device not found in enumeration")
	// ErrInvalidBinary indicates a program image the runtime cannot load.
	ErrInvalidBinary = errors.New("invalid program binary")
	// ErrKernelNotFound indicates the program has no entry point with that name.
	ErrKernelNotFound = errors.New("kernel entry point not found")
	// ErrInvalidArg indicates a kernel argument of an unsupported type or index.
	ErrInvalidArg = errors.New("invalid kernel argument")
	// ErrInvalidBuffer indicates a buffer not owned by the context or already released.
	ErrInvalidBuffer = errors.New("invalid buffer")
	// ErrClosed is returned for operations on a closed context.
	ErrClosed = errors.New("context closed")
)

// BuildError carries the runtime's build log for a failed program build.
type BuildError struct {
	Device string
	Log    string
	Err    error
}

func (e *BuildError) Error() string {
	if e.Log != "" {
		return fmt.Sprintf("program build failed for %s: %v\n%s", e.Device, e.Err, e.Log)
	}
	return fmt.Sprintf("program build failed for %s: %v", e.Device, e.Err)
}

func (e *BuildError) Unwrap() error {
	return e.Err
}
