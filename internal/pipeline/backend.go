package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"github.com/samber/lo"

	"github.com/cwbudde/kmeansbirch/internal/accel"
	"github.com/cwbudde/kmeansbirch/internal/accel/emu"
	"github.com/cwbudde/kmeansbirch/internal/accel/opencl"
)

// Backend identifies an accelerator driver implementation.
type Backend string

const (
	BackendOpenCL Backend = "opencl"
	BackendEmu    Backend = "emu"
)

var (
	// ErrUnknownBackend is returned when the name does not match a known backend.
	ErrUnknownBackend = errors.New("unknown accelerator backend")
	// ErrBackendUnavailable indicates the backend is not available in this build.
	ErrBackendUnavailable = errors.New("accelerator backend unavailable")
)

// NormalizeBackend maps arbitrary user input to a canonical backend identifier.
func NormalizeBackend(name string) Backend {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "opencl", "cl", "xrt", "hw":
		return BackendOpenCL
	case "emu", "emulator", "sw_emu":
		return BackendEmu
	default:
		return Backend(name)
	}
}

// SupportedBackends returns the list of backends understood by the factory.
func SupportedBackends() []Backend {
	return []Backend{BackendOpenCL, BackendEmu}
}

// BackendNames joins the supported backend names for help and error text.
func BackendNames() string {
	return strings.Join(lo.Map(SupportedBackends(), func(b Backend, _ int) string {
		return string(b)
	}), ", ")
}

// NewDriver constructs the requested driver. The emu driver exposes one
// accelerator under vendor and runs a loopback body for kernel.
func NewDriver(name, vendor, kernel string) (accel.Driver, error) {
	switch NormalizeBackend(name) {
	case BackendOpenCL:
		drv, err := opencl.New()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
		}
		return drv, nil
	case BackendEmu:
		return emu.New(emu.DefaultConfig(vendor, kernel)), nil
	default:
		return nil, fmt.Errorf("%w: %s (supported: %s)", ErrUnknownBackend, name, BackendNames())
	}
}
