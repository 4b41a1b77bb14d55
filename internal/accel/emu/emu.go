// Package emu is an in-process accelerator driver. Device memory and host
// mappings are separate allocations, so data only crosses between them
// through explicit migrations, and queued commands only run inside Finish.
// Kernels are Go functions registered by name.
package emu

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cwbudde/kmeansbirch/internal/accel"
)

// ErrLeak is returned by Close when objects created through the context
// were not released first.
var ErrLeak = errors.New("emu: context closed with live objects")

// KernelFunc is the body of an emulated kernel. It runs inside Finish and
// sees device memory only.
type KernelFunc func(args *Args) error

// DeviceSpec describes an emulated device.
type DeviceSpec struct {
	Name         string
	Type         accel.DeviceType
	ComputeUnits uint32
}

// PlatformSpec describes an emulated platform.
type PlatformSpec struct {
	Name    string
	Vendor  string
	Version string
	Devices []DeviceSpec
}

// Config controls what the driver exposes.
type Config struct {
	Platforms []PlatformSpec
	Kernels   map[string]KernelFunc

	// ValidateBinary rejects program images. Nil accepts any non-empty image.
	ValidateBinary func(binary []byte) error

	// PlatformsErr, when set, is returned by Platforms.
	PlatformsErr error
}

// DefaultConfig exposes one accelerator under a platform named vendor,
// running Loopback as kernel.
func DefaultConfig(vendor, kernel string) Config {
	return Config{
		Platforms: []PlatformSpec{
			{
				Name:    vendor,
				Vendor:  vendor,
				Version: "OpenCL 1.2 emu",
				Devices: []DeviceSpec{
					{Name: "emu_accelerator_0", Type: accel.DeviceTypeAccelerator, ComputeUnits: 1},
				},
			},
		},
		Kernels: map[string]KernelFunc{kernel: Loopback},
	}
}

// Driver implements accel.Driver.
type Driver struct {
	cfg Config

	mu     sync.Mutex
	events []Event
	nextID int
}

// New creates an emulated driver.
func New(cfg Config) *Driver {
	return &Driver{cfg: cfg}
}

// Name returns "emu".
func (d *Driver) Name() string {
	return "emu"
}

// Platforms returns the configured platforms.
func (d *Driver) Platforms() ([]accel.PlatformInfo, error) {
	if d.cfg.PlatformsErr != nil {
		return nil, d.cfg.PlatformsErr
	}

	out := make([]accel.PlatformInfo, len(d.cfg.Platforms))
	for p, plat := range d.cfg.Platforms {
		devices := make([]accel.DeviceInfo, len(plat.Devices))
		for i, dev := range plat.Devices {
			devices[i] = accel.DeviceInfo{
				Name:            dev.Name,
				Vendor:          plat.Vendor,
				Version:         plat.Version,
				Type:            dev.Type,
				MaxComputeUnits: dev.ComputeUnits,
				Ref:             accel.DeviceRef{Platform: p, Device: i},
			}
		}
		out[p] = accel.PlatformInfo{
			Name:    plat.Name,
			Vendor:  plat.Vendor,
			Version: plat.Version,
			Devices: devices,
		}
	}
	return out, nil
}

// Open creates a context for a device returned by Platforms.
func (d *Driver) Open(device accel.DeviceInfo) (accel.Context, error) {
	ref := device.Ref
	if ref.Platform < 0 || ref.Platform >= len(d.cfg.Platforms) {
		return nil, fmt.Errorf("%w: platform %d", accel.ErrUnknownDevice, ref.Platform)
	}
	if ref.Device < 0 || ref.Device >= len(d.cfg.Platforms[ref.Platform].Devices) {
		return nil, fmt.Errorf("%w: device %d", accel.ErrUnknownDevice, ref.Device)
	}

	d.record(Event{Kind: EventOpen, Detail: device.Name})
	return &Context{
		drv:     d,
		device:  device,
		buffers: make(map[int]*buffer),
	}, nil
}

// Events returns a copy of everything the driver observed, in order.
func (d *Driver) Events() []Event {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]Event, len(d.events))
	copy(out, d.events)
	return out
}

func (d *Driver) record(ev Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ev.Seq = len(d.events)
	d.events = append(d.events, ev)
}

func (d *Driver) newID() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++
	return d.nextID
}
