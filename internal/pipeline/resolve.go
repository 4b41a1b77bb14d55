package pipeline

import (
	"fmt"
	"log/slog"

	"github.com/samber/lo"

	"github.com/cwbudde/kmeansbirch/internal/accel"
)

// Selection is the platform and device chosen for a run.
type Selection struct {
	Platform accel.PlatformInfo
	Device   accel.DeviceInfo
}

// Accelerators returns the accelerator-class devices of p in enumeration order.
func Accelerators(p accel.PlatformInfo) []accel.DeviceInfo {
	return lo.Filter(p.Devices, func(d accel.DeviceInfo, _ int) bool {
		return d.Type == accel.DeviceTypeAccelerator
	})
}

// ResolveDevice returns the first accelerator of the first platform whose
// name equals vendor exactly. Platforms after the first match with at least
// one accelerator are never inspected.
func ResolveDevice(drv accel.Driver, vendor string, logger *slog.Logger) (Selection, error) {
	if logger == nil {
		logger = slog.Default()
	}

	platforms, err := drv.Platforms()
	if err != nil {
		return Selection{}, fmt.Errorf("enumerate platforms: %w", err)
	}

	for _, p := range platforms {
		if p.Name != vendor {
			continue
		}
		devices := Accelerators(p)
		if len(devices) == 0 {
			logger.Debug("Platform has no accelerator devices", "platform", p.Name, "devices", len(p.Devices))
			continue
		}

		logger.Info("Found device", "platform", p.Name, "device", devices[0].Name, "candidates", len(devices))
		return Selection{Platform: p, Device: devices[0]}, nil
	}

	names := lo.Map(platforms, func(p accel.PlatformInfo, _ int) string { return p.Name })
	logger.Error("Unable to find target device", "vendor", vendor, "platforms", names)
	return Selection{}, fmt.Errorf("%w: vendor %q (platforms: %v)", accel.ErrNoDevice, vendor, names)
}
