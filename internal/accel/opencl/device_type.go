package opencl

import "github.com/cwbudde/kmeansbirch/internal/accel"

// cl_device_type bits from cl.h.
const (
	deviceTypeDefault     uint64 = 1 << 0
	deviceTypeCPU         uint64 = 1 << 1
	deviceTypeGPU         uint64 = 1 << 2
	deviceTypeAccelerator uint64 = 1 << 3
)

// deviceTypeFromBits classifies a cl_device_type bitmask. The accelerator
// bit wins over the others so a device reporting several classes is still
// eligible for accelerator selection.
func deviceTypeFromBits(bits uint64) accel.DeviceType {
	switch {
	case bits&deviceTypeAccelerator != 0:
		return accel.DeviceTypeAccelerator
	case bits&deviceTypeGPU != 0:
		return accel.DeviceTypeGPU
	case bits&deviceTypeCPU != 0:
		return accel.DeviceTypeCPU
	case bits&deviceTypeDefault != 0:
		return accel.DeviceTypeDefault
	default:
		return accel.DeviceTypeUnknown
	}
}
