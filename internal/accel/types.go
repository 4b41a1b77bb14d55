package accel

// DeviceType describes the class of an accelerator runtime device.
type DeviceType string

const (
	DeviceTypeGPU         DeviceType = "GPU"
	DeviceTypeCPU         DeviceType = "CPU"
	DeviceTypeAccelerator DeviceType = "Accelerator"
	DeviceTypeDefault     DeviceType = "Default"
	DeviceTypeUnknown     DeviceType = "Unknown"
)

// DeviceRef locates a device inside the enumeration a driver returned.
type DeviceRef struct {
	Platform int
	Device   int
}

// DeviceInfo captures metadata about a device.
type DeviceInfo struct {
	Name            string
	Vendor          string
	Version         string
	Type            DeviceType
	MaxComputeUnits uint32
	Ref             DeviceRef
}

// PlatformInfo captures metadata about a platform and its devices.
type PlatformInfo struct {
	Name    string
	Vendor  string
	Version string
	Devices []DeviceInfo
}

// MemFlags is the device-side access mode of a buffer.
type MemFlags int

const (
	MemReadWrite MemFlags = iota
	MemReadOnly
	MemWriteOnly
)

func (f MemFlags) String() string {
	switch f {
	case MemReadOnly:
		return "read-only"
	case MemWriteOnly:
		return "write-only"
	default:
		return "read-write"
	}
}

// MapFlags is the host-side access requested when mapping a buffer.
type MapFlags int

const (
	MapRead MapFlags = 1 << iota
	MapWrite
)

func (f MapFlags) String() string {
	switch f {
	case MapRead:
		return "read"
	case MapWrite:
		return "write"
	case MapRead | MapWrite:
		return "read-write"
	default:
		return "none"
	}
}

// MigrateDirection selects the target address space of a migration.
type MigrateDirection int

const (
	MigrateToDevice MigrateDirection = iota
	MigrateToHost
)

func (d MigrateDirection) String() string {
	if d == MigrateToHost {
		return "device->host"
	}
	return "host->device"
}
