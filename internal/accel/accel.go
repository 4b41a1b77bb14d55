// Package accel defines the host-side view of an accelerator runtime:
// platform and device discovery, an explicitly owned execution context with
// its command queue, device buffers with host mappings, and programs built
// from prebuilt binary images.
//
// Resource life-cycle:
//
// Every object obtained from a Context (buffers, programs, kernels) must be
// released before the Context is closed. Host mappings returned by
// MapBuffer stay valid until UnmapBuffer and must be unmapped before the
// buffer is released. Enqueue methods return as soon as the command is
// queued; only Finish guarantees that queued work has completed.
package accel

// Driver is the entry point of an accelerator runtime implementation.
type Driver interface {
	// Name identifies the driver ("opencl", "emu").
	Name() string

	// Platforms enumerates platforms and their devices.
	Platforms() ([]PlatformInfo, error)

	// Open creates an execution context with one command queue for the
	// device, which must come from the most recent Platforms call.
	Open(device DeviceInfo) (Context, error)
}

// Context groups a device with the command queue used for all operations.
type Context interface {
	// Device returns the device this context is bound to.
	Device() DeviceInfo

	// BuildProgram constructs an executable program from a prebuilt binary
	// image for the context's device. The image may be discarded afterwards.
	BuildProgram(binary []byte) (Program, error)

	// CreateBuffer allocates a device buffer of size bytes.
	CreateBuffer(flags MemFlags, size int) (Buffer, error)

	// MapBuffer blocks until buf is mapped into host memory and returns the
	// host view. The slice length equals buf.Size().
	MapBuffer(buf Buffer, flags MapFlags) ([]byte, error)

	// UnmapBuffer releases a host mapping returned by MapBuffer.
	UnmapBuffer(buf Buffer, mapped []byte) error

	// EnqueueMigrate queues a transfer of bufs to the given address space.
	EnqueueMigrate(bufs []Buffer, dir MigrateDirection) error

	// EnqueueTask queues a single invocation of k.
	EnqueueTask(k Kernel) error

	// Finish blocks until every queued command has completed.
	Finish() error

	// Close releases the queue and the context.
	Close() error
}

// Buffer is a device memory region.
type Buffer interface {
	Size() int
	Flags() MemFlags
	Release() error
}

// Program is an executable built for one device.
type Program interface {
	// Kernel returns the entry point with the given name.
	Kernel(name string) (Kernel, error)
	Release() error
}

// Kernel is an invocable entry point of a Program. Arguments are bound by
// position; a value is either a Buffer or a uint32.
type Kernel interface {
	Name() string
	SetArg(index int, value any) error
	Release() error
}
