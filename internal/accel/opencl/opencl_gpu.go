//go:build gpu

package opencl

/*
#cgo LDFLAGS: -lOpenCL
#define CL_TARGET_OPENCL_VERSION 120
#define CL_USE_DEPRECATED_OPENCL_1_2_APIS
#include <CL/cl.h>
#include <stdlib.h>

static const char* kb_cl_error_string(cl_int status) {
	switch (status) {
	case CL_SUCCESS: return "CL_SUCCESS";
	case CL_DEVICE_NOT_FOUND: return "CL_DEVICE_NOT_FOUND";
	case CL_DEVICE_NOT_AVAILABLE: return "CL_DEVICE_NOT_AVAILABLE";
	case CL_COMPILER_NOT_AVAILABLE: return "CL_COMPILER_NOT_AVAILABLE";
	case CL_MEM_OBJECT_ALLOCATION_FAILURE: return "CL_MEM_OBJECT_ALLOCATION_FAILURE";
	case CL_OUT_OF_RESOURCES: return "CL_OUT_OF_RESOURCES";
	case CL_OUT_OF_HOST_MEMORY: return "CL_OUT_OF_HOST_MEMORY";
	case CL_PROFILING_INFO_NOT_AVAILABLE: return "CL_PROFILING_INFO_NOT_AVAILABLE";
	case CL_MEM_COPY_OVERLAP: return "CL_MEM_COPY_OVERLAP";
	case CL_BUILD_PROGRAM_FAILURE: return "CL_BUILD_PROGRAM_FAILURE";
	case CL_MAP_FAILURE: return "CL_MAP_FAILURE";
	case CL_INVALID_VALUE: return "CL_INVALID_VALUE";
	case CL_INVALID_DEVICE_TYPE: return "CL_INVALID_DEVICE_TYPE";
	case CL_INVALID_PLATFORM: return "CL_INVALID_PLATFORM";
	case CL_INVALID_DEVICE: return "CL_INVALID_DEVICE";
	case CL_INVALID_CONTEXT: return "CL_INVALID_CONTEXT";
	case CL_INVALID_QUEUE_PROPERTIES: return "CL_INVALID_QUEUE_PROPERTIES";
	case CL_INVALID_COMMAND_QUEUE: return "CL_INVALID_COMMAND_QUEUE";
	case CL_INVALID_HOST_PTR: return "CL_INVALID_HOST_PTR";
	case CL_INVALID_MEM_OBJECT: return "CL_INVALID_MEM_OBJECT";
	case CL_INVALID_BINARY: return "CL_INVALID_BINARY";
	case CL_INVALID_BUILD_OPTIONS: return "CL_INVALID_BUILD_OPTIONS";
	case CL_INVALID_PROGRAM: return "CL_INVALID_PROGRAM";
	case CL_INVALID_PROGRAM_EXECUTABLE: return "CL_INVALID_PROGRAM_EXECUTABLE";
	case CL_INVALID_KERNEL_NAME: return "CL_INVALID_KERNEL_NAME";
	case CL_INVALID_KERNEL_DEFINITION: return "CL_INVALID_KERNEL_DEFINITION";
	case CL_INVALID_KERNEL: return "CL_INVALID_KERNEL";
	case CL_INVALID_ARG_INDEX: return "CL_INVALID_ARG_INDEX";
	case CL_INVALID_ARG_VALUE: return "CL_INVALID_ARG_VALUE";
	case CL_INVALID_ARG_SIZE: return "CL_INVALID_ARG_SIZE";
	case CL_INVALID_KERNEL_ARGS: return "CL_INVALID_KERNEL_ARGS";
	case CL_INVALID_EVENT_WAIT_LIST: return "CL_INVALID_EVENT_WAIT_LIST";
	case CL_INVALID_OPERATION: return "CL_INVALID_OPERATION";
	case CL_INVALID_BUFFER_SIZE: return "CL_INVALID_BUFFER_SIZE";
	default: return "CL_UNKNOWN_ERROR";
	}
}
*/
import "C"

import (
	"errors"
	"fmt"
	"log/slog"
	"unsafe"

	"github.com/cwbudde/kmeansbirch/internal/accel"
)

// New loads nothing up front; platforms are enumerated on demand.
func New() (accel.Driver, error) {
	return &Driver{}, nil
}

// Available reports whether OpenCL support is compiled in.
func Available() bool {
	return true
}

// Driver implements accel.Driver on top of the OpenCL ICD loader.
type Driver struct {
	records []platformRecord
}

type platformRecord struct {
	id      C.cl_platform_id
	info    accel.PlatformInfo
	devices []deviceRecord
}

type deviceRecord struct {
	id   C.cl_device_id
	info accel.DeviceInfo
}

// errNoDevices is used internally when a platform reports no devices.
var errNoDevices = errors.New("no OpenCL devices found")

// Name returns "opencl".
func (d *Driver) Name() string {
	return "opencl"
}

// Platforms enumerates every platform and all of its devices.
func (d *Driver) Platforms() ([]accel.PlatformInfo, error) {
	records, err := enumeratePlatformRecords()
	if err != nil {
		return nil, err
	}
	d.records = records

	out := make([]accel.PlatformInfo, len(records))
	for i, rec := range records {
		out[i] = rec.info
	}
	return out, nil
}

// Open creates a context and a profiling-enabled command queue.
func (d *Driver) Open(device accel.DeviceInfo) (accel.Context, error) {
	ref := device.Ref
	if ref.Platform < 0 || ref.Platform >= len(d.records) {
		return nil, fmt.Errorf("%w: platform %d", accel.ErrUnknownDevice, ref.Platform)
	}
	platform := d.records[ref.Platform]
	if ref.Device < 0 || ref.Device >= len(platform.devices) {
		return nil, fmt.Errorf("%w: device %d", accel.ErrUnknownDevice, ref.Device)
	}
	dev := platform.devices[ref.Device]

	var status C.cl_int
	deviceID := dev.id
	context := C.clCreateContext(nil, 1, &deviceID, nil, nil, &status)
	if status != C.CL_SUCCESS {
		return nil, statusError("clCreateContext", status)
	}

	queue := C.clCreateCommandQueue(context, deviceID, C.CL_QUEUE_PROFILING_ENABLE, &status)
	if status != C.CL_SUCCESS {
		C.clReleaseContext(context)
		return nil, statusError("clCreateCommandQueue", status)
	}

	return &Context{
		deviceID: deviceID,
		context:  context,
		queue:    queue,
		device:   dev.info,
	}, nil
}

// Context owns one OpenCL context and its command queue.
type Context struct {
	deviceID C.cl_device_id
	context  C.cl_context
	queue    C.cl_command_queue
	device   accel.DeviceInfo
}

// Device returns the bound device.
func (c *Context) Device() accel.DeviceInfo {
	return c.device
}

// BuildProgram creates a program from a prebuilt binary for the device.
func (c *Context) BuildProgram(binary []byte) (accel.Program, error) {
	if c.context == nil {
		return nil, accel.ErrClosed
	}
	if len(binary) == 0 {
		return nil, &accel.BuildError{Device: c.device.Name, Err: fmt.Errorf("%w: empty image", accel.ErrInvalidBinary)}
	}

	// The runtime reads the image through a pointer-to-pointer, so it has to
	// live in C memory until program creation returns.
	image := C.CBytes(binary)
	defer C.free(image)

	length := C.size_t(len(binary))
	imagePtr := (*C.uchar)(image)
	deviceID := c.deviceID

	var binaryStatus, status C.cl_int
	prog := C.clCreateProgramWithBinary(c.context, 1, &deviceID, &length, &imagePtr, &binaryStatus, &status)
	if status != C.CL_SUCCESS {
		err := statusError("clCreateProgramWithBinary", status)
		if status == C.CL_INVALID_BINARY || binaryStatus != C.CL_SUCCESS {
			err = fmt.Errorf("%w: %v", accel.ErrInvalidBinary, err)
		}
		return nil, &accel.BuildError{Device: c.device.Name, Err: err}
	}

	status = C.clBuildProgram(prog, 1, &deviceID, nil, nil, nil)
	if status != C.CL_SUCCESS {
		buildLog := c.buildLog(prog)
		C.clReleaseProgram(prog)
		return nil, &accel.BuildError{Device: c.device.Name, Log: buildLog, Err: statusError("clBuildProgram", status)}
	}

	return &program{program: prog}, nil
}

func (c *Context) buildLog(prog C.cl_program) string {
	var logSize C.size_t
	if status := C.clGetProgramBuildInfo(prog, c.deviceID, C.CL_PROGRAM_BUILD_LOG, 0, nil, &logSize); status != C.CL_SUCCESS {
		slog.Error("OpenCL: failed to fetch build log size", "err", statusError("clGetProgramBuildInfo", status))
		return ""
	}
	if logSize == 0 {
		return ""
	}

	buf := make([]byte, int(logSize))
	if status := C.clGetProgramBuildInfo(prog, c.deviceID, C.CL_PROGRAM_BUILD_LOG, logSize, unsafe.Pointer(&buf[0]), nil); status != C.CL_SUCCESS {
		slog.Error("OpenCL: failed to fetch build log", "err", statusError("clGetProgramBuildInfo", status))
		return ""
	}
	return trimNull(buf)
}

// CreateBuffer allocates a device buffer without a host pointer.
func (c *Context) CreateBuffer(flags accel.MemFlags, size int) (accel.Buffer, error) {
	if c.context == nil {
		return nil, accel.ErrClosed
	}
	if size <= 0 {
		return nil, fmt.Errorf("%w: size %d", accel.ErrInvalidBuffer, size)
	}

	var status C.cl_int
	mem := C.clCreateBuffer(c.context, memFlags(flags), C.size_t(size), nil, &status)
	if status != C.CL_SUCCESS {
		return nil, statusError("clCreateBuffer", status)
	}
	return &buffer{mem: mem, size: size, flags: flags}, nil
}

// MapBuffer performs a blocking map of the whole buffer.
func (c *Context) MapBuffer(buf accel.Buffer, flags accel.MapFlags) ([]byte, error) {
	b, err := c.own(buf)
	if err != nil {
		return nil, err
	}

	var status C.cl_int
	ptr := C.clEnqueueMapBuffer(c.queue, b.mem, C.CL_TRUE, mapFlags(flags), 0, C.size_t(b.size), 0, nil, nil, &status)
	if status != C.CL_SUCCESS {
		return nil, statusError("clEnqueueMapBuffer", status)
	}
	return unsafe.Slice((*byte)(ptr), b.size), nil
}

// UnmapBuffer queues the unmap of a mapping returned by MapBuffer.
func (c *Context) UnmapBuffer(buf accel.Buffer, mapped []byte) error {
	b, err := c.own(buf)
	if err != nil {
		return err
	}
	if len(mapped) == 0 {
		return fmt.Errorf("%w: empty mapping", accel.ErrInvalidBuffer)
	}

	status := C.clEnqueueUnmapMemObject(c.queue, b.mem, unsafe.Pointer(&mapped[0]), 0, nil, nil)
	if status != C.CL_SUCCESS {
		return statusError("clEnqueueUnmapMemObject", status)
	}
	return nil
}

// EnqueueMigrate queues clEnqueueMigrateMemObjects for bufs.
func (c *Context) EnqueueMigrate(bufs []accel.Buffer, dir accel.MigrateDirection) error {
	if c.queue == nil {
		return accel.ErrClosed
	}
	if len(bufs) == 0 {
		return fmt.Errorf("%w: no buffers to migrate", accel.ErrInvalidBuffer)
	}

	mems := make([]C.cl_mem, len(bufs))
	for i, buf := range bufs {
		b, err := c.own(buf)
		if err != nil {
			return err
		}
		mems[i] = b.mem
	}

	var flags C.cl_mem_migration_flags
	if dir == accel.MigrateToHost {
		flags = C.CL_MIGRATE_MEM_OBJECT_HOST
	}

	status := C.clEnqueueMigrateMemObjects(c.queue, C.cl_uint(len(mems)), &mems[0], flags, 0, nil, nil)
	if status != C.CL_SUCCESS {
		return statusError("clEnqueueMigrateMemObjects", status)
	}
	return nil
}

// EnqueueTask queues a single work-item invocation of k.
func (c *Context) EnqueueTask(k accel.Kernel) error {
	if c.queue == nil {
		return accel.ErrClosed
	}
	kn, ok := k.(*kernel)
	if !ok || kn.kernel == nil {
		return fmt.Errorf("%w: foreign or released kernel", accel.ErrInvalidArg)
	}

	status := C.clEnqueueTask(c.queue, kn.kernel, 0, nil, nil)
	if status != C.CL_SUCCESS {
		return statusError("clEnqueueTask", status)
	}
	return nil
}

// Finish blocks until the queue drains.
func (c *Context) Finish() error {
	if c.queue == nil {
		return accel.ErrClosed
	}
	if status := C.clFinish(c.queue); status != C.CL_SUCCESS {
		return statusError("clFinish", status)
	}
	return nil
}

// Close releases the command queue and the context.
func (c *Context) Close() error {
	var errs []error
	if c.queue != nil {
		if status := C.clReleaseCommandQueue(c.queue); status != C.CL_SUCCESS {
			errs = append(errs, statusError("clReleaseCommandQueue", status))
		}
		c.queue = nil
	}
	if c.context != nil {
		if status := C.clReleaseContext(c.context); status != C.CL_SUCCESS {
			errs = append(errs, statusError("clReleaseContext", status))
		}
		c.context = nil
	}
	return errors.Join(errs...)
}

func (c *Context) own(buf accel.Buffer) (*buffer, error) {
	if c.queue == nil {
		return nil, accel.ErrClosed
	}
	b, ok := buf.(*buffer)
	if !ok || b.mem == nil {
		return nil, fmt.Errorf("%w: foreign or released buffer", accel.ErrInvalidBuffer)
	}
	return b, nil
}

type buffer struct {
	mem   C.cl_mem
	size  int
	flags accel.MemFlags
}

func (b *buffer) Size() int             { return b.size }
func (b *buffer) Flags() accel.MemFlags { return b.flags }

func (b *buffer) Release() error {
	if b.mem == nil {
		return nil
	}
	status := C.clReleaseMemObject(b.mem)
	b.mem = nil
	if status != C.CL_SUCCESS {
		return statusError("clReleaseMemObject", status)
	}
	return nil
}

type program struct {
	program C.cl_program
}

func (p *program) Kernel(name string) (accel.Kernel, error) {
	if p.program == nil {
		return nil, fmt.Errorf("%w: program released", accel.ErrKernelNotFound)
	}

	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))

	var status C.cl_int
	k := C.clCreateKernel(p.program, cname, &status)
	if status != C.CL_SUCCESS {
		err := statusError("clCreateKernel", status)
		if status == C.CL_INVALID_KERNEL_NAME {
			return nil, fmt.Errorf("%w: %q: %v", accel.ErrKernelNotFound, name, err)
		}
		return nil, err
	}
	return &kernel{kernel: k, name: name}, nil
}

func (p *program) Release() error {
	if p.program == nil {
		return nil
	}
	status := C.clReleaseProgram(p.program)
	p.program = nil
	if status != C.CL_SUCCESS {
		return statusError("clReleaseProgram", status)
	}
	return nil
}

type kernel struct {
	kernel C.cl_kernel
	name   string
}

func (k *kernel) Name() string { return k.name }

func (k *kernel) SetArg(index int, value any) error {
	if k.kernel == nil {
		return fmt.Errorf("%w: kernel released", accel.ErrInvalidArg)
	}
	if index < 0 {
		return fmt.Errorf("%w: index %d", accel.ErrInvalidArg, index)
	}

	var status C.cl_int
	switch v := value.(type) {
	case *buffer:
		mem := v.mem
		status = C.clSetKernelArg(k.kernel, C.cl_uint(index), C.size_t(unsafe.Sizeof(mem)), unsafe.Pointer(&mem))
	case uint32:
		arg := C.cl_uint(v)
		status = C.clSetKernelArg(k.kernel, C.cl_uint(index), C.size_t(unsafe.Sizeof(arg)), unsafe.Pointer(&arg))
	default:
		return fmt.Errorf("%w: argument %d has type %T", accel.ErrInvalidArg, index, value)
	}
	if status != C.CL_SUCCESS {
		return statusError(fmt.Sprintf("clSetKernelArg(%d)", index), status)
	}
	return nil
}

func (k *kernel) Release() error {
	if k.kernel == nil {
		return nil
	}
	status := C.clReleaseKernel(k.kernel)
	k.kernel = nil
	if status != C.CL_SUCCESS {
		return statusError("clReleaseKernel", status)
	}
	return nil
}

func memFlags(f accel.MemFlags) C.cl_mem_flags {
	switch f {
	case accel.MemReadOnly:
		return C.CL_MEM_READ_ONLY
	case accel.MemWriteOnly:
		return C.CL_MEM_WRITE_ONLY
	default:
		return C.CL_MEM_READ_WRITE
	}
}

func mapFlags(f accel.MapFlags) C.cl_map_flags {
	var out C.cl_map_flags
	if f&accel.MapRead != 0 {
		out |= C.CL_MAP_READ
	}
	if f&accel.MapWrite != 0 {
		out |= C.CL_MAP_WRITE
	}
	return out
}

func statusError(prefix string, status C.cl_int) error {
	return fmt.Errorf("%s: %s (%d)", prefix, C.GoString(C.kb_cl_error_string(status)), int(status))
}
