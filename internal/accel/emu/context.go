package emu

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cwbudde/kmeansbirch/internal/accel"
)

type opKind int

const (
	opMigrate opKind = iota
	opTask
)

type queuedOp struct {
	kind    opKind
	buffers []*buffer
	dir     accel.MigrateDirection
	kernel  *kernel
	args    []any
}

// Context implements accel.Context with a software command queue.
type Context struct {
	drv     *Driver
	device  accel.DeviceInfo
	pending []queuedOp
	buffers map[int]*buffer

	livePrograms int
	liveKernels  int
	closed       bool
}

// Device returns the bound device.
func (c *Context) Device() accel.DeviceInfo {
	return c.device
}

// BuildProgram validates the image and exposes every registered kernel.
func (c *Context) BuildProgram(binary []byte) (accel.Program, error) {
	if c.closed {
		return nil, accel.ErrClosed
	}
	if len(binary) == 0 {
		return nil, &accel.BuildError{Device: c.device.Name, Err: fmt.Errorf("%w: empty image", accel.ErrInvalidBinary)}
	}
	if validate := c.drv.cfg.ValidateBinary; validate != nil {
		if err := validate(binary); err != nil {
			return nil, &accel.BuildError{Device: c.device.Name, Err: fmt.Errorf("%w: %v", accel.ErrInvalidBinary, err)}
		}
	}

	c.drv.record(Event{Kind: EventBuildProgram, Detail: fmt.Sprintf("%d bytes", len(binary))})
	c.livePrograms++
	return &program{ctx: c}, nil
}

// CreateBuffer allocates separate device and host regions of size bytes.
func (c *Context) CreateBuffer(flags accel.MemFlags, size int) (accel.Buffer, error) {
	if c.closed {
		return nil, accel.ErrClosed
	}
	if size <= 0 {
		return nil, fmt.Errorf("%w: size %d", accel.ErrInvalidBuffer, size)
	}

	device, err := allocRegion(size)
	if err != nil {
		return nil, fmt.Errorf("emu: allocate device region: %w", err)
	}
	host, err := allocRegion(size)
	if err != nil {
		freeRegion(device)
		return nil, fmt.Errorf("emu: allocate host region: %w", err)
	}

	b := &buffer{
		id:     c.drv.newID(),
		ctx:    c,
		flags:  flags,
		device: device,
		host:   host,
	}
	c.buffers[b.id] = b
	c.drv.record(Event{Kind: EventCreateBuffer, Buffers: []int{b.id}, Detail: flags.String()})
	return b, nil
}

// MapBuffer returns the host view of buf. Mapping is synchronous.
func (c *Context) MapBuffer(buf accel.Buffer, flags accel.MapFlags) ([]byte, error) {
	b, err := c.own(buf)
	if err != nil {
		return nil, err
	}
	if b.mapped {
		return nil, fmt.Errorf("%w: buffer %d already mapped", accel.ErrInvalidBuffer, b.id)
	}

	b.mapped = true
	c.drv.record(Event{Kind: EventMap, Buffers: []int{b.id}, Map: flags})
	return b.host, nil
}

// UnmapBuffer drops the host mapping.
func (c *Context) UnmapBuffer(buf accel.Buffer, mapped []byte) error {
	b, err := c.own(buf)
	if err != nil {
		return err
	}
	if !b.mapped {
		return fmt.Errorf("%w: buffer %d not mapped", accel.ErrInvalidBuffer, b.id)
	}
	if len(mapped) != len(b.host) || (len(mapped) > 0 && &mapped[0] != &b.host[0]) {
		return fmt.Errorf("%w: mapping does not belong to buffer %d", accel.ErrInvalidBuffer, b.id)
	}

	b.mapped = false
	c.drv.record(Event{Kind: EventUnmap, Buffers: []int{b.id}})
	return nil
}

// EnqueueMigrate queues a copy between the host and device regions.
func (c *Context) EnqueueMigrate(bufs []accel.Buffer, dir accel.MigrateDirection) error {
	if c.closed {
		return accel.ErrClosed
	}
	if len(bufs) == 0 {
		return fmt.Errorf("%w: no buffers to migrate", accel.ErrInvalidBuffer)
	}

	owned := make([]*buffer, 0, len(bufs))
	ids := make([]int, 0, len(bufs))
	for _, buf := range bufs {
		b, err := c.own(buf)
		if err != nil {
			return err
		}
		owned = append(owned, b)
		ids = append(ids, b.id)
	}

	c.pending = append(c.pending, queuedOp{kind: opMigrate, buffers: owned, dir: dir})
	c.drv.record(Event{Kind: EventEnqueueMigrate, Buffers: ids, Direction: dir})
	return nil
}

// EnqueueTask snapshots the kernel arguments and queues one invocation.
func (c *Context) EnqueueTask(k accel.Kernel) error {
	if c.closed {
		return accel.ErrClosed
	}
	kn, ok := k.(*kernel)
	if !ok || kn.prog.ctx != c {
		return fmt.Errorf("%w: kernel does not belong to this context", accel.ErrInvalidArg)
	}
	if kn.released {
		return fmt.Errorf("%w: kernel %s released", accel.ErrInvalidArg, kn.name)
	}

	args := make([]any, len(kn.args))
	for i, v := range kn.args {
		if v == nil {
			return fmt.Errorf("%w: %s argument %d not set", accel.ErrInvalidArg, kn.name, i)
		}
		args[i] = v
	}

	c.pending = append(c.pending, queuedOp{kind: opTask, kernel: kn, args: args})
	c.drv.record(Event{Kind: EventEnqueueTask, Kernel: kn.name})
	return nil
}

// Finish runs every queued command in order.
func (c *Context) Finish() error {
	if c.closed {
		return accel.ErrClosed
	}

	pending := c.pending
	c.pending = nil

	for _, op := range pending {
		switch op.kind {
		case opMigrate:
			ids := make([]int, 0, len(op.buffers))
			for _, b := range op.buffers {
				if b.released {
					return fmt.Errorf("%w: buffer %d released before migration ran", accel.ErrInvalidBuffer, b.id)
				}
				if op.dir == accel.MigrateToHost {
					copy(b.host, b.device)
				} else {
					copy(b.device, b.host)
				}
				ids = append(ids, b.id)
			}
			c.drv.record(Event{Kind: EventExecMigrate, Buffers: ids, Direction: op.dir})

		case opTask:
			c.drv.record(Event{Kind: EventExecTask, Kernel: op.kernel.name})
			if err := op.kernel.fn(&Args{kernel: op.kernel.name, values: op.args}); err != nil {
				return fmt.Errorf("emu: kernel %s failed: %w", op.kernel.name, err)
			}
		}
	}

	c.drv.record(Event{Kind: EventFinish})
	return nil
}

// Close frees every remaining buffer and reports anything left live.
func (c *Context) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true

	var leaks []string
	ids := make([]int, 0, len(c.buffers))
	for id := range c.buffers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		b := c.buffers[id]
		if b.mapped {
			leaks = append(leaks, fmt.Sprintf("buffer %d mapped", id))
		} else {
			leaks = append(leaks, fmt.Sprintf("buffer %d", id))
		}
		b.free()
	}
	if c.liveKernels > 0 {
		leaks = append(leaks, fmt.Sprintf("%d kernel(s)", c.liveKernels))
	}
	if c.livePrograms > 0 {
		leaks = append(leaks, fmt.Sprintf("%d program(s)", c.livePrograms))
	}
	if len(c.pending) > 0 {
		leaks = append(leaks, fmt.Sprintf("%d queued command(s)", len(c.pending)))
	}

	c.drv.record(Event{Kind: EventClose})
	if len(leaks) > 0 {
		return fmt.Errorf("%w: %s", ErrLeak, strings.Join(leaks, ", "))
	}
	return nil
}

func (c *Context) own(buf accel.Buffer) (*buffer, error) {
	if c.closed {
		return nil, accel.ErrClosed
	}
	b, ok := buf.(*buffer)
	if !ok || b.ctx != c {
		return nil, fmt.Errorf("%w: buffer does not belong to this context", accel.ErrInvalidBuffer)
	}
	if b.released {
		return nil, fmt.Errorf("%w: buffer %d released", accel.ErrInvalidBuffer, b.id)
	}
	return b, nil
}
