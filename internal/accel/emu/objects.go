package emu

import (
	"fmt"

	"github.com/cwbudde/kmeansbirch/internal/accel"
)

type buffer struct {
	id     int
	ctx    *Context
	flags  accel.MemFlags
	device []byte
	host   []byte

	mapped   bool
	released bool
}

func (b *buffer) Size() int             { return len(b.device) }
func (b *buffer) Flags() accel.MemFlags { return b.flags }

func (b *buffer) Release() error {
	if b.released {
		return nil
	}
	if b.mapped {
		return fmt.Errorf("%w: buffer %d released while mapped", accel.ErrInvalidBuffer, b.id)
	}
	b.free()
	delete(b.ctx.buffers, b.id)
	b.ctx.drv.record(Event{Kind: EventRelease, Buffers: []int{b.id}})
	return nil
}

func (b *buffer) free() {
	if b.released {
		return
	}
	b.released = true
	freeRegion(b.device)
	freeRegion(b.host)
	b.device, b.host = nil, nil
}

// BufferID returns the journal identifier of a buffer created by this driver.
func BufferID(buf accel.Buffer) (int, bool) {
	b, ok := buf.(*buffer)
	if !ok {
		return 0, false
	}
	return b.id, true
}

type program struct {
	ctx      *Context
	released bool
}

func (p *program) Kernel(name string) (accel.Kernel, error) {
	if p.released {
		return nil, fmt.Errorf("%w: program released", accel.ErrKernelNotFound)
	}
	fn, ok := p.ctx.drv.cfg.Kernels[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", accel.ErrKernelNotFound, name)
	}

	p.ctx.liveKernels++
	p.ctx.drv.record(Event{Kind: EventCreateKernel, Kernel: name})
	return &kernel{prog: p, name: name, fn: fn}, nil
}

func (p *program) Release() error {
	if p.released {
		return nil
	}
	p.released = true
	p.ctx.livePrograms--
	return nil
}

type kernel struct {
	prog     *program
	name     string
	fn       KernelFunc
	args     []any
	released bool
}

func (k *kernel) Name() string { return k.name }

func (k *kernel) SetArg(index int, value any) error {
	if index < 0 {
		return fmt.Errorf("%w: index %d", accel.ErrInvalidArg, index)
	}

	ev := Event{Kind: EventSetArg, Kernel: k.name, Arg: index}
	switch v := value.(type) {
	case *buffer:
		if v.ctx != k.prog.ctx || v.released {
			return fmt.Errorf("%w: buffer for argument %d", accel.ErrInvalidArg, index)
		}
		ev.Buffers = []int{v.id}
	case uint32:
		ev.Detail = fmt.Sprintf("%d", v)
	default:
		return fmt.Errorf("%w: argument %d has type %T", accel.ErrInvalidArg, index, value)
	}

	for len(k.args) <= index {
		k.args = append(k.args, nil)
	}
	k.args[index] = value
	k.prog.ctx.drv.record(ev)
	return nil
}

func (k *kernel) Release() error {
	if k.released {
		return nil
	}
	k.released = true
	k.prog.ctx.liveKernels--
	return nil
}

// loopbackArgs is the clustering kernel signature: input, two outputs,
// height and width.
const loopbackArgs = 5

// Args gives a kernel body access to its bound arguments.
type Args struct {
	kernel string
	values []any
}

// Len returns the number of bound arguments.
func (a *Args) Len() int {
	return len(a.values)
}

// Bytes returns the device memory of the buffer bound at index i.
func (a *Args) Bytes(i int) ([]byte, error) {
	if i < 0 || i >= len(a.values) {
		return nil, fmt.Errorf("%w: %s has no argument %d", accel.ErrInvalidArg, a.kernel, i)
	}
	b, ok := a.values[i].(*buffer)
	if !ok {
		return nil, fmt.Errorf("%w: %s argument %d is %T, not a buffer", accel.ErrInvalidArg, a.kernel, i, a.values[i])
	}
	return b.device, nil
}

// Uint32 returns the scalar bound at index i.
func (a *Args) Uint32(i int) (uint32, error) {
	if i < 0 || i >= len(a.values) {
		return 0, fmt.Errorf("%w: %s has no argument %d", accel.ErrInvalidArg, a.kernel, i)
	}
	v, ok := a.values[i].(uint32)
	if !ok {
		return 0, fmt.Errorf("%w: %s argument %d is %T, not uint32", accel.ErrInvalidArg, a.kernel, i, a.values[i])
	}
	return v, nil
}

// Loopback follows the clustering kernel's signature (in, outA, outB,
// height, width) and copies the input pixels into both outputs.
func Loopback(args *Args) error {
	if args.Len() != loopbackArgs {
		return fmt.Errorf("%w: loopback takes %d arguments, got %d", accel.ErrInvalidArg, loopbackArgs, args.Len())
	}
	in, err := args.Bytes(0)
	if err != nil {
		return err
	}
	height, err := args.Uint32(3)
	if err != nil {
		return err
	}
	width, err := args.Uint32(4)
	if err != nil {
		return err
	}

	n := int(height) * int(width) * 3
	if n > len(in) {
		return fmt.Errorf("loopback: %dx%d image needs %d bytes, input has %d", height, width, n, len(in))
	}

	for _, idx := range []int{1, 2} {
		out, err := args.Bytes(idx)
		if err != nil {
			return err
		}
		if n > len(out) {
			return fmt.Errorf("loopback: output %d has %d bytes, need %d", idx, len(out), n)
		}
		copy(out, in)
	}
	return nil
}
