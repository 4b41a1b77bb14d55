package pipeline

import (
	"errors"
	"fmt"

	"github.com/cwbudde/kmeansbirch/internal/accel"
	"github.com/cwbudde/kmeansbirch/internal/raster"
)

// MappedBuffer is a device buffer together with its host view.
type MappedBuffer struct {
	Name   string
	Buffer accel.Buffer
	Host   []byte

	mapFlags accel.MapFlags
}

// BufferSet owns the input buffer and the two output buffers of one run.
type BufferSet struct {
	Input  *MappedBuffer
	KMeans *MappedBuffer
	Birch  *MappedBuffer

	ctx      accel.Context
	geometry raster.Geometry
	released bool
}

// AllocateBuffers creates the three buffers, sized for g, and maps each of
// them into host memory. Input is mapped for writing, outputs for reading.
// Already created buffers are released when a later step fails.
func AllocateBuffers(ctx accel.Context, g raster.Geometry) (*BufferSet, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}

	set := &BufferSet{
		Input:    &MappedBuffer{Name: "input", mapFlags: accel.MapWrite},
		KMeans:   &MappedBuffer{Name: "kmeans", mapFlags: accel.MapRead},
		Birch:    &MappedBuffer{Name: "birch", mapFlags: accel.MapRead},
		ctx:      ctx,
		geometry: g,
	}

	memFlags := map[*MappedBuffer]accel.MemFlags{
		set.Input:  accel.MemReadOnly,
		set.KMeans: accel.MemWriteOnly,
		set.Birch:  accel.MemWriteOnly,
	}

	for _, mb := range set.all() {
		buf, err := ctx.CreateBuffer(memFlags[mb], g.Size())
		if err != nil {
			return nil, set.abort(fmt.Errorf("allocate %s buffer: %w", mb.Name, err))
		}
		mb.Buffer = buf
	}

	for _, mb := range set.all() {
		host, err := ctx.MapBuffer(mb.Buffer, mb.mapFlags)
		if err != nil {
			return nil, set.abort(fmt.Errorf("map %s buffer: %w", mb.Name, err))
		}
		mb.Host = host
		if err := g.Check(host); err != nil {
			return nil, set.abort(fmt.Errorf("map %s buffer: %w", mb.Name, err))
		}
	}

	return set, nil
}

// Geometry returns the raster geometry the buffers were sized for.
func (s *BufferSet) Geometry() raster.Geometry {
	return s.geometry
}

// Outputs returns the output buffers in argument order.
func (s *BufferSet) Outputs() []*MappedBuffer {
	return []*MappedBuffer{s.KMeans, s.Birch}
}

func (s *BufferSet) all() []*MappedBuffer {
	return []*MappedBuffer{s.Input, s.KMeans, s.Birch}
}

func (s *BufferSet) abort(err error) error {
	if relErr := s.Release(); relErr != nil {
		return errors.Join(err, relErr)
	}
	return err
}

// Release unmaps every host view, drains the queue and releases the device
// buffers. Calling it again is a no-op.
func (s *BufferSet) Release() error {
	if s == nil || s.released {
		return nil
	}
	s.released = true

	var errs []error
	mapped := false
	for _, mb := range s.all() {
		if mb.Host == nil {
			continue
		}
		mapped = true
		if err := s.ctx.UnmapBuffer(mb.Buffer, mb.Host); err != nil {
			errs = append(errs, fmt.Errorf("unmap %s buffer: %w", mb.Name, err))
		}
		mb.Host = nil
	}

	if mapped {
		if err := s.ctx.Finish(); err != nil {
			errs = append(errs, fmt.Errorf("drain after unmap: %w", err))
		}
	}

	for _, mb := range s.all() {
		if mb.Buffer == nil {
			continue
		}
		if err := mb.Buffer.Release(); err != nil {
			errs = append(errs, fmt.Errorf("release %s buffer: %w", mb.Name, err))
		}
		mb.Buffer = nil
	}

	return errors.Join(errs...)
}
