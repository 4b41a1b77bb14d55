package raster

import (
	"errors"
	"fmt"
	"math"
)

// ErrSizeMismatch is returned when a byte region does not match the size
// declared by a Geometry. Callers treat it as a fatal precondition violation.
var ErrSizeMismatch = errors.New("raster: region size does not match geometry")

// Geometry describes an interleaved raster: Height rows of Width pixels,
// each pixel Dim bytes stored as B,G,R (extra channels follow).
type Geometry struct {
	Height int `yaml:"height"`
	Width  int `yaml:"width"`
	Dim    int `yaml:"dim"`
}

// DefaultGeometry matches the image size the accelerator binary is built for.
func DefaultGeometry() Geometry {
	return Geometry{Height: 612, Width: 493, Dim: 3}
}

// Size returns the number of bytes a buffer with this geometry occupies.
func (g Geometry) Size() int {
	return g.Height * g.Width * g.Dim
}

// Pixels returns the number of pixels in the raster.
func (g Geometry) Pixels() int {
	return g.Height * g.Width
}

// Offset returns the byte offset of pixel (row, col).
func (g Geometry) Offset(row, col int) int {
	return (row*g.Width + col) * g.Dim
}

// Validate reports whether the geometry can describe a BGR raster. Height
// and width are passed to the kernel as 32-bit scalars, and the byte size
// must be representable as an int.
func (g Geometry) Validate() error {
	if g.Height <= 0 {
		return fmt.Errorf("raster: height must be positive, got %d", g.Height)
	}
	if g.Width <= 0 {
		return fmt.Errorf("raster: width must be positive, got %d", g.Width)
	}
	if g.Dim < 3 {
		return fmt.Errorf("raster: dim must be at least 3 (B,G,R), got %d", g.Dim)
	}
	if uint64(g.Height) > math.MaxUint32 || uint64(g.Width) > math.MaxUint32 {
		return fmt.Errorf("raster: %dx%d exceeds the 32-bit kernel dimensions", g.Height, g.Width)
	}
	if g.Height > math.MaxInt/g.Width/g.Dim {
		return fmt.Errorf("raster: %s overflows the addressable size", g)
	}
	return nil
}

// Check returns ErrSizeMismatch unless len(buf) equals g.Size().
func (g Geometry) Check(buf []byte) error {
	if len(buf) != g.Size() {
		return fmt.Errorf("%w: have %d bytes, want %d (%dx%dx%d)",
			ErrSizeMismatch, len(buf), g.Size(), g.Height, g.Width, g.Dim)
	}
	return nil
}

func (g Geometry) String() string {
	return fmt.Sprintf("%dx%dx%d", g.Height, g.Width, g.Dim)
}
