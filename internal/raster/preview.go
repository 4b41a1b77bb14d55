package raster

import (
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"strings"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

// PreviewFormat names an additional image format written next to the PPM.
type PreviewFormat string

const (
	PreviewNone PreviewFormat = ""
	PreviewPNG  PreviewFormat = "png"
	PreviewBMP  PreviewFormat = "bmp"
	PreviewTIFF PreviewFormat = "tiff"
)

// ErrUnknownPreview is returned for unsupported preview formats.
var ErrUnknownPreview = errors.New("raster: unknown preview format")

// ParsePreviewFormat maps user input to a PreviewFormat.
func ParsePreviewFormat(name string) (PreviewFormat, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none":
		return PreviewNone, nil
	case "png":
		return PreviewPNG, nil
	case "bmp":
		return PreviewBMP, nil
	case "tif", "tiff":
		return PreviewTIFF, nil
	default:
		return PreviewNone, fmt.Errorf("%w: %s", ErrUnknownPreview, name)
	}
}

// Ext returns the file extension for the format, including the dot.
func (f PreviewFormat) Ext() string {
	if f == PreviewNone {
		return ""
	}
	return "." + string(f)
}

// ToNRGBA converts a B,G,R buffer to an opaque NRGBA image.
func ToNRGBA(g Geometry, buf []byte) (*image.NRGBA, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	if err := g.Check(buf); err != nil {
		return nil, err
	}

	img := image.NewNRGBA(image.Rect(0, 0, g.Width, g.Height))
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			src := g.Offset(y, x)
			dst := img.PixOffset(x, y)
			img.Pix[dst+0] = buf[src+2]
			img.Pix[dst+1] = buf[src+1]
			img.Pix[dst+2] = buf[src+0]
			img.Pix[dst+3] = 0xff
		}
	}
	return img, nil
}

// EncodePreview writes buf in the given format.
func EncodePreview(w io.Writer, format PreviewFormat, g Geometry, buf []byte) error {
	img, err := ToNRGBA(g, buf)
	if err != nil {
		return err
	}

	switch format {
	case PreviewPNG:
		return png.Encode(w, img)
	case PreviewBMP:
		return bmp.Encode(w, img)
	case PreviewTIFF:
		return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
	default:
		return fmt.Errorf("%w: %q", ErrUnknownPreview, string(format))
	}
}

// WritePreview encodes buf into a new file at path.
func WritePreview(path string, format PreviewFormat, g Geometry, buf []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("unable to open preview file %s: %w", path, err)
	}
	if err := EncodePreview(f, format, g, buf); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode preview %s: %w", path, err)
	}
	return f.Close()
}
