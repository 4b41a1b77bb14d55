// Package input resolves the raw pixel data staged into the accelerator's
// input buffer. Sources are tried in priority order and the first one that
// can supply a full buffer wins.
package input

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/cwbudde/kmeansbirch/internal/raster"
)

var (
	// ErrUnavailable indicates a source cannot be opened at all.
	ErrUnavailable = errors.New("input source not accessible")
	// ErrExhausted is returned when no source in a chain could fill the buffer.
	ErrExhausted = errors.New("no input source could fill the buffer")
)

// ShortSourceError reports a source that exists but holds fewer bytes than
// the buffer requires. Such sources are rejected, never partially read.
type ShortSourceError struct {
	Name string
	Have int64
	Want int
}

func (e *ShortSourceError) Error() string {
	return fmt.Sprintf("raw source %q has only %d bytes; expected %d", e.Name, e.Have, e.Want)
}

// Source is one candidate provider of raw interleaved pixel bytes.
type Source interface {
	// Name identifies the source in logs and reports.
	Name() string

	// Available reports whether Read can fill a buffer of size bytes.
	Available(size int) error

	// Read fills dst completely or returns an error.
	Read(dst []byte) error
}

// FileSource reads raw bytes from a file on disk. Files larger than the
// buffer are accepted; only the leading bytes are used.
type FileSource struct {
	Path string
}

// Name returns the file path.
func (s FileSource) Name() string {
	return s.Path
}

// Available opens and stats the file.
func (s FileSource) Available(size int) error {
	f, err := os.Open(s.Path)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, s.Path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, s.Path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrUnavailable, s.Path)
	}
	if info.Size() < int64(size) {
		return &ShortSourceError{Name: s.Path, Have: info.Size(), Want: size}
	}
	return nil
}

// Read fills dst with exactly len(dst) bytes from the start of the file.
func (s FileSource) Read(dst []byte) error {
	f, err := os.Open(s.Path)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, s.Path, err)
	}
	defer f.Close()

	n, err := io.ReadFull(f, dst)
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return &ShortSourceError{Name: s.Path, Have: int64(n), Want: len(dst)}
		}
		return fmt.Errorf("failed to read %s: %w", s.Path, err)
	}
	return nil
}

// PatternSource synthesizes the deterministic gradient test pattern. It is
// always available for a buffer matching its geometry.
type PatternSource struct {
	Geometry raster.Geometry
}

// Name identifies the synthetic source.
func (s PatternSource) Name() string {
	return "synthetic-gradient"
}

// Available fails only when size disagrees with the geometry.
func (s PatternSource) Available(size int) error {
	if size != s.Geometry.Size() {
		return fmt.Errorf("%w: pattern is %d bytes, buffer is %d", raster.ErrSizeMismatch, s.Geometry.Size(), size)
	}
	return nil
}

// Read writes the gradient into dst.
func (s PatternSource) Read(dst []byte) error {
	return raster.FillGradient(s.Geometry, dst)
}

// FileSources turns a list of paths into file sources, preserving order.
func FileSources(paths []string) []Source {
	sources := make([]Source, 0, len(paths))
	for _, p := range paths {
		sources = append(sources, FileSource{Path: p})
	}
	return sources
}

// DefaultSearchPaths is the ordered list of raw image locations tried
// before falling back to the synthetic pattern.
func DefaultSearchPaths() []string {
	return []string{
		"/home/ramu/workspace/kmeans_birch/data/test_image.raw",
		"/workspace/kmeans_birch/data/test_image.raw",
		"../data/test_image.raw",
		"../../data/test_image.raw",
		"./data/test_image.raw",
		"./test_image.raw",
	}
}
